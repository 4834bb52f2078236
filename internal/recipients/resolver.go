package recipients

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sheenhq/runhub/internal/actions"
	"github.com/sheenhq/runhub/internal/config"
	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
	"github.com/sheenhq/runhub/pkg/runhub/models"
)

// Mode selects how much of the resolution is returned. Both modes run the
// identical filter path; preview only truncates the sample, never the count.
type Mode string

const (
	ModePreview Mode = "preview"
	ModeExecute Mode = "execute"
)

// EventSource reads candidate business events.
type EventSource interface {
	FindByTypeSince(projectID, eventType string, since time.Time) (*[]domain.BusinessEvent, error)
	LastOrderPerCustomer(projectID string) (map[string]time.Time, error)
}

// ContactLog reads the outbound message log for cooldown exclusions.
type ContactLog interface {
	ContactedSince(projectID string, since time.Time) (map[string]bool, error)
}

// Resolution is the full answer for one (project, action, params) triple.
// Count is always the real recipient count; Sample may be truncated in
// preview mode.
type Resolution struct {
	Recipients []models.Recipient
	Count      int
	Sample     []models.Recipient
	Criteria   string
	Exclusions []models.Exclusion
	Warnings   []string
}

// Resolver builds recipient lists from raw business events. Read-only: it
// never writes anything, in either mode.
type Resolver struct {
	events   EventSource
	contacts ContactLog
	clock    core.Clock
}

func NewResolver(events EventSource, contacts ContactLog, clock core.Clock) *Resolver {
	return &Resolver{events: events, contacts: contacts, clock: clock}
}

// Resolve produces the ordered recipient list plus human-readable criteria
// and the exclusion list. Preview and execute MUST observe the same counts
// for the same state; any divergence is a correctness bug.
func (rs *Resolver) Resolve(ctx context.Context, projectID string, params *actions.Params, mode Mode) (*Resolution, error) {
	var res *Resolution
	var err error

	switch params.ActionID {
	case actions.ActionRecoverAbandonedCheckout:
		res, err = rs.resolveAbandonedCheckouts(ctx, projectID, params.RecoverCheckout)
	case actions.ActionSendPromo:
		res, err = rs.resolvePromo(ctx, projectID, params.SendPromo)
	case actions.ActionWinbackLapsed:
		res, err = rs.resolveWinback(ctx, projectID, params.Winback)
	default:
		return nil, fmt.Errorf("no resolver for action %q", params.ActionID)
	}
	if err != nil {
		return nil, err
	}

	res.Count = len(res.Recipients)
	res.Sample = res.Recipients
	if mode == ModePreview {
		sampleSize := config.GetSystemSettingInteger(config.PREVIEW_SAMPLE_SIZE)
		if sampleSize > 0 && len(res.Sample) > sampleSize {
			res.Sample = res.Sample[:sampleSize]
		}
	}
	slog.InfoContext(ctx, "Resolved recipients", "project_id", projectID, "action_id", params.ActionID,
		"mode", string(mode), "count", res.Count, "excluded", len(res.Exclusions))
	return res, nil
}

// applyCooldown removes candidates contacted within the cooldown window. The
// exclusion applies identically in preview and execute.
func (rs *Resolver) applyCooldown(projectID string, candidates []models.Recipient) ([]models.Recipient, []models.Exclusion, error) {
	cooldownHours := config.GetSystemSettingInteger(config.RECIPIENT_COOLDOWN_HOURS)
	since := rs.clock.Now().Add(-time.Duration(cooldownHours) * time.Hour)
	contacted, err := rs.contacts.ContactedSince(projectID, since)
	if err != nil {
		return nil, nil, err
	}

	kept := make([]models.Recipient, 0, len(candidates))
	var excluded []models.Exclusion
	for _, c := range candidates {
		if contacted[NormalizeEmail(c.Email)] {
			excluded = append(excluded, models.Exclusion{
				Email:  c.Email,
				Reason: fmt.Sprintf("contacted in the last %dh", cooldownHours),
			})
			continue
		}
		kept = append(kept, c)
	}
	return kept, excluded, nil
}

func (rs *Resolver) resolveAbandonedCheckouts(ctx context.Context, projectID string, p *actions.RecoverCheckoutParams) (*Resolution, error) {
	since := rs.clock.Now().Add(-time.Duration(p.LookbackHours) * time.Hour)

	abandoned, err := rs.events.FindByTypeSince(projectID, domain.EventCheckoutAbandoned, since)
	if err != nil {
		return nil, err
	}
	orders, err := rs.events.FindByTypeSince(projectID, domain.EventOrderCompleted, since)
	if err != nil {
		return nil, err
	}

	// Latest abandoned cart per customer wins; a later completed order
	// disqualifies the customer entirely.
	orderedAfter := make(map[string]time.Time)
	for _, o := range *orders {
		key := NormalizeEmail(o.CustomerEmail)
		if o.OccurredAt.After(orderedAfter[key]) {
			orderedAfter[key] = o.OccurredAt
		}
	}

	latest := make(map[string]domain.BusinessEvent)
	for _, e := range *abandoned {
		key := NormalizeEmail(e.CustomerEmail)
		if prev, ok := latest[key]; !ok || e.OccurredAt.After(prev.OccurredAt) {
			latest[key] = e
		}
	}

	var candidates []models.Recipient
	var excluded []models.Exclusion
	var belowMinimum int
	for key, e := range latest {
		if ordered, ok := orderedAfter[key]; ok && ordered.After(e.OccurredAt) {
			excluded = append(excluded, models.Exclusion{Email: e.CustomerEmail, Reason: "completed an order after abandoning"})
			continue
		}
		if p.MinCartValue > 0 && e.Amount < p.MinCartValue {
			belowMinimum++
			continue
		}
		candidates = append(candidates, models.Recipient{
			Email:  e.CustomerEmail,
			Amount: e.Amount,
			CartID: e.CartID.String,
		})
	}
	sortRecipients(candidates)

	kept, cooldownExcluded, err := rs.applyCooldown(projectID, candidates)
	if err != nil {
		return nil, err
	}
	excluded = append(excluded, cooldownExcluded...)

	res := &Resolution{
		Recipients: kept,
		Criteria:   fmt.Sprintf("abandoned a checkout in the last %dh with no completed order since", p.LookbackHours),
		Exclusions: excluded,
	}
	if p.MinCartValue > 0 {
		res.Criteria += fmt.Sprintf(", cart value at least %.2f", p.MinCartValue)
		if belowMinimum > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%d carts below the minimum value were skipped", belowMinimum))
		}
	}
	return res, nil
}

func (rs *Resolver) resolvePromo(ctx context.Context, projectID string, p *actions.SendPromoParams) (*Resolution, error) {
	// "recent" means a completed order in the last 90 days; "all" adds
	// signups on top.
	lookback := rs.clock.Now().AddDate(0, 0, -90)

	orders, err := rs.events.FindByTypeSince(projectID, domain.EventOrderCompleted, lookback)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var candidates []models.Recipient
	for _, e := range *orders {
		key := NormalizeEmail(e.CustomerEmail)
		if seen[key] {
			continue
		}
		seen[key] = true
		candidates = append(candidates, models.Recipient{Email: e.CustomerEmail})
	}

	criteria := "customers with a completed order in the last 90 days"
	if p.Segment == actions.SegmentAll {
		signups, err := rs.events.FindByTypeSince(projectID, domain.EventCustomerSignup, lookback)
		if err != nil {
			return nil, err
		}
		for _, e := range *signups {
			key := NormalizeEmail(e.CustomerEmail)
			if seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, models.Recipient{Email: e.CustomerEmail})
		}
		criteria = "all customers with an order or signup in the last 90 days"
	}
	sortRecipients(candidates)

	kept, excluded, err := rs.applyCooldown(projectID, candidates)
	if err != nil {
		return nil, err
	}
	return &Resolution{Recipients: kept, Criteria: criteria, Exclusions: excluded}, nil
}

func (rs *Resolver) resolveWinback(ctx context.Context, projectID string, p *actions.WinbackParams) (*Resolution, error) {
	lastOrders, err := rs.events.LastOrderPerCustomer(projectID)
	if err != nil {
		return nil, err
	}
	cutoff := rs.clock.Now().AddDate(0, 0, -p.LapsedDays)

	// Case-variant addresses collapse to one inbox; the newest order across
	// variants decides whether the customer lapsed.
	latestOrder := make(map[string]time.Time)
	displayEmail := make(map[string]string)
	for email, last := range lastOrders {
		key := NormalizeEmail(email)
		if cur, ok := latestOrder[key]; !ok || last.After(cur) {
			latestOrder[key] = last
			displayEmail[key] = email
		}
	}

	var candidates []models.Recipient
	for key, last := range latestOrder {
		if last.Before(cutoff) {
			candidates = append(candidates, models.Recipient{Email: displayEmail[key]})
		}
	}
	sortRecipients(candidates)

	kept, excluded, err := rs.applyCooldown(projectID, candidates)
	if err != nil {
		return nil, err
	}
	return &Resolution{
		Recipients: kept,
		Criteria:   fmt.Sprintf("customers with no order in the last %d days", p.LapsedDays),
		Exclusions: excluded,
	}, nil
}

// sortRecipients gives the list a stable order so preview sample, execute
// order and test expectations agree.
func sortRecipients(list []models.Recipient) {
	sort.Slice(list, func(i, j int) bool {
		return NormalizeEmail(list[i].Email) < NormalizeEmail(list[j].Email)
	})
}

// NormalizeEmail lowercases and trims a counterpart identity. The same
// normalization is used by attribution matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
