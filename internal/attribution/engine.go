package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheenhq/runhub/internal/config"
	"github.com/sheenhq/runhub/internal/recipients"
	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

const sweepLockName = "attribution-sweep"

// EventSource reads downstream events awaiting attribution.
type EventSource interface {
	FindUnattributedSince(since time.Time, limit int) (*[]domain.BusinessEvent, error)
}

// AttributionStore persists attribution rows.
type AttributionStore interface {
	Save(a *domain.RunAttribution) (int64, bool, error)
}

// MessageSource searches the outbound dispatch log.
type MessageSource interface {
	FindMatches(projectID, normalizedEmail string, since time.Time) (*[]domain.RunMessage, error)
}

// RunSource verifies runs referenced by link parameters.
type RunSource interface {
	FindByID(id int64) (*domain.WorkflowRun, error)
}

// ProjectSource reads the project's primary currency.
type ProjectSource interface {
	FindByID(id string) (*domain.Project, error)
}

// LockSource serializes the sweep across instances.
type LockSource interface {
	TryAcquire(name, owner string, holdFor time.Duration) bool
	Release(name, owner string)
}

// Engine correlates downstream events to prior runs. It runs decoupled from
// the ingestion path: ingestion writes events, this engine sweeps them later.
// Nothing here may ever propagate an error back to an ingestion caller.
type Engine struct {
	events   EventSource
	store    AttributionStore
	messages MessageSource
	runs     RunSource
	projects ProjectSource
	locks    LockSource
	clock    core.Clock
	owner    string
}

func NewEngine(events EventSource, store AttributionStore, messages MessageSource,
	runs RunSource, projects ProjectSource, locks LockSource, clock core.Clock, owner string) *Engine {
	return &Engine{
		events:   events,
		store:    store,
		messages: messages,
		runs:     runs,
		projects: projects,
		locks:    locks,
		clock:    clock,
		owner:    owner,
	}
}

// StartSweep ticks until the context is cancelled.
func (e *Engine) StartSweep(ctx context.Context) {
	interval, err := time.ParseDuration(config.GetSystemSettingString(config.ATTRIBUTION_SWEEP_INTERVAL))
	if err != nil || interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Attribution sweep stopping due to context cancel")
			return
		case <-ticker.C:
			if !e.locks.TryAcquire(sweepLockName, e.owner, interval) {
				continue
			}
			e.Sweep(ctx)
			e.locks.Release(sweepLockName, e.owner)
		}
	}
}

// Sweep processes every unattributed qualifying event in the window. All
// errors are logged and swallowed.
func (e *Engine) Sweep(ctx context.Context) {
	windowHours := config.GetSystemSettingInteger(config.ATTRIBUTION_WINDOW_HOURS)
	since := e.clock.Now().Add(-time.Duration(windowHours) * time.Hour)

	events, err := e.events.FindUnattributedSince(since, 200)
	if err != nil {
		slog.Error("Attribution sweep query failed", "error", err)
		return
	}

	for i := range *events {
		evt := (*events)[i]
		if err := e.Attribute(ctx, &evt); err != nil {
			slog.Error("Attribution attempt failed", "event_ref", evt.EventRef, "error", err)
		}
	}
}

// Attribute attempts to credit one downstream event to a prior run, trying
// strategies in priority order: link first, then identity. No match means no
// record.
func (e *Engine) Attribute(ctx context.Context, evt *domain.BusinessEvent) error {
	project, err := e.projects.FindByID(evt.ProjectID)
	if err != nil {
		return fmt.Errorf("project lookup: %w", err)
	}

	// Cross-currency attribution is rejected outright, never approximated.
	if evt.Currency != project.PrimaryCurrency {
		slog.InfoContext(ctx, "Skipping attribution, currency mismatch", "event_ref", evt.EventRef,
			"event_currency", evt.Currency, "project_currency", project.PrimaryCurrency)
		return nil
	}

	if attributed, err := e.tryLinkMatch(ctx, evt); err != nil {
		return err
	} else if attributed {
		return nil
	}

	_, err = e.tryIdentityMatch(ctx, evt)
	return err
}

// tryLinkMatch attributes deterministically when the downstream event's
// session metadata carries the run id the originating message embedded in its
// return link.
func (e *Engine) tryLinkMatch(ctx context.Context, evt *domain.BusinessEvent) (bool, error) {
	runID, ok := linkedRunID(evt)
	if !ok {
		return false, nil
	}

	run, err := e.runs.FindByID(runID)
	if err != nil {
		// The linked run is gone or unreadable; fall through to identity.
		slog.WarnContext(ctx, "Linked run not found", "event_ref", evt.EventRef, "run_id", runID)
		return false, nil
	}
	if run.ProjectID != evt.ProjectID {
		slog.WarnContext(ctx, "Linked run belongs to another project, ignoring", "event_ref", evt.EventRef,
			"run_id", runID)
		return false, nil
	}

	return e.record(ctx, evt, run.ID, domain.MatchedByLink, domain.ConfidenceHigh)
}

// tryIdentityMatch normalizes the counterpart identity and searches outbound
// messages within the window, requiring corroboration (matching amount or
// cart id) to keep false positives down. Last touch wins.
func (e *Engine) tryIdentityMatch(ctx context.Context, evt *domain.BusinessEvent) (bool, error) {
	normalized := recipients.NormalizeEmail(evt.CustomerEmail)
	if normalized == "" {
		return false, nil
	}

	windowHours := config.GetSystemSettingInteger(config.ATTRIBUTION_WINDOW_HOURS)
	since := evt.OccurredAt.Add(-time.Duration(windowHours) * time.Hour)

	matches, err := e.messages.FindMatches(evt.ProjectID, normalized, since)
	if err != nil {
		return false, fmt.Errorf("message search: %w", err)
	}

	for _, m := range *matches {
		if m.SentAt.After(evt.OccurredAt) {
			continue
		}
		if !corroborates(evt, &m) {
			continue
		}
		return e.record(ctx, evt, m.RunID, domain.MatchedByIdentity, domain.ConfidenceMedium)
	}
	return false, nil
}

func (e *Engine) record(ctx context.Context, evt *domain.BusinessEvent, runID int64, matchedBy, confidence string) (bool, error) {
	a := &domain.RunAttribution{
		ProjectID:  evt.ProjectID,
		RunID:      runID,
		EventRef:   evt.EventRef,
		MatchedBy:  matchedBy,
		Confidence: confidence,
		Amount:     evt.Amount,
		Currency:   evt.Currency,
	}
	_, duplicate, err := e.store.Save(a)
	if err != nil {
		return false, fmt.Errorf("saving attribution: %w", err)
	}
	if duplicate {
		slog.InfoContext(ctx, "Event already attributed, skipping", "event_ref", evt.EventRef)
		return true, nil
	}
	slog.InfoContext(ctx, "Attributed downstream event", "event_ref", evt.EventRef,
		"run_id", runID, "matched_by", matchedBy, "confidence", confidence, "amount", evt.Amount)
	return true, nil
}

// corroborates checks the secondary signal for identity matches: the event
// amount equals the cart amount the message was about, or the cart ids agree.
// Cart-less rows store an empty cart id; two of those agreeing is no signal.
func corroborates(evt *domain.BusinessEvent, m *domain.RunMessage) bool {
	if m.Amount > 0 && evt.Amount == m.Amount {
		return true
	}
	if m.CartID.Valid && evt.CartID.Valid && m.CartID.String != "" && m.CartID.String == evt.CartID.String {
		return true
	}
	return false
}

// linkedRunID extracts the embedded run id from the event's session
// metadata, written there by the storefront when a customer followed a
// message's return link.
func linkedRunID(evt *domain.BusinessEvent) (int64, bool) {
	if !evt.SessionMeta.Valid || evt.SessionMeta.String == "" {
		return 0, false
	}
	var meta struct {
		RunID int64 `json:"rh_run"`
	}
	if err := json.Unmarshal([]byte(evt.SessionMeta.String), &meta); err != nil {
		return 0, false
	}
	if meta.RunID <= 0 {
		return 0, false
	}
	return meta.RunID, true
}
