package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sheenhq/runhub/internal/actions"
	"github.com/sheenhq/runhub/internal/repository"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// KpiSource reads metric snapshots and anomaly breaches.
type KpiSource interface {
	DailyDeltas(projectID string, day time.Time) ([]repository.KpiDelta, error)
	TopAnomalySince(projectID string, since time.Time) (*repository.Anomaly, error)
}

// OutcomeSource reads attributed outcomes.
type OutcomeSource interface {
	LatestForProject(projectID string) (*domain.RunAttribution, error)
}

// RunHistory supplies cooldown state for the recommendation pick.
type RunHistory interface {
	LastSucceededAt(projectID, actionID string) (time.Time, error)
}

// Content is one composed digest.
type Content struct {
	Subject string
	Body    string
}

// Composer turns raw KPI, anomaly and attribution state into a short
// narrative: one headline, at most one anomaly, one recommended action, the
// most recent attributed outcome. Never a metrics dump.
type Composer struct {
	kpis     KpiSource
	outcomes OutcomeSource
	runs     RunHistory
}

func NewComposer(kpis KpiSource, outcomes OutcomeSource, runs RunHistory) *Composer {
	return &Composer{kpis: kpis, outcomes: outcomes, runs: runs}
}

// Compose builds the digest for a project, or returns nil when there is
// nothing worth saying.
func (c *Composer) Compose(ctx context.Context, projectID string, now time.Time) (*Content, error) {
	var sections []string

	headline, err := c.headline(projectID, now)
	if err != nil {
		return nil, err
	}
	if headline != "" {
		sections = append(sections, headline)
	}

	since := now.AddDate(0, 0, -1)
	anomaly, err := c.kpis.TopAnomalySince(projectID, since)
	if err != nil {
		return nil, err
	}
	if anomaly != nil {
		sections = append(sections, fmt.Sprintf("Heads up: %s (%s).", anomaly.Message, anomaly.Metric))
	}

	outcome, err := c.outcomes.LatestForProject(projectID)
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		sections = append(sections, fmt.Sprintf(
			"Your latest win: a run brought back %.2f %s (matched by %s, %s confidence).",
			outcome.Amount, outcome.Currency, outcome.MatchedBy, outcome.Confidence))
	}

	// A recommendation on its own is not worth an email; quiet projects stay
	// quiet.
	if len(sections) == 0 {
		return nil, nil
	}
	if rec := c.recommendation(projectID, now); rec != "" {
		sections = append(sections, rec)
	}

	return &Content{
		Subject: "Your daily business summary",
		Body:    strings.Join(sections, "\n\n"),
	}, nil
}

// headline picks the single largest metric movement of the day.
func (c *Composer) headline(projectID string, now time.Time) (string, error) {
	deltas, err := c.kpis.DailyDeltas(projectID, now)
	if err != nil {
		return "", err
	}

	var best *repository.KpiDelta
	var bestMove float64
	for i := range deltas {
		move := deltas[i].Today - deltas[i].Previous
		if move < 0 {
			move = -move
		}
		if best == nil || move > bestMove {
			best = &deltas[i]
			bestMove = move
		}
	}
	if best == nil || bestMove == 0 {
		return "", nil
	}

	direction := "up"
	if best.Today < best.Previous {
		direction = "down"
	}
	return fmt.Sprintf("%s is %s: %.2f yesterday vs %.2f the day before.",
		best.Metric, direction, best.Today, best.Previous), nil
}

// recommendation picks the first catalog action currently off cooldown.
func (c *Composer) recommendation(projectID string, now time.Time) string {
	for _, def := range actions.All() {
		last, err := c.runs.LastSucceededAt(projectID, def.ID)
		if err != nil {
			continue
		}
		if !last.IsZero() && now.Before(last.Add(time.Duration(def.CooldownHours)*time.Hour)) {
			continue
		}
		return fmt.Sprintf("Suggested next step: %s.", def.Name)
	}
	return ""
}
