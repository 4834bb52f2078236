package digest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheenhq/runhub/internal/repository"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

type MockKpiSource struct {
	DailyDeltasFunc     func(projectID string, day time.Time) ([]repository.KpiDelta, error)
	TopAnomalySinceFunc func(projectID string, since time.Time) (*repository.Anomaly, error)
}

func (m *MockKpiSource) DailyDeltas(projectID string, day time.Time) ([]repository.KpiDelta, error) {
	if m.DailyDeltasFunc != nil {
		return m.DailyDeltasFunc(projectID, day)
	}
	return nil, nil
}
func (m *MockKpiSource) TopAnomalySince(projectID string, since time.Time) (*repository.Anomaly, error) {
	if m.TopAnomalySinceFunc != nil {
		return m.TopAnomalySinceFunc(projectID, since)
	}
	return nil, nil
}

type MockOutcomeSource struct {
	LatestForProjectFunc func(projectID string) (*domain.RunAttribution, error)
}

func (m *MockOutcomeSource) LatestForProject(projectID string) (*domain.RunAttribution, error) {
	if m.LatestForProjectFunc != nil {
		return m.LatestForProjectFunc(projectID)
	}
	return nil, nil
}

type MockRunHistory struct {
	LastSucceededAtFunc func(projectID, actionID string) (time.Time, error)
}

func (m *MockRunHistory) LastSucceededAt(projectID, actionID string) (time.Time, error) {
	if m.LastSucceededAtFunc != nil {
		return m.LastSucceededAtFunc(projectID, actionID)
	}
	return time.Time{}, nil
}

func TestCompose_NothingToReportReturnsNil(t *testing.T) {
	// A project with no metric movement, no anomalies, no outcomes and all
	// actions on cooldown stays silent.
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	history := &MockRunHistory{
		LastSucceededAtFunc: func(projectID, actionID string) (time.Time, error) {
			return now.Add(-1 * time.Hour), nil
		},
	}
	c := NewComposer(&MockKpiSource{}, &MockOutcomeSource{}, history)

	content, err := c.Compose(context.Background(), "proj-1", now)
	require.NoError(t, err)
	assert.Nil(t, content)
}

func TestCompose_HeadlinePicksLargestMove(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	kpis := &MockKpiSource{
		DailyDeltasFunc: func(projectID string, day time.Time) ([]repository.KpiDelta, error) {
			return []repository.KpiDelta{
				{Metric: "orders", Today: 12, Previous: 10},
				{Metric: "revenue", Today: 300, Previous: 500},
			}, nil
		},
	}
	history := &MockRunHistory{
		LastSucceededAtFunc: func(projectID, actionID string) (time.Time, error) {
			return now.Add(-1 * time.Hour), nil
		},
	}
	c := NewComposer(kpis, &MockOutcomeSource{}, history)

	content, err := c.Compose(context.Background(), "proj-1", now)
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Contains(t, content.Body, "revenue is down")
	assert.NotContains(t, content.Body, "orders is up")
}

func TestCompose_IncludesAnomalyAndRecommendation(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	kpis := &MockKpiSource{
		TopAnomalySinceFunc: func(projectID string, since time.Time) (*repository.Anomaly, error) {
			return &repository.Anomaly{
				Metric:   "checkout_abandonment",
				Severity: 3,
				Message:  "abandonment rate doubled overnight",
			}, nil
		},
	}
	c := NewComposer(kpis, &MockOutcomeSource{}, &MockRunHistory{})

	content, err := c.Compose(context.Background(), "proj-1", now)
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Contains(t, content.Body, "abandonment rate doubled overnight")
	// Every action is off cooldown, so the first catalog entry is suggested.
	assert.Contains(t, content.Body, "Suggested next step")
}

func TestCompose_OutcomeSentence(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	outcomes := &MockOutcomeSource{
		LatestForProjectFunc: func(projectID string) (*domain.RunAttribution, error) {
			return &domain.RunAttribution{
				Amount: 42.50, Currency: "USD",
				MatchedBy: domain.MatchedByLink, Confidence: domain.ConfidenceHigh,
			}, nil
		},
	}
	history := &MockRunHistory{
		LastSucceededAtFunc: func(projectID, actionID string) (time.Time, error) {
			return now.Add(-1 * time.Hour), nil
		},
	}
	c := NewComposer(&MockKpiSource{}, outcomes, history)

	content, err := c.Compose(context.Background(), "proj-1", now)
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Contains(t, content.Body, "42.50 USD")
	assert.Contains(t, content.Body, "high confidence")
}
