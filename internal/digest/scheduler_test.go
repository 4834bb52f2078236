package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheenhq/runhub/internal/transport"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                         { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time { return time.After(0) }
func (c *fakeClock) Sleep(d time.Duration)                  {}

type MockScheduleStore struct {
	FindDueFunc func(limit int) (*[]domain.DigestSchedule, error)

	Advanced map[string]time.Time
}

func (m *MockScheduleStore) FindDue(limit int) (*[]domain.DigestSchedule, error) {
	if m.FindDueFunc != nil {
		return m.FindDueFunc(limit)
	}
	return &[]domain.DigestSchedule{}, nil
}
func (m *MockScheduleStore) AdvanceAfterSend(projectID string, sentAt, next time.Time) error {
	if m.Advanced == nil {
		m.Advanced = make(map[string]time.Time)
	}
	m.Advanced[projectID] = next
	return nil
}

type MockLockSource struct{}

func (m *MockLockSource) TryAcquire(name, owner string, holdFor time.Duration) bool { return true }
func (m *MockLockSource) Release(name, owner string)                                {}

type MockDigestMessenger struct {
	SendDigestFunc func(ctx context.Context, req transport.DigestRequest) error

	Digests []transport.DigestRequest
}

func (m *MockDigestMessenger) Send(ctx context.Context, req transport.SendRequest) error { return nil }
func (m *MockDigestMessenger) SendDigest(ctx context.Context, req transport.DigestRequest) error {
	if m.SendDigestFunc != nil {
		return m.SendDigestFunc(ctx, req)
	}
	m.Digests = append(m.Digests, req)
	return nil
}

func TestComputeNext_SameDayWhenHourAhead(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	next := ComputeNext(now, "UTC", 9)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), next)
}

func TestComputeNext_RollsToTomorrowWhenHourPassed(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	next := ComputeNext(now, "UTC", 9)
	assert.Equal(t, time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC), next)
}

func TestComputeNext_HonoursTimezone(t *testing.T) {
	// 12:00 UTC is 07:00 in New York (EST in March before DST, EDT after).
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	next := ComputeNext(now, "America/New_York", 9)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, 9, next.In(loc).Hour())
	assert.True(t, next.After(now))
}

func TestComputeNext_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	next := ComputeNext(now, "Not/AZone", 9)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), next)
}

func TestComputeNext_AlwaysStrictlyFuture(t *testing.T) {
	// Exactly at the send hour: next must still move forward.
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	next := ComputeNext(now, "UTC", 9)
	assert.True(t, next.After(now))
}

func newQuietComposer() *Composer {
	return NewComposer(&MockKpiSource{}, &MockOutcomeSource{}, &MockRunHistory{})
}

func dueSchedule(projectID string) domain.DigestSchedule {
	return domain.DigestSchedule{
		ProjectID:  projectID,
		Enabled:    true,
		HourOfDay:  9,
		Timezone:   "UTC",
		NextSendAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestTick_AdvancesScheduleEvenWithNothingToReport(t *testing.T) {
	store := &MockScheduleStore{
		FindDueFunc: func(limit int) (*[]domain.DigestSchedule, error) {
			due := []domain.DigestSchedule{dueSchedule("proj-1")}
			return &due, nil
		},
	}
	messenger := &MockDigestMessenger{}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)}

	s := NewScheduler(store, newQuietComposer(), messenger, &MockLockSource{}, clock, "test")
	s.Tick(context.Background())

	assert.Empty(t, messenger.Digests, "quiet project must not receive a digest")
	next, ok := store.Advanced["proj-1"]
	require.True(t, ok, "schedule must advance regardless of content")
	assert.Equal(t, time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC), next)
}

func TestTick_AdvancesScheduleAfterFailedSend(t *testing.T) {
	store := &MockScheduleStore{
		FindDueFunc: func(limit int) (*[]domain.DigestSchedule, error) {
			due := []domain.DigestSchedule{dueSchedule("proj-1")}
			return &due, nil
		},
	}
	messenger := &MockDigestMessenger{
		SendDigestFunc: func(ctx context.Context, req transport.DigestRequest) error {
			return errors.New("delivery endpoint returned 502")
		},
	}
	composer := NewComposer(&MockKpiSource{}, &MockOutcomeSource{
		LatestForProjectFunc: func(projectID string) (*domain.RunAttribution, error) {
			return &domain.RunAttribution{Amount: 42.50, Currency: "USD",
				MatchedBy: domain.MatchedByLink, Confidence: domain.ConfidenceHigh}, nil
		},
	}, &MockRunHistory{})
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)}

	s := NewScheduler(store, composer, messenger, &MockLockSource{}, clock, "test")
	s.Tick(context.Background())

	_, ok := store.Advanced["proj-1"]
	assert.True(t, ok, "a failed send still advances; a digest is never sent retroactively")
}

func TestTick_SendsComposedDigest(t *testing.T) {
	store := &MockScheduleStore{
		FindDueFunc: func(limit int) (*[]domain.DigestSchedule, error) {
			due := []domain.DigestSchedule{dueSchedule("proj-1")}
			return &due, nil
		},
	}
	messenger := &MockDigestMessenger{}
	composer := NewComposer(&MockKpiSource{}, &MockOutcomeSource{
		LatestForProjectFunc: func(projectID string) (*domain.RunAttribution, error) {
			return &domain.RunAttribution{Amount: 120, Currency: "USD",
				MatchedBy: domain.MatchedByIdentity, Confidence: domain.ConfidenceMedium}, nil
		},
	}, &MockRunHistory{})
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)}

	s := NewScheduler(store, composer, messenger, &MockLockSource{}, clock, "test")
	s.Tick(context.Background())

	require.Len(t, messenger.Digests, 1)
	assert.Equal(t, "proj-1", messenger.Digests[0].ProjectID)
	assert.Equal(t, "Your daily business summary", messenger.Digests[0].Subject)
	assert.Contains(t, messenger.Digests[0].Body, "120.00 USD")
}
