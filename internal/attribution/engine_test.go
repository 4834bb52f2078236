package attribution

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                         { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time { return time.After(0) }
func (c *fakeClock) Sleep(d time.Duration)                  {}

type MockEventSource struct {
	FindUnattributedSinceFunc func(since time.Time, limit int) (*[]domain.BusinessEvent, error)
}

func (m *MockEventSource) FindUnattributedSince(since time.Time, limit int) (*[]domain.BusinessEvent, error) {
	if m.FindUnattributedSinceFunc != nil {
		return m.FindUnattributedSinceFunc(since, limit)
	}
	return &[]domain.BusinessEvent{}, nil
}

type MockStore struct {
	SaveFunc func(a *domain.RunAttribution) (int64, bool, error)

	Saved []domain.RunAttribution
}

func (m *MockStore) Save(a *domain.RunAttribution) (int64, bool, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(a)
	}
	m.Saved = append(m.Saved, *a)
	return int64(len(m.Saved)), false, nil
}

type MockMessageSource struct {
	FindMatchesFunc func(projectID, normalizedEmail string, since time.Time) (*[]domain.RunMessage, error)
}

func (m *MockMessageSource) FindMatches(projectID, normalizedEmail string, since time.Time) (*[]domain.RunMessage, error) {
	if m.FindMatchesFunc != nil {
		return m.FindMatchesFunc(projectID, normalizedEmail, since)
	}
	return &[]domain.RunMessage{}, nil
}

type MockRunSource struct {
	FindByIDFunc func(id int64) (*domain.WorkflowRun, error)
}

func (m *MockRunSource) FindByID(id int64) (*domain.WorkflowRun, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return &domain.WorkflowRun{ID: id, ProjectID: "proj-1"}, nil
}

type MockProjectSource struct {
	FindByIDFunc func(id string) (*domain.Project, error)
}

func (m *MockProjectSource) FindByID(id string) (*domain.Project, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return &domain.Project{ID: id, PrimaryCurrency: "USD"}, nil
}

type MockLockSource struct{}

func (m *MockLockSource) TryAcquire(name, owner string, holdFor time.Duration) bool { return true }
func (m *MockLockSource) Release(name, owner string)                                {}

func newTestEngine(events EventSource, store AttributionStore, messages MessageSource,
	runs RunSource, projects ProjectSource) *Engine {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	return NewEngine(events, store, messages, runs, projects, &MockLockSource{}, &fakeClock{now: now}, "test")
}

func paymentEvent() *domain.BusinessEvent {
	return &domain.BusinessEvent{
		ProjectID:     "proj-1",
		EventType:     domain.EventPaymentCompleted,
		EventRef:      "pay-1",
		CustomerEmail: "Alice@Example.com",
		Amount:        42.50,
		Currency:      "USD",
		OccurredAt:    time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
	}
}

func TestAttribute_CurrencyMismatchNeverAttributes(t *testing.T) {
	store := &MockStore{}
	evt := paymentEvent()
	evt.Currency = "EUR"
	evt.SessionMeta = sql.NullString{String: `{"rh_run": 7}`, Valid: true}

	e := newTestEngine(&MockEventSource{}, store, &MockMessageSource{}, &MockRunSource{}, &MockProjectSource{})
	if err := e.Attribute(context.Background(), evt); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.Saved) != 0 {
		t.Fatalf("Expected no attribution across currencies, got %d", len(store.Saved))
	}
}

func TestAttribute_LinkMatchHighConfidence(t *testing.T) {
	store := &MockStore{}
	evt := paymentEvent()
	evt.SessionMeta = sql.NullString{String: `{"rh_run": 7}`, Valid: true}

	e := newTestEngine(&MockEventSource{}, store, &MockMessageSource{}, &MockRunSource{}, &MockProjectSource{})
	if err := e.Attribute(context.Background(), evt); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(store.Saved) != 1 {
		t.Fatalf("Expected 1 attribution, got %d", len(store.Saved))
	}
	a := store.Saved[0]
	if a.RunID != 7 || a.MatchedBy != domain.MatchedByLink || a.Confidence != domain.ConfidenceHigh {
		t.Errorf("Expected link match to run 7 with high confidence, got %+v", a)
	}
	if a.Amount != 42.50 || a.Currency != "USD" {
		t.Errorf("Expected event amount carried over, got %+v", a)
	}
}

func TestAttribute_LinkToForeignProjectIgnored(t *testing.T) {
	store := &MockStore{}
	evt := paymentEvent()
	evt.SessionMeta = sql.NullString{String: `{"rh_run": 9}`, Valid: true}

	runs := &MockRunSource{
		FindByIDFunc: func(id int64) (*domain.WorkflowRun, error) {
			return &domain.WorkflowRun{ID: id, ProjectID: "other-project"}, nil
		},
	}
	e := newTestEngine(&MockEventSource{}, store, &MockMessageSource{}, runs, &MockProjectSource{})
	if err := e.Attribute(context.Background(), evt); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.Saved) != 0 {
		t.Fatalf("Expected no attribution to a foreign project's run, got %d", len(store.Saved))
	}
}

func TestAttribute_IdentityMatchRequiresCorroboration(t *testing.T) {
	store := &MockStore{}
	evt := paymentEvent()

	messages := &MockMessageSource{
		FindMatchesFunc: func(projectID, normalizedEmail string, since time.Time) (*[]domain.RunMessage, error) {
			if normalizedEmail != "alice@example.com" {
				t.Errorf("Expected normalized email, got %s", normalizedEmail)
			}
			return &[]domain.RunMessage{
				// Most recent first; amount disagrees and no cart id, so no
				// corroboration.
				{RunID: 11, Amount: 99.99, SentAt: evt.OccurredAt.Add(-1 * time.Hour)},
				// Older message with the matching amount wins instead.
				{RunID: 12, Amount: 42.50, SentAt: evt.OccurredAt.Add(-3 * time.Hour)},
			}, nil
		},
	}

	e := newTestEngine(&MockEventSource{}, store, messages, &MockRunSource{}, &MockProjectSource{})
	if err := e.Attribute(context.Background(), evt); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(store.Saved) != 1 {
		t.Fatalf("Expected 1 attribution, got %d", len(store.Saved))
	}
	a := store.Saved[0]
	if a.RunID != 12 || a.MatchedBy != domain.MatchedByIdentity || a.Confidence != domain.ConfidenceMedium {
		t.Errorf("Expected identity match to run 12 with medium confidence, got %+v", a)
	}
}

func TestAttribute_CartIDCorroborates(t *testing.T) {
	store := &MockStore{}
	evt := paymentEvent()
	evt.Amount = 40.00 // checkout total drifted from the cart amount
	evt.CartID = sql.NullString{String: "cart-9", Valid: true}

	messages := &MockMessageSource{
		FindMatchesFunc: func(projectID, normalizedEmail string, since time.Time) (*[]domain.RunMessage, error) {
			return &[]domain.RunMessage{
				{RunID: 5, Amount: 42.50, CartID: sql.NullString{String: "cart-9", Valid: true}, SentAt: evt.OccurredAt.Add(-1 * time.Hour)},
			}, nil
		},
	}

	e := newTestEngine(&MockEventSource{}, store, messages, &MockRunSource{}, &MockProjectSource{})
	if err := e.Attribute(context.Background(), evt); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.Saved) != 1 || store.Saved[0].RunID != 5 {
		t.Fatalf("Expected cart id corroboration to run 5, got %+v", store.Saved)
	}
}

func TestAttribute_EmptyCartIDsDoNotCorroborate(t *testing.T) {
	store := &MockStore{}
	evt := paymentEvent()
	// Cart-less rows persist an empty cart id in both tables.
	evt.CartID = sql.NullString{String: "", Valid: true}

	messages := &MockMessageSource{
		FindMatchesFunc: func(projectID, normalizedEmail string, since time.Time) (*[]domain.RunMessage, error) {
			return &[]domain.RunMessage{
				{RunID: 11, Amount: 999.99, CartID: sql.NullString{String: "", Valid: true},
					SentAt: evt.OccurredAt.Add(-1 * time.Hour)},
			}, nil
		},
	}

	e := newTestEngine(&MockEventSource{}, store, messages, &MockRunSource{}, &MockProjectSource{})
	if err := e.Attribute(context.Background(), evt); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.Saved) != 0 {
		t.Fatalf("Two empty cart ids are not corroboration, got %+v", store.Saved)
	}
}

func TestAttribute_MessagesAfterEventNeverMatch(t *testing.T) {
	store := &MockStore{}
	evt := paymentEvent()

	messages := &MockMessageSource{
		FindMatchesFunc: func(projectID, normalizedEmail string, since time.Time) (*[]domain.RunMessage, error) {
			return &[]domain.RunMessage{
				{RunID: 11, Amount: 42.50, SentAt: evt.OccurredAt.Add(1 * time.Hour)},
			}, nil
		},
	}

	e := newTestEngine(&MockEventSource{}, store, messages, &MockRunSource{}, &MockProjectSource{})
	if err := e.Attribute(context.Background(), evt); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(store.Saved) != 0 {
		t.Fatalf("Expected no attribution for a message sent after the event, got %d", len(store.Saved))
	}
}

func TestAttribute_DuplicateEventRefIsQuietNoop(t *testing.T) {
	evt := paymentEvent()
	evt.SessionMeta = sql.NullString{String: `{"rh_run": 7}`, Valid: true}

	store := &MockStore{
		SaveFunc: func(a *domain.RunAttribution) (int64, bool, error) {
			return 0, true, nil
		},
	}
	e := newTestEngine(&MockEventSource{}, store, &MockMessageSource{}, &MockRunSource{}, &MockProjectSource{})
	if err := e.Attribute(context.Background(), evt); err != nil {
		t.Fatalf("Duplicate attribution must not error, got %v", err)
	}
}

func TestSweep_ProcessesWindowEvents(t *testing.T) {
	processed := 0
	events := &MockEventSource{
		FindUnattributedSinceFunc: func(since time.Time, limit int) (*[]domain.BusinessEvent, error) {
			return &[]domain.BusinessEvent{*paymentEvent(), *paymentEvent()}, nil
		},
	}
	projects := &MockProjectSource{
		FindByIDFunc: func(id string) (*domain.Project, error) {
			processed++
			return &domain.Project{ID: id, PrimaryCurrency: "USD"}, nil
		},
	}

	e := newTestEngine(events, &MockStore{}, &MockMessageSource{}, &MockRunSource{}, projects)
	e.Sweep(context.Background())

	if processed != 2 {
		t.Errorf("Expected 2 events processed, got %d", processed)
	}
}
