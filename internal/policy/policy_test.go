package policy

import (
	"context"
	"testing"
	"time"

	"github.com/sheenhq/runhub/internal/actions"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                         { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time { return time.After(0) }
func (c *fakeClock) Sleep(d time.Duration)                  {}

type mockRunHistory struct {
	LastSucceededAtFunc func(projectID, actionID string) (time.Time, error)
}

func (m *mockRunHistory) LastSucceededAt(projectID, actionID string) (time.Time, error) {
	if m.LastSucceededAtFunc != nil {
		return m.LastSucceededAtFunc(projectID, actionID)
	}
	return time.Time{}, nil
}

func testDef() *actions.ActionDefinition {
	return &actions.ActionDefinition{
		ID:            "test_action",
		Name:          "Test action",
		RiskTier:      actions.RiskMedium,
		MinRecipients: 1,
		MaxRecipients: 100,
		CooldownHours: 24,
	}
}

func TestEvaluateTrigger_Allows(t *testing.T) {
	e := NewEngine(&mockRunHistory{}, &fakeClock{now: time.Now()})

	d := e.EvaluateTrigger(testDef(), 10, domain.RoleStaff, time.Time{})
	if !d.Allowed {
		t.Fatalf("Expected allow, got deny with %s", d.ReasonCode)
	}
}

func TestEvaluateTrigger_CooldownDeniesWithRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := NewEngine(&mockRunHistory{}, &fakeClock{now: now})

	lastSucceeded := now.Add(-6 * time.Hour)
	d := e.EvaluateTrigger(testDef(), 10, domain.RoleStaff, lastSucceeded)
	if d.Allowed {
		t.Fatal("Expected cooldown denial")
	}
	if d.ReasonCode != ReasonCooldownActive {
		t.Errorf("Expected reason %s, got %s", ReasonCooldownActive, d.ReasonCode)
	}
	retryAfter, ok := d.ReasonParams["retryAfter"].(string)
	if !ok {
		t.Fatal("Expected retryAfter param")
	}
	expected := lastSucceeded.Add(24 * time.Hour).UTC().Format(time.RFC3339)
	if retryAfter != expected {
		t.Errorf("Expected retryAfter %s, got %s", expected, retryAfter)
	}
}

func TestEvaluateTrigger_CooldownElapsedAllows(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := NewEngine(&mockRunHistory{}, &fakeClock{now: now})

	d := e.EvaluateTrigger(testDef(), 10, domain.RoleStaff, now.Add(-25*time.Hour))
	if !d.Allowed {
		t.Fatalf("Expected allow after cooldown, got %s", d.ReasonCode)
	}
}

func TestEvaluateTrigger_ZeroRecipientsDenied(t *testing.T) {
	e := NewEngine(&mockRunHistory{}, &fakeClock{now: time.Now()})

	d := e.EvaluateTrigger(testDef(), 0, domain.RoleStaff, time.Time{})
	if d.Allowed || d.ReasonCode != ReasonNoRecipients {
		t.Errorf("Expected %s denial, got allowed=%v reason=%s", ReasonNoRecipients, d.Allowed, d.ReasonCode)
	}
}

func TestEvaluateTrigger_TooManyRecipientsDenied(t *testing.T) {
	e := NewEngine(&mockRunHistory{}, &fakeClock{now: time.Now()})

	d := e.EvaluateTrigger(testDef(), 101, domain.RoleStaff, time.Time{})
	if d.Allowed || d.ReasonCode != ReasonTooManyRecipients {
		t.Errorf("Expected %s denial, got allowed=%v reason=%s", ReasonTooManyRecipients, d.Allowed, d.ReasonCode)
	}
}

func TestEvaluateTrigger_HighRiskRequiresOwner(t *testing.T) {
	e := NewEngine(&mockRunHistory{}, &fakeClock{now: time.Now()})
	def := testDef()
	def.RiskTier = actions.RiskHigh

	d := e.EvaluateTrigger(def, 10, domain.RoleStaff, time.Time{})
	if d.Allowed || d.ReasonCode != ReasonRoleRequired {
		t.Errorf("Expected %s denial for staff, got allowed=%v reason=%s", ReasonRoleRequired, d.Allowed, d.ReasonCode)
	}

	d = e.EvaluateTrigger(def, 10, domain.RoleOwner, time.Time{})
	if !d.Allowed {
		t.Errorf("Expected allow for owner, got %s", d.ReasonCode)
	}
}

func TestEvaluateTrigger_UnknownAction(t *testing.T) {
	e := NewEngine(&mockRunHistory{}, &fakeClock{now: time.Now()})
	d := e.EvaluateTrigger(nil, 10, domain.RoleOwner, time.Time{})
	if d.Allowed || d.ReasonCode != ReasonUnknownAction {
		t.Errorf("Expected %s denial, got allowed=%v reason=%s", ReasonUnknownAction, d.Allowed, d.ReasonCode)
	}
}

func TestEvaluateExecution_ReadsHistoryFresh(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	// Another run succeeded between trigger and execution: the fresh read must
	// re-arm the cooldown even though the trigger passed.
	history := &mockRunHistory{
		LastSucceededAtFunc: func(projectID, actionID string) (time.Time, error) {
			return now.Add(-1 * time.Hour), nil
		},
	}
	e := NewEngine(history, &fakeClock{now: now})

	d, err := e.EvaluateExecution(context.Background(), "proj-1", testDef(), 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.Allowed || d.ReasonCode != ReasonCooldownActive {
		t.Errorf("Expected fresh cooldown denial, got allowed=%v reason=%s", d.Allowed, d.ReasonCode)
	}
}

func TestEvaluateExecution_BoundsOnActualCount(t *testing.T) {
	e := NewEngine(&mockRunHistory{}, &fakeClock{now: time.Now()})

	d, err := e.EvaluateExecution(context.Background(), "proj-1", testDef(), 500)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.Allowed || d.ReasonCode != ReasonTooManyRecipients {
		t.Errorf("Expected bounds denial on grown count, got allowed=%v reason=%s", d.Allowed, d.ReasonCode)
	}
}
