package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheenhq/runhub/internal/actions"
	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// Reason codes, stable identifiers for localizable messaging. The API never
// returns free-form denial text.
const (
	ReasonCooldownActive    = "cooldown_active"
	ReasonNoRecipients      = "no_recipients"
	ReasonTooManyRecipients = "too_many_recipients"
	ReasonRoleRequired      = "role_required"
	ReasonUnknownAction     = "unknown_action"
)

// Decision is a structured allow/deny outcome.
type Decision struct {
	Allowed      bool
	ReasonCode   string
	ReasonParams map[string]interface{}
}

func allow() Decision { return Decision{Allowed: true} }

func deny(code string, params map[string]interface{}) Decision {
	return Decision{Allowed: false, ReasonCode: code, ReasonParams: params}
}

// RunHistory is the slice of the run store policy needs.
type RunHistory interface {
	LastSucceededAt(projectID, actionID string) (time.Time, error)
}

// Engine evaluates policy at the two checkpoints: trigger time (fast,
// estimate-based, tolerates bounded-stale inputs) and execution time
// (authoritative, fresh reads immediately before dispatch).
type Engine struct {
	runs  RunHistory
	clock core.Clock
}

func NewEngine(runs RunHistory, clock core.Clock) *Engine {
	return &Engine{runs: runs, clock: clock}
}

// EvaluateTrigger checks a trigger request using the estimated recipient
// count and a possibly cached last-success time supplied by the caller.
func (e *Engine) EvaluateTrigger(def *actions.ActionDefinition, estimatedCount int, role string, lastSucceededAt time.Time) Decision {
	if def == nil {
		return deny(ReasonUnknownAction, nil)
	}
	if d := e.checkRole(def, role); !d.Allowed {
		return d
	}
	if d := e.checkCooldown(def, lastSucceededAt); !d.Allowed {
		return d
	}
	return e.checkBounds(def, estimatedCount)
}

// EvaluateExecution re-checks authoritatively right before dispatch, reading
// the store fresh. Conditions may have changed since trigger: the recipient
// count can have grown past the cap, or another run may have succeeded in
// the meantime and re-armed the cooldown. Role gating already happened at
// trigger time and the triggering principal cannot change afterwards.
func (e *Engine) EvaluateExecution(ctx context.Context, projectID string, def *actions.ActionDefinition, actualCount int) (Decision, error) {
	if def == nil {
		return deny(ReasonUnknownAction, nil), nil
	}
	lastSucceeded, err := e.runs.LastSucceededAt(projectID, def.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("reading last success for %s/%s: %w", projectID, def.ID, err)
	}
	if d := e.checkCooldown(def, lastSucceeded); !d.Allowed {
		slog.InfoContext(ctx, "Execution-time policy denied run", "project_id", projectID,
			"action_id", def.ID, "reason", d.ReasonCode)
		return d, nil
	}
	return e.checkBounds(def, actualCount), nil
}

func (e *Engine) checkRole(def *actions.ActionDefinition, role string) Decision {
	if def.RequiresElevatedRole() && role != domain.RoleOwner {
		return deny(ReasonRoleRequired, map[string]interface{}{
			"requiredRole": domain.RoleOwner,
			"riskTier":     def.RiskTier,
		})
	}
	return allow()
}

func (e *Engine) checkCooldown(def *actions.ActionDefinition, lastSucceededAt time.Time) Decision {
	if def.CooldownHours <= 0 || lastSucceededAt.IsZero() {
		return allow()
	}
	cooldown := time.Duration(def.CooldownHours) * time.Hour
	readyAt := lastSucceededAt.Add(cooldown)
	if e.clock.Now().Before(readyAt) {
		return deny(ReasonCooldownActive, map[string]interface{}{
			"cooldownHours": def.CooldownHours,
			"retryAfter":    readyAt.UTC().Format(time.RFC3339),
		})
	}
	return allow()
}

func (e *Engine) checkBounds(def *actions.ActionDefinition, count int) Decision {
	if count < def.MinRecipients {
		return deny(ReasonNoRecipients, map[string]interface{}{
			"count":   count,
			"minimum": def.MinRecipients,
		})
	}
	if def.MaxRecipients > 0 && count > def.MaxRecipients {
		return deny(ReasonTooManyRecipients, map[string]interface{}{
			"count":   count,
			"maximum": def.MaxRecipients,
		})
	}
	return allow()
}
