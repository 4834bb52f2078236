package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sheenhq/runhub/internal/actions"
	"github.com/sheenhq/runhub/internal/config"
	"github.com/sheenhq/runhub/internal/recipients"
	"github.com/sheenhq/runhub/internal/transport"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
	"github.com/sheenhq/runhub/pkg/runhub/models"
)

// runExecutor drives one claimed run from RUNNING to a terminal status. The
// lease was already acquired by the manager; everything here must be safe to
// restart from scratch because a reclaimed lease means a second executor will
// walk the same path.
type runExecutor struct {
	runs      RunRepo
	messages  MessageRepo
	projects  ProjectRepo
	resolver  RecipientResolver
	policy    ExecutionPolicy
	messenger transport.Messenger
}

func newRunExecutor(runs RunRepo, messages MessageRepo, projects ProjectRepo,
	resolver RecipientResolver, pol ExecutionPolicy, messenger transport.Messenger) *runExecutor {
	return &runExecutor{
		runs:      runs,
		messages:  messages,
		projects:  projects,
		resolver:  resolver,
		policy:    pol,
		messenger: messenger,
	}
}

// Execute dispatches one run. Individual recipient failures aggregate into
// the result summary; the run only fails wholesale when the failure threshold
// is breached or a systemic error prevents sending at all.
func (ex *runExecutor) Execute(ctx context.Context, run *domain.WorkflowRun, workerID string) {
	slog.InfoContext(ctx, "Executing run", "run_id", run.ID, "action_id", run.ActionID,
		"attempt", run.AttemptCount, "worker_id", workerID)

	def := actions.Get(run.ActionID)
	if def == nil {
		ex.failRun(ctx, run, "unknown action: "+run.ActionID)
		return
	}

	params, err := actions.ParseParams(run.ActionID, json.RawMessage(run.Params.String))
	if err != nil {
		ex.failRun(ctx, run, "stored params no longer parse: "+err.Error())
		return
	}

	project, err := ex.projects.FindByID(run.ProjectID)
	if err != nil {
		ex.failRun(ctx, run, "project lookup failed")
		slog.ErrorContext(ctx, "Project lookup failed", "run_id", run.ID, "error", err,
			"correlation_id", run.CorrelationID)
		return
	}

	// Authoritative resolution with fresh data. Identical filter path to
	// preview; only the truncation differs.
	resolution, err := ex.resolver.Resolve(ctx, run.ProjectID, params, recipients.ModeExecute)
	if err != nil {
		ex.failRun(ctx, run, "recipient resolution failed")
		slog.ErrorContext(ctx, "Recipient resolution failed", "run_id", run.ID, "error", err,
			"correlation_id", run.CorrelationID)
		return
	}

	// Execution-time policy: re-check right before dispatch because state may
	// have moved since trigger.
	decision, err := ex.policy.EvaluateExecution(ctx, run.ProjectID, def, resolution.Count)
	if err != nil {
		ex.failRun(ctx, run, "execution policy evaluation failed")
		slog.ErrorContext(ctx, "Execution policy evaluation failed", "run_id", run.ID, "error", err,
			"correlation_id", run.CorrelationID)
		return
	}
	if !decision.Allowed {
		ex.failRun(ctx, run, "policy denied at execution: "+decision.ReasonCode)
		return
	}

	// Heartbeat for the duration of dispatch. Losing the lease cancels the
	// dispatch context so a reclaiming executor never runs concurrently with
	// this one for long.
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopHeartbeat := ex.startHeartbeat(dispatchCtx, run.ID, cancel)
	defer stopHeartbeat()

	// Restart safety: skip recipients a previous lease holder already
	// reached.
	alreadySent, err := ex.messages.SentRecipients(run.ID)
	if err != nil {
		ex.failRun(ctx, run, "dispatch log read failed")
		slog.ErrorContext(ctx, "Dispatch log read failed", "run_id", run.ID, "error", err,
			"correlation_id", run.CorrelationID)
		return
	}

	result := models.RunResult{Total: resolution.Count}
	var firstError string
	for _, recipient := range resolution.Recipients {
		if dispatchCtx.Err() != nil {
			slog.WarnContext(ctx, "Dispatch aborted, lease lost", "run_id", run.ID, "worker_id", workerID)
			return
		}
		if alreadySent[recipient.Email] {
			result.Succeeded++
			continue
		}

		if err := ex.dispatchOne(dispatchCtx, project, def, run, recipient); err != nil {
			result.Failed++
			if firstError == "" {
				firstError = err.Error()
			}
			slog.WarnContext(ctx, "Recipient dispatch failed", "run_id", run.ID,
				"recipient", recipient.Email, "error", err)
			continue
		}
		result.Succeeded++
	}

	status := domain.RunStatusSucceeded
	threshold := config.GetSystemSettingInteger(config.ENGINE_FAILURE_THRESHOLD_PERCENT)
	if result.Total > 0 && result.Failed*100 > result.Total*threshold {
		status = domain.RunStatusFailed
		result.ErrorSummary = fmt.Sprintf("failure threshold breached: %d/%d sends failed; first error: %s",
			result.Failed, result.Total, firstError)
	} else if result.Failed > 0 {
		result.ErrorSummary = fmt.Sprintf("%d/%d sends failed; first error: %s",
			result.Failed, result.Total, firstError)
	}

	if err := ex.runs.Complete(run.ID, status, result); err != nil {
		slog.ErrorContext(ctx, "Failed to write run result", "run_id", run.ID, "error", err)
		return
	}
	slog.InfoContext(ctx, "Run completed", "run_id", run.ID, "status", status,
		"succeeded", result.Succeeded, "failed", result.Failed, "worker_id", workerID)
}

// dispatchOne sends to a single recipient with one bounded retry, then
// records the message in the dispatch log.
func (ex *runExecutor) dispatchOne(ctx context.Context, project *domain.Project,
	def *actions.ActionDefinition, run *domain.WorkflowRun, recipient models.Recipient) error {

	req := transport.SendRequest{
		ProjectID:  project.ID,
		Recipient:  recipient.Email,
		TemplateID: def.TemplateID,
		Variables: map[string]string{
			"runId": strconv.FormatInt(run.ID, 10),
		},
	}
	if recipient.Amount > 0 {
		req.Variables["amount"] = fmt.Sprintf("%.2f", recipient.Amount)
	}
	if recipient.CartID != "" {
		req.Variables["cartId"] = recipient.CartID
	}

	err := ex.messenger.Send(ctx, req)
	if err != nil {
		// One conservative retry; persistent failures land in the summary.
		err = ex.messenger.Send(ctx, req)
	}
	if err != nil {
		return err
	}

	msg := &domain.RunMessage{
		RunID:           run.ID,
		ProjectID:       project.ID,
		Recipient:       recipient.Email,
		NormalizedEmail: recipients.NormalizeEmail(recipient.Email),
		TemplateID:      def.TemplateID,
		Amount:          recipient.Amount,
		Currency:        project.PrimaryCurrency,
	}
	if recipient.CartID != "" {
		msg.CartID = sql.NullString{String: recipient.CartID, Valid: true}
	}
	if _, err := ex.messages.Save(msg); err != nil {
		// The message went out; a missing log row only costs attribution
		// accuracy and a duplicate send after a lease reclaim.
		slog.ErrorContext(ctx, "Failed to record dispatched message", "run_id", run.ID,
			"recipient", recipient.Email, "error", err)
	}
	return nil
}

// startHeartbeat extends the lease periodically while dispatch is in flight.
// A failed extension means the lease was reclaimed: cancel dispatch.
func (ex *runExecutor) startHeartbeat(ctx context.Context, runID int64, cancel context.CancelFunc) func() {
	interval, err := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_HEARTBEAT_INTERVAL))
	if err != nil || interval <= 0 {
		interval = time.Minute
	}
	leaseMinutes := config.GetSystemSettingInteger(config.ENGINE_LEASE_MINUTES)
	extendFor := time.Duration(leaseMinutes) * time.Minute

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if !ex.runs.ExtendLease(runID, extendFor) {
					slog.Warn("Lease extension rejected, stopping dispatch", "run_id", runID)
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// failRun marks a run FAILED with a diagnostic reason. Failed runs are never
// auto-retried; a new trigger with a new idempotency key is required.
func (ex *runExecutor) failRun(ctx context.Context, run *domain.WorkflowRun, reason string) {
	result := models.RunResult{ErrorSummary: reason}
	if err := ex.runs.Complete(run.ID, domain.RunStatusFailed, result); err != nil {
		slog.ErrorContext(ctx, "Failed to mark run failed", "run_id", run.ID, "error", err)
		return
	}
	slog.InfoContext(ctx, "Run failed", "run_id", run.ID, "reason", reason)
}
