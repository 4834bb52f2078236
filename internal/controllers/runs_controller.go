package controllers

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sheenhq/runhub/internal/actions"
	"github.com/sheenhq/runhub/internal/cache"
	"github.com/sheenhq/runhub/internal/engine"
	"github.com/sheenhq/runhub/internal/policy"
	"github.com/sheenhq/runhub/internal/recipients"
	"github.com/sheenhq/runhub/internal/util"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
	"github.com/sheenhq/runhub/pkg/runhub/models"
)

// TriggerPolicy is the fast trigger-time checkpoint.
type TriggerPolicy interface {
	EvaluateTrigger(def *actions.ActionDefinition, estimatedCount int, role string, lastSucceededAt time.Time) policy.Decision
}

// OutcomeRepo reads attributed outcomes for the run detail view.
type OutcomeRepo interface {
	FindByRunID(runID int64) (*[]domain.RunAttribution, error)
}

// Waker nudges the engine poll loop after a trigger.
type Waker interface {
	Wakeup()
}

// RunsController holds dependencies for the run trigger/preview/query HTTP
// endpoints.
type RunsController struct {
	AuthController
	RunRepo     engine.RunRepo
	OutcomeRepo OutcomeRepo
	Resolver    engine.RecipientResolver
	Policy      TriggerPolicy
	Estimates   cache.EstimateCache
	Engine      Waker
}

func NewRunsController(runRepo engine.RunRepo, outcomeRepo OutcomeRepo, resolver engine.RecipientResolver,
	triggerPolicy TriggerPolicy, estimates cache.EstimateCache, eng Waker, userRepo UserRepo) *RunsController {
	return &RunsController{
		RunRepo:     runRepo,
		OutcomeRepo: outcomeRepo,
		Resolver:    resolver,
		Policy:      triggerPolicy,
		Estimates:   estimates,
		Engine:      eng,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

// handleCreateRun triggers an action. The call returns as soon as the run row
// exists; dispatch is fire-and-forget and callers poll for completion.
func (c *RunsController) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.CreateRunRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.ActionID == "" || req.IdempotencyKey == "" {
		http.Error(w, "actionId and idempotencyKey are required", http.StatusBadRequest)
		return
	}

	projectID := callerProject(r.Context())
	def := actions.Get(req.ActionID)
	if def == nil {
		util.WriteJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:  "unknown action",
			Reason: &models.Reason{Code: policy.ReasonUnknownAction},
		})
		return
	}

	params, err := actions.ParseParams(req.ActionID, req.Params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.InfoContext(r.Context(), "Trigger requested", "project_id", projectID,
		"action_id", req.ActionID, "idempotency_key", req.IdempotencyKey)

	estimate, err := c.estimateRecipients(r.Context(), projectID, params)
	if err != nil {
		c.systemicError(w, r.Context(), "recipient estimate failed", err)
		return
	}

	lastSucceeded, err := c.RunRepo.LastSucceededAt(projectID, req.ActionID)
	if err != nil {
		c.systemicError(w, r.Context(), "run history read failed", err)
		return
	}

	decision := c.Policy.EvaluateTrigger(def, estimate, callerRole(r.Context()), lastSucceeded)
	if !decision.Allowed {
		util.WriteJSON(w, http.StatusConflict, models.ErrorResponse{
			Error:  "policy denied",
			Reason: &models.Reason{Code: decision.ReasonCode, Params: decision.ReasonParams},
		})
		return
	}

	encoded, err := params.Encode()
	if err != nil {
		c.systemicError(w, r.Context(), "params encoding failed", err)
		return
	}

	run := &domain.WorkflowRun{
		ProjectID:         projectID,
		ActionID:          req.ActionID,
		IdempotencyKey:    req.IdempotencyKey,
		Params:            sql.NullString{String: encoded, Valid: true},
		RecipientEstimate: estimate,
		CorrelationID:     uuid.NewString(),
	}
	created, deduplicated, err := c.RunRepo.CreateRun(run)
	if err != nil {
		c.systemicError(w, r.Context(), "run creation failed", err)
		return
	}

	if !deduplicated {
		c.Engine.Wakeup()
	}

	util.WriteJSON(w, http.StatusOK, models.CreateRunResponse{
		RunID:        created.ID,
		Status:       created.Status,
		Deduplicated: deduplicated,
	})
}

// handlePreview resolves what an action would do without doing it. The count
// shown here is the count execute would see for the same state; only the
// sample is truncated.
func (c *RunsController) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.PreviewRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	projectID := callerProject(r.Context())
	def := actions.Get(req.ActionID)
	if def == nil {
		util.WriteJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:  "unknown action",
			Reason: &models.Reason{Code: policy.ReasonUnknownAction},
		})
		return
	}
	if !def.SupportsPreview {
		http.Error(w, "action does not support preview", http.StatusBadRequest)
		return
	}

	params, err := actions.ParseParams(req.ActionID, req.Params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resolution, err := c.Resolver.Resolve(r.Context(), projectID, params, recipients.ModePreview)
	if err != nil {
		c.systemicError(w, r.Context(), "preview resolution failed", err)
		return
	}
	c.Estimates.Put(r.Context(), projectID, req.ActionID, resolution.Count)

	resp := models.PreviewResponse{
		Count:      resolution.Count,
		Sample:     resolution.Sample,
		Criteria:   resolution.Criteria,
		Exclusions: resolution.Exclusions,
		Warnings:   resolution.Warnings,
	}

	lastSucceeded, err := c.RunRepo.LastSucceededAt(projectID, req.ActionID)
	if err == nil {
		decision := c.Policy.EvaluateTrigger(def, resolution.Count, callerRole(r.Context()), lastSucceeded)
		if !decision.Allowed {
			resp.Blocked = true
			resp.BlockReason = &models.Reason{Code: decision.ReasonCode, Params: decision.ReasonParams}
		}
	}

	util.WriteJSON(w, http.StatusOK, resp)
}

func (c *RunsController) handleGetRunById(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := r.PathValue("id")
	if idStr == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}

	run, err := c.RunRepo.FindByID(id)
	if err != nil || run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if run.ProjectID != callerProject(r.Context()) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	resp := mapRunToApiRun(run)
	if outcomes, err := c.OutcomeRepo.FindByRunID(run.ID); err == nil && outcomes != nil {
		for _, o := range *outcomes {
			resp.Outcomes = append(resp.Outcomes, models.OutcomeResponse{
				EventRef:     o.EventRef,
				MatchedBy:    o.MatchedBy,
				Confidence:   o.Confidence,
				Amount:       o.Amount,
				Currency:     o.Currency,
				AttributedAt: o.AttributedAt,
			})
		}
	}

	util.WriteJSON(w, http.StatusOK, resp)
}

func (c *RunsController) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	req := models.SearchRunsRequest{
		ProjectID: callerProject(r.Context()),
		ActionID:  r.URL.Query().Get("action"),
		Status:    r.URL.Query().Get("status"),
		Limit:     limit,
	}

	runs, err := c.RunRepo.SearchRuns(req)
	if err != nil {
		c.systemicError(w, r.Context(), "run search failed", err)
		return
	}

	out := make([]models.RunApiResponse, 0, len(*runs))
	for i := range *runs {
		out = append(out, *mapRunToApiRun(&(*runs)[i]))
	}
	util.WriteJSON(w, http.StatusOK, out)
}

// estimateRecipients serves the trigger-time count: bounded-stale cache hits
// are acceptable here, execution re-resolves fresh.
func (c *RunsController) estimateRecipients(ctx context.Context, projectID string, params *actions.Params) (int, error) {
	if count, ok := c.Estimates.Get(ctx, projectID, params.ActionID); ok {
		return count, nil
	}
	resolution, err := c.Resolver.Resolve(ctx, projectID, params, recipients.ModePreview)
	if err != nil {
		return 0, err
	}
	c.Estimates.Put(ctx, projectID, params.ActionID, resolution.Count)
	return resolution.Count, nil
}

// systemicError hides the raw error behind a correlation id.
func (c *RunsController) systemicError(w http.ResponseWriter, ctx context.Context, msg string, err error) {
	correlationID := uuid.NewString()
	slog.ErrorContext(ctx, msg, "error", err, "correlation_id", correlationID)
	util.WriteJSON(w, http.StatusInternalServerError, models.ErrorResponse{
		Error:         "internal error",
		CorrelationID: correlationID,
	})
}

func mapRunToApiRun(run *domain.WorkflowRun) *models.RunApiResponse {
	resp := &models.RunApiResponse{
		ID:                run.ID,
		ProjectID:         run.ProjectID,
		ActionID:          run.ActionID,
		Status:            run.Status,
		IdempotencyKey:    run.IdempotencyKey,
		RecipientEstimate: run.RecipientEstimate,
		AttemptCount:      run.AttemptCount,
		CorrelationID:     run.CorrelationID,
		RequestedAt:       run.RequestedAt,
	}
	if run.StartedAt.Valid {
		t := run.StartedAt.Time
		resp.StartedAt = &t
	}
	if run.CompletedAt.Valid {
		t := run.CompletedAt.Time
		resp.CompletedAt = &t
	}
	if run.Terminal() {
		resp.Result = &models.RunResult{
			Total:        run.ResultTotal,
			Succeeded:    run.ResultSucceeded,
			Failed:       run.ResultFailed,
			ErrorSummary: run.ResultError.String,
		}
	}
	return resp
}
