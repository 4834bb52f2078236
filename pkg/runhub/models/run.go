package models

import (
	"encoding/json"
	"time"
)

// CreateRunRequest is the payload for triggering an action run. The
// idempotency key is client-generated with single-use intent; the server
// never infers duplication from timing or payload similarity.
type CreateRunRequest struct {
	ActionID       string          `json:"actionId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Params         json.RawMessage `json:"params"`
}

// CreateRunResponse is returned immediately; dispatch is fire-and-forget and
// callers poll for completion.
type CreateRunResponse struct {
	RunID        int64  `json:"runId"`
	Status       string `json:"status"`
	Deduplicated bool   `json:"deduplicated"`
}

// PreviewRequest asks what an action would do without doing it.
type PreviewRequest struct {
	ActionID string          `json:"actionId"`
	Params   json.RawMessage `json:"params"`
}

// PreviewResponse mirrors exactly what execution would resolve. Count always
// reflects the full recipient list; only Sample is truncated.
type PreviewResponse struct {
	Count       int         `json:"count"`
	Sample      []Recipient `json:"sample"`
	Criteria    string      `json:"criteria"`
	Exclusions  []Exclusion `json:"exclusions"`
	Warnings    []string    `json:"warnings,omitempty"`
	Blocked     bool        `json:"blocked,omitempty"`
	BlockReason *Reason     `json:"blockReason,omitempty"`
}

// Recipient is one dispatch target for an action.
type Recipient struct {
	Email  string  `json:"email"`
	Name   string  `json:"name,omitempty"`
	Amount float64 `json:"amount,omitempty"`
	CartID string  `json:"cartId,omitempty"`
}

// Exclusion explains why a candidate was removed from a recipient list.
type Exclusion struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// Reason is a structured, localizable denial reason. Never raw text.
type Reason struct {
	Code   string                 `json:"code"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// RunResult aggregates per-recipient outcomes into the run's summary.
type RunResult struct {
	Total        int    `json:"total"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	ErrorSummary string `json:"errorSummary,omitempty"`
}

// SearchRunsRequest filters the run listing.
type SearchRunsRequest struct {
	ProjectID string `json:"projectId"`
	ActionID  string `json:"actionId,omitempty"`
	Status    string `json:"status,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// RunApiResponse represents the API view of a run, including any attached
// attributed outcomes.
type RunApiResponse struct {
	ID                int64             `json:"id"`
	ProjectID         string            `json:"projectId"`
	ActionID          string            `json:"actionId"`
	Status            string            `json:"status"`
	IdempotencyKey    string            `json:"idempotencyKey"`
	RecipientEstimate int               `json:"recipientEstimate"`
	AttemptCount      int               `json:"attemptCount"`
	CorrelationID     string            `json:"correlationId"`
	RequestedAt       time.Time         `json:"requestedAt"`
	StartedAt         *time.Time        `json:"startedAt,omitempty"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	Result            *RunResult        `json:"result,omitempty"`
	Outcomes          []OutcomeResponse `json:"outcomes,omitempty"`
}

// OutcomeResponse is one attributed downstream outcome of a run.
type OutcomeResponse struct {
	EventRef     string    `json:"eventRef"`
	MatchedBy    string    `json:"matchedBy"`
	Confidence   string    `json:"confidence"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	AttributedAt time.Time `json:"attributedAt"`
}

// ErrorResponse is the generic API error shape. Systemic failures carry a
// correlation id instead of internal error text.
type ErrorResponse struct {
	Error         string  `json:"error"`
	Reason        *Reason `json:"reason,omitempty"`
	CorrelationID string  `json:"correlationId,omitempty"`
}
