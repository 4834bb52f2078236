package domain

import (
	"database/sql"
	"time"
)

// Run statuses. Transitions are monotonic: QUEUED -> RUNNING -> {SUCCEEDED, FAILED}.
// RUNNING -> RUNNING is only reachable via lease re-acquisition after expiry.
const (
	RunStatusQueued    = "QUEUED"
	RunStatusRunning   = "RUNNING"
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
)

type WorkflowRun struct {
	ID                int64
	ProjectID         string
	ActionID          string
	Status            string
	IdempotencyKey    string
	Params            sql.NullString
	RecipientEstimate int
	AttemptCount      int
	ExecutorID        sql.NullInt64
	CorrelationID     string
	RequestedAt       time.Time
	StartedAt         sql.NullTime
	CompletedAt       sql.NullTime
	LeaseExpiresAt    sql.NullTime
	LastHeartbeatAt   sql.NullTime
	ResultTotal       int
	ResultSucceeded   int
	ResultFailed      int
	ResultError       sql.NullString
}

// Terminal reports whether the run has reached a final status.
func (r *WorkflowRun) Terminal() bool {
	return r.Status == RunStatusSucceeded || r.Status == RunStatusFailed
}

// LeaseExpired reports whether the run's lease has lapsed at the given time.
func (r *WorkflowRun) LeaseExpired(now time.Time) bool {
	return r.LeaseExpiresAt.Valid && r.LeaseExpiresAt.Time.Before(now)
}
