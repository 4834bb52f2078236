package repository

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
	"github.com/sheenhq/runhub/pkg/runhub/models"
)

// RunRepository provides persistence for the workflow_runs table. Rows are
// append-only from the caller's point of view: terminal runs are never
// deleted, they form the audit trail.
type RunRepository struct {
	db    *sql.DB
	clock core.Clock
}

const RUN_COLUMNS = ` id, project_id, action_id, status, idempotency_key, params,
		       recipient_estimate, attempt_count, executor_id, correlation_id,
		       requested_at, started_at, completed_at, lease_expires_at,
		       last_heartbeat_at, result_total, result_succeeded, result_failed, result_error `

func NewRunRepository(db *sql.DB, clock core.Clock) *RunRepository {
	return &RunRepository{db: db, clock: clock}
}

func scanRun(row interface{ Scan(...interface{}) error }) (*domain.WorkflowRun, error) {
	var r domain.WorkflowRun
	err := row.Scan(
		&r.ID,
		&r.ProjectID,
		&r.ActionID,
		&r.Status,
		&r.IdempotencyKey,
		&r.Params,
		&r.RecipientEstimate,
		&r.AttemptCount,
		&r.ExecutorID,
		&r.CorrelationID,
		&r.RequestedAt,
		&r.StartedAt,
		&r.CompletedAt,
		&r.LeaseExpiresAt,
		&r.LastHeartbeatAt,
		&r.ResultTotal,
		&r.ResultSucceeded,
		&r.ResultFailed,
		&r.ResultError,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRun performs an idempotent insert keyed on
// (project_id, action_id, idempotency_key). When the key already exists the
// existing row is returned with deduplicated=true and no second row is ever
// created, regardless of how many callers race.
func (r *RunRepository) CreateRun(run *domain.WorkflowRun) (*domain.WorkflowRun, bool, error) {
	now := r.clock.Now()
	vals := []interface{}{
		run.ProjectID, run.ActionID, domain.RunStatusQueued, run.IdempotencyKey,
		run.Params, run.RecipientEstimate, run.CorrelationID, formatDateInDatabase(now),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_runs (
		project_id, action_id, status, idempotency_key, params,
		recipient_estimate, correlation_id, requested_at
	) VALUES (` + strings.Join(pps, ", ") + `)`

	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, vals...).Scan(&run.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				run.ID = id
			}
		}
	}

	if err != nil {
		if isUniqueViolation(err) {
			existing, ferr := r.FindByIdempotencyKey(run.ProjectID, run.ActionID, run.IdempotencyKey)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, true, nil
		}
		return nil, false, err
	}

	run.Status = domain.RunStatusQueued
	run.RequestedAt = now
	return run, false, nil
}

func (r *RunRepository) FindByID(id int64) (*domain.WorkflowRun, error) {
	query := `
		SELECT ` + RUN_COLUMNS + `
		FROM workflow_runs WHERE id = ` + placeholder(1) + `
	`
	return scanRun(r.db.QueryRow(query, id))
}

func (r *RunRepository) FindByIdempotencyKey(projectID, actionID, key string) (*domain.WorkflowRun, error) {
	query := `
		SELECT ` + RUN_COLUMNS + `
		FROM workflow_runs
		WHERE project_id = ` + placeholder(1) + ` AND action_id = ` + placeholder(2) + ` AND idempotency_key = ` + placeholder(3) + `
	`
	return scanRun(r.db.QueryRow(query, projectID, actionID, key))
}

// FindClaimable returns runs a worker may try to claim: queued runs plus
// running runs whose lease has lapsed (presumed-dead worker).
func (r *RunRepository) FindClaimable(limit int) (*[]domain.WorkflowRun, error) {
	now := r.clock.Now()
	query := `
		SELECT ` + RUN_COLUMNS + `
		FROM workflow_runs
		WHERE status = 'QUEUED'
		   OR (status = 'RUNNING' AND ` + dateBefore("lease_expires_at", now) + `)
		ORDER BY requested_at ASC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return &runs, rows.Err()
}

// AcquireLease performs the atomic conditional lease acquisition: it succeeds
// when the run is still QUEUED, or RUNNING with an expired lease. started_at
// is preserved across re-acquisition, the attempt counter always increments.
// Returns false when another executor won the race.
func (r *RunRepository) AcquireLease(id int64, executorID int64, leaseFor time.Duration) bool {
	now := r.clock.Now()
	leaseExpiry := formatDateInDatabase(now.Add(leaseFor))
	startedAt := formatDateInDatabase(now)

	query := `
		UPDATE workflow_runs
		SET status = 'RUNNING',
		    executor_id = ` + placeholder(1) + `,
		    attempt_count = attempt_count + 1,
		    lease_expires_at = ` + placeholder(2) + `,
		    last_heartbeat_at = ` + nowLiteral(now) + `,
		    started_at = COALESCE(started_at, ` + placeholder(3) + `)
		WHERE id = ` + placeholder(4) + `
		  AND (status = 'QUEUED' OR (status = 'RUNNING' AND ` + dateBefore("lease_expires_at", now) + `))
	`
	result, err := r.db.Exec(query, executorID, leaseExpiry, startedAt, id)
	if err != nil {
		slog.Error("Failed to acquire run lease", "error", err, "run_id", id, "executor_id", executorID)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// ExtendLease is the heartbeat: an advisory lease extension valid only while
// the run is still RUNNING. A false return means the lease was reclaimed and
// the caller must stop dispatching.
func (r *RunRepository) ExtendLease(id int64, extendFor time.Duration) bool {
	now := r.clock.Now()
	query := `
		UPDATE workflow_runs
		SET lease_expires_at = ` + placeholder(1) + `, last_heartbeat_at = ` + nowLiteral(now) + `
		WHERE id = ` + placeholder(2) + ` AND status = 'RUNNING'
	`
	result, err := r.db.Exec(query, formatDateInDatabase(now.Add(extendFor)), id)
	if err != nil {
		slog.Error("Failed to extend run lease", "error", err, "run_id", id)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// Complete writes the terminal status and result summary. Guarded on
// status='RUNNING' so a terminal run can never transition again.
func (r *RunRepository) Complete(id int64, status string, result models.RunResult) error {
	now := r.clock.Now()
	query := `
		UPDATE workflow_runs
		SET status = ` + placeholder(1) + `,
		    completed_at = ` + nowLiteral(now) + `,
		    result_total = ` + placeholder(2) + `,
		    result_succeeded = ` + placeholder(3) + `,
		    result_failed = ` + placeholder(4) + `,
		    result_error = ` + placeholder(5) + `
		WHERE id = ` + placeholder(6) + ` AND status = 'RUNNING'
	`
	var errSummary interface{}
	if result.ErrorSummary != "" {
		errSummary = result.ErrorSummary
	}
	_, err := r.db.Exec(query, status, result.Total, result.Succeeded, result.Failed, errSummary, id)
	return err
}

// FindExpiredBeyondAttempts returns running runs whose lease has lapsed after
// the attempt cap was exhausted. These are reaper candidates; runs under the
// cap are left for normal re-acquisition.
func (r *RunRepository) FindExpiredBeyondAttempts(maxAttempts int, limit int) (*[]domain.WorkflowRun, error) {
	now := r.clock.Now()
	query := `
		SELECT ` + RUN_COLUMNS + `
		FROM workflow_runs
		WHERE status = 'RUNNING'
		  AND ` + dateBefore("lease_expires_at", now) + `
		  AND attempt_count >= ` + placeholder(1) + `
		ORDER BY lease_expires_at ASC
		LIMIT ` + placeholder(2) + `
	`
	rows, err := r.db.Query(query, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return &runs, rows.Err()
}

// ForceFail transitions an abandoned run to FAILED with a diagnostic reason.
// Guarded on the lease still being expired so it cannot race a live worker.
func (r *RunRepository) ForceFail(id int64, reason string) bool {
	now := r.clock.Now()
	query := `
		UPDATE workflow_runs
		SET status = 'FAILED', completed_at = ` + nowLiteral(now) + `, result_error = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + ` AND status = 'RUNNING' AND ` + dateBefore("lease_expires_at", now) + `
	`
	result, err := r.db.Exec(query, reason, id)
	if err != nil {
		slog.Error("Failed to force-fail run", "error", err, "run_id", id)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// LastSucceededAt returns the completion time of the most recent successful
// run of the action for the project, or zero time when there is none.
func (r *RunRepository) LastSucceededAt(projectID, actionID string) (time.Time, error) {
	query := `
		SELECT completed_at
		FROM workflow_runs
		WHERE project_id = ` + placeholder(1) + ` AND action_id = ` + placeholder(2) + ` AND status = 'SUCCEEDED'
		ORDER BY completed_at DESC
		LIMIT 1
	`
	var completed sql.NullTime
	err := r.db.QueryRow(query, projectID, actionID).Scan(&completed)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if !completed.Valid {
		return time.Time{}, nil
	}
	return completed.Time, nil
}

// SearchRuns lists runs for a project with optional action/status filters,
// newest first.
func (r *RunRepository) SearchRuns(req models.SearchRunsRequest) (*[]domain.WorkflowRun, error) {
	query := `
		SELECT ` + RUN_COLUMNS + `
		FROM workflow_runs
		WHERE project_id = ` + placeholder(1)
	args := []interface{}{req.ProjectID}
	idx := 2
	if req.ActionID != "" {
		query += ` AND action_id = ` + placeholder(idx)
		args = append(args, req.ActionID)
		idx++
	}
	if req.Status != "" {
		query += ` AND status = ` + placeholder(idx)
		args = append(args, req.Status)
		idx++
	}
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += ` ORDER BY requested_at DESC LIMIT ` + placeholder(idx)
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return &runs, rows.Err()
}
