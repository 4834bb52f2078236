package engine

import (
	"context"
	"time"

	"github.com/sheenhq/runhub/internal/actions"
	"github.com/sheenhq/runhub/internal/policy"
	"github.com/sheenhq/runhub/internal/recipients"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
	"github.com/sheenhq/runhub/pkg/runhub/models"
)

// RunRepo defines the interface for run persistence, matching repository.RunRepository.
type RunRepo interface {
	CreateRun(run *domain.WorkflowRun) (*domain.WorkflowRun, bool, error)
	FindByID(id int64) (*domain.WorkflowRun, error)
	FindByIdempotencyKey(projectID, actionID, key string) (*domain.WorkflowRun, error)
	FindClaimable(limit int) (*[]domain.WorkflowRun, error)
	AcquireLease(id int64, executorID int64, leaseFor time.Duration) bool
	ExtendLease(id int64, extendFor time.Duration) bool
	Complete(id int64, status string, result models.RunResult) error
	FindExpiredBeyondAttempts(maxAttempts int, limit int) (*[]domain.WorkflowRun, error)
	ForceFail(id int64, reason string) bool
	LastSucceededAt(projectID, actionID string) (time.Time, error)
	SearchRuns(req models.SearchRunsRequest) (*[]domain.WorkflowRun, error)
}

// MessageRepo defines the interface for the outbound dispatch log.
type MessageRepo interface {
	Save(m *domain.RunMessage) (int64, error)
	SentRecipients(runID int64) (map[string]bool, error)
}

// LockRepo is the named mutual-exclusion primitive.
type LockRepo interface {
	TryAcquire(name, owner string, holdFor time.Duration) bool
	Release(name, owner string)
}

// ExecutorRepo defines the interface for executor registration bookkeeping.
type ExecutorRepo interface {
	Save(e *domain.Executor) (int64, error)
	UpdateLastActive(id int64, ts time.Time) error
	GetExecutorsByLastActive(limit int) ([]*domain.Executor, error)
}

// ProjectRepo reads project settings.
type ProjectRepo interface {
	FindByID(id string) (*domain.Project, error)
}

// RecipientResolver is the shared preview/execute resolution path.
type RecipientResolver interface {
	Resolve(ctx context.Context, projectID string, params *actions.Params, mode recipients.Mode) (*recipients.Resolution, error)
}

// ExecutionPolicy is the authoritative pre-dispatch checkpoint.
type ExecutionPolicy interface {
	EvaluateExecution(ctx context.Context, projectID string, def *actions.ActionDefinition, actualCount int) (policy.Decision, error)
}
