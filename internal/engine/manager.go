package engine

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/sheenhq/runhub/internal/config"
	"github.com/sheenhq/runhub/internal/transport"
	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// RunManager owns the claim loop: it polls for claimable runs, performs the
// atomic lease acquisition and feeds claimed runs to the worker pool.
// Several instances may run concurrently; the CAS in AcquireLease decides
// every race.
type RunManager struct {
	RunRepo      RunRepo
	MessageRepo  MessageRepo
	LockRepo     LockRepo
	ProjectRepo  ProjectRepo
	executorRepo ExecutorRepo
	resolver     RecipientResolver
	policy       ExecutionPolicy
	messenger    transport.Messenger
	executorID   int64
	wakeup       chan struct{}
	queue        chan *domain.WorkflowRun
	clock        core.Clock
}

func NewRunManager(runRepo RunRepo, messageRepo MessageRepo, lockRepo LockRepo,
	projectRepo ProjectRepo, executorRepo ExecutorRepo, resolver RecipientResolver,
	pol ExecutionPolicy, messenger transport.Messenger, clock core.Clock) *RunManager {
	return &RunManager{
		RunRepo:      runRepo,
		MessageRepo:  messageRepo,
		LockRepo:     lockRepo,
		ProjectRepo:  projectRepo,
		executorRepo: executorRepo,
		resolver:     resolver,
		policy:       pol,
		messenger:    messenger,
		wakeup:       make(chan struct{}, 1),
		clock:        clock,
	}
}

// StartEngine starts polling for claimable runs at the given interval and
// blocks until the context is cancelled.
func (rm *RunManager) StartEngine(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	registerExecutorInstance(ctx, rm)

	go startReaper(ctx, rm)

	queueSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	if queueSize <= 0 {
		queueSize = 10 // fallback default
	}
	rm.queue = make(chan *domain.WorkflowRun, queueSize)

	executor := newRunExecutor(rm.RunRepo, rm.MessageRepo, rm.ProjectRepo, rm.resolver, rm.policy, rm.messenger)

	workers := config.GetSystemSettingInteger(config.ENGINE_WORKER_SIZE)
	slog.Info("Starting run engine", "workers", workers, "queue_size", queueSize)
	for i := 0; i < workers; i++ {
		go Worker(ctx, i, executor, rm.queue)
	}

	slog.Info("Run engine started", "poll_interval", pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Run engine stopping due to context cancel")
			return
		case <-ticker.C:
			rm.pollAndClaimRuns(ctx)
		case <-rm.wakeup:
			rm.pollAndClaimRuns(ctx)
		}
	}
}

// pollAndClaimRuns queries for claimable runs and races for their leases.
func (rm *RunManager) pollAndClaimRuns(ctx context.Context) {
	slog.Debug("Polling for claimable runs")

	batchSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	if len(rm.queue) >= batchSize {
		slog.Warn("run queue full, skipping poll, possibly long running dispatches")
		return
	}

	runs, err := rm.RunRepo.FindClaimable(batchSize)
	if err != nil {
		slog.Error("Error fetching claimable runs", "error", err)
		return
	}

	leaseFor := time.Duration(config.GetSystemSettingInteger(config.ENGINE_LEASE_MINUTES)) * time.Minute

	for i := range *runs {
		run := (*runs)[i]
		if run.Status == domain.RunStatusRunning {
			slog.WarnContext(ctx, "Reclaiming run with expired lease", "run_id", run.ID,
				"attempt", run.AttemptCount, "previous_executor", run.ExecutorID.Int64)
		}

		if !rm.RunRepo.AcquireLease(run.ID, rm.executorID, leaseFor) {
			slog.InfoContext(ctx, "Unable to acquire lease, picked up by another executor", "run_id", run.ID)
			continue
		}

		// Re-read so the worker sees the post-acquisition attempt counter and
		// lease expiry.
		claimed, err := rm.RunRepo.FindByID(run.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to reload claimed run", "run_id", run.ID, "error", err)
			continue
		}

		slog.InfoContext(ctx, "Claimed run, queueing for dispatch", "run_id", claimed.ID,
			"action_id", claimed.ActionID, "attempt", claimed.AttemptCount)
		rm.queue <- claimed
	}
}

func registerExecutorInstance(ctx context.Context, rm *RunManager) {
	name := config.GetSystemSettingString(config.EXECUTOR_NAME)
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "runhub-engine"
		} else {
			name = hostname
		}
	}
	exec := &domain.Executor{Name: name, Started: rm.clock.Now(), LastActive: rm.clock.Now()}
	id, err := rm.executorRepo.Save(exec)
	if err != nil {
		slog.Error("Failed to register executor", "error", err)
		return
	}
	rm.executorID = id
	slog.Info("Registered executor", "executor_id", id, "name", name)

	hb := time.NewTicker(30 * time.Second)
	go func(executorID int64) {
		defer hb.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-hb.C:
				if err := rm.executorRepo.UpdateLastActive(executorID, rm.clock.Now()); err != nil {
					slog.Error("Failed to update executor last_active", "executor_id", executorID, "error", err)
				}
			}
		}
	}(id)
}

// Wakeup nudges the poll loop; called after a run is created so dispatch does
// not wait for the next tick.
func (rm *RunManager) Wakeup() {
	select {
	case rm.wakeup <- struct{}{}:
	default:
	}
}
