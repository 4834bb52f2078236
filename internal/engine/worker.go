package engine

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// Worker processes claimed runs from the queue. The manager already holds the
// lease for anything that arrives here.
func Worker(ctx context.Context, id int, executor *runExecutor, queue <-chan *domain.WorkflowRun) {
	workerID := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopping due to context cancel", "worker_id", id)
			return
		case run := <-queue:
			slog.Info("Worker starting run", "worker_id", id, "run_id", run.ID)
			executor.Execute(ctx, run, workerID)
			slog.Info("Worker finished run", "worker_id", id, "run_id", run.ID)
		}
	}
}
