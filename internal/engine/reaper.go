package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheenhq/runhub/internal/config"
)

const reaperLockName = "run-reaper"

// startReaper periodically force-fails runs whose lease expired after the
// attempt cap was exhausted. Runs under the cap are left alone; the normal
// claim path re-acquires those. Serialized across instances via a named lock
// so only one reaper acts per cycle.
func startReaper(ctx context.Context, rm *RunManager) {
	interval, err := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_REAPER_INTERVAL))
	if err != nil || interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	owner := fmt.Sprintf("executor-%d", rm.executorID)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Run reaper stopping due to context cancel")
			return
		case <-ticker.C:
			if !rm.LockRepo.TryAcquire(reaperLockName, owner, interval) {
				slog.Debug("Reaper lock held elsewhere, skipping cycle")
				continue
			}
			reapExpiredRuns(ctx, rm)
			rm.LockRepo.Release(reaperLockName, owner)
		}
	}
}

func reapExpiredRuns(ctx context.Context, rm *RunManager) {
	maxAttempts := config.GetSystemSettingInteger(config.ENGINE_MAX_ATTEMPTS)
	expired, err := rm.RunRepo.FindExpiredBeyondAttempts(maxAttempts, 100)
	if err != nil {
		slog.Error("Error finding expired runs", "error", err)
		return
	}

	for _, run := range *expired {
		reason := fmt.Sprintf("lease expired after %d attempts, presumed-dead worker (last heartbeat %s)",
			run.AttemptCount, heartbeatText(run.LastHeartbeatAt.Time, run.LastHeartbeatAt.Valid))
		if rm.RunRepo.ForceFail(run.ID, reason) {
			slog.WarnContext(ctx, "Reaped abandoned run", "run_id", run.ID,
				"attempts", run.AttemptCount, "action_id", run.ActionID)
		}
	}
}

func heartbeatText(t time.Time, valid bool) string {
	if !valid {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
