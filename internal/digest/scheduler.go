package digest

import (
	"context"
	"log/slog"
	"time"

	"github.com/sheenhq/runhub/internal/config"
	"github.com/sheenhq/runhub/internal/transport"
	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

const tickLockName = "digest-tick"

// ScheduleStore persists digest schedules.
type ScheduleStore interface {
	FindDue(limit int) (*[]domain.DigestSchedule, error)
	AdvanceAfterSend(projectID string, sentAt, next time.Time) error
}

// LockSource serializes the tick across instances.
type LockSource interface {
	TryAcquire(name, owner string, holdFor time.Duration) bool
	Release(name, owner string)
}

// Scheduler owns the per-project next-send instant and the periodic tick.
type Scheduler struct {
	schedules ScheduleStore
	composer  *Composer
	messenger transport.Messenger
	locks     LockSource
	clock     core.Clock
	owner     string
}

func NewScheduler(schedules ScheduleStore, composer *Composer, messenger transport.Messenger,
	locks LockSource, clock core.Clock, owner string) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		composer:  composer,
		messenger: messenger,
		locks:     locks,
		clock:     clock,
		owner:     owner,
	}
}

// ComputeNext interprets "today at hourOfDay" in the project's local time,
// rolling to tomorrow when that instant has already passed, and returns the
// absolute instant. Storing the result means the tick never redoes timezone
// or DST math for projects that are not due.
func ComputeNext(now time.Time, timezone string, hourOfDay int) time.Time {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hourOfDay, 0, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hourOfDay, 0, 0, 0, loc)
	}
	return next.UTC()
}

// Start ticks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	interval, err := time.ParseDuration(config.GetSystemSettingString(config.DIGEST_TICK_INTERVAL))
	if err != nil || interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Digest scheduler stopping due to context cancel")
			return
		case <-ticker.C:
			if !s.locks.TryAcquire(tickLockName, s.owner, interval) {
				continue
			}
			s.Tick(ctx)
			s.locks.Release(tickLockName, s.owner)
		}
	}
}

// Tick sends digests for all due projects. The next-send instant ALWAYS
// advances afterwards, even for zero-activity projects or failed sends;
// anything else reprocesses inactive projects every cycle.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.schedules.FindDue(100)
	if err != nil {
		slog.Error("Digest due query failed", "error", err)
		return
	}

	now := s.clock.Now()
	for _, schedule := range *due {
		content, err := s.composer.Compose(ctx, schedule.ProjectID, now)
		if err != nil {
			slog.Error("Digest composition failed", "project_id", schedule.ProjectID, "error", err)
		} else if content != nil {
			err = s.messenger.SendDigest(ctx, transport.DigestRequest{
				ProjectID: schedule.ProjectID,
				Subject:   content.Subject,
				Body:      content.Body,
			})
			if err != nil {
				slog.Error("Digest send failed", "project_id", schedule.ProjectID, "error", err)
			} else {
				slog.InfoContext(ctx, "Digest sent", "project_id", schedule.ProjectID)
			}
		} else {
			slog.InfoContext(ctx, "Digest skipped, nothing to report", "project_id", schedule.ProjectID)
		}

		next := ComputeNext(now, schedule.Timezone, schedule.HourOfDay)
		if err := s.schedules.AdvanceAfterSend(schedule.ProjectID, now, next); err != nil {
			slog.Error("Failed to advance digest schedule", "project_id", schedule.ProjectID, "error", err)
		}
	}
}
