package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

func newTestManager(runRepo RunRepo) *RunManager {
	rm := NewRunManager(runRepo, &MockMessageRepo{}, &MockLockRepo{}, &MockProjectRepo{},
		nil, &MockResolver{}, &MockPolicy{}, &MockMessenger{}, core.NewRealClock())
	rm.queue = make(chan *domain.WorkflowRun, 10)
	return rm
}

func TestPollAndClaimRuns_EnqueuesClaimed(t *testing.T) {
	claimable := []domain.WorkflowRun{
		{ID: 1, Status: domain.RunStatusQueued, ActionID: "recover_abandoned_checkout"},
		{ID: 2, Status: domain.RunStatusQueued, ActionID: "recover_abandoned_checkout"},
	}
	runRepo := &MockRunRepo{
		FindClaimableFunc: func(limit int) (*[]domain.WorkflowRun, error) {
			return &claimable, nil
		},
		FindByIDFunc: func(id int64) (*domain.WorkflowRun, error) {
			return &domain.WorkflowRun{ID: id, Status: domain.RunStatusRunning, AttemptCount: 1}, nil
		},
	}
	rm := newTestManager(runRepo)

	rm.pollAndClaimRuns(context.Background())

	if len(rm.queue) != 2 {
		t.Fatalf("Expected 2 queued runs, got %d", len(rm.queue))
	}
	first := <-rm.queue
	if first.AttemptCount != 1 {
		t.Errorf("Expected the re-read run with incremented attempt, got %+v", first)
	}
}

func TestPollAndClaimRuns_LeaseRaceLostSkipsRun(t *testing.T) {
	claimable := []domain.WorkflowRun{
		{ID: 1, Status: domain.RunStatusQueued},
		{ID: 2, Status: domain.RunStatusQueued},
	}
	runRepo := &MockRunRepo{
		FindClaimableFunc: func(limit int) (*[]domain.WorkflowRun, error) {
			return &claimable, nil
		},
		AcquireLeaseFunc: func(id int64, executorID int64, leaseFor time.Duration) bool {
			// Another executor won run 1.
			return id != 1
		},
	}
	rm := newTestManager(runRepo)

	rm.pollAndClaimRuns(context.Background())

	if len(rm.queue) != 1 {
		t.Fatalf("Expected only the won run queued, got %d", len(rm.queue))
	}
	claimed := <-rm.queue
	if claimed.ID != 2 {
		t.Errorf("Expected run 2, got %d", claimed.ID)
	}
}

func TestPollAndClaimRuns_FullQueueSkipsPoll(t *testing.T) {
	polled := false
	runRepo := &MockRunRepo{
		FindClaimableFunc: func(limit int) (*[]domain.WorkflowRun, error) {
			polled = true
			return &[]domain.WorkflowRun{}, nil
		},
	}
	rm := newTestManager(runRepo)
	rm.queue = make(chan *domain.WorkflowRun, 5)
	for i := 0; i < 5; i++ {
		rm.queue <- &domain.WorkflowRun{ID: int64(i)}
	}

	rm.pollAndClaimRuns(context.Background())

	if polled {
		t.Error("Expected poll skipped while the queue is full")
	}
}

func TestWakeup_NonBlocking(t *testing.T) {
	rm := newTestManager(&MockRunRepo{})

	// Repeated wakeups must never block, even with nobody draining.
	for i := 0; i < 10; i++ {
		rm.Wakeup()
	}
	if len(rm.wakeup) != 1 {
		t.Errorf("Expected a single pending wakeup, got %d", len(rm.wakeup))
	}
}
