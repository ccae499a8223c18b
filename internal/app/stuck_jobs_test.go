package app

import (
	"context"
	"testing"
	"time"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

func TestNewStuckJobSweeperDefaults(t *testing.T) {
	s := NewStuckJobSweeper(&fakeJobs{}, 0, 0)
	if s == nil {
		t.Fatalf("expected non-nil sweeper")
	}
	if s.maxProcessingAge <= 0 {
		t.Fatalf("maxProcessingAge should be set to default, got %v", s.maxProcessingAge)
	}
	if s.interval <= 0 {
		t.Fatalf("interval should be set to default, got %v", s.interval)
	}
}

func TestNewStuckJobSweeperNilRepo(t *testing.T) {
	if sweeper := NewStuckJobSweeper(nil, time.Minute, time.Minute); sweeper != nil {
		t.Fatalf("expected nil sweeper when repo is nil")
	}
}

func TestStuckJobSweeperRecoversStaleJobs(t *testing.T) {
	now := time.Now()
	repo := &fakeJobs{byStatus: map[domain.JobStatus][]domain.Job{
		domain.JobProcessing: {
			{ID: "stale", Type: domain.JobSendEmail, Status: domain.JobProcessing, RetryCount: 2, UpdatedAt: now.Add(-30 * time.Minute)},
			{ID: "live", Type: domain.JobSendEmail, Status: domain.JobProcessing, UpdatedAt: now.Add(-1 * time.Minute)},
		},
	}}
	s := &StuckJobSweeper{
		jobs:             repo,
		maxProcessingAge: 10 * time.Minute,
		interval:         time.Minute,
	}

	s.sweepOnce(context.Background())

	if len(repo.reschedules) != 1 {
		t.Fatalf("expected 1 reschedule, got %d", len(repo.reschedules))
	}
	rec := repo.reschedules[0]
	if rec.id != "stale" {
		t.Fatalf("expected job 'stale' recovered, got %q", rec.id)
	}
	if rec.retryCount != 2 {
		t.Fatalf("recovery must not change the retry count, got %d", rec.retryCount)
	}
	if rec.reason == "" {
		t.Fatalf("expected a recovery reason on the row")
	}
	if len(repo.failures) != 0 {
		t.Fatalf("recovery must not mark jobs failed")
	}
}

func TestStuckJobSweeperRunStopsOnContextDone(t *testing.T) {
	s := NewStuckJobSweeper(&fakeJobs{}, time.Minute, 10*time.Millisecond)
	if s == nil {
		t.Fatalf("expected non-nil sweeper")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(ch)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("Run did not exit after context cancellation")
	}
}
