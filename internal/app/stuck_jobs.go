package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// StuckJobSweeper returns jobs stranded in processing to pending. A worker
// that dies between claiming a row and finishing it leaves the row in
// processing forever; the sweeper finds rows older than maxProcessingAge and
// reschedules them without touching the retry count, so the crash itself
// never burns an attempt.
type StuckJobSweeper struct {
	jobs             domain.JobRepository
	maxProcessingAge time.Duration
	interval         time.Duration
}

func NewStuckJobSweeper(jobs domain.JobRepository, maxProcessingAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StuckJobSweeper{
		jobs:             jobs,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
	}
}

func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	// maxProcessingAge must stay comfortably above the per-job timeout or
	// the sweeper will resurrect jobs a live worker is still finishing.
	cutoff := time.Now().Add(-s.maxProcessingAge)
	const pageSize = 500
	span.SetAttributes(
		attribute.Int("jobs.page_size", pageSize),
		attribute.Float64("jobs.max_processing_age_seconds", s.maxProcessingAge.Seconds()),
	)

	jobs, err := s.jobs.ListByStatus(ctx, domain.JobProcessing, pageSize)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck job sweep failed to list jobs", slog.Any("error", err))
		return
	}

	recovered := 0
	for _, j := range jobs {
		if !j.UpdatedAt.Before(cutoff) {
			continue
		}
		jobCtx, jobSpan := tracer.Start(ctx, "StuckJobSweeper.recover")
		jobSpan.SetAttributes(
			attribute.String("job.id", j.ID),
			attribute.String("job.type", string(j.Type)),
		)
		reason := fmt.Sprintf("Recovered after %v in processing state", s.maxProcessingAge)
		if err := s.jobs.Reschedule(jobCtx, j.ID, j.RetryCount, time.Now().UTC(), reason); err != nil {
			jobSpan.RecordError(err)
			slog.Error("stuck job recovery failed",
				slog.String("job_id", j.ID),
				slog.Any("error", err))
		} else {
			recovered++
			slog.Warn("recovered stuck job",
				slog.String("job_id", j.ID),
				slog.String("job_type", string(j.Type)),
				slog.Time("last_update", j.UpdatedAt))
		}
		jobSpan.End()
	}

	span.SetAttributes(
		attribute.Int("jobs.total_checked", len(jobs)),
		attribute.Int("jobs.total_recovered", recovered),
	)
}
