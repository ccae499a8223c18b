package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionService prunes terminal rows past the retention window so the
// control store does not grow without bound. Live rows are never touched.
type RetentionService struct {
	Pool          PgxPool
	RetentionDays int
}

// NewRetentionService creates a retention service with the given window.
func NewRetentionService(pool PgxPool, retentionDays int) *RetentionService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &RetentionService{Pool: pool, RetentionDays: retentionDays}
}

// PruneOldData removes terminal jobs, delivered or dead queue items, and
// finished agent jobs older than the retention window.
func (s *RetentionService) PruneOldData(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	jobsTag, err := s.Pool.Exec(ctx, `
		DELETE FROM communication_jobs
		WHERE status IN ('complete','failed','failed_fallback_email') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("op=retention.jobs: %w", err)
	}

	queueTag, err := s.Pool.Exec(ctx, `
		DELETE FROM communication_queue
		WHERE status IN ('sent','failed') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("op=retention.queue: %w", err)
	}

	agentTag, err := s.Pool.Exec(ctx, `
		DELETE FROM agent_jobs
		WHERE status IN ('resolved','failed') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("op=retention.agent_jobs: %w", err)
	}

	slog.Info("retention prune completed",
		slog.Int64("deleted_jobs", jobsTag.RowsAffected()),
		slog.Int64("deleted_queue_items", queueTag.RowsAffected()),
		slog.Int64("deleted_agent_jobs", agentTag.RowsAffected()),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic prunes immediately and then on the given interval until the
// context is cancelled.
func (s *RetentionService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.PruneOldData(ctx); err != nil {
		slog.Error("initial retention prune failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention service stopping")
			return
		case <-ticker.C:
			if err := s.PruneOldData(ctx); err != nil {
				slog.Error("periodic retention prune failed", slog.Any("error", err))
			}
		}
	}
}
