package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// AgentJobRepo persists agent loop jobs. It follows the same skip-locked
// claim discipline as JobRepo so multiple engines can share the table.
type AgentJobRepo struct{ Pool PgxPool }

// NewAgentJobRepo constructs an AgentJobRepo with the given pool.
func NewAgentJobRepo(p PgxPool) *AgentJobRepo { return &AgentJobRepo{Pool: p} }

const agentJobColumns = `id, tenant_id, goal, checklist, current_step, session_state, reasoning_trace,
	iteration_count, max_iterations, status, COALESCE(source_reference,''), process_after, created_at, updated_at`

func scanAgentJob(row pgx.Row) (domain.AgentJob, error) {
	var j domain.AgentJob
	var processAfter *time.Time
	if err := row.Scan(&j.ID, &j.TenantID, &j.Goal, &j.Checklist, &j.CurrentStep,
		&j.SessionState, &j.ReasoningTrace, &j.IterationCount, &j.MaxIterations,
		&j.Status, &j.SourceReference, &processAfter, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.AgentJob{}, err
	}
	if processAfter != nil {
		j.ProcessAfter = *processAfter
	}
	return j, nil
}

// Insert adds a pending agent job, deduplicating on source reference across
// every non-failed status.
func (r *AgentJobRepo) Insert(ctx domain.Context, j domain.NewAgentJob) (string, bool, error) {
	tracer := otel.Tracer("repo.agent_jobs")
	ctx, span := tracer.Start(ctx, "agent_jobs.Insert")
	defer span.End()
	if j.TenantID == "" || j.Goal == "" {
		return "", false, fmt.Errorf("op=agent_job.insert: %w: tenant_id and goal required", domain.ErrInvalidArgument)
	}
	if j.SourceReference != "" {
		q := `SELECT id FROM agent_jobs
			WHERE tenant_id=$1 AND source_reference=$2
			  AND status IN ('pending','in_progress','waiting_human','resolved')
			LIMIT 1`
		var existing string
		err := r.Pool.QueryRow(ctx, q, j.TenantID, j.SourceReference).Scan(&existing)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", false, fmt.Errorf("op=agent_job.insert_dedup: %w", err)
		}
	}
	checklist := j.Checklist
	if checklist == nil {
		checklist = []string{}
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	var sourceRef *string
	if j.SourceReference != "" {
		sourceRef = &j.SourceReference
	}
	q := `INSERT INTO agent_jobs
		(id, tenant_id, goal, checklist, current_step, session_state, reasoning_trace,
		 iteration_count, max_iterations, status, source_reference, process_after, created_at, updated_at)
		VALUES ($1,$2,$3,$4,0,NULL,NULL,0,$5,'pending',$6,$7,$8,$8)`
	if _, err := r.Pool.Exec(ctx, q, id, j.TenantID, j.Goal, checklist, j.MaxIterations, sourceRef, now, now); err != nil {
		return "", false, fmt.Errorf("op=agent_job.insert: %w", err)
	}
	return id, true, nil
}

// ClaimPending flips up to limit eligible pending agent jobs to in_progress
// and returns them, oldest first.
func (r *AgentJobRepo) ClaimPending(ctx domain.Context, limit int) ([]domain.AgentJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	tracer := otel.Tracer("repo.agent_jobs")
	ctx, span := tracer.Start(ctx, "agent_jobs.ClaimPending")
	defer span.End()
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=agent_job.claim_begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `SELECT ` + agentJobColumns + ` FROM agent_jobs
		WHERE status='pending' AND (process_after IS NULL OR process_after <= now())
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=agent_job.claim_select: %w", err)
	}
	var jobs []domain.AgentJob
	for rows.Next() {
		j, err := scanAgentJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("op=agent_job.claim_scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=agent_job.claim_rows: %w", err)
	}
	if len(jobs) == 0 {
		return nil, tx.Commit(ctx)
	}
	ids := make([]string, len(jobs))
	for i := range jobs {
		ids[i] = jobs[i].ID
	}
	if _, err := tx.Exec(ctx, `UPDATE agent_jobs SET status='in_progress', updated_at=now() WHERE id = ANY($1)`, ids); err != nil {
		return nil, fmt.Errorf("op=agent_job.claim_update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=agent_job.claim_commit: %w", err)
	}
	for i := range jobs {
		jobs[i].Status = domain.AgentInProgress
	}
	return jobs, nil
}

// Save persists the mutable loop state after a planner step.
func (r *AgentJobRepo) Save(ctx domain.Context, j domain.AgentJob) error {
	tracer := otel.Tracer("repo.agent_jobs")
	ctx, span := tracer.Start(ctx, "agent_jobs.Save")
	defer span.End()
	var sessionState, reasoningTrace any
	if len(j.SessionState) > 0 {
		sessionState = j.SessionState
	}
	if len(j.ReasoningTrace) > 0 {
		reasoningTrace = j.ReasoningTrace
	}
	q := `UPDATE agent_jobs
		SET current_step=$2, session_state=$3, reasoning_trace=$4, iteration_count=$5, status=$6, updated_at=now()
		WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, j.ID, j.CurrentStep, sessionState, reasoningTrace, j.IterationCount, j.Status); err != nil {
		return fmt.Errorf("op=agent_job.save: %w", err)
	}
	return nil
}

// Get loads an agent job by id.
func (r *AgentJobRepo) Get(ctx domain.Context, id string) (domain.AgentJob, error) {
	tracer := otel.Tracer("repo.agent_jobs")
	ctx, span := tracer.Start(ctx, "agent_jobs.Get")
	defer span.End()
	q := `SELECT ` + agentJobColumns + ` FROM agent_jobs WHERE id=$1`
	j, err := scanAgentJob(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AgentJob{}, fmt.Errorf("op=agent_job.get: %w", domain.ErrNotFound)
		}
		return domain.AgentJob{}, fmt.Errorf("op=agent_job.get: %w", err)
	}
	return j, nil
}
