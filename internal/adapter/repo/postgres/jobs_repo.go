// Package postgres provides the control-store adapters backed by PostgreSQL.
//
// It implements the repository ports over the communication_jobs,
// communication_queue, message_templates, tenants and agent_jobs tables.
// Claiming uses FOR UPDATE SKIP LOCKED so concurrent engine instances never
// hand the same row to two workers.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// JobRepo persists and loads communication jobs using a minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, tenant_id, job_type, payload, status, retry_count,
	COALESCE(last_error,''), COALESCE(source_reference,''), process_after, created_at, updated_at`

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var processAfter *time.Time
	if err := row.Scan(&j.ID, &j.TenantID, &j.Type, &j.Payload, &j.Status, &j.RetryCount,
		&j.LastError, &j.SourceReference, &processAfter, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.Job{}, err
	}
	if processAfter != nil {
		j.ProcessAfter = *processAfter
	}
	return j, nil
}

// Insert adds a pending job. When the job carries a source reference and a
// sibling with the same reference already exists for the tenant and type in
// a live or completed status, nothing is written and the sibling's id is
// returned with inserted=false.
func (r *JobRepo) Insert(ctx domain.Context, j domain.NewJob) (string, bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.sql.table", "communication_jobs"),
		attribute.String("job.type", string(j.Type)),
	)
	if j.TenantID == "" || j.Type == "" {
		return "", false, fmt.Errorf("op=job.insert: %w: tenant_id and job_type required", domain.ErrInvalidArgument)
	}
	if j.SourceReference != "" {
		q := `SELECT id FROM communication_jobs
			WHERE tenant_id=$1 AND job_type=$2
			  AND (source_reference=$3 OR payload->>'source_reference'=$3)
			  AND status IN ('pending','processing','complete')
			LIMIT 1`
		var existing string
		err := r.Pool.QueryRow(ctx, q, j.TenantID, j.Type, j.SourceReference).Scan(&existing)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", false, fmt.Errorf("op=job.insert_dedup: %w", err)
		}
	}
	payload := j.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if j.SourceReference != "" {
		// Older producers only know the payload key, so keep both in sync.
		payload["source_reference"] = j.SourceReference
	}
	processAfter := j.ProcessAfter
	if processAfter.IsZero() {
		processAfter = time.Now().UTC()
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	var sourceRef *string
	if j.SourceReference != "" {
		sourceRef = &j.SourceReference
	}
	q := `INSERT INTO communication_jobs
		(id, tenant_id, job_type, payload, status, retry_count, last_error, source_reference, process_after, created_at, updated_at)
		VALUES ($1,$2,$3,$4,'pending',0,'',$5,$6,$7,$7)`
	if _, err := r.Pool.Exec(ctx, q, id, j.TenantID, j.Type, payload, sourceRef, processAfter, now); err != nil {
		return "", false, fmt.Errorf("op=job.insert: %w", err)
	}
	return id, true, nil
}

// ClaimPending atomically flips up to limit eligible pending jobs to
// processing and returns them, oldest first. A limit of zero or less returns
// nothing without touching the store.
func (r *JobRepo) ClaimPending(ctx domain.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ClaimPending")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.sql.table", "communication_jobs"),
		attribute.Int("claim.limit", limit),
	)
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=job.claim_begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `SELECT ` + jobColumns + ` FROM communication_jobs
		WHERE status='pending' AND (process_after IS NULL OR process_after <= now())
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=job.claim_select: %w", err)
	}
	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("op=job.claim_scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.claim_rows: %w", err)
	}
	if len(jobs) == 0 {
		return nil, tx.Commit(ctx)
	}
	ids := make([]string, len(jobs))
	for i := range jobs {
		ids[i] = jobs[i].ID
	}
	if _, err := tx.Exec(ctx, `UPDATE communication_jobs SET status='processing', updated_at=now() WHERE id = ANY($1)`, ids); err != nil {
		return nil, fmt.Errorf("op=job.claim_update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=job.claim_commit: %w", err)
	}
	for i := range jobs {
		jobs[i].Status = domain.JobProcessing
	}
	return jobs, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM communication_jobs WHERE id=$1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// MarkComplete finishes a job. The note lands in last_error so skip reasons
// ("Customer opted out of communications") stay visible to operators.
func (r *JobRepo) MarkComplete(ctx domain.Context, id, note string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MarkComplete")
	defer span.End()
	q := `UPDATE communication_jobs SET status='complete', last_error=$2, updated_at=now() WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, note); err != nil {
		return fmt.Errorf("op=job.mark_complete: %w", err)
	}
	return nil
}

// MarkFailed moves a job to a terminal failure status with the given reason.
func (r *JobRepo) MarkFailed(ctx domain.Context, id string, status domain.JobStatus, reason string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MarkFailed")
	defer span.End()
	if status == "" {
		status = domain.JobFailed
	}
	q := `UPDATE communication_jobs SET status=$2, last_error=$3, updated_at=now() WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, status, reason); err != nil {
		return fmt.Errorf("op=job.mark_failed: %w", err)
	}
	return nil
}

// Reschedule returns a processing job to pending with the given retry count
// and eligibility time.
func (r *JobRepo) Reschedule(ctx domain.Context, id string, retryCount int, processAfter time.Time, reason string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Reschedule")
	defer span.End()
	q := `UPDATE communication_jobs
		SET status='pending', retry_count=$2, process_after=$3, last_error=$4, updated_at=now()
		WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, retryCount, processAfter.UTC(), reason); err != nil {
		return fmt.Errorf("op=job.reschedule: %w", err)
	}
	return nil
}

// Requeue flips a terminal job back to pending with a clean slate. Returns
// ErrNotFound for unknown ids and ErrConflict when the job is still live.
func (r *JobRepo) Requeue(ctx domain.Context, id string, processAfter time.Time) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Requeue")
	defer span.End()
	if processAfter.IsZero() {
		processAfter = time.Now().UTC()
	}
	q := `UPDATE communication_jobs
		SET status='pending', retry_count=0, last_error='', process_after=$2, updated_at=now()
		WHERE id=$1 AND status IN ('complete','failed','failed_fallback_email')`
	tag, err := r.Pool.Exec(ctx, q, id, processAfter.UTC())
	if err != nil {
		return fmt.Errorf("op=job.requeue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("op=job.requeue: %w: job is not in a terminal status", domain.ErrConflict)
	}
	return nil
}

// ListByStatus returns the most recently updated jobs in a status.
func (r *JobRepo) ListByStatus(ctx domain.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListByStatus")
	defer span.End()
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + jobColumns + ` FROM communication_jobs WHERE status=$1 ORDER BY updated_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, status, limit)
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	defer rows.Close()
	jobs := make([]domain.Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list_scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_rows: %w", err)
	}
	return jobs, nil
}

// CountByStatus returns row counts grouped by status.
func (r *JobRepo) CountByStatus(ctx domain.Context) (map[domain.JobStatus]int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CountByStatus")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT status, COUNT(*) FROM communication_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("op=job.count_by_status: %w", err)
	}
	defer rows.Close()
	counts := make(map[domain.JobStatus]int64)
	for rows.Next() {
		var status domain.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("op=job.count_scan: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.count_rows: %w", err)
	}
	return counts, nil
}
