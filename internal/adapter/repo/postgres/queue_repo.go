package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// QueueRepo persists and loads communication_queue rows. Rows are written by
// upstream systems; this engine only transitions their status.
type QueueRepo struct{ Pool PgxPool }

// NewQueueRepo constructs a QueueRepo with the given pool.
func NewQueueRepo(p PgxPool) *QueueRepo { return &QueueRepo{Pool: p} }

const queueColumns = `id, tenant_id, event_type, communication_type, recipient_address,
	COALESCE(subject,''), message_params, status, COALESCE(external_message_id,''), retry_count, created_at, updated_at`

func scanQueueItem(row pgx.Row) (domain.QueueItem, error) {
	var it domain.QueueItem
	if err := row.Scan(&it.ID, &it.TenantID, &it.EventType, &it.CommunicationType, &it.Recipient,
		&it.Subject, &it.MessageParams, &it.Status, &it.ExternalMessageID, &it.RetryCount,
		&it.CreatedAt, &it.UpdatedAt); err != nil {
		return domain.QueueItem{}, err
	}
	return it, nil
}

// PendingEmail returns pending email items across tenants, oldest first.
func (r *QueueRepo) PendingEmail(ctx domain.Context, limit int) ([]domain.QueueItem, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.PendingEmail")
	defer span.End()
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + queueColumns + ` FROM communication_queue
		WHERE status='pending' AND communication_type='email'
		ORDER BY created_at ASC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=queue.pending_email: %w", err)
	}
	defer rows.Close()
	items := make([]domain.QueueItem, 0, limit)
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("op=queue.pending_scan: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=queue.pending_rows: %w", err)
	}
	return items, nil
}

// Get loads a queue item by id.
func (r *QueueRepo) Get(ctx domain.Context, id string) (domain.QueueItem, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.Get")
	defer span.End()
	q := `SELECT ` + queueColumns + ` FROM communication_queue WHERE id=$1`
	it, err := scanQueueItem(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QueueItem{}, fmt.Errorf("op=queue.get: %w", domain.ErrNotFound)
		}
		return domain.QueueItem{}, fmt.Errorf("op=queue.get: %w", err)
	}
	return it, nil
}

// MarkProcessing flips an item to processing so the sweep never double-books it.
func (r *QueueRepo) MarkProcessing(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.MarkProcessing")
	defer span.End()
	q := `UPDATE communication_queue SET status='processing', updated_at=now() WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("op=queue.mark_processing: %w", err)
	}
	return nil
}

// MarkSent records a successful delivery along with the provider message id.
func (r *QueueRepo) MarkSent(ctx domain.Context, id, externalMessageID string) error {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.MarkSent")
	defer span.End()
	q := `UPDATE communication_queue
		SET status='sent', sent_at=now(), external_message_id=$2, external_status=$3, updated_at=now()
		WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, externalMessageID, map[string]any{"status": "sent"}); err != nil {
		return fmt.Errorf("op=queue.mark_sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure and bumps the retry counter.
func (r *QueueRepo) MarkFailed(ctx domain.Context, id, errMsg string) error {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.MarkFailed")
	defer span.End()
	q := `UPDATE communication_queue
		SET status='failed', error_details=$2, retry_count=retry_count+1, last_retry_at=now(), updated_at=now()
		WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, map[string]any{"error": errMsg}); err != nil {
		return fmt.Errorf("op=queue.mark_failed: %w", err)
	}
	return nil
}
