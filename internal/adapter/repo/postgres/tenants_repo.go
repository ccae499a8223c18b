package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// TenantRepo reads the externally managed tenants table.
type TenantRepo struct{ Pool PgxPool }

// NewTenantRepo constructs a TenantRepo with the given pool.
func NewTenantRepo(p PgxPool) *TenantRepo { return &TenantRepo{Pool: p} }

// Get loads one tenant row. Unknown ids map to ErrTenantUnknown.
func (r *TenantRepo) Get(ctx domain.Context, tenantID string) (domain.Tenant, error) {
	tracer := otel.Tracer("repo.tenants")
	ctx, span := tracer.Start(ctx, "tenants.Get")
	defer span.End()
	q := `SELECT tenant_id, status, COALESCE(settings,'{}'::jsonb) FROM tenants WHERE tenant_id=$1`
	row := r.Pool.QueryRow(ctx, q, tenantID)
	var t domain.Tenant
	if err := row.Scan(&t.ID, &t.Status, &t.Settings); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tenant{}, fmt.Errorf("op=tenant.get: %w: %s", domain.ErrTenantUnknown, tenantID)
		}
		return domain.Tenant{}, fmt.Errorf("op=tenant.get: %w", err)
	}
	return t, nil
}

// ListActive returns every tenant participating in sweeps and dispatch.
func (r *TenantRepo) ListActive(ctx domain.Context) ([]domain.Tenant, error) {
	tracer := otel.Tracer("repo.tenants")
	ctx, span := tracer.Start(ctx, "tenants.ListActive")
	defer span.End()
	q := `SELECT tenant_id, status, COALESCE(settings,'{}'::jsonb) FROM tenants WHERE status='Active' ORDER BY tenant_id`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=tenant.list_active: %w", err)
	}
	defer rows.Close()
	var tenants []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Status, &t.Settings); err != nil {
			return nil, fmt.Errorf("op=tenant.list_scan: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tenant.list_rows: %w", err)
	}
	return tenants, nil
}
