package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// TemplateRepo loads message templates. Templates are managed out of band;
// the engine only reads them.
type TemplateRepo struct{ Pool PgxPool }

// NewTemplateRepo constructs a TemplateRepo with the given pool.
func NewTemplateRepo(p PgxPool) *TemplateRepo { return &TemplateRepo{Pool: p} }

// Lookup resolves the active template for (eventType, commType), preferring
// a tenant override over the global row. ErrNotFound when neither exists.
func (r *TemplateRepo) Lookup(ctx domain.Context, tenantID, eventType string, commType domain.Channel) (domain.Template, error) {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.Lookup")
	defer span.End()
	q := `SELECT id, COALESCE(tenant_id,''), event_type, communication_type,
			COALESCE(subject_template,''), COALESCE(body_text_template,''), COALESCE(body_html_template,''),
			COALESCE(variables,'{}'::jsonb), ai_enhance, COALESCE(ai_instructions,''), is_active, version
		FROM message_templates
		WHERE event_type=$2 AND communication_type=$3 AND is_active
		  AND (tenant_id=$1 OR tenant_id IS NULL)
		ORDER BY tenant_id NULLS LAST
		LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, tenantID, eventType, commType)
	var t domain.Template
	if err := row.Scan(&t.ID, &t.TenantID, &t.EventType, &t.CommunicationType,
		&t.SubjectTemplate, &t.BodyTextTemplate, &t.BodyHTMLTemplate,
		&t.Variables, &t.AIEnhance, &t.AIInstructions, &t.IsActive, &t.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Template{}, fmt.Errorf("op=template.lookup: %w", domain.ErrNotFound)
		}
		return domain.Template{}, fmt.Errorf("op=template.lookup: %w", err)
	}
	return t, nil
}
