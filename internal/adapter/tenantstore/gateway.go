package tenantstore

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// Gateway implements domain.TenantDataGateway over per-tenant pools. Every
// query runs against the tenant's own dealership database; the tenant id
// only routes to the right pool, it never appears in the SQL.
type Gateway struct {
	pools   PoolSource
	configs ConfigSource
	client  *http.Client
}

// NewGateway builds a Gateway over the given pool source. The config source
// supplies tenant API endpoints for receipt fetches.
func NewGateway(pools PoolSource, configs ConfigSource) *Gateway {
	return &Gateway{
		pools:   pools,
		configs: configs,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CustomerContact loads routing details for one customer. Unknown customers
// yield domain.ErrNotFound.
func (g *Gateway) CustomerContact(ctx domain.Context, tenantID, customerID string) (domain.CustomerContact, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata.CustomerContact")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	pool, err := g.pools.Acquire(ctx, tenantID)
	if err != nil {
		return domain.CustomerContact{}, err
	}
	q := `SELECT id::text,
	             COALESCE(first_name,''),
	             COALESCE(last_name,''),
	             COALESCE(email,''),
	             COALESCE(phone_mobile,'') AS phone,
	             COALESCE(contact_preference,'')
	      FROM customers
	      WHERE id::text = $1`
	var c domain.CustomerContact
	err = pool.QueryRow(ctx, q, customerID).Scan(
		&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.ContactPreference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CustomerContact{}, fmt.Errorf("op=tenantdata.customer_contact: %w", domain.ErrNotFound)
		}
		return domain.CustomerContact{}, fmt.Errorf("op=tenantdata.customer_contact: %w", err)
	}
	c.DoNotContact = c.ContactPreference == "do_not_contact"
	return c, nil
}

// WorkOrderEquipment loads the unit a work order was opened for, used to
// enrich receipt messages. Unknown work orders yield domain.ErrNotFound.
func (g *Gateway) WorkOrderEquipment(ctx domain.Context, tenantID, workOrderNumber string) (domain.EquipmentInfo, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata.WorkOrderEquipment")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	pool, err := g.pools.Acquire(ctx, tenantID)
	if err != nil {
		return domain.EquipmentInfo{}, err
	}
	q := `SELECT COALESCE(e.id::text,''),
	             COALESCE(e.model,''),
	             COALESCE(e.serial_number,''),
	             COALESCE(e.manufacturer,''),
	             COALESCE(e.year,0),
	             COALESCE(wo.description,'') AS service_description
	      FROM work_orders wo
	      LEFT JOIN equipment e ON e.id = wo.equipment_id
	      WHERE wo.work_order_number = $1`
	var info domain.EquipmentInfo
	err = pool.QueryRow(ctx, q, workOrderNumber).Scan(
		&info.EquipmentID, &info.Model, &info.SerialNumber, &info.Manufacturer, &info.Year, &info.ServiceDescription)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EquipmentInfo{}, fmt.Errorf("op=tenantdata.work_order_equipment: %w", domain.ErrNotFound)
		}
		return domain.EquipmentInfo{}, fmt.Errorf("op=tenantdata.work_order_equipment: %w", err)
	}
	return info, nil
}

// Query runs an arbitrary read against the tenant's database and returns
// rows as column-name maps. The agent loop's lookup tool is the only caller.
func (g *Gateway) Query(ctx domain.Context, tenantID, sql string, args ...any) ([]map[string]any, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata.Query")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	pool, err := g.pools.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("op=tenantdata.query: %w", err)
	}
	defer rows.Close()
	fields := rows.FieldDescriptions()
	out := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("op=tenantdata.query_scan: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tenantdata.query_rows: %w", err)
	}
	return out, nil
}
