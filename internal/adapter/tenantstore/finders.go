package tenantstore

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// Shared SELECT list for the equipment driven sweeps. Ids cast to text so
// the finders work against dealerships using integer or uuid keys.
const equipmentColumns = `e.id::text AS equipment_id,
	e.customer_id::text AS customer_id,
	COALESCE(c.first_name,'') AS first_name,
	COALESCE(c.last_name,'') AS last_name,
	COALESCE(c.email,'') AS email_address,
	COALESCE(e.equipment_type,'') AS equipment_type,
	COALESCE(e.make,'') AS equipment_make,
	COALESCE(e.model,'') AS equipment_model`

// equipmentCandidates runs an equipment sweep query. The extra callback
// appends scan targets for columns past the shared list.
func (g *Gateway) equipmentCandidates(ctx context.Context, tenantID, op, query string, extra func(c *domain.EquipmentCandidate) []any, args ...any) ([]domain.EquipmentCandidate, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata."+op)
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	pool, err := g.pools.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("op=tenantdata.%s: %w", op, err)
	}
	defer rows.Close()
	out := []domain.EquipmentCandidate{}
	for rows.Next() {
		var c domain.EquipmentCandidate
		dest := []any{&c.EquipmentID, &c.CustomerID, &c.FirstName, &c.LastName, &c.Email,
			&c.EquipmentType, &c.EquipmentMake, &c.Model}
		if extra != nil {
			dest = append(dest, extra(&c)...)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("op=tenantdata.%s_scan: %w", op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tenantdata.%s_rows: %w", op, err)
	}
	return out, nil
}

// ServiceReminderCandidates finds customers whose purchase is approaching
// the two year mark, joined through the sales ledger rather than the
// equipment register.
func (g *Gateway) ServiceReminderCandidates(ctx domain.Context, tenantID string) ([]domain.EquipmentCandidate, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata.service_reminders")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	pool, err := g.pools.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	q := `SELECT c.id::text AS customer_id,
	             COALESCE(c.first_name,''),
	             COALESCE(c.last_name,''),
	             COALESCE(c.email,''),
	             COALESCE(s.model,''),
	             COALESCE(s.serial_number,'')
	      FROM sales s
	      INNER JOIN customers c ON c.id = s.customer_id
	      WHERE s.purchase_date BETWEEN NOW() - INTERVAL '25 months'
	                              AND NOW() - INTERVAL '23 months'
	        AND c.email IS NOT NULL`
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=tenantdata.service_reminders: %w", err)
	}
	defer rows.Close()
	out := []domain.EquipmentCandidate{}
	for rows.Next() {
		var c domain.EquipmentCandidate
		if err := rows.Scan(&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.Model, &c.SerialNumber); err != nil {
			return nil, fmt.Errorf("op=tenantdata.service_reminders_scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tenantdata.service_reminders_rows: %w", err)
	}
	return out, nil
}

// AppointmentCandidates finds appointments starting inside [from, to].
func (g *Gateway) AppointmentCandidates(ctx domain.Context, tenantID string, from, to time.Time) ([]domain.AppointmentCandidate, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata.appointments")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	pool, err := g.pools.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	q := `SELECT a.id::text AS appointment_id,
	             a.customer_id::text,
	             COALESCE(c.first_name,''),
	             COALESCE(c.phone_mobile,'') AS phone,
	             a.scheduled_start
	      FROM appointments a
	      INNER JOIN customers c ON c.id = a.customer_id
	      WHERE a.scheduled_start BETWEEN $1 AND $2`
	rows, err := pool.Query(ctx, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("op=tenantdata.appointments: %w", err)
	}
	defer rows.Close()
	out := []domain.AppointmentCandidate{}
	for rows.Next() {
		var c domain.AppointmentCandidate
		if err := rows.Scan(&c.AppointmentID, &c.CustomerID, &c.FirstName, &c.Phone, &c.ScheduledStart); err != nil {
			return nil, fmt.Errorf("op=tenantdata.appointments_scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tenantdata.appointments_rows: %w", err)
	}
	return out, nil
}

// OverdueInvoices finds open invoices at least minDays past due. A positive
// maxDays bounds how stale an invoice may be before the sweep stops nagging.
func (g *Gateway) OverdueInvoices(ctx domain.Context, tenantID string, minDays, maxDays int) ([]domain.InvoiceCandidate, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata.overdue_invoices")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	pool, err := g.pools.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	q := `SELECT i.id::text AS invoice_id,
	             i.customer_id::text,
	             COALESCE(c.first_name,''),
	             COALESCE(c.email,''),
	             i.balance,
	             i.due_date
	      FROM invoices i
	      INNER JOIN customers c ON c.id = i.customer_id
	      WHERE i.due_date <= NOW() - make_interval(days => $1)
	        AND i.balance > 0`
	args := []any{minDays}
	if maxDays > 0 {
		q += ` AND i.due_date > NOW() - make_interval(days => $2)`
		args = append(args, maxDays)
	}
	rows, err := pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=tenantdata.overdue_invoices: %w", err)
	}
	defer rows.Close()
	out := []domain.InvoiceCandidate{}
	for rows.Next() {
		var c domain.InvoiceCandidate
		if err := rows.Scan(&c.InvoiceID, &c.CustomerID, &c.FirstName, &c.Email, &c.Balance, &c.DueDate); err != nil {
			return nil, fmt.Errorf("op=tenantdata.overdue_invoices_scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tenantdata.overdue_invoices_rows: %w", err)
	}
	return out, nil
}

// SevenDayCheckinCandidates finds equipment sold exactly seven days ago.
func (g *Gateway) SevenDayCheckinCandidates(ctx domain.Context, tenantID string) ([]domain.EquipmentCandidate, error) {
	q := `SELECT ` + equipmentColumns + `
	      FROM equipment e
	      INNER JOIN customers c ON c.id = e.customer_id
	      WHERE e.date_sold = CURRENT_DATE - 7
	        AND c.email IS NOT NULL`
	return g.equipmentCandidates(ctx, tenantID, "seven_day_checkin", q, nil)
}

// AnnualTuneupCandidates finds equipment whose sale anniversary lands
// leadDays from now, skipping units sold less than a year ago.
func (g *Gateway) AnnualTuneupCandidates(ctx domain.Context, tenantID string, leadDays int) ([]domain.EquipmentCandidate, error) {
	q := `SELECT ` + equipmentColumns + `, e.date_sold
	      FROM equipment e
	      INNER JOIN customers c ON c.id = e.customer_id
	      WHERE EXTRACT(MONTH FROM e.date_sold) = EXTRACT(MONTH FROM CURRENT_DATE + $1)
	        AND EXTRACT(DAY FROM e.date_sold) = EXTRACT(DAY FROM CURRENT_DATE + $1)
	        AND e.date_sold < CURRENT_DATE - INTERVAL '1 year'
	        AND c.email IS NOT NULL`
	return g.equipmentCandidates(ctx, tenantID, "annual_tuneup", q, func(c *domain.EquipmentCandidate) []any {
		return []any{&c.DateSold}
	}, leadDays)
}

// AnniversaryCandidates finds equipment whose purchase anniversary is seven
// days out, with the ownership age the offer celebrates.
func (g *Gateway) AnniversaryCandidates(ctx domain.Context, tenantID string) ([]domain.EquipmentCandidate, error) {
	q := `SELECT ` + equipmentColumns + `, e.date_sold,
	             EXTRACT(YEAR FROM age(CURRENT_DATE + 7, e.date_sold))::int AS years_owned
	      FROM equipment e
	      INNER JOIN customers c ON c.id = e.customer_id
	      WHERE EXTRACT(MONTH FROM e.date_sold) = EXTRACT(MONTH FROM CURRENT_DATE + 7)
	        AND EXTRACT(DAY FROM e.date_sold) = EXTRACT(DAY FROM CURRENT_DATE + 7)
	        AND e.date_sold < CURRENT_DATE - INTERVAL '1 year'
	        AND c.email IS NOT NULL`
	return g.equipmentCandidates(ctx, tenantID, "anniversary_offers", q, func(c *domain.EquipmentCandidate) []any {
		return []any{&c.DateSold, &c.YearsOwned}
	})
}

// WarrantyExpiryCandidates finds equipment whose warranty lapses within
// windowDays, excluding already expired coverage.
func (g *Gateway) WarrantyExpiryCandidates(ctx domain.Context, tenantID string, windowDays int) ([]domain.EquipmentCandidate, error) {
	q := `SELECT ` + equipmentColumns + `, e.warranty_end_date
	      FROM equipment e
	      INNER JOIN customers c ON c.id = e.customer_id
	      WHERE e.warranty_end_date > CURRENT_DATE
	        AND e.warranty_end_date <= CURRENT_DATE + $1
	        AND c.email IS NOT NULL`
	return g.equipmentCandidates(ctx, tenantID, "warranty_expirations", q, func(c *domain.EquipmentCandidate) []any {
		return []any{&c.WarrantyEnd}
	}, windowDays)
}

// SeasonalCandidates returns one row per customer owning equipment, for the
// spring and fall prep blasts. A non-empty equipmentClass narrows the sweep
// to matching equipment types.
func (g *Gateway) SeasonalCandidates(ctx domain.Context, tenantID, equipmentClass string) ([]domain.SeasonalCandidate, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata.seasonal")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	pool, err := g.pools.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	q := `SELECT DISTINCT ON (c.id) c.id::text AS customer_id,
	             COALESCE(c.first_name,''),
	             COALESCE(c.last_name,''),
	             COALESCE(c.email,''),
	             COALESCE(e.equipment_type,''),
	             COALESCE(e.make,'') AS equipment_make,
	             COALESCE(e.model,'')
	      FROM customers c
	      INNER JOIN equipment e ON e.customer_id = c.id
	      WHERE c.email IS NOT NULL`
	args := []any{}
	if equipmentClass != "" {
		q += ` AND e.equipment_type ILIKE $1`
		args = append(args, equipmentClass)
	}
	q += ` ORDER BY c.id`
	rows, err := pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=tenantdata.seasonal: %w", err)
	}
	defer rows.Close()
	out := []domain.SeasonalCandidate{}
	for rows.Next() {
		var c domain.SeasonalCandidate
		if err := rows.Scan(&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.EquipmentType, &c.EquipmentMake, &c.Model); err != nil {
			return nil, fmt.Errorf("op=tenantdata.seasonal_scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tenantdata.seasonal_rows: %w", err)
	}
	return out, nil
}

// GhostCustomers finds customers with past orders but none in the last
// inactiveMonths months.
func (g *Gateway) GhostCustomers(ctx domain.Context, tenantID string, inactiveMonths int) ([]domain.GhostCandidate, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata.ghost_customers")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	q := `SELECT c.id::text AS customer_id,
	             COALESCE(c.first_name,''),
	             COALESCE(c.last_name,''),
	             COALESCE(c.email,''),
	             c.last_order_date,
	             COALESCE(c.total_orders,0),
	             COALESCE(c.lifetime_value,0)
	      FROM customers c
	      WHERE c.last_order_date < NOW() - make_interval(months => $1)
	        AND c.total_orders > 0
	        AND c.email IS NOT NULL`
	return g.ghostRows(ctx, tenantID, "ghost_customers", q, inactiveMonths)
}

// WinbackCandidates finds lapsed customers whose last order falls inside the
// [fromDays, toDays] staleness band. The agent loop uses the band to work
// win-back goals over a narrower slice than the quarterly sweep.
func (g *Gateway) WinbackCandidates(ctx domain.Context, tenantID string, fromDays, toDays int) ([]domain.GhostCandidate, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata.winback")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	q := `SELECT c.id::text AS customer_id,
	             COALESCE(c.first_name,''),
	             COALESCE(c.last_name,''),
	             COALESCE(c.email,''),
	             c.last_order_date,
	             COALESCE(c.total_orders,0),
	             COALESCE(c.lifetime_value,0)
	      FROM customers c
	      WHERE c.last_order_date BETWEEN NOW() - make_interval(days => $2)
	                                AND NOW() - make_interval(days => $1)
	        AND c.total_orders > 0
	        AND c.email IS NOT NULL`
	return g.ghostRows(ctx, tenantID, "winback", q, fromDays, toDays)
}

func (g *Gateway) ghostRows(ctx context.Context, tenantID, op, query string, args ...any) ([]domain.GhostCandidate, error) {
	pool, err := g.pools.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("op=tenantdata.%s: %w", op, err)
	}
	defer rows.Close()
	out := []domain.GhostCandidate{}
	for rows.Next() {
		var c domain.GhostCandidate
		if err := rows.Scan(&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.LastOrderDate, &c.TotalOrders, &c.LifetimeValue); err != nil {
			return nil, fmt.Errorf("op=tenantdata.%s_scan: %w", op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tenantdata.%s_rows: %w", op, err)
	}
	return out, nil
}

// PostServiceSurveyCandidates finds work orders picked up 48 to 72 hours
// ago, one survey per work order.
func (g *Gateway) PostServiceSurveyCandidates(ctx domain.Context, tenantID string) ([]domain.ServiceRecordCandidate, error) {
	tracer := otel.Tracer("tenantstore")
	ctx, span := tracer.Start(ctx, "tenantdata.post_service_surveys")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	pool, err := g.pools.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	q := `SELECT wo.id::text AS service_record_id,
	             COALESCE(wo.work_order_number,''),
	             wo.customer_id::text,
	             COALESCE(e.id::text,''),
	             COALESCE(c.first_name,''),
	             COALESCE(c.last_name,''),
	             COALESCE(c.email,'') AS email_address,
	             COALESCE(e.make,'') AS equipment_make,
	             COALESCE(e.model,'') AS equipment_model,
	             wo.last_status_change_at
	      FROM work_orders wo
	      INNER JOIN customers c ON c.id = wo.customer_id
	      LEFT JOIN equipment e ON e.id = wo.equipment_id
	      WHERE wo.detailed_status = 'Picked Up'
	        AND wo.last_status_change_at BETWEEN NOW() - INTERVAL '72 hours'
	                                       AND NOW() - INTERVAL '48 hours'`
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=tenantdata.post_service_surveys: %w", err)
	}
	defer rows.Close()
	out := []domain.ServiceRecordCandidate{}
	for rows.Next() {
		var c domain.ServiceRecordCandidate
		if err := rows.Scan(&c.ServiceRecordID, &c.WorkOrderNumber, &c.CustomerID, &c.EquipmentID,
			&c.FirstName, &c.LastName, &c.Email, &c.EquipmentMake, &c.Model, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("op=tenantdata.post_service_surveys_scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tenantdata.post_service_surveys_rows: %w", err)
	}
	return out, nil
}

// TradeInCandidates finds aging units with a heavy repair history.
func (g *Gateway) TradeInCandidates(ctx domain.Context, tenantID string, minYears, minRepairs int) ([]domain.EquipmentCandidate, error) {
	q := `SELECT ` + equipmentColumns + `,
	             EXTRACT(YEAR FROM age(NOW(), e.date_sold))::int AS years_owned,
	             COUNT(wo.id)::int AS repair_count
	      FROM equipment e
	      INNER JOIN customers c ON c.id = e.customer_id
	      INNER JOIN work_orders wo ON wo.equipment_id = e.id
	      WHERE e.date_sold <= NOW() - make_interval(years => $1)
	        AND c.email IS NOT NULL
	      GROUP BY e.id, e.customer_id, c.first_name, c.last_name, c.email,
	               e.equipment_type, e.make, e.model, e.date_sold
	      HAVING COUNT(wo.id) >= $2`
	return g.equipmentCandidates(ctx, tenantID, "trade_in", q, func(c *domain.EquipmentCandidate) []any {
		return []any{&c.YearsOwned, &c.RepairCount}
	}, minYears, minRepairs)
}

// FirstServiceCandidates finds equipment past the break-in hour threshold
// that has never been in for service.
func (g *Gateway) FirstServiceCandidates(ctx domain.Context, tenantID string, hoursThreshold float64) ([]domain.EquipmentCandidate, error) {
	q := `SELECT ` + equipmentColumns + `, COALESCE(e.machine_hours,0)
	      FROM equipment e
	      INNER JOIN customers c ON c.id = e.customer_id
	      WHERE e.machine_hours >= $1
	        AND (e.last_service_date IS NULL OR e.last_service_date <= e.date_sold)
	        AND c.email IS NOT NULL`
	return g.equipmentCandidates(ctx, tenantID, "first_service", q, func(c *domain.EquipmentCandidate) []any {
		return []any{&c.MachineHours}
	}, hoursThreshold)
}

// UsageServiceCandidates finds equipment that has run hoursInterval hours
// past its last recorded service.
func (g *Gateway) UsageServiceCandidates(ctx domain.Context, tenantID string, hoursInterval float64) ([]domain.EquipmentCandidate, error) {
	q := `SELECT ` + equipmentColumns + `,
	             COALESCE(e.machine_hours,0),
	             COALESCE(e.last_service_hours,0)
	      FROM equipment e
	      INNER JOIN customers c ON c.id = e.customer_id
	      WHERE e.machine_hours >= COALESCE(e.last_service_hours,0) + $1
	        AND c.email IS NOT NULL`
	return g.equipmentCandidates(ctx, tenantID, "usage_service", q, func(c *domain.EquipmentCandidate) []any {
		return []any{&c.MachineHours, &c.LastServiceHours}
	}, hoursInterval)
}
