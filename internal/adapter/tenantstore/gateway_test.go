package tenantstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

type cfgStub struct {
	cfg      domain.TenantConfig
	err      error
	resolves int
}

func (c *cfgStub) Get(_ domain.Context, _ string) (domain.TenantConfig, error) {
	c.resolves++
	if c.err != nil {
		return domain.TenantConfig{}, c.err
	}
	return c.cfg, nil
}

type rowStub struct {
	scan func(dest ...any) error
}

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

type rowsStub struct {
	pgx.Rows
	pos    int
	scans  []func(dest ...any) error
	fields []pgconn.FieldDescription
	values [][]any
	errVal error
}

func (r *rowsStub) rowCount() int {
	if len(r.values) > 0 {
		return len(r.values)
	}
	return len(r.scans)
}

func (r *rowsStub) Next() bool {
	if r.pos >= r.rowCount() {
		return false
	}
	r.pos++
	return true
}

func (r *rowsStub) Scan(dest ...any) error { return r.scans[r.pos-1](dest...) }

func (r *rowsStub) Values() ([]any, error) { return r.values[r.pos-1], nil }

func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return r.fields }

func (r *rowsStub) Close() {}

func (r *rowsStub) Err() error { return r.errVal }

type querierStub struct {
	rows     *rowsStub
	queryErr error
	row      rowStub
	sql      []string
	args     [][]any
}

func (q *querierStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.sql = append(q.sql, sql)
	q.args = append(q.args, args)
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	if q.rows == nil {
		return &rowsStub{}, nil
	}
	return q.rows, nil
}

func (q *querierStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql = append(q.sql, sql)
	q.args = append(q.args, args)
	return q.row
}

type poolsStub struct {
	q   *querierStub
	err error
}

func (p *poolsStub) Acquire(_ context.Context, _ string) (Querier, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.q, nil
}

func newTestGateway(q *querierStub) *Gateway {
	return NewGateway(&poolsStub{q: q}, &cfgStub{})
}

func TestGateway_CustomerContact(t *testing.T) {
	t.Run("derives do-not-contact from preference", func(t *testing.T) {
		q := &querierStub{row: rowStub{scan: func(dest ...any) error {
			*(dest[0].(*string)) = "cust-1"
			*(dest[1].(*string)) = "Ada"
			*(dest[2].(*string)) = "Laine"
			*(dest[3].(*string)) = "ada@example.test"
			*(dest[4].(*string)) = "+15550100"
			*(dest[5].(*string)) = "do_not_contact"
			return nil
		}}}
		g := newTestGateway(q)

		c, err := g.CustomerContact(context.Background(), "t1", "cust-1")
		require.NoError(t, err)
		assert.True(t, c.DoNotContact)
		assert.Equal(t, "Ada", c.FirstName)
		assert.Equal(t, "+15550100", c.Phone)
	})

	t.Run("maps missing rows to not found", func(t *testing.T) {
		q := &querierStub{row: rowStub{scan: func(dest ...any) error { return pgx.ErrNoRows }}}
		g := newTestGateway(q)

		_, err := g.CustomerContact(context.Background(), "t1", "missing")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("propagates pool errors", func(t *testing.T) {
		g := NewGateway(&poolsStub{err: domain.ErrTenantMisconfigured}, &cfgStub{})

		_, err := g.CustomerContact(context.Background(), "t1", "cust-1")
		require.ErrorIs(t, err, domain.ErrTenantMisconfigured)
	})
}

func TestGateway_WorkOrderEquipment(t *testing.T) {
	t.Run("returns unit details", func(t *testing.T) {
		q := &querierStub{row: rowStub{scan: func(dest ...any) error {
			*(dest[0].(*string)) = "eq-9"
			*(dest[1].(*string)) = "Z960M"
			*(dest[2].(*string)) = "SN-123"
			*(dest[3].(*string)) = "Kubota"
			*(dest[4].(*int)) = 2021
			*(dest[5].(*string)) = "Blade replacement"
			return nil
		}}}
		g := newTestGateway(q)

		info, err := g.WorkOrderEquipment(context.Background(), "t1", "WO-42")
		require.NoError(t, err)
		assert.Equal(t, "Z960M", info.Model)
		assert.Equal(t, 2021, info.Year)
		assert.Equal(t, "Blade replacement", info.ServiceDescription)
		require.Len(t, q.args, 1)
		assert.Equal(t, []any{"WO-42"}, q.args[0])
	})

	t.Run("maps missing rows to not found", func(t *testing.T) {
		q := &querierStub{row: rowStub{scan: func(dest ...any) error { return pgx.ErrNoRows }}}
		g := newTestGateway(q)

		_, err := g.WorkOrderEquipment(context.Background(), "t1", "WO-404")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestGateway_EquipmentSweeps(t *testing.T) {
	equipmentScan := func(extra func(dest []any)) func(dest ...any) error {
		return func(dest ...any) error {
			*(dest[0].(*string)) = "eq-1"
			*(dest[1].(*string)) = "cust-1"
			*(dest[2].(*string)) = "Ada"
			*(dest[3].(*string)) = "Laine"
			*(dest[4].(*string)) = "ada@example.test"
			*(dest[5].(*string)) = "mower"
			*(dest[6].(*string)) = "Kubota"
			*(dest[7].(*string)) = "Z960M"
			if extra != nil {
				extra(dest)
			}
			return nil
		}
	}

	t.Run("seven day checkin scans shared columns", func(t *testing.T) {
		q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{equipmentScan(nil)}}}
		g := newTestGateway(q)

		out, err := g.SevenDayCheckinCandidates(context.Background(), "t1")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "eq-1", out[0].EquipmentID)
		assert.Equal(t, "ada@example.test", out[0].Email)
		assert.Contains(t, q.sql[0], "date_sold = CURRENT_DATE - 7")
	})

	t.Run("anniversary carries date sold and years owned", func(t *testing.T) {
		sold := time.Date(2020, 9, 1, 0, 0, 0, 0, time.UTC)
		q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{
			equipmentScan(func(dest []any) {
				*(dest[8].(*time.Time)) = sold
				*(dest[9].(*int)) = 5
			}),
		}}}
		g := newTestGateway(q)

		out, err := g.AnniversaryCandidates(context.Background(), "t1")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, sold, out[0].DateSold)
		assert.Equal(t, 5, out[0].YearsOwned)
	})

	t.Run("trade in binds age and repair thresholds", func(t *testing.T) {
		q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{
			equipmentScan(func(dest []any) {
				*(dest[8].(*int)) = 9
				*(dest[9].(*int)) = 4
			}),
		}}}
		g := newTestGateway(q)

		out, err := g.TradeInCandidates(context.Background(), "t1", 8, 3)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 9, out[0].YearsOwned)
		assert.Equal(t, 4, out[0].RepairCount)
		require.Len(t, q.args, 1)
		assert.Equal(t, []any{8, 3}, q.args[0])
		assert.Contains(t, q.sql[0], "HAVING COUNT(wo.id) >= $2")
	})

	t.Run("usage service scans hour counters", func(t *testing.T) {
		q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{
			equipmentScan(func(dest []any) {
				*(dest[8].(*float64)) = 230
				*(dest[9].(*float64)) = 120
			}),
		}}}
		g := newTestGateway(q)

		out, err := g.UsageServiceCandidates(context.Background(), "t1", 100)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 230.0, out[0].MachineHours)
		assert.Equal(t, 120.0, out[0].LastServiceHours)
	})

	t.Run("empty sweeps return empty slices", func(t *testing.T) {
		q := &querierStub{rows: &rowsStub{}}
		g := newTestGateway(q)

		out, err := g.FirstServiceCandidates(context.Background(), "t1", 20)
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Empty(t, out)
	})

	t.Run("query failures are wrapped", func(t *testing.T) {
		q := &querierStub{queryErr: errors.New("connection reset")}
		g := newTestGateway(q)

		_, err := g.WarrantyExpiryCandidates(context.Background(), "t1", 30)
		require.ErrorContains(t, err, "op=tenantdata.warranty_expirations")
	})
}

func TestGateway_ServiceReminderCandidates(t *testing.T) {
	q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{
		func(dest ...any) error {
			*(dest[0].(*string)) = "cust-1"
			*(dest[1].(*string)) = "Ada"
			*(dest[2].(*string)) = "Laine"
			*(dest[3].(*string)) = "ada@example.test"
			*(dest[4].(*string)) = "Z960M"
			*(dest[5].(*string)) = "SN-123"
			return nil
		},
	}}}
	g := newTestGateway(q)

	out, err := g.ServiceReminderCandidates(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "cust-1", out[0].CustomerID)
	assert.Equal(t, "SN-123", out[0].SerialNumber)
	assert.Contains(t, q.sql[0], "FROM sales s")
	assert.Contains(t, q.sql[0], "INTERVAL '23 months'")
}

func TestGateway_AppointmentCandidates(t *testing.T) {
	start := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{
		func(dest ...any) error {
			*(dest[0].(*string)) = "appt-1"
			*(dest[1].(*string)) = "cust-1"
			*(dest[2].(*string)) = "Ada"
			*(dest[3].(*string)) = "+15550100"
			*(dest[4].(*time.Time)) = start
			return nil
		},
	}}}
	g := newTestGateway(q)

	from := start.Add(-30 * time.Minute)
	to := start.Add(30 * time.Minute)
	out, err := g.AppointmentCandidates(context.Background(), "t1", from, to)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, start, out[0].ScheduledStart)
	require.Len(t, q.args, 1)
	assert.Equal(t, []any{from, to}, q.args[0])
}

func TestGateway_OverdueInvoices(t *testing.T) {
	t.Run("unbounded when max days is zero", func(t *testing.T) {
		q := &querierStub{rows: &rowsStub{}}
		g := newTestGateway(q)

		_, err := g.OverdueInvoices(context.Background(), "t1", 30, 0)
		require.NoError(t, err)
		assert.NotContains(t, q.sql[0], "$2")
		assert.Equal(t, []any{30}, q.args[0])
	})

	t.Run("bounds staleness when max days given", func(t *testing.T) {
		due := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
		q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{
			func(dest ...any) error {
				*(dest[0].(*string)) = "inv-1"
				*(dest[1].(*string)) = "cust-1"
				*(dest[2].(*string)) = "Ada"
				*(dest[3].(*string)) = "ada@example.test"
				*(dest[4].(*float64)) = 412.50
				*(dest[5].(*time.Time)) = due
				return nil
			},
		}}}
		g := newTestGateway(q)

		out, err := g.OverdueInvoices(context.Background(), "t1", 30, 120)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 412.50, out[0].Balance)
		assert.Contains(t, q.sql[0], "i.due_date > NOW() - make_interval(days => $2)")
		assert.Equal(t, []any{30, 120}, q.args[0])
	})
}

func TestGateway_SeasonalCandidates(t *testing.T) {
	t.Run("narrows by equipment class when given", func(t *testing.T) {
		q := &querierStub{rows: &rowsStub{}}
		g := newTestGateway(q)

		_, err := g.SeasonalCandidates(context.Background(), "t1", "snow%")
		require.NoError(t, err)
		assert.Contains(t, q.sql[0], "e.equipment_type ILIKE $1")
		assert.Equal(t, []any{"snow%"}, q.args[0])
	})

	t.Run("covers all owners by default", func(t *testing.T) {
		q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{
			func(dest ...any) error {
				*(dest[0].(*string)) = "cust-1"
				*(dest[1].(*string)) = "Ada"
				*(dest[2].(*string)) = "Laine"
				*(dest[3].(*string)) = "ada@example.test"
				*(dest[4].(*string)) = "mower"
				*(dest[5].(*string)) = "Kubota"
				*(dest[6].(*string)) = "Z960M"
				return nil
			},
		}}}
		g := newTestGateway(q)

		out, err := g.SeasonalCandidates(context.Background(), "t1", "")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.NotContains(t, q.sql[0], "ILIKE")
		assert.Empty(t, q.args[0])
		assert.Contains(t, q.sql[0], "DISTINCT ON (c.id)")
	})
}

func TestGateway_GhostAndWinback(t *testing.T) {
	lastOrder := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	ghostScan := func(dest ...any) error {
		*(dest[0].(*string)) = "cust-7"
		*(dest[1].(*string)) = "Gus"
		*(dest[2].(*string)) = "Mora"
		*(dest[3].(*string)) = "gus@example.test"
		*(dest[4].(*time.Time)) = lastOrder
		*(dest[5].(*int)) = 6
		*(dest[6].(*float64)) = 1890.00
		return nil
	}

	t.Run("ghost customers bind inactivity months", func(t *testing.T) {
		q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{ghostScan}}}
		g := newTestGateway(q)

		out, err := g.GhostCustomers(context.Background(), "t1", 12)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, lastOrder, out[0].LastOrderDate)
		assert.Equal(t, 6, out[0].TotalOrders)
		assert.Contains(t, q.sql[0], "make_interval(months => $1)")
		assert.Equal(t, []any{12}, q.args[0])
	})

	t.Run("winback binds the staleness band", func(t *testing.T) {
		q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{ghostScan}}}
		g := newTestGateway(q)

		out, err := g.WinbackCandidates(context.Background(), "t1", 180, 540)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, []any{180, 540}, q.args[0])
	})
}

func TestGateway_PostServiceSurveyCandidates(t *testing.T) {
	picked := time.Date(2026, 8, 22, 14, 0, 0, 0, time.UTC)
	q := &querierStub{rows: &rowsStub{scans: []func(dest ...any) error{
		func(dest ...any) error {
			*(dest[0].(*string)) = "wo-11"
			*(dest[1].(*string)) = "WO-1001"
			*(dest[2].(*string)) = "cust-1"
			*(dest[3].(*string)) = "eq-1"
			*(dest[4].(*string)) = "Ada"
			*(dest[5].(*string)) = "Laine"
			*(dest[6].(*string)) = "ada@example.test"
			*(dest[7].(*string)) = "Kubota"
			*(dest[8].(*string)) = "Z960M"
			*(dest[9].(*time.Time)) = picked
			return nil
		},
	}}}
	g := newTestGateway(q)

	out, err := g.PostServiceSurveyCandidates(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "WO-1001", out[0].WorkOrderNumber)
	assert.Equal(t, picked, out[0].CompletedAt)
	assert.Contains(t, q.sql[0], "detailed_status = 'Picked Up'")
}

func TestGateway_Query(t *testing.T) {
	q := &querierStub{rows: &rowsStub{
		fields: []pgconn.FieldDescription{{Name: "id"}, {Name: "email"}},
		values: [][]any{{"cust-1", "ada@example.test"}},
	}}
	g := newTestGateway(q)

	rows, err := g.Query(context.Background(), "t1", "SELECT id, email FROM customers LIMIT 1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "cust-1", rows[0]["id"])
	assert.Equal(t, "ada@example.test", rows[0]["email"])
}
