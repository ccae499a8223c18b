package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wrenchworks/dealercomm/internal/adapter/observability"
	"github.com/wrenchworks/dealercomm/internal/config"
	"github.com/wrenchworks/dealercomm/internal/domain"
	"github.com/wrenchworks/dealercomm/pkg/textx"
)

const (
	weekly  = 7 * 24 * time.Hour
	monthly = 30 * 24 * time.Hour

	// tuneupLeadDays is how far ahead of a purchase anniversary the
	// annual tune-up sweep looks for candidates.
	tuneupLeadDays = 14
)

// Scheduler runs the outbound sweeps. Each task periodically scans tenant
// data for communication triggers and inserts jobs for the processor to
// claim. Source references make every insert idempotent, so a sweep that
// fires twice (restart, overlapping gate hours) creates nothing new.
type Scheduler struct {
	cfg       config.Config
	tenants   domain.TenantRepository
	jobs      domain.JobRepository
	queue     domain.QueueRepository
	gateway   domain.TenantDataGateway
	configs   ConfigSource
	generator domain.ContentGenerator

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// NewScheduler wires a scheduler over the control-store repositories and the
// per-tenant data gateway.
func NewScheduler(
	cfg config.Config,
	tenants domain.TenantRepository,
	jobs domain.JobRepository,
	queue domain.QueueRepository,
	gateway domain.TenantDataGateway,
	configs ConfigSource,
	generator domain.ContentGenerator,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		tenants:   tenants,
		jobs:      jobs,
		queue:     queue,
		gateway:   gateway,
		configs:   configs,
		generator: generator,
		lastRun:   make(map[string]time.Time),
	}
}

// sweepTask describes one scheduled loop. interval is how often the task
// wakes; hourUTC (when >= 0) and month (when != 0) gate whether a wakeup
// actually runs, so a daily task ticks hourly and fires once its gate hour
// arrives.
type sweepTask struct {
	name     string
	interval time.Duration
	hourUTC  int
	month    time.Month
	run      func(ctx context.Context) (int, error)
}

func (s *Scheduler) tasks() []sweepTask {
	daily := s.cfg.DailySweepHourUTC
	return []sweepTask{
		{name: "service_reminder", interval: time.Hour, hourUTC: s.cfg.ServiceReminderHourUTC, run: s.sweepServiceReminders},
		{name: "appointment_confirmation", interval: s.cfg.AppointmentSweepInterval(), hourUTC: -1, run: s.sweepAppointments},
		{name: "invoice_reminder", interval: time.Hour, hourUTC: s.cfg.InvoiceReminderHourUTC, run: s.sweepInvoices},
		{name: "queue_processor", interval: s.cfg.QueueSweepInterval(), hourUTC: -1, run: s.sweepQueue},
		{name: "seven_day_checkin", interval: time.Hour, hourUTC: daily, run: s.sweepSevenDayCheckins},
		{name: "post_service_survey", interval: time.Hour, hourUTC: daily, run: s.sweepPostServiceSurveys},
		{name: "annual_tuneup", interval: time.Hour, hourUTC: daily, run: s.sweepAnnualTuneups},
		{name: "seasonal_spring", interval: time.Hour, hourUTC: daily, month: time.March, run: s.seasonalSweep("spring")},
		{name: "seasonal_fall", interval: time.Hour, hourUTC: daily, month: time.October, run: s.seasonalSweep("fall")},
		{name: "winback", interval: weekly, hourUTC: -1, run: s.sweepGhostCustomers},
		{name: "anniversary_offer", interval: time.Hour, hourUTC: daily, run: s.sweepAnniversaries},
		{name: "warranty_expiration", interval: time.Hour, hourUTC: daily, run: s.sweepWarrantyExpirations},
		{name: "trade_in", interval: monthly, hourUTC: -1, run: s.sweepTradeIns},
		{name: "first_service", interval: weekly, hourUTC: -1, run: s.sweepFirstService},
		{name: "usage_service", interval: weekly, hourUTC: -1, run: s.sweepUsageService},
	}
}

// Run starts every sweep loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	tasks := s.tasks()
	slog.Info("scheduler starting", slog.Int("tasks", len(tasks)))

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t sweepTask) {
			defer wg.Done()
			s.runTask(ctx, t)
		}(t)
	}
	wg.Wait()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) runTask(ctx context.Context, t sweepTask) {
	interval := t.interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.maybeRun(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeRun(ctx, t)
		}
	}
}

func (s *Scheduler) maybeRun(ctx context.Context, t sweepTask) {
	now := time.Now().UTC()
	if t.hourUTC >= 0 && now.Hour() != t.hourUTC {
		return
	}
	if t.month != 0 && now.Month() != t.month {
		return
	}

	tracer := otel.Tracer("jobs.scheduler")
	ctx, span := tracer.Start(ctx, "scheduler."+t.name)
	defer span.End()

	observability.SweepRun(t.name)
	start := time.Now()
	created, err := t.run(ctx)
	observability.ObserveSweep(t.name, time.Since(start))
	s.noteRun(t.name, now)
	if err != nil {
		span.RecordError(err)
		observability.SweepError(t.name)
		slog.Error("sweep failed",
			slog.String("task", t.name),
			slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int("sweep.jobs_created", created))
	observability.SweepJobsCreated(t.name, created)
	if created > 0 {
		slog.Info("sweep completed",
			slog.String("task", t.name),
			slog.Int("jobs_created", created))
	}
}

func (s *Scheduler) noteRun(name string, at time.Time) {
	s.mu.Lock()
	s.lastRun[name] = at
	s.mu.Unlock()
}

// TaskStates reports each task's last run time for the status endpoint.
func (s *Scheduler) TaskStates() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.lastRun))
	for name, at := range s.lastRun {
		out[name] = at
	}
	return out
}

// eachTenant runs fn once per active tenant. A failure in one tenant is
// logged and counted but never blocks the others.
func (s *Scheduler) eachTenant(ctx context.Context, task string, fn func(ctx context.Context, tenantID string) (int, error)) (int, error) {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=scheduler.%s: %w", task, err)
	}
	total := 0
	for _, t := range tenants {
		n, err := fn(ctx, t.ID)
		total += n
		if err != nil {
			observability.SweepError(task)
			slog.Error("sweep failed for tenant",
				slog.String("task", task),
				slog.String("tenant_id", t.ID),
				slog.Any("error", err))
		}
	}
	return total, nil
}

// insertJob inserts with dedup accounting and reports whether a new row was
// actually created.
func (s *Scheduler) insertJob(ctx context.Context, j domain.NewJob) (bool, error) {
	_, inserted, err := s.jobs.Insert(ctx, j)
	if err != nil {
		return false, err
	}
	if inserted {
		observability.EnqueueJob(string(j.Type))
	} else {
		observability.DedupSkip(string(j.Type))
	}
	return inserted, nil
}

func (s *Scheduler) generate(ctx context.Context, tenantID, eventType string, params map[string]any, recipientName, company string) (domain.Content, error) {
	content, err := s.generator.Generate(ctx, domain.GenerateInput{
		TenantID:      tenantID,
		EventType:     eventType,
		Channel:       domain.ChannelEmail,
		Params:        params,
		RecipientName: recipientName,
		CompanyName:   company,
	})
	if err != nil {
		return domain.Content{}, fmt.Errorf("op=scheduler.generate: event %s: %w", eventType, err)
	}
	return content, nil
}

func candidateName(first, last string) string {
	if name := textx.FullName(first, last); name != "" {
		return name
	}
	return "Valued Customer"
}

func fallbackStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// --- classic sweeps -------------------------------------------------------

func (s *Scheduler) sweepServiceReminders(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "service_reminder", func(ctx context.Context, tenantID string) (int, error) {
		candidates, err := s.gateway.ServiceReminderCandidates(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		created := 0
		for _, c := range candidates {
			if c.Email == "" {
				continue
			}
			name := textx.FullName(c.FirstName, c.LastName)
			if name == "" {
				name = "there"
			}
			model := fallbackStr(c.Model, "equipment")
			body := fmt.Sprintf(
				"Hi %s, it has been almost two years since your %s purchase. Schedule a 2-Year Tune-Up Special to keep it running at peak performance.",
				name, model)
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":          c.Email,
					"subject":     "2-Year Tune-Up Special",
					"body":        body,
					"customer_id": c.CustomerID,
				},
				SourceReference: fmt.Sprintf("service_reminder_%s_%s", tenantID, c.CustomerID),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
			}
		}
		return created, nil
	})
}

func (s *Scheduler) sweepAppointments(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "appointment_confirmation", func(ctx context.Context, tenantID string) (int, error) {
		now := time.Now().UTC()
		appts, err := s.gateway.AppointmentCandidates(ctx, tenantID, now.Add(24*time.Hour), now.Add(25*time.Hour))
		if err != nil {
			return 0, err
		}
		created := 0
		for _, a := range appts {
			if a.Phone == "" {
				continue
			}
			when := "soon"
			if !a.ScheduledStart.IsZero() {
				when = a.ScheduledStart.Format("2006-01-02 15:04")
			}
			body := fmt.Sprintf(
				"Hi %s, this is a reminder of your service appointment scheduled for %s. Reply YES to confirm or call us to reschedule.",
				a.FirstName, when)
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendSMS,
				Payload: map[string]any{
					"to":          a.Phone,
					"body":        body,
					"customer_id": a.CustomerID,
				},
				SourceReference: fmt.Sprintf("appointment_%s_%s", tenantID, a.AppointmentID),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
			}
		}
		return created, nil
	})
}

func (s *Scheduler) sweepInvoices(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "invoice_reminder", func(ctx context.Context, tenantID string) (int, error) {
		invoices, err := s.gateway.OverdueInvoices(ctx, tenantID, 30, 0)
		if err != nil {
			return 0, err
		}
		now := time.Now().UTC()
		created := 0
		for _, inv := range invoices {
			if inv.Email == "" {
				continue
			}
			first := fallbackStr(inv.FirstName, "there")
			days := 0
			if !inv.DueDate.IsZero() {
				days = int(math.Ceil(now.Sub(inv.DueDate).Seconds() / 86400))
			}
			body := fmt.Sprintf(
				"Hello %s, invoice #%s is now %d days past due. Your outstanding balance is $%.2f. Please reply or log into your portal to pay.",
				first, inv.InvoiceID, days, inv.Balance)
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":          inv.Email,
					"subject":     "Friendly invoice reminder",
					"body":        body,
					"customer_id": inv.CustomerID,
				},
				SourceReference: fmt.Sprintf("invoice_%s_%s", tenantID, inv.InvoiceID),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
			}
		}
		return created, nil
	})
}

// sweepQueue drains the external communication queue into jobs. Items are
// isolated: one bad row never blocks the rest of the batch.
func (s *Scheduler) sweepQueue(ctx context.Context) (int, error) {
	items, err := s.queue.PendingEmail(ctx, 50)
	if err != nil {
		return 0, fmt.Errorf("op=scheduler.queue_processor: %w", err)
	}
	created := 0
	for _, item := range items {
		tenantID := payloadString(item.MessageParams, "tenant_id")
		if tenantID == "" {
			tenantID = item.TenantID
		}
		inserted, err := s.insertJob(ctx, domain.NewJob{
			TenantID:        tenantID,
			Type:            domain.JobProcessQueueItem,
			Payload:         map[string]any{"queue_item_id": item.ID},
			SourceReference: "queue:" + item.ID,
		})
		if err != nil {
			observability.SweepError("queue_processor")
			slog.Error("queue item enqueue failed",
				slog.String("item_id", item.ID),
				slog.Any("error", err))
			continue
		}
		// Flip the row even on a dedup skip so a crash between a previous
		// insert and its status update heals instead of re-looping forever.
		if err := s.queue.MarkProcessing(ctx, item.ID); err != nil {
			slog.Error("queue item status update failed",
				slog.String("item_id", item.ID),
				slog.Any("error", err))
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// --- generated sweeps -----------------------------------------------------

func (s *Scheduler) sweepSevenDayCheckins(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "seven_day_checkin", func(ctx context.Context, tenantID string) (int, error) {
		candidates, err := s.gateway.SevenDayCheckinCandidates(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			return 0, nil
		}
		cfg, err := s.configs.Get(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		company := fallbackStr(cfg.CompanyName, "Your Equipment Team")
		created := 0
		for _, c := range candidates {
			if c.Email == "" {
				continue
			}
			name := candidateName(c.FirstName, c.LastName)
			params := map[string]any{
				"customer_name":   name,
				"first_name":      c.FirstName,
				"equipment_type":  fallbackStr(c.EquipmentType, "equipment"),
				"equipment_make":  c.EquipmentMake,
				"equipment_model": c.Model,
				"company_name":    company,
			}
			content, err := s.generate(ctx, tenantID, "seven_day_checkin", params, name, company)
			if err != nil {
				return created, err
			}
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":           c.Email,
					"subject":      content.Subject,
					"body":         content.BodyText,
					"customer_id":  c.CustomerID,
					"equipment_id": c.EquipmentID,
					"event_type":   "seven_day_checkin",
				},
				SourceReference: fmt.Sprintf("seven_day_checkin_%s_%s", tenantID, c.EquipmentID),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
				slog.Info("created seven day check-in job",
					slog.String("tenant_id", tenantID),
					slog.String("customer_id", c.CustomerID),
					slog.String("equipment_id", c.EquipmentID))
			}
		}
		return created, nil
	})
}

func (s *Scheduler) sweepPostServiceSurveys(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "post_service_survey", func(ctx context.Context, tenantID string) (int, error) {
		candidates, err := s.gateway.PostServiceSurveyCandidates(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			return 0, nil
		}
		cfg, err := s.configs.Get(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		company := fallbackStr(cfg.CompanyName, "Your Service Team")
		created := 0
		for _, c := range candidates {
			if c.Email == "" {
				continue
			}
			name := candidateName(c.FirstName, c.LastName)
			params := map[string]any{
				"customer_name":     name,
				"first_name":        c.FirstName,
				"work_order_number": c.WorkOrderNumber,
				"equipment_make":    c.EquipmentMake,
				"equipment_model":   c.Model,
				"company_name":      company,
			}
			content, err := s.generate(ctx, tenantID, "post_service_survey", params, name, company)
			if err != nil {
				return created, err
			}
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":                c.Email,
					"subject":           content.Subject,
					"body":              content.BodyText,
					"customer_id":       c.CustomerID,
					"work_order_id":     c.ServiceRecordID,
					"work_order_number": c.WorkOrderNumber,
					"event_type":        "post_service_survey",
				},
				SourceReference: fmt.Sprintf("post_service_survey_%s_%s", tenantID, c.ServiceRecordID),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
				slog.Info("created post service survey job",
					slog.String("tenant_id", tenantID),
					slog.String("work_order", c.WorkOrderNumber))
			}
		}
		return created, nil
	})
}

func (s *Scheduler) sweepAnnualTuneups(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "annual_tuneup", func(ctx context.Context, tenantID string) (int, error) {
		candidates, err := s.gateway.AnnualTuneupCandidates(ctx, tenantID, tuneupLeadDays)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			return 0, nil
		}
		cfg, err := s.configs.Get(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		company := fallbackStr(cfg.CompanyName, "Your Service Team")
		year := time.Now().UTC().Year()
		created := 0
		for _, c := range candidates {
			if c.Email == "" {
				continue
			}
			name := candidateName(c.FirstName, c.LastName)
			params := map[string]any{
				"customer_name":   name,
				"first_name":      c.FirstName,
				"equipment_type":  fallbackStr(c.EquipmentType, "equipment"),
				"equipment_make":  c.EquipmentMake,
				"equipment_model": c.Model,
				"company_name":    company,
			}
			content, err := s.generate(ctx, tenantID, "annual_tuneup", params, name, company)
			if err != nil {
				return created, err
			}
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":           c.Email,
					"subject":      content.Subject,
					"body":         content.BodyText,
					"customer_id":  c.CustomerID,
					"equipment_id": c.EquipmentID,
					"event_type":   "annual_tuneup",
				},
				SourceReference: fmt.Sprintf("annual_tuneup_%s_%s_%d", tenantID, c.EquipmentID, year),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
			}
		}
		return created, nil
	})
}

// seasonalSweep builds the spring or fall variant; the two differ only in
// event type and dedup key.
func (s *Scheduler) seasonalSweep(season string) func(ctx context.Context) (int, error) {
	task := "seasonal_" + season
	return func(ctx context.Context) (int, error) {
		return s.eachTenant(ctx, task, func(ctx context.Context, tenantID string) (int, error) {
			candidates, err := s.gateway.SeasonalCandidates(ctx, tenantID, "")
			if err != nil {
				return 0, err
			}
			if len(candidates) == 0 {
				return 0, nil
			}
			cfg, err := s.configs.Get(ctx, tenantID)
			if err != nil {
				return 0, err
			}
			company := fallbackStr(cfg.CompanyName, "Your Service Team")
			year := time.Now().UTC().Year()
			created := 0
			for _, c := range candidates {
				if c.Email == "" {
					continue
				}
				name := candidateName(c.FirstName, c.LastName)
				params := map[string]any{
					"customer_name":   name,
					"first_name":      c.FirstName,
					"equipment_type":  fallbackStr(c.EquipmentType, "outdoor power equipment"),
					"equipment_make":  c.EquipmentMake,
					"equipment_model": c.Model,
					"season":          season,
					"company_name":    company,
				}
				content, err := s.generate(ctx, tenantID, "seasonal_reminder_"+season, params, name, company)
				if err != nil {
					return created, err
				}
				inserted, err := s.insertJob(ctx, domain.NewJob{
					TenantID: tenantID,
					Type:     domain.JobSendEmail,
					Payload: map[string]any{
						"to":          c.Email,
						"subject":     content.Subject,
						"body":        content.BodyText,
						"customer_id": c.CustomerID,
						"season":      season,
						"event_type":  "seasonal_reminder_" + season,
					},
					SourceReference: fmt.Sprintf("seasonal_%s_%s_%s_%d", season, tenantID, c.CustomerID, year),
				})
				if err != nil {
					return created, err
				}
				if inserted {
					created++
				}
			}
			return created, nil
		})
	}
}

func (s *Scheduler) sweepGhostCustomers(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "winback", func(ctx context.Context, tenantID string) (int, error) {
		candidates, err := s.gateway.GhostCustomers(ctx, tenantID, s.cfg.GhostCustomerMonths)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			return 0, nil
		}
		cfg, err := s.configs.Get(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		company := fallbackStr(cfg.CompanyName, "Your Service Team")
		now := time.Now().UTC()
		year, quarter := now.Year(), (int(now.Month())-1)/3+1
		created := 0
		for _, c := range candidates {
			if c.Email == "" {
				continue
			}
			name := candidateName(c.FirstName, c.LastName)
			monthsInactive := 0
			if !c.LastOrderDate.IsZero() {
				monthsInactive = int(now.Sub(c.LastOrderDate).Hours()/24) / 30
			}
			params := map[string]any{
				"customer_name":   name,
				"first_name":      c.FirstName,
				"months_inactive": monthsInactive,
				"lifetime_value":  c.LifetimeValue,
				"total_orders":    c.TotalOrders,
				"company_name":    company,
			}
			content, err := s.generate(ctx, tenantID, "winback_missed_you", params, name, company)
			if err != nil {
				return created, err
			}
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":              c.Email,
					"subject":         content.Subject,
					"body":            content.BodyText,
					"customer_id":     c.CustomerID,
					"months_inactive": monthsInactive,
					"event_type":      "winback_missed_you",
				},
				SourceReference: fmt.Sprintf("winback_%s_%s_%d_Q%d", tenantID, c.CustomerID, year, quarter),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
				slog.Info("created winback job",
					slog.String("tenant_id", tenantID),
					slog.String("customer_id", c.CustomerID),
					slog.Int("months_inactive", monthsInactive))
			}
		}
		return created, nil
	})
}

func (s *Scheduler) sweepAnniversaries(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "anniversary_offer", func(ctx context.Context, tenantID string) (int, error) {
		candidates, err := s.gateway.AnniversaryCandidates(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			return 0, nil
		}
		cfg, err := s.configs.Get(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		company := fallbackStr(cfg.CompanyName, "Your Service Team")
		created := 0
		for _, c := range candidates {
			if c.Email == "" {
				continue
			}
			name := candidateName(c.FirstName, c.LastName)
			yearsOwned := c.YearsOwned
			if yearsOwned <= 0 {
				yearsOwned = 1
			}
			// Dedup on the anniversary year itself so next year's pass
			// starts a fresh key.
			anniversaryYear := 2024
			if !c.DateSold.IsZero() {
				anniversaryYear = c.DateSold.Year() + yearsOwned
			}
			params := map[string]any{
				"customer_name":   name,
				"first_name":      c.FirstName,
				"equipment_type":  fallbackStr(c.EquipmentType, "equipment"),
				"equipment_make":  c.EquipmentMake,
				"equipment_model": c.Model,
				"years_owned":     yearsOwned,
				"company_name":    company,
			}
			content, err := s.generate(ctx, tenantID, "anniversary_offer", params, name, company)
			if err != nil {
				return created, err
			}
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":           c.Email,
					"subject":      content.Subject,
					"body":         content.BodyText,
					"customer_id":  c.CustomerID,
					"equipment_id": c.EquipmentID,
					"years_owned":  yearsOwned,
					"event_type":   "anniversary_offer",
				},
				SourceReference: fmt.Sprintf("anniversary_offer_%s_%s_%d", tenantID, c.EquipmentID, anniversaryYear),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
			}
		}
		return created, nil
	})
}

func (s *Scheduler) sweepWarrantyExpirations(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "warranty_expiration", func(ctx context.Context, tenantID string) (int, error) {
		candidates, err := s.gateway.WarrantyExpiryCandidates(ctx, tenantID, s.cfg.WarrantyWarningDays)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			return 0, nil
		}
		cfg, err := s.configs.Get(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		company := fallbackStr(cfg.CompanyName, "Your Service Team")
		created := 0
		for _, c := range candidates {
			if c.Email == "" {
				continue
			}
			name := candidateName(c.FirstName, c.LastName)
			dateStr, key := "soon", "unknown"
			if c.WarrantyEnd != nil {
				dateStr = c.WarrantyEnd.Format("January 02, 2006")
				key = c.WarrantyEnd.Format("200601")
			}
			params := map[string]any{
				"customer_name":     name,
				"first_name":        c.FirstName,
				"equipment_type":    fallbackStr(c.EquipmentType, "equipment"),
				"equipment_make":    c.EquipmentMake,
				"equipment_model":   c.Model,
				"warranty_end_date": dateStr,
				"company_name":      company,
			}
			content, err := s.generate(ctx, tenantID, "warranty_expiration", params, name, company)
			if err != nil {
				return created, err
			}
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":                c.Email,
					"subject":           content.Subject,
					"body":              content.BodyText,
					"customer_id":       c.CustomerID,
					"equipment_id":      c.EquipmentID,
					"warranty_end_date": dateStr,
					"event_type":        "warranty_expiration",
				},
				SourceReference: fmt.Sprintf("warranty_exp_%s_%s_%s", tenantID, c.EquipmentID, key),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
			}
		}
		return created, nil
	})
}

func (s *Scheduler) sweepTradeIns(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "trade_in", func(ctx context.Context, tenantID string) (int, error) {
		candidates, err := s.gateway.TradeInCandidates(ctx, tenantID, s.cfg.TradeInMinAgeYears, s.cfg.TradeInMinRepairCount)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			return 0, nil
		}
		cfg, err := s.configs.Get(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		company := fallbackStr(cfg.CompanyName, "Your Service Team")
		year := time.Now().UTC().Year()
		created := 0
		for _, c := range candidates {
			if c.Email == "" {
				continue
			}
			name := candidateName(c.FirstName, c.LastName)
			yearsOwned := c.YearsOwned
			if yearsOwned <= 0 {
				yearsOwned = s.cfg.TradeInMinAgeYears
			}
			params := map[string]any{
				"customer_name":   name,
				"first_name":      c.FirstName,
				"equipment_type":  fallbackStr(c.EquipmentType, "equipment"),
				"equipment_make":  c.EquipmentMake,
				"equipment_model": c.Model,
				"years_owned":     yearsOwned,
				"repair_count":    c.RepairCount,
				"company_name":    company,
			}
			content, err := s.generate(ctx, tenantID, "trade_in_alert", params, name, company)
			if err != nil {
				return created, err
			}
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":           c.Email,
					"subject":      content.Subject,
					"body":         content.BodyText,
					"customer_id":  c.CustomerID,
					"equipment_id": c.EquipmentID,
					"years_owned":  yearsOwned,
					"repair_count": c.RepairCount,
					"event_type":   "trade_in_alert",
				},
				SourceReference: fmt.Sprintf("trade_in_%s_%s_%d", tenantID, c.EquipmentID, year),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
			}
		}
		return created, nil
	})
}

func (s *Scheduler) sweepFirstService(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "first_service", func(ctx context.Context, tenantID string) (int, error) {
		threshold := s.cfg.FirstServiceHoursThreshold
		candidates, err := s.gateway.FirstServiceCandidates(ctx, tenantID, threshold)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			return 0, nil
		}
		cfg, err := s.configs.Get(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		company := fallbackStr(cfg.CompanyName, "Your Service Team")
		created := 0
		for _, c := range candidates {
			if c.Email == "" {
				continue
			}
			name := candidateName(c.FirstName, c.LastName)
			hours := c.MachineHours
			if hours <= 0 {
				hours = threshold
			}
			params := map[string]any{
				"customer_name":   name,
				"first_name":      c.FirstName,
				"equipment_type":  fallbackStr(c.EquipmentType, "equipment"),
				"equipment_make":  c.EquipmentMake,
				"equipment_model": c.Model,
				"machine_hours":   hours,
				"company_name":    company,
			}
			content, err := s.generate(ctx, tenantID, "first_service_alert", params, name, company)
			if err != nil {
				return created, err
			}
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":            c.Email,
					"subject":       content.Subject,
					"body":          content.BodyText,
					"customer_id":   c.CustomerID,
					"equipment_id":  c.EquipmentID,
					"machine_hours": hours,
					"event_type":    "first_service_alert",
				},
				SourceReference: fmt.Sprintf("first_service_%s_%s", tenantID, c.EquipmentID),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
			}
		}
		return created, nil
	})
}

func (s *Scheduler) sweepUsageService(ctx context.Context) (int, error) {
	return s.eachTenant(ctx, "usage_service", func(ctx context.Context, tenantID string) (int, error) {
		interval := s.cfg.UsageServiceHoursInterval
		candidates, err := s.gateway.UsageServiceCandidates(ctx, tenantID, interval)
		if err != nil {
			return 0, err
		}
		if len(candidates) == 0 {
			return 0, nil
		}
		cfg, err := s.configs.Get(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		company := fallbackStr(cfg.CompanyName, "Your Service Team")
		created := 0
		for _, c := range candidates {
			if c.Email == "" {
				continue
			}
			name := candidateName(c.FirstName, c.LastName)
			hours := c.MachineHours
			// serviceNumber keys the dedup reference, so the same unit
			// becomes eligible again after another full interval of use.
			serviceNumber := 0
			if interval > 0 {
				serviceNumber = int(hours / interval)
			}
			params := map[string]any{
				"customer_name":    name,
				"first_name":       c.FirstName,
				"equipment_type":   fallbackStr(c.EquipmentType, "equipment"),
				"equipment_make":   c.EquipmentMake,
				"equipment_model":  c.Model,
				"machine_hours":    hours,
				"service_interval": interval,
				"company_name":     company,
			}
			content, err := s.generate(ctx, tenantID, "usage_service_alert", params, name, company)
			if err != nil {
				return created, err
			}
			inserted, err := s.insertJob(ctx, domain.NewJob{
				TenantID: tenantID,
				Type:     domain.JobSendEmail,
				Payload: map[string]any{
					"to":               c.Email,
					"subject":          content.Subject,
					"body":             content.BodyText,
					"customer_id":      c.CustomerID,
					"equipment_id":     c.EquipmentID,
					"machine_hours":    hours,
					"service_interval": interval,
					"event_type":       "usage_service_alert",
				},
				SourceReference: fmt.Sprintf("usage_service_%s_%s_%d", tenantID, c.EquipmentID, serviceNumber),
			})
			if err != nil {
				return created, err
			}
			if inserted {
				created++
			}
		}
		return created, nil
	})
}
