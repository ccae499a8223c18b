package app

import (
	"sync"
	"time"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// Shared in-memory fakes for the app package tests.

type insertRecord struct {
	job      domain.NewJob
	inserted bool
}

type failureRecord struct {
	id     string
	status domain.JobStatus
	reason string
}

type rescheduleRecord struct {
	id           string
	retryCount   int
	processAfter time.Time
	reason       string
}

type fakeJobs struct {
	mu sync.Mutex

	inserts   []insertRecord
	dupRefs   map[string]bool
	insertErr error

	claims   []domain.Job
	claimErr error

	completes   []struct{ id, note string }
	completeErr error

	failures    []failureRecord
	reschedules []rescheduleRecord
	requeued    []string

	byStatus map[domain.JobStatus][]domain.Job
	counts   map[domain.JobStatus]int64
}

func (f *fakeJobs) Insert(_ domain.Context, j domain.NewJob) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return "", false, f.insertErr
	}
	inserted := !f.dupRefs[j.SourceReference]
	f.inserts = append(f.inserts, insertRecord{job: j, inserted: inserted})
	return "job-new", inserted, nil
}

func (f *fakeJobs) ClaimPending(_ domain.Context, limit int) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if limit > len(f.claims) {
		limit = len(f.claims)
	}
	out := f.claims[:limit]
	f.claims = f.claims[limit:]
	return out, nil
}

func (f *fakeJobs) Get(_ domain.Context, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, jobs := range f.byStatus {
		for _, j := range jobs {
			if j.ID == id {
				return j, nil
			}
		}
	}
	return domain.Job{}, domain.ErrNotFound
}

func (f *fakeJobs) MarkComplete(_ domain.Context, id, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completes = append(f.completes, struct{ id, note string }{id, note})
	return nil
}

func (f *fakeJobs) MarkFailed(_ domain.Context, id string, status domain.JobStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failureRecord{id: id, status: status, reason: reason})
	return nil
}

func (f *fakeJobs) Reschedule(_ domain.Context, id string, retryCount int, processAfter time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reschedules = append(f.reschedules, rescheduleRecord{id: id, retryCount: retryCount, processAfter: processAfter, reason: reason})
	return nil
}

func (f *fakeJobs) Requeue(_ domain.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, id)
	return nil
}

func (f *fakeJobs) ListByStatus(_ domain.Context, status domain.JobStatus, _ int) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byStatus[status], nil
}

func (f *fakeJobs) CountByStatus(_ domain.Context) (map[domain.JobStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts, nil
}

func (f *fakeJobs) insertedJobs() []domain.NewJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.NewJob
	for _, rec := range f.inserts {
		if rec.inserted {
			out = append(out, rec.job)
		}
	}
	return out
}

type fakeQueue struct {
	pending    []domain.QueueItem
	pendingErr error
	items      map[string]domain.QueueItem
	getErr     error
	processing []string
	sent       []struct{ id, messageID string }
	failed     []struct{ id, errMsg string }
}

func (f *fakeQueue) PendingEmail(_ domain.Context, limit int) ([]domain.QueueItem, error) {
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	return f.pending[:limit], nil
}

func (f *fakeQueue) Get(_ domain.Context, id string) (domain.QueueItem, error) {
	if f.getErr != nil {
		return domain.QueueItem{}, f.getErr
	}
	item, ok := f.items[id]
	if !ok {
		return domain.QueueItem{}, domain.ErrNotFound
	}
	return item, nil
}

func (f *fakeQueue) MarkProcessing(_ domain.Context, id string) error {
	f.processing = append(f.processing, id)
	return nil
}

func (f *fakeQueue) MarkSent(_ domain.Context, id, externalMessageID string) error {
	f.sent = append(f.sent, struct{ id, messageID string }{id, externalMessageID})
	return nil
}

func (f *fakeQueue) MarkFailed(_ domain.Context, id, errMsg string) error {
	f.failed = append(f.failed, struct{ id, errMsg string }{id, errMsg})
	return nil
}

type fakeTenants struct {
	tenants []domain.Tenant
	err     error
}

func (f *fakeTenants) Get(_ domain.Context, tenantID string) (domain.Tenant, error) {
	for _, t := range f.tenants {
		if t.ID == tenantID {
			return t, nil
		}
	}
	return domain.Tenant{}, domain.ErrTenantUnknown
}

func (f *fakeTenants) ListActive(_ domain.Context) ([]domain.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tenants, nil
}

type fakeConfigs struct {
	mu    sync.Mutex
	cfgs  map[string]domain.TenantConfig
	err   error
	calls []string
}

func (f *fakeConfigs) Get(_ domain.Context, tenantID string) (domain.TenantConfig, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tenantID)
	f.mu.Unlock()
	if f.err != nil {
		return domain.TenantConfig{}, f.err
	}
	cfg, ok := f.cfgs[tenantID]
	if !ok {
		return domain.TenantConfig{}, domain.ErrTenantUnknown
	}
	return cfg, nil
}

type fakeGateway struct {
	contact    domain.CustomerContact
	contactErr error

	equipment    domain.EquipmentInfo
	equipmentErr error

	receipt    []byte
	receiptErr error

	serviceReminder []domain.EquipmentCandidate
	appointments    []domain.AppointmentCandidate
	invoices        []domain.InvoiceCandidate
	sevenDay        []domain.EquipmentCandidate
	annualTuneup    []domain.EquipmentCandidate
	anniversaries   []domain.EquipmentCandidate
	warranty        []domain.EquipmentCandidate
	seasonal        []domain.SeasonalCandidate
	ghosts          []domain.GhostCandidate
	surveys         []domain.ServiceRecordCandidate
	tradeIns        []domain.EquipmentCandidate
	firstService    []domain.EquipmentCandidate
	usageService    []domain.EquipmentCandidate
	winback         []domain.GhostCandidate
	finderErr       error
}

func (f *fakeGateway) CustomerContact(_ domain.Context, _, _ string) (domain.CustomerContact, error) {
	if f.contactErr != nil {
		return domain.CustomerContact{}, f.contactErr
	}
	return f.contact, nil
}

func (f *fakeGateway) WorkOrderEquipment(_ domain.Context, _, _ string) (domain.EquipmentInfo, error) {
	if f.equipmentErr != nil {
		return domain.EquipmentInfo{}, f.equipmentErr
	}
	return f.equipment, nil
}

func (f *fakeGateway) SalesReceiptPDF(_ domain.Context, _, _ string) ([]byte, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receipt, nil
}

func (f *fakeGateway) ServiceReminderCandidates(_ domain.Context, _ string) ([]domain.EquipmentCandidate, error) {
	return f.serviceReminder, f.finderErr
}

func (f *fakeGateway) AppointmentCandidates(_ domain.Context, _ string, _, _ time.Time) ([]domain.AppointmentCandidate, error) {
	return f.appointments, f.finderErr
}

func (f *fakeGateway) OverdueInvoices(_ domain.Context, _ string, _, _ int) ([]domain.InvoiceCandidate, error) {
	return f.invoices, f.finderErr
}

func (f *fakeGateway) SevenDayCheckinCandidates(_ domain.Context, _ string) ([]domain.EquipmentCandidate, error) {
	return f.sevenDay, f.finderErr
}

func (f *fakeGateway) AnnualTuneupCandidates(_ domain.Context, _ string, _ int) ([]domain.EquipmentCandidate, error) {
	return f.annualTuneup, f.finderErr
}

func (f *fakeGateway) AnniversaryCandidates(_ domain.Context, _ string) ([]domain.EquipmentCandidate, error) {
	return f.anniversaries, f.finderErr
}

func (f *fakeGateway) WarrantyExpiryCandidates(_ domain.Context, _ string, _ int) ([]domain.EquipmentCandidate, error) {
	return f.warranty, f.finderErr
}

func (f *fakeGateway) SeasonalCandidates(_ domain.Context, _, _ string) ([]domain.SeasonalCandidate, error) {
	return f.seasonal, f.finderErr
}

func (f *fakeGateway) GhostCustomers(_ domain.Context, _ string, _ int) ([]domain.GhostCandidate, error) {
	return f.ghosts, f.finderErr
}

func (f *fakeGateway) PostServiceSurveyCandidates(_ domain.Context, _ string) ([]domain.ServiceRecordCandidate, error) {
	return f.surveys, f.finderErr
}

func (f *fakeGateway) TradeInCandidates(_ domain.Context, _ string, _, _ int) ([]domain.EquipmentCandidate, error) {
	return f.tradeIns, f.finderErr
}

func (f *fakeGateway) FirstServiceCandidates(_ domain.Context, _ string, _ float64) ([]domain.EquipmentCandidate, error) {
	return f.firstService, f.finderErr
}

func (f *fakeGateway) UsageServiceCandidates(_ domain.Context, _ string, _ float64) ([]domain.EquipmentCandidate, error) {
	return f.usageService, f.finderErr
}

func (f *fakeGateway) WinbackCandidates(_ domain.Context, _ string, _, _ int) ([]domain.GhostCandidate, error) {
	return f.winback, f.finderErr
}

type fakeGenerator struct {
	content domain.Content
	err     error
	inputs  []domain.GenerateInput
}

func (f *fakeGenerator) Generate(_ domain.Context, in domain.GenerateInput) (domain.Content, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return domain.Content{}, f.err
	}
	return f.content, nil
}

type fakeProvider struct {
	name   string
	result domain.SendResult
	sends  []domain.Message
	cfgs   []domain.TenantConfig
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Send(_ domain.Context, cfg domain.TenantConfig, msg domain.Message) domain.SendResult {
	f.cfgs = append(f.cfgs, cfg)
	f.sends = append(f.sends, msg)
	return f.result
}

type fakeEmailSelector struct {
	provider domain.Provider
	err      error
}

func (f *fakeEmailSelector) ForTenant(domain.TenantConfig) (domain.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

type fakeThrottle struct {
	allow      bool
	retryAfter time.Duration
	err        error
	calls      []string
}

func (f *fakeThrottle) Allow(_ domain.Context, tenantID string, channel domain.Channel) (bool, time.Duration, error) {
	f.calls = append(f.calls, tenantID+"/"+string(channel))
	return f.allow, f.retryAfter, f.err
}
