package domain

import "time"

// Repositories (ports)

type JobRepository interface {
	// Insert adds a pending job unless SourceReference already exists for the
	// tenant and type in a live status. Returns the job id and whether a row
	// was actually inserted.
	Insert(ctx Context, j NewJob) (string, bool, error)
	// ClaimPending atomically flips up to limit eligible pending jobs to
	// processing and returns them, oldest first.
	ClaimPending(ctx Context, limit int) ([]Job, error)
	Get(ctx Context, id string) (Job, error)
	MarkComplete(ctx Context, id, note string) error
	MarkFailed(ctx Context, id string, status JobStatus, reason string) error
	// Reschedule returns a processing job to pending with the given retry
	// count and eligibility time.
	Reschedule(ctx Context, id string, retryCount int, processAfter time.Time, reason string) error
	// Requeue flips a terminal job back to pending, clearing its error and
	// retry count. A zero processAfter means eligible immediately.
	Requeue(ctx Context, id string, processAfter time.Time) error
	ListByStatus(ctx Context, status JobStatus, limit int) ([]Job, error)
	CountByStatus(ctx Context) (map[JobStatus]int64, error)
}

type QueueRepository interface {
	// PendingEmail returns pending email items across tenants, oldest first.
	PendingEmail(ctx Context, limit int) ([]QueueItem, error)
	Get(ctx Context, id string) (QueueItem, error)
	MarkProcessing(ctx Context, id string) error
	MarkSent(ctx Context, id, externalMessageID string) error
	MarkFailed(ctx Context, id, errMsg string) error
}

type TemplateRepository interface {
	// Lookup resolves the active template for (eventType, commType),
	// preferring a tenant override over the global row. ErrNotFound when
	// neither exists.
	Lookup(ctx Context, tenantID, eventType string, commType Channel) (Template, error)
}

type TenantRepository interface {
	Get(ctx Context, tenantID string) (Tenant, error)
	ListActive(ctx Context) ([]Tenant, error)
}

type AgentJobRepository interface {
	Insert(ctx Context, j NewAgentJob) (string, bool, error)
	ClaimPending(ctx Context, limit int) ([]AgentJob, error)
	// Save persists the mutable loop state (step, iteration count, session
	// state, trace, status).
	Save(ctx Context, j AgentJob) error
	Get(ctx Context, id string) (AgentJob, error)
}

// Gateways (ports)

// TenantDataGateway reads a tenant's dealership database. Finders return
// empty slices, never nil errors for empty result sets.
type TenantDataGateway interface {
	CustomerContact(ctx Context, tenantID, customerID string) (CustomerContact, error)
	WorkOrderEquipment(ctx Context, tenantID, workOrderNumber string) (EquipmentInfo, error)
	SalesReceiptPDF(ctx Context, tenantID, workOrderNumber string) ([]byte, error)

	ServiceReminderCandidates(ctx Context, tenantID string) ([]EquipmentCandidate, error)
	AppointmentCandidates(ctx Context, tenantID string, from, to time.Time) ([]AppointmentCandidate, error)
	OverdueInvoices(ctx Context, tenantID string, minDays, maxDays int) ([]InvoiceCandidate, error)
	SevenDayCheckinCandidates(ctx Context, tenantID string) ([]EquipmentCandidate, error)
	AnnualTuneupCandidates(ctx Context, tenantID string, leadDays int) ([]EquipmentCandidate, error)
	AnniversaryCandidates(ctx Context, tenantID string) ([]EquipmentCandidate, error)
	WarrantyExpiryCandidates(ctx Context, tenantID string, windowDays int) ([]EquipmentCandidate, error)
	SeasonalCandidates(ctx Context, tenantID, equipmentClass string) ([]SeasonalCandidate, error)
	GhostCustomers(ctx Context, tenantID string, inactiveMonths int) ([]GhostCandidate, error)
	PostServiceSurveyCandidates(ctx Context, tenantID string) ([]ServiceRecordCandidate, error)
	TradeInCandidates(ctx Context, tenantID string, minYears int, minRepairs int) ([]EquipmentCandidate, error)
	FirstServiceCandidates(ctx Context, tenantID string, hoursThreshold float64) ([]EquipmentCandidate, error)
	UsageServiceCandidates(ctx Context, tenantID string, hoursInterval float64) ([]EquipmentCandidate, error)
	WinbackCandidates(ctx Context, tenantID string, fromDays, toDays int) ([]GhostCandidate, error)
}

// ContentGenerator renders subject and body for an outbound message. The
// returned Source records which path produced the content.
type ContentGenerator interface {
	Generate(ctx Context, in GenerateInput) (Content, error)
}

type ContentSource string

const (
	SourceTemplate ContentSource = "template"
	SourceLLM      ContentSource = "llm"
	SourceFallback ContentSource = "fallback"
)

type GenerateInput struct {
	TenantID      string
	EventType     string
	Channel       Channel
	Params        map[string]any
	RecipientName string
	// SubjectOverride wins over any generated subject when non-empty.
	SubjectOverride string
	CompanyName     string
	EmailSignature  string
}

type Content struct {
	Subject  string
	BodyText string
	BodyHTML string
	Source   ContentSource
}

// LLMClient is the completion port the generator calls. Implementations
// retry transient upstream failures internally.
type LLMClient interface {
	ChatCompletion(ctx Context, systemPrompt, userPrompt string) (string, error)
}

// Provider delivers one message using the tenant's credentials. Send never
// retries; classification happens through SendResult.Err.
type Provider interface {
	Name() string
	Send(ctx Context, cfg TenantConfig, msg Message) SendResult
}

// SendThrottle bounds per-tenant provider calls. Allow reports whether the
// send may proceed now and, when it may not, how long to wait.
type SendThrottle interface {
	Allow(ctx Context, tenantID string, channel Channel) (bool, time.Duration, error)
}
