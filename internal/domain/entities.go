package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrTenantUnknown       = errors.New("tenant unknown")
	ErrTenantMisconfigured = errors.New("tenant misconfigured")
	ErrMissingCredentials  = errors.New("missing credentials")
	ErrProviderRejected    = errors.New("provider rejected")
	ErrTransport           = errors.New("transport error")
	ErrRateLimited         = errors.New("rate limited")
	ErrInternal            = errors.New("internal error")
)

// JobType enumerates the job kinds the processor dispatches on.
type JobType string

const (
	JobSendEmail        JobType = "send_email"
	JobSendSMS          JobType = "send_sms"
	JobNotifyCustomer   JobType = "notify_customer"
	JobProcessQueueItem JobType = "process_queue_item"
)

type JobStatus string

const (
	JobPending             JobStatus = "pending"
	JobProcessing          JobStatus = "processing"
	JobComplete            JobStatus = "complete"
	JobFailed              JobStatus = "failed"
	JobFailedFallbackEmail JobStatus = "failed_fallback_email"
)

// Terminal reports whether a job in this status will never run again.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed || s == JobFailedFallbackEmail
}

// Job is one row of communication_jobs. Payload is the decoded document;
// SourceReference empty means no de-duplication key was supplied.
type Job struct {
	ID              string
	TenantID        string
	Type            JobType
	Payload         map[string]any
	Status          JobStatus
	RetryCount      int
	LastError       string
	SourceReference string
	ProcessAfter    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewJob carries the fields callers control on insert. A zero ProcessAfter
// means eligible immediately.
type NewJob struct {
	TenantID        string
	Type            JobType
	Payload         map[string]any
	ProcessAfter    time.Time
	SourceReference string
}

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueSent       QueueStatus = "sent"
	QueueFailed     QueueStatus = "failed"
)

// Recipient is the structured recipient_address document of a queue item.
type Recipient struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// QueueItem is one row of communication_queue.
type QueueItem struct {
	ID                string
	TenantID          string
	EventType         string
	CommunicationType Channel
	Recipient         Recipient
	Subject           string
	MessageParams     map[string]any
	Status            QueueStatus
	ExternalMessageID string
	RetryCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Tenant mirrors the externally managed tenants row; Settings is the raw
// settings document this system only reads.
type Tenant struct {
	ID       string
	Status   string
	Settings map[string]any
}

// Active reports whether the tenant participates in sweeps and dispatch.
func (t Tenant) Active() bool { return t.Status == "Active" }

// TenantConfig is the typed view over a tenant's settings document.
// QuietHoursStart/End stay raw HH:MM; the processor parses them.
type TenantConfig struct {
	TenantID         string
	TwilioSID        string
	TwilioAuthToken  string
	TwilioFromNumber string
	SendgridKey      string
	SendgridFrom     string
	ResendKey        string
	ResendFrom       string
	EmailProvider    string
	QuietHoursStart  string
	QuietHoursEnd    string
	APIBaseURL       string
	CompanyName      string
	CompanyPhone     string
	EmailSignature   string
	DSN              string
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Template is one row of message_templates. TenantID empty means the global
// default for (EventType, CommunicationType).
type Template struct {
	ID                string
	TenantID          string
	EventType         string
	CommunicationType Channel
	SubjectTemplate   string
	BodyTextTemplate  string
	BodyHTMLTemplate  string
	Variables         map[string]string
	AIEnhance         bool
	AIInstructions    string
	IsActive          bool
	Version           int
}

// Attachment is an opaque payload handed to an email provider. ContentType
// empty lets the adapter sniff one.
type Attachment struct {
	Filename    string
	Content     []byte
	ContentType string
}

// Message is the provider-facing send request.
type Message struct {
	Channel     Channel
	To          string
	From        string
	Subject     string
	BodyText    string
	BodyHTML    string
	ReplyTo     string
	CC          []string
	BCC         []string
	Attachments []Attachment
}

// SendResult is the typed outcome of one provider call. Err wraps one of the
// sentinels above (ErrMissingCredentials, ErrTransport, ErrProviderRejected,
// ErrRateLimited) so callers can classify without knowing the provider.
type SendResult struct {
	Success    bool
	MessageID  string
	StatusCode int
	Err        error
}

// Retryable reports whether the failure is worth another attempt at the job
// level. Adapters never retry internally.
func (r SendResult) Retryable() bool {
	if r.Success {
		return false
	}
	return errors.Is(r.Err, ErrTransport) || errors.Is(r.Err, ErrRateLimited)
}

type AgentStatus string

const (
	AgentPending      AgentStatus = "pending"
	AgentInProgress   AgentStatus = "in_progress"
	AgentWaitingHuman AgentStatus = "waiting_human"
	AgentResolved     AgentStatus = "resolved"
	AgentFailed       AgentStatus = "failed"
)

// AgentJob is one row of agent_jobs. SessionState and ReasoningTrace are kept
// as raw JSON so the hook layer owns their schema.
type AgentJob struct {
	ID              string
	TenantID        string
	Goal            string
	Checklist       []string
	CurrentStep     int
	SessionState    []byte
	ReasoningTrace  []byte
	IterationCount  int
	MaxIterations   int
	Status          AgentStatus
	SourceReference string
	ProcessAfter    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewAgentJob carries the caller controlled fields for agent job insert.
type NewAgentJob struct {
	TenantID        string
	Goal            string
	Checklist       []string
	MaxIterations   int
	SourceReference string
}

// Context is an alias so domain signatures stay readable; adapters pass
// context.Context straight through.
type Context = context.Context
