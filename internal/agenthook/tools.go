package agenthook

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// Tool is one capability a planner may invoke. Invoke returns a textual
// observation for the reasoning trace; errors are surfaced to the planner as
// observations too, so a failed call never kills the loop.
type Tool interface {
	Name() string
	Describe() string
	Invoke(ctx domain.Context, args map[string]any) (string, error)
}

// ToolRegistry holds the tools available to a planner, keyed by name.
type ToolRegistry struct {
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any earlier one with the same name.
func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names in stable order.
func (r *ToolRegistry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders one line per tool for inclusion in planner prompts.
func (r *ToolRegistry) Describe() string {
	var b strings.Builder
	for _, name := range r.Names() {
		fmt.Fprintf(&b, "%s: %s\n", name, r.tools[name].Describe())
	}
	return b.String()
}

// JobInserter is the slice of the job repository the send tools need.
type JobInserter interface {
	Insert(ctx domain.Context, j domain.NewJob) (string, bool, error)
}

// ConfigSource resolves a tenant's runtime configuration.
type ConfigSource interface {
	Get(ctx domain.Context, tenantID string) (domain.TenantConfig, error)
}

// TenantQuerier runs read-only SQL against a tenant's dealership database.
type TenantQuerier interface {
	Query(ctx domain.Context, tenantID, sql string, args ...any) ([]map[string]any, error)
}

// RegisterCoreTools wires the standard tool set over the engine's ports.
// Outbound messages go through the job queue, never straight to a provider,
// so dedup, quiet hours, and the retry policy apply to agent sends exactly
// as they do to scheduled ones.
func RegisterCoreTools(r *ToolRegistry, jobs JobInserter, querier TenantQuerier, configs ConfigSource, generator domain.ContentGenerator) {
	r.Register(&sendMessageTool{jobs: jobs, jobType: domain.JobSendEmail})
	r.Register(&sendMessageTool{jobs: jobs, jobType: domain.JobSendSMS})
	r.Register(&queryTenantTool{querier: querier})
	r.Register(&tenantConfigTool{configs: configs})
	r.Register(&generateContentTool{generator: generator})
}

// sendMessageTool queues an outbound email or SMS job.
type sendMessageTool struct {
	jobs    JobInserter
	jobType domain.JobType
}

func (t *sendMessageTool) Name() string { return string(t.jobType) }

func (t *sendMessageTool) Describe() string {
	if t.jobType == domain.JobSendSMS {
		return "queue an SMS job; args: tenant_id, to, body, optional from and source_reference"
	}
	return "queue an email job; args: tenant_id, to, subject, body, optional from and source_reference"
}

func (t *sendMessageTool) Invoke(ctx domain.Context, args map[string]any) (string, error) {
	tenantID := stringArg(args, "tenant_id")
	to := stringArg(args, "to")
	body := stringArg(args, "body")
	if tenantID == "" || to == "" || body == "" {
		return "", fmt.Errorf("op=agenthook.%s: %w: tenant_id, to and body are required", t.jobType, domain.ErrInvalidArgument)
	}
	payload := map[string]any{"to": to, "body": body}
	if from := stringArg(args, "from"); from != "" {
		payload["from"] = from
	}
	if t.jobType == domain.JobSendEmail {
		subject := stringArg(args, "subject")
		if subject == "" {
			return "", fmt.Errorf("op=agenthook.send_email: %w: subject is required", domain.ErrInvalidArgument)
		}
		payload["subject"] = subject
	}
	id, inserted, err := t.jobs.Insert(ctx, domain.NewJob{
		TenantID:        tenantID,
		Type:            t.jobType,
		Payload:         payload,
		SourceReference: stringArg(args, "source_reference"),
	})
	if err != nil {
		return "", err
	}
	if !inserted {
		return fmt.Sprintf("duplicate suppressed; existing job %s", id), nil
	}
	return fmt.Sprintf("queued %s job %s", t.jobType, id), nil
}

// queryTenantTool runs a read-only query against the tenant's dealership
// database and returns the rows as JSON.
type queryTenantTool struct {
	querier TenantQuerier
}

func (t *queryTenantTool) Name() string { return "query_tenant" }

func (t *queryTenantTool) Describe() string {
	return "run a read-only SQL query against the tenant's dealership database; args: tenant_id, sql"
}

func (t *queryTenantTool) Invoke(ctx domain.Context, args map[string]any) (string, error) {
	tenantID := stringArg(args, "tenant_id")
	sql := strings.TrimSpace(stringArg(args, "sql"))
	if tenantID == "" || sql == "" {
		return "", fmt.Errorf("op=agenthook.query_tenant: %w: tenant_id and sql are required", domain.ErrInvalidArgument)
	}
	lowered := strings.ToLower(sql)
	if !strings.HasPrefix(lowered, "select") && !strings.HasPrefix(lowered, "with") {
		return "", fmt.Errorf("op=agenthook.query_tenant: %w: only SELECT statements are allowed", domain.ErrInvalidArgument)
	}
	rows, err := t.querier.Query(ctx, tenantID, sql)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("op=agenthook.query_tenant: %w", err)
	}
	return string(b), nil
}

// tenantConfigTool returns the parts of a tenant's configuration a planner
// may see. Credentials never leave this tool.
type tenantConfigTool struct {
	configs ConfigSource
}

func (t *tenantConfigTool) Name() string { return "get_tenant_config" }

func (t *tenantConfigTool) Describe() string {
	return "look up a tenant's company info, providers and quiet hours; args: tenant_id"
}

func (t *tenantConfigTool) Invoke(ctx domain.Context, args map[string]any) (string, error) {
	tenantID := stringArg(args, "tenant_id")
	if tenantID == "" {
		return "", fmt.Errorf("op=agenthook.get_tenant_config: %w: tenant_id is required", domain.ErrInvalidArgument)
	}
	cfg, err := t.configs.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	doc := map[string]any{
		"tenant_id":         cfg.TenantID,
		"company_name":      cfg.CompanyName,
		"company_phone":     cfg.CompanyPhone,
		"email_provider":    cfg.EmailProvider,
		"quiet_hours_start": cfg.QuietHoursStart,
		"quiet_hours_end":   cfg.QuietHoursEnd,
		"sms_configured":    cfg.TwilioSID != "" && cfg.TwilioAuthToken != "",
		"email_configured":  cfg.SendgridKey != "" || cfg.ResendKey != "",
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("op=agenthook.get_tenant_config: %w", err)
	}
	return string(b), nil
}

// generateContentTool renders message content through the normal generation
// pipeline (template, LLM, fallback).
type generateContentTool struct {
	generator domain.ContentGenerator
}

func (t *generateContentTool) Name() string { return "generate_content" }

func (t *generateContentTool) Describe() string {
	return "generate message content for an event; args: tenant_id, event_type, channel (email|sms), optional params object and recipient_name"
}

func (t *generateContentTool) Invoke(ctx domain.Context, args map[string]any) (string, error) {
	tenantID := stringArg(args, "tenant_id")
	eventType := stringArg(args, "event_type")
	if tenantID == "" || eventType == "" {
		return "", fmt.Errorf("op=agenthook.generate_content: %w: tenant_id and event_type are required", domain.ErrInvalidArgument)
	}
	channel := domain.Channel(stringArg(args, "channel"))
	if channel != domain.ChannelSMS {
		channel = domain.ChannelEmail
	}
	params, _ := args["params"].(map[string]any)
	content, err := t.generator.Generate(ctx, domain.GenerateInput{
		TenantID:      tenantID,
		EventType:     eventType,
		Channel:       channel,
		Params:        params,
		RecipientName: stringArg(args, "recipient_name"),
	})
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(map[string]string{
		"subject": content.Subject,
		"body":    content.BodyText,
		"source":  string(content.Source),
	})
	if err != nil {
		return "", fmt.Errorf("op=agenthook.generate_content: %w", err)
	}
	return string(b), nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
