package provider

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// EmailFactory resolves which email provider serves a tenant. Adapters are
// stateless, so one instance of each is shared across tenants; credentials
// arrive per call through the tenant config.
type EmailFactory struct {
	providers map[string]domain.Provider
}

func NewEmailFactory() *EmailFactory {
	return &EmailFactory{providers: map[string]domain.Provider{
		"sendgrid": NewSendGrid(),
		"resend":   NewResend(),
	}}
}

// Register adds or replaces a named email adapter.
func (f *EmailFactory) Register(name string, p domain.Provider) {
	f.providers[strings.ToLower(name)] = p
}

// ForTenant picks the email provider for a tenant. An explicit
// email_provider setting wins; otherwise whichever API key is present
// decides, and tenants with neither fall back to SendGrid so the send
// surfaces a credential error instead of a config one.
func (f *EmailFactory) ForTenant(cfg domain.TenantConfig) (domain.Provider, error) {
	name := strings.ToLower(cfg.EmailProvider)
	if name == "" {
		switch {
		case cfg.ResendKey != "":
			name = "resend"
		case cfg.SendgridKey != "":
			name = "sendgrid"
		default:
			name = "sendgrid"
			slog.Warn("no email provider configured, defaulting to SendGrid",
				slog.String("tenant_id", cfg.TenantID))
		}
	}
	p, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("op=provider.for_tenant: %w: unsupported email provider %q", domain.ErrTenantMisconfigured, name)
	}
	return p, nil
}
