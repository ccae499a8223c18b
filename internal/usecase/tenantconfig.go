// Package usecase wires the domain ports into the services the engine runs:
// tenant configuration, template rendering and outbound content generation.
package usecase

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// TenantConfigService materializes typed tenant configuration from the
// settings document on the tenants row and caches it for the process
// lifetime. Concurrent first reads may both hit the repository; the value
// they store is identical so last-write-wins is harmless.
type TenantConfigService struct {
	Tenants domain.TenantRepository

	cache sync.Map // tenantID -> domain.TenantConfig
}

// NewTenantConfigService constructs a TenantConfigService with the given repo.
func NewTenantConfigService(t domain.TenantRepository) *TenantConfigService {
	return &TenantConfigService{Tenants: t}
}

// Get returns the tenant's configuration, loading and caching it on first
// use. Unknown tenants surface domain.ErrTenantUnknown from the repository.
func (s *TenantConfigService) Get(ctx domain.Context, tenantID string) (domain.TenantConfig, error) {
	if v, ok := s.cache.Load(tenantID); ok {
		return v.(domain.TenantConfig), nil
	}
	tenant, err := s.Tenants.Get(ctx, tenantID)
	if err != nil {
		return domain.TenantConfig{}, err
	}
	cfg := configFromSettings(tenantID, tenant.Settings)
	s.cache.Store(tenantID, cfg)
	return cfg, nil
}

// Invalidate drops the cached configuration for a tenant so the next Get
// rereads the settings row.
func (s *TenantConfigService) Invalidate(tenantID string) {
	s.cache.Delete(tenantID)
}

func configFromSettings(tenantID string, settings map[string]any) domain.TenantConfig {
	str := func(key string) string {
		v, _ := settings[key].(string)
		return v
	}
	dsn := str("dms_connection_string")
	if dsn == "" {
		dsn = buildDMSConnection(settings)
	}
	return domain.TenantConfig{
		TenantID:         tenantID,
		TwilioSID:        str("twilio_sid"),
		TwilioAuthToken:  str("twilio_auth_token"),
		TwilioFromNumber: str("twilio_from_number"),
		SendgridKey:      str("sendgrid_key"),
		SendgridFrom:     str("sendgrid_from"),
		ResendKey:        str("resend_key"),
		ResendFrom:       str("resend_from"),
		EmailProvider:    str("email_provider"),
		QuietHoursStart:  str("quiet_hours_start"),
		QuietHoursEnd:    str("quiet_hours_end"),
		APIBaseURL:       str("api_base_url"),
		CompanyName:      str("company_name"),
		CompanyPhone:     str("company_phone"),
		EmailSignature:   str("email_signature"),
		DSN:              dsn,
	}
}

// buildDMSConnection assembles a connection string from the individual
// database settings some tenants carry instead of dms_connection_string.
// Without a database name there is nothing to connect to.
func buildDMSConnection(settings map[string]any) string {
	name := settingString(settings, "DatabaseName")
	if name == "" {
		return ""
	}
	host := settingString(settings, "DatabaseHost")
	if host == "" {
		host = "localhost"
	}
	port := settingString(settings, "DatabasePort")
	if port == "" {
		port = "5432"
	}
	user := settingString(settings, "DatabaseUser")
	if user == "" {
		user = "postgres"
	}
	password := settingString(settings, "DatabasePassword")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, name)
}

// settingString reads a settings value that may arrive as a JSON string or
// number (ports commonly do).
func settingString(settings map[string]any, key string) string {
	switch v := settings[key].(type) {
	case string:
		return v
	case float64:
		return strconv.Itoa(int(v))
	case int:
		return strconv.Itoa(v)
	}
	return ""
}
