// Command seed loads tenant and message template fixtures into the control
// store. Reruns are safe: every row upserts on its natural key.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wrenchworks/dealercomm/internal/adapter/repo/postgres"
	"github.com/wrenchworks/dealercomm/internal/config"
)

type fixtures struct {
	Tenants   []tenantFixture   `yaml:"tenants"`
	Templates []templateFixture `yaml:"templates"`
}

type tenantFixture struct {
	TenantID string         `yaml:"tenant_id" validate:"required"`
	Status   string         `yaml:"status" validate:"required,oneof=Active Inactive"`
	Settings map[string]any `yaml:"settings"`
}

// templateFixture mirrors a message_templates row. An empty tenant_id seeds
// the global default for (event_type, communication_type).
type templateFixture struct {
	TenantID          string            `yaml:"tenant_id"`
	EventType         string            `yaml:"event_type" validate:"required"`
	CommunicationType string            `yaml:"communication_type" validate:"required,oneof=email sms"`
	SubjectTemplate   string            `yaml:"subject_template"`
	BodyTextTemplate  string            `yaml:"body_text_template" validate:"required"`
	BodyHTMLTemplate  string            `yaml:"body_html_template"`
	Variables         map[string]string `yaml:"variables"`
	AIEnhance         bool              `yaml:"ai_enhance"`
	AIInstructions    string            `yaml:"ai_instructions"`
	Version           int               `yaml:"version"`
}

func main() {
	file := flag.String("file", "deploy/fixtures.yaml", "fixtures file to load")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("read fixtures: %v", err)
	}
	var fx fixtures
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		log.Fatalf("parse fixtures: %v", err)
	}

	validate := validator.New()
	for i, t := range fx.Tenants {
		if err := validate.Struct(t); err != nil {
			log.Fatalf("tenant fixture %d: %v", i, err)
		}
	}
	for i, tpl := range fx.Templates {
		if err := validate.Struct(tpl); err != nil {
			log.Fatalf("template fixture %d (%s/%s): %v", i, tpl.EventType, tpl.CommunicationType, err)
		}
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.CentralDBURL, 4)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	for _, t := range fx.Tenants {
		settings := t.Settings
		if settings == nil {
			settings = map[string]any{}
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO tenants (tenant_id, status, settings)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id) DO UPDATE SET
				status = EXCLUDED.status,
				settings = EXCLUDED.settings`,
			t.TenantID, t.Status, settings)
		if err != nil {
			log.Fatalf("upsert tenant %s: %v", t.TenantID, err)
		}
	}

	for _, tpl := range fx.Templates {
		version := tpl.Version
		if version <= 0 {
			version = 1
		}
		var tenantID any
		if tpl.TenantID != "" {
			tenantID = tpl.TenantID
		}
		variables := tpl.Variables
		if variables == nil {
			variables = map[string]string{}
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO message_templates
				(tenant_id, event_type, communication_type, subject_template,
				 body_text_template, body_html_template, variables, ai_enhance,
				 ai_instructions, is_active, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10)
			ON CONFLICT ((COALESCE(tenant_id, '')), event_type, communication_type, version)
			DO UPDATE SET
				subject_template = EXCLUDED.subject_template,
				body_text_template = EXCLUDED.body_text_template,
				body_html_template = EXCLUDED.body_html_template,
				variables = EXCLUDED.variables,
				ai_enhance = EXCLUDED.ai_enhance,
				ai_instructions = EXCLUDED.ai_instructions,
				is_active = true`,
			tenantID, tpl.EventType, tpl.CommunicationType, tpl.SubjectTemplate,
			tpl.BodyTextTemplate, tpl.BodyHTMLTemplate, variables, tpl.AIEnhance,
			tpl.AIInstructions, version)
		if err != nil {
			log.Fatalf("upsert template %s/%s: %v", tpl.EventType, tpl.CommunicationType, err)
		}
	}

	fmt.Printf("seeded %d tenants and %d templates from %s\n", len(fx.Tenants), len(fx.Templates), *file)
}
