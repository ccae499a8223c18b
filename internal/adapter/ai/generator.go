// Package ai turns queued communication events into message content. The
// generator tries a stored template first, then the event prompt table
// through an OpenAI-compatible LLM, and finally deterministic fallback
// bodies, so content generation itself never fails a job.
package ai

import (
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wrenchworks/dealercomm/internal/domain"
	"github.com/wrenchworks/dealercomm/internal/usecase"
)

// TemplateSource is the slice of the template renderer the generator needs.
type TemplateSource interface {
	Load(ctx domain.Context, tenantID, eventType string, ch domain.Channel) (domain.Template, bool, error)
}

// Generator implements domain.ContentGenerator.
type Generator struct {
	templates TemplateSource
	llm       domain.LLMClient
}

// NewGenerator builds the generator. Either dependency may be nil: without
// templates every event goes through the prompt table, without an LLM the
// prompt table degrades to the fallback bodies.
func NewGenerator(templates TemplateSource, llm domain.LLMClient) *Generator {
	return &Generator{templates: templates, llm: llm}
}

func (g *Generator) Generate(ctx domain.Context, in domain.GenerateInput) (domain.Content, error) {
	tracer := otel.Tracer("ai")
	ctx, span := tracer.Start(ctx, "content.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_type", in.EventType),
		attribute.String("channel", string(in.Channel)),
	)

	if g.templates != nil {
		tpl, found, err := g.templates.Load(ctx, in.TenantID, in.EventType, in.Channel)
		switch {
		case err != nil:
			slog.Warn("template lookup failed, using prompt table",
				slog.String("tenant_id", in.TenantID),
				slog.String("event_type", in.EventType),
				slog.Any("error", err))
		case found:
			content := usecase.RenderTemplate(tpl, in.Params)
			if in.SubjectOverride != "" {
				content.Subject = in.SubjectOverride
			}
			if tpl.AIEnhance && g.llm != nil {
				if enhanced, ok := g.enhance(ctx, tpl, content, in); ok {
					span.SetAttributes(attribute.String("source", string(enhanced.Source)))
					return enhanced, nil
				}
			}
			span.SetAttributes(attribute.String("source", string(content.Source)))
			return content, nil
		}
	}

	content := g.fromPrompts(ctx, in)
	span.SetAttributes(attribute.String("source", string(content.Source)))
	return content, nil
}

// fromPrompts runs the event prompt table, degrading to the deterministic
// fallback body on any LLM failure.
func (g *Generator) fromPrompts(ctx domain.Context, in domain.GenerateInput) domain.Content {
	prompt := promptFor(in.EventType)

	subject := prompt.DefaultSubject
	if in.SubjectOverride != "" {
		subject = in.SubjectOverride
	}
	if wo := paramString(in.Params, "work_order_number"); wo != "" && strings.Contains(strings.ToLower(in.EventType), "work_order") {
		subject = subject + " - #" + wo
	}

	if g.llm != nil {
		system := substituteCompany(prompt.System, in.CompanyName)
		body, err := g.llm.ChatCompletion(ctx, system, buildUserPrompt(in))
		if err == nil && body != "" {
			return domain.Content{Subject: subject, BodyText: body, Source: domain.SourceLLM}
		}
		if err != nil {
			slog.Error("content generation failed, using fallback",
				slog.String("event_type", in.EventType),
				slog.Any("error", err))
		}
	}

	return domain.Content{Subject: subject, BodyText: fallbackBody(in), Source: domain.SourceFallback}
}

// enhance rewrites a rendered template body through the LLM. The template's
// ai_instructions ride below the rewrite prompt. Any failure keeps the plain
// rendering.
func (g *Generator) enhance(ctx domain.Context, tpl domain.Template, rendered domain.Content, in domain.GenerateInput) (domain.Content, bool) {
	system := substituteCompany(enhanceSystemPrompt, in.CompanyName)
	if tpl.AIInstructions != "" {
		system = system + "\n" + tpl.AIInstructions
	}

	body, err := g.llm.ChatCompletion(ctx, system, rendered.BodyText)
	if err != nil || body == "" {
		slog.Warn("template enhancement failed, keeping plain rendering",
			slog.String("event_type", in.EventType),
			slog.Any("error", err))
		return domain.Content{}, false
	}

	out := rendered
	out.BodyText = body
	// The rewrite invalidated any derived markup.
	out.BodyHTML = strings.ReplaceAll(html.EscapeString(body), "\n", "<br>\n")
	out.Source = domain.SourceLLM
	return out, true
}

func substituteCompany(system, companyName string) string {
	if companyName == "" {
		return system
	}
	return strings.ReplaceAll(system, companyPlaceholder, companyName)
}

// buildUserPrompt flattens the message params into "Key: Value" context
// lines. tenant_id and empty values are skipped; keys are sorted so prompts
// are stable run to run.
func buildUserPrompt(in domain.GenerateInput) string {
	parts := make([]string, 0, len(in.Params)+1)
	if in.CompanyName != "" {
		parts = append(parts, "Company Name: "+in.CompanyName)
	}

	keys := make([]string, 0, len(in.Params))
	for key := range in.Params {
		if key == "tenant_id" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value, ok := promptValue(in.Params[key])
		if !ok {
			continue
		}
		parts = append(parts, titleKey(key)+": "+value)
	}

	if len(parts) == 0 {
		name := in.RecipientName
		if name == "" {
			name = "Customer"
		}
		parts = append(parts, "Customer name: "+name)
	}
	return strings.Join(parts, "\n")
}

// promptValue formats a param for the prompt. Zero values carry no context,
// so nil, empty strings, zero numbers, and false are all dropped.
func promptValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		return "true", t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), t != 0
	case int:
		return strconv.Itoa(t), t != 0
	case int64:
		return strconv.FormatInt(t, 10), t != 0
	default:
		s := fmt.Sprint(t)
		return s, s != ""
	}
}

// titleKey turns snake_case payload keys into prompt labels, for example
// work_order_number into Work Order Number.
func titleKey(key string) string {
	words := strings.Split(strings.ReplaceAll(key, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
