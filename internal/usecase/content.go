package usecase

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// templateTTL bounds how stale a cached template may get before the next
// render rereads the row. Seeding new templates takes effect within this
// window without a restart.
const templateTTL = 5 * time.Minute

// TemplateRenderer loads message templates (tenant row first, global row as
// fallback) and renders them with {{variable}} substitution.
type TemplateRenderer struct {
	Templates domain.TemplateRepository
	TTL       time.Duration

	mu    sync.RWMutex
	cache map[string]templateEntry
}

type templateEntry struct {
	tpl      domain.Template
	loadedAt time.Time
}

// NewTemplateRenderer constructs a TemplateRenderer with the given repo.
func NewTemplateRenderer(t domain.TemplateRepository) *TemplateRenderer {
	return &TemplateRenderer{Templates: t, TTL: templateTTL, cache: make(map[string]templateEntry)}
}

func templateKey(tenantID, eventType string, ch domain.Channel) string {
	tenant := tenantID
	if tenant == "" {
		tenant = "global"
	}
	return tenant + ":" + eventType + ":" + string(ch)
}

// Load returns the active template for (tenant, event, channel), falling
// back to the global default. The second return is false when neither
// exists; not-found is not an error because the generator has other paths.
func (r *TemplateRenderer) Load(ctx domain.Context, tenantID, eventType string, ch domain.Channel) (domain.Template, bool, error) {
	key := templateKey(tenantID, eventType, ch)
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && time.Since(entry.loadedAt) < r.TTL {
		return entry.tpl, true, nil
	}

	tpl, err := r.Templates.Lookup(ctx, tenantID, eventType, ch)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Template{}, false, nil
		}
		return domain.Template{}, false, fmt.Errorf("op=content.load_template: %w", err)
	}
	r.mu.Lock()
	r.cache[key] = templateEntry{tpl: tpl, loadedAt: time.Now()}
	r.mu.Unlock()
	return tpl, true, nil
}

// Render loads and renders in one step. found is false when no template
// covers the event.
func (r *TemplateRenderer) Render(ctx domain.Context, tenantID, eventType string, ch domain.Channel, params map[string]any) (domain.Content, bool, error) {
	tpl, found, err := r.Load(ctx, tenantID, eventType, ch)
	if err != nil || !found {
		return domain.Content{}, false, err
	}
	return RenderTemplate(tpl, params), true, nil
}

var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// RenderTemplate substitutes {{variable}} placeholders from params. Missing
// or nil variables render as empty strings. When the template has no HTML
// body, the text body is escaped and newline-converted so email clients get
// usable markup.
func RenderTemplate(tpl domain.Template, params map[string]any) domain.Content {
	subject := substituteVars(tpl.SubjectTemplate, params)
	bodyText := substituteVars(tpl.BodyTextTemplate, params)
	bodyHTML := substituteVars(tpl.BodyHTMLTemplate, params)
	if bodyHTML == "" && bodyText != "" {
		bodyHTML = strings.ReplaceAll(html.EscapeString(bodyText), "\n", "<br>\n")
	}
	return domain.Content{
		Subject:  subject,
		BodyText: bodyText,
		BodyHTML: bodyHTML,
		Source:   domain.SourceTemplate,
	}
}

func substituteVars(text string, params map[string]any) string {
	if text == "" {
		return ""
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := params[name]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}
