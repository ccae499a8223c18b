package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

type templateRepoStub struct {
	tpl     domain.Template
	err     error
	lookups int
}

func (s *templateRepoStub) Lookup(_ domain.Context, _ string, _ string, _ domain.Channel) (domain.Template, error) {
	s.lookups++
	if s.err != nil {
		return domain.Template{}, s.err
	}
	return s.tpl, nil
}

func TestRenderTemplate(t *testing.T) {
	t.Parallel()

	t.Run("substitutes placeholders", func(t *testing.T) {
		tpl := domain.Template{
			SubjectTemplate:  "Hi {{first_name}}",
			BodyTextTemplate: "Your {{ model }} is due. Balance: {{balance}}",
		}
		out := RenderTemplate(tpl, map[string]any{
			"first_name": "Ada",
			"model":      "Z960M",
			"balance":    412.5,
		})

		assert.Equal(t, "Hi Ada", out.Subject)
		assert.Equal(t, "Your Z960M is due. Balance: 412.5", out.BodyText)
		assert.Equal(t, domain.SourceTemplate, out.Source)
	})

	t.Run("missing variables render empty", func(t *testing.T) {
		tpl := domain.Template{BodyTextTemplate: "Hello {{first_name}}{{missing}}!"}
		out := RenderTemplate(tpl, map[string]any{"first_name": "Ada", "nil_value": nil})

		assert.Equal(t, "Hello Ada!", out.BodyText)
	})

	t.Run("derives html from text when absent", func(t *testing.T) {
		tpl := domain.Template{BodyTextTemplate: "Line one & two\nLine three"}
		out := RenderTemplate(tpl, nil)

		assert.Equal(t, "Line one &amp; two<br>\nLine three", out.BodyHTML)
	})

	t.Run("keeps an explicit html body", func(t *testing.T) {
		tpl := domain.Template{
			BodyTextTemplate: "plain {{x}}",
			BodyHTMLTemplate: "<p>rich {{x}}</p>",
		}
		out := RenderTemplate(tpl, map[string]any{"x": "v"})

		assert.Equal(t, "<p>rich v</p>", out.BodyHTML)
	})
}

func TestTemplateRenderer_Load(t *testing.T) {
	t.Parallel()

	t.Run("caches within the ttl", func(t *testing.T) {
		repo := &templateRepoStub{tpl: domain.Template{ID: "tpl-1", EventType: "seven_day_checkin"}}
		r := NewTemplateRenderer(repo)

		_, found, err := r.Load(context.Background(), "t1", "seven_day_checkin", domain.ChannelEmail)
		require.NoError(t, err)
		require.True(t, found)
		_, found, err = r.Load(context.Background(), "t1", "seven_day_checkin", domain.ChannelEmail)
		require.NoError(t, err)
		require.True(t, found)

		assert.Equal(t, 1, repo.lookups)
	})

	t.Run("expired entries reload", func(t *testing.T) {
		repo := &templateRepoStub{tpl: domain.Template{ID: "tpl-1"}}
		r := NewTemplateRenderer(repo)
		r.TTL = 0

		_, _, err := r.Load(context.Background(), "t1", "seven_day_checkin", domain.ChannelEmail)
		require.NoError(t, err)
		_, _, err = r.Load(context.Background(), "t1", "seven_day_checkin", domain.ChannelEmail)
		require.NoError(t, err)

		assert.Equal(t, 2, repo.lookups)
	})

	t.Run("absent templates are not an error", func(t *testing.T) {
		repo := &templateRepoStub{err: domain.ErrNotFound}
		r := NewTemplateRenderer(repo)

		_, found, err := r.Load(context.Background(), "t1", "unknown_event", domain.ChannelEmail)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("repo failures are wrapped", func(t *testing.T) {
		repo := &templateRepoStub{err: errors.New("connection reset")}
		r := NewTemplateRenderer(repo)

		_, _, err := r.Load(context.Background(), "t1", "seven_day_checkin", domain.ChannelEmail)
		require.ErrorContains(t, err, "op=content.load_template")
	})

	t.Run("render combines load and substitution", func(t *testing.T) {
		repo := &templateRepoStub{tpl: domain.Template{
			SubjectTemplate:  "Survey for {{work_order_number}}",
			BodyTextTemplate: "How did we do, {{first_name}}?",
		}}
		r := NewTemplateRenderer(repo)

		out, found, err := r.Render(context.Background(), "t1", "post_service_survey", domain.ChannelEmail,
			map[string]any{"work_order_number": "WO-1001", "first_name": "Ada"})
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "Survey for WO-1001", out.Subject)
		assert.Equal(t, "How did we do, Ada?", out.BodyText)
	})
}
