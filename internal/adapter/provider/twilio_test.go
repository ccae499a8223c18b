package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

func twilioConfig() domain.TenantConfig {
	return domain.TenantConfig{
		TenantID:         "t1",
		TwilioSID:        "AC123",
		TwilioAuthToken:  "token",
		TwilioFromNumber: "+15550000001",
	}
}

func TestTwilio_Send(t *testing.T) {
	t.Run("posts the form and returns the sid", func(t *testing.T) {
		var gotPath, gotUser, gotPass string
		var gotForm url.Values
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotUser, gotPass, _ = r.BasicAuth()
			body, _ := io.ReadAll(r.Body)
			gotForm, _ = url.ParseQuery(string(body))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"sid":"SM900","status":"queued"}`))
		}))
		defer srv.Close()

		tw := &Twilio{hc: srv.Client(), baseURL: srv.URL}
		res := tw.Send(context.Background(), twilioConfig(), domain.Message{
			Channel:  domain.ChannelSMS,
			To:       "+15550009999",
			BodyText: "Your mower is ready for pickup.",
		})

		require.True(t, res.Success)
		assert.Equal(t, "SM900", res.MessageID)
		assert.Equal(t, http.StatusCreated, res.StatusCode)
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", gotPath)
		assert.Equal(t, "AC123", gotUser)
		assert.Equal(t, "token", gotPass)
		assert.Equal(t, "+15550009999", gotForm.Get("To"))
		assert.Equal(t, "+15550000001", gotForm.Get("From"))
		assert.Equal(t, "Your mower is ready for pickup.", gotForm.Get("Body"))
	})

	t.Run("message from number overrides the tenant default", func(t *testing.T) {
		var gotForm url.Values
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			gotForm, _ = url.ParseQuery(string(body))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"sid":"SM901"}`))
		}))
		defer srv.Close()

		tw := &Twilio{hc: srv.Client(), baseURL: srv.URL}
		res := tw.Send(context.Background(), twilioConfig(), domain.Message{
			To: "+15550009999", From: "+15550000002", BodyText: "hi",
		})

		require.True(t, res.Success)
		assert.Equal(t, "+15550000002", gotForm.Get("From"))
	})

	t.Run("missing credentials are terminal", func(t *testing.T) {
		tw := NewTwilio()
		res := tw.Send(context.Background(), domain.TenantConfig{}, domain.Message{To: "+15550009999", BodyText: "hi"})

		require.False(t, res.Success)
		assert.ErrorIs(t, res.Err, domain.ErrMissingCredentials)
		assert.False(t, res.Retryable())
	})

	t.Run("missing from number is terminal", func(t *testing.T) {
		cfg := twilioConfig()
		cfg.TwilioFromNumber = ""
		tw := NewTwilio()
		res := tw.Send(context.Background(), cfg, domain.Message{To: "+15550009999", BodyText: "hi"})

		require.False(t, res.Success)
		assert.ErrorIs(t, res.Err, domain.ErrMissingCredentials)
	})

	t.Run("missing destination is terminal", func(t *testing.T) {
		tw := NewTwilio()
		res := tw.Send(context.Background(), twilioConfig(), domain.Message{BodyText: "hi"})

		require.False(t, res.Success)
		assert.ErrorIs(t, res.Err, domain.ErrInvalidArgument)
		assert.False(t, res.Retryable())
	})

	t.Run("4xx rejection is not retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
		}))
		defer srv.Close()

		tw := &Twilio{hc: srv.Client(), baseURL: srv.URL}
		res := tw.Send(context.Background(), twilioConfig(), domain.Message{To: "bogus", BodyText: "hi"})

		require.False(t, res.Success)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.ErrorIs(t, res.Err, domain.ErrProviderRejected)
		assert.Contains(t, res.Err.Error(), "21211")
		assert.False(t, res.Retryable())
	})

	t.Run("429 is retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		tw := &Twilio{hc: srv.Client(), baseURL: srv.URL}
		res := tw.Send(context.Background(), twilioConfig(), domain.Message{To: "+15550009999", BodyText: "hi"})

		require.False(t, res.Success)
		assert.ErrorIs(t, res.Err, domain.ErrRateLimited)
		assert.True(t, res.Retryable())
	})

	t.Run("5xx is retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		tw := &Twilio{hc: srv.Client(), baseURL: srv.URL}
		res := tw.Send(context.Background(), twilioConfig(), domain.Message{To: "+15550009999", BodyText: "hi"})

		require.False(t, res.Success)
		assert.ErrorIs(t, res.Err, domain.ErrTransport)
		assert.True(t, res.Retryable())
	})

	t.Run("connection failures are transport errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		tw := &Twilio{hc: newHTTPClient(), baseURL: srv.URL}
		res := tw.Send(context.Background(), twilioConfig(), domain.Message{To: "+15550009999", BodyText: "hi"})

		require.False(t, res.Success)
		assert.ErrorIs(t, res.Err, domain.ErrTransport)
		assert.True(t, res.Retryable())
	})
}
