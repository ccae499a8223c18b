// Package provider implements the delivery adapters for outbound messages:
// Twilio for SMS, SendGrid and Resend for email. Every adapter does exactly
// one wire call per Send and reports the outcome through the domain
// sentinels; retry policy belongs to the job pipeline, not here.
package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

const requestTimeout = 30 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   requestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// classify maps a non-success HTTP status onto the retry taxonomy: 429 is
// rate limiting, 5xx is a transient upstream fault, anything else 4xx means
// the provider rejected the request and a retry would repeat the rejection.
func classify(op string, status int, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("op=%s: %w: status 429: %s", op, domain.ErrRateLimited, snippet(body))
	case status >= 500:
		return fmt.Errorf("op=%s: %w: status %d: %s", op, domain.ErrTransport, status, snippet(body))
	default:
		return fmt.Errorf("op=%s: %w: status %d: %s", op, domain.ErrProviderRejected, status, snippet(body))
	}
}

// outcomeFor labels the metrics bucket for a non-success status.
func outcomeFor(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "transport_error"
	default:
		return "rejected"
	}
}

func snippet(b []byte) string {
	const max = 512
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

func fail(err error) domain.SendResult {
	return domain.SendResult{Err: err}
}

// attachmentType returns the declared content type, sniffing one from the
// payload bytes when the caller left it empty.
func attachmentType(a domain.Attachment) string {
	if a.ContentType != "" {
		return a.ContentType
	}
	return mimetype.Detect(a.Content).String()
}
