package provider

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wrenchworks/dealercomm/internal/adapter/observability"
	"github.com/wrenchworks/dealercomm/internal/domain"
)

const resendBaseURL = "https://api.resend.com"

// Resend sends email through the Resend REST API.
type Resend struct {
	hc      *http.Client
	baseURL string
}

func NewResend() *Resend {
	return &Resend{hc: newHTTPClient(), baseURL: resendBaseURL}
}

func (r *Resend) Name() string { return "resend" }

type resendAttachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

type resendRequest struct {
	From        string             `json:"from"`
	To          []string           `json:"to"`
	Subject     string             `json:"subject"`
	Text        string             `json:"text"`
	HTML        string             `json:"html,omitempty"`
	CC          []string           `json:"cc,omitempty"`
	BCC         []string           `json:"bcc,omitempty"`
	ReplyTo     string             `json:"reply_to,omitempty"`
	Attachments []resendAttachment `json:"attachments,omitempty"`
}

func (r *Resend) Send(ctx domain.Context, cfg domain.TenantConfig, msg domain.Message) domain.SendResult {
	if cfg.ResendKey == "" {
		return fail(fmt.Errorf("op=resend.send: %w: resend_key not set", domain.ErrMissingCredentials))
	}
	from := msg.From
	if from == "" {
		from = cfg.ResendFrom
	}
	if from == "" {
		from = "no-reply@example.com"
	}

	payload := resendRequest{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.BodyText,
		HTML:    msg.BodyHTML,
		CC:      msg.CC,
		BCC:     msg.BCC,
		ReplyTo: msg.ReplyTo,
	}
	for _, a := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, resendAttachment{
			Filename:    a.Filename,
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			ContentType: attachmentType(a),
		})
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fail(fmt.Errorf("op=resend.send: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(b))
	if err != nil {
		return fail(fmt.Errorf("op=resend.send: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+cfg.ResendKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.hc.Do(req)
	if err != nil {
		observability.ObserveSend("resend", "email", "transport_error", time.Since(start))
		return fail(fmt.Errorf("op=resend.send: %w: %v", domain.ErrTransport, err))
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		observability.ObserveSend("resend", "email", outcomeFor(resp.StatusCode), time.Since(start))
		slog.Warn("resend rejected message",
			slog.Int("status", resp.StatusCode),
			slog.String("body", snippet(body)))
		return domain.SendResult{StatusCode: resp.StatusCode, Err: classify("resend.send", resp.StatusCode, body)}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		slog.Warn("resend response not parsable", slog.Any("error", err))
	}
	observability.ObserveSend("resend", "email", "sent", time.Since(start))
	slog.Debug("email sent", slog.String("provider", "resend"), slog.String("message_id", out.ID))
	return domain.SendResult{Success: true, MessageID: out.ID, StatusCode: resp.StatusCode}
}
