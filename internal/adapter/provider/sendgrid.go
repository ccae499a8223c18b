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

const sendgridBaseURL = "https://api.sendgrid.com"

// SendGrid sends email through the v3 mail send API.
type SendGrid struct {
	hc      *http.Client
	baseURL string
}

func NewSendGrid() *SendGrid {
	return &SendGrid{hc: newHTTPClient(), baseURL: sendgridBaseURL}
}

func (s *SendGrid) Name() string { return "sendgrid" }

type sgAddress struct {
	Email string `json:"email"`
}

type sgPersonalization struct {
	To  []sgAddress `json:"to"`
	CC  []sgAddress `json:"cc,omitempty"`
	BCC []sgAddress `json:"bcc,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgAttachment struct {
	Content  string `json:"content"`
	Type     string `json:"type,omitempty"`
	Filename string `json:"filename"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	ReplyTo          *sgAddress          `json:"reply_to,omitempty"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	Attachments      []sgAttachment      `json:"attachments,omitempty"`
}

func (s *SendGrid) Send(ctx domain.Context, cfg domain.TenantConfig, msg domain.Message) domain.SendResult {
	if cfg.SendgridKey == "" {
		return fail(fmt.Errorf("op=sendgrid.send: %w: sendgrid_key not set", domain.ErrMissingCredentials))
	}
	from := msg.From
	if from == "" {
		from = cfg.SendgridFrom
	}
	if from == "" {
		from = "no-reply@example.com"
	}

	mail := sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: msg.To}}}},
		From:             sgAddress{Email: from},
		Subject:          msg.Subject,
	}
	for _, cc := range msg.CC {
		mail.Personalizations[0].CC = append(mail.Personalizations[0].CC, sgAddress{Email: cc})
	}
	for _, bcc := range msg.BCC {
		mail.Personalizations[0].BCC = append(mail.Personalizations[0].BCC, sgAddress{Email: bcc})
	}
	if msg.ReplyTo != "" {
		mail.ReplyTo = &sgAddress{Email: msg.ReplyTo}
	}
	// SendGrid requires text/plain before text/html.
	if msg.BodyText != "" {
		mail.Content = append(mail.Content, sgContent{Type: "text/plain", Value: msg.BodyText})
	}
	if msg.BodyHTML != "" {
		mail.Content = append(mail.Content, sgContent{Type: "text/html", Value: msg.BodyHTML})
	}
	for _, a := range msg.Attachments {
		mail.Attachments = append(mail.Attachments, sgAttachment{
			Content:  base64.StdEncoding.EncodeToString(a.Content),
			Type:     attachmentType(a),
			Filename: a.Filename,
		})
	}

	b, err := json.Marshal(mail)
	if err != nil {
		return fail(fmt.Errorf("op=sendgrid.send: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(b))
	if err != nil {
		return fail(fmt.Errorf("op=sendgrid.send: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+cfg.SendgridKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.hc.Do(req)
	if err != nil {
		observability.ObserveSend("sendgrid", "email", "transport_error", time.Since(start))
		return fail(fmt.Errorf("op=sendgrid.send: %w: %v", domain.ErrTransport, err))
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		observability.ObserveSend("sendgrid", "email", outcomeFor(resp.StatusCode), time.Since(start))
		slog.Warn("sendgrid rejected message",
			slog.Int("status", resp.StatusCode),
			slog.String("body", snippet(body)))
		return domain.SendResult{StatusCode: resp.StatusCode, Err: classify("sendgrid.send", resp.StatusCode, body)}
	}

	observability.ObserveSend("sendgrid", "email", "sent", time.Since(start))
	id := resp.Header.Get("X-Message-Id")
	slog.Debug("email sent", slog.String("provider", "sendgrid"), slog.String("message_id", id))
	return domain.SendResult{Success: true, MessageID: id, StatusCode: resp.StatusCode}
}
