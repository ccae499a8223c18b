package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wrenchworks/dealercomm/internal/adapter/observability"
	"github.com/wrenchworks/dealercomm/internal/domain"
)

const twilioBaseURL = "https://api.twilio.com"

// Twilio sends SMS through the Twilio Messages API using the tenant's own
// account SID and auth token.
type Twilio struct {
	hc      *http.Client
	baseURL string
}

func NewTwilio() *Twilio {
	return &Twilio{hc: newHTTPClient(), baseURL: twilioBaseURL}
}

func (t *Twilio) Name() string { return "twilio" }

func (t *Twilio) Send(ctx domain.Context, cfg domain.TenantConfig, msg domain.Message) domain.SendResult {
	if cfg.TwilioSID == "" || cfg.TwilioAuthToken == "" {
		return fail(fmt.Errorf("op=twilio.send: %w: twilio_sid or twilio_auth_token not set", domain.ErrMissingCredentials))
	}
	if msg.To == "" {
		return fail(fmt.Errorf("op=twilio.send: %w: sms requires a destination phone number", domain.ErrInvalidArgument))
	}
	from := msg.From
	if from == "" {
		from = cfg.TwilioFromNumber
	}
	if from == "" {
		return fail(fmt.Errorf("op=twilio.send: %w: no from number in message or tenant settings", domain.ErrMissingCredentials))
	}

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", from)
	form.Set("Body", msg.BodyText)

	endpoint := t.baseURL + "/2010-04-01/Accounts/" + cfg.TwilioSID + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fail(fmt.Errorf("op=twilio.send: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(cfg.TwilioSID, cfg.TwilioAuthToken)

	start := time.Now()
	resp, err := t.hc.Do(req)
	if err != nil {
		observability.ObserveSend("twilio", "sms", "transport_error", time.Since(start))
		return fail(fmt.Errorf("op=twilio.send: %w: %v", domain.ErrTransport, err))
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		observability.ObserveSend("twilio", "sms", outcomeFor(resp.StatusCode), time.Since(start))
		slog.Warn("twilio rejected message",
			slog.Int("status", resp.StatusCode),
			slog.String("body", snippet(body)))
		return domain.SendResult{StatusCode: resp.StatusCode, Err: classify("twilio.send", resp.StatusCode, body)}
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		// Twilio accepted the message even if the body did not parse.
		slog.Warn("twilio response not parsable", slog.Any("error", err))
	}
	observability.ObserveSend("twilio", "sms", "sent", time.Since(start))
	slog.Debug("sms sent", slog.String("provider", "twilio"), slog.String("message_id", out.SID))
	return domain.SendResult{Success: true, MessageID: out.SID, StatusCode: resp.StatusCode}
}
