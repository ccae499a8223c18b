package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wrenchworks/dealercomm/internal/adapter/observability"
	"github.com/wrenchworks/dealercomm/internal/domain"
)

// ConfigSource resolves a tenant's runtime configuration. Backed by the
// tenant config service and stubbed in tests.
type ConfigSource interface {
	Get(ctx domain.Context, tenantID string) (domain.TenantConfig, error)
}

// EmailSelector picks the email provider adapter serving a tenant.
type EmailSelector interface {
	ForTenant(cfg domain.TenantConfig) (domain.Provider, error)
}

// HandlerFunc executes one claimed job. The returned note lands in the job
// row on completion so skip reasons stay visible to operators; a returned
// error routes the job through the retry policy.
type HandlerFunc func(ctx domain.Context, job domain.Job, cfg domain.TenantConfig) (note string, err error)

// Handlers owns the per-type job executors and the dependencies they share.
type Handlers struct {
	Configs   ConfigSource
	Gateway   domain.TenantDataGateway
	Queue     domain.QueueRepository
	Generator domain.ContentGenerator
	SMS       domain.Provider
	Email     EmailSelector
	Throttle  domain.SendThrottle
	Health    *observability.ProviderHealthMonitor
}

// For returns the executor for a job type.
func (h *Handlers) For(t domain.JobType) (HandlerFunc, bool) {
	switch t {
	case domain.JobSendEmail:
		return h.sendEmail, true
	case domain.JobSendSMS:
		return h.sendSMS, true
	case domain.JobNotifyCustomer:
		return h.notifyCustomer, true
	case domain.JobProcessQueueItem:
		return h.processQueueItem, true
	}
	return nil, false
}

// throttleDeferReason is what operators see in last_error when the send
// throttle pushes a job back.
const throttleDeferReason = "Deferred by send throttle"

// deferSendError asks the processor to put the job back without consuming a
// retry. The send throttle produces it when a tenant is over rate.
type deferSendError struct{ after time.Duration }

func (e *deferSendError) Error() string { return throttleDeferReason }

// allowSend consults the send throttle. A denial comes back as a
// deferSendError; a nil throttle always allows.
func (h *Handlers) allowSend(ctx domain.Context, tenantID string, ch domain.Channel) error {
	if h.Throttle == nil {
		return nil
	}
	ok, retryAfter, _ := h.Throttle.Allow(ctx, tenantID, ch)
	if ok {
		return nil
	}
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return &deferSendError{after: retryAfter}
}

// noteSend feeds the provider health monitor when one is configured.
func (h *Handlers) noteSend(provider string, ok bool) {
	if h.Health != nil {
		h.Health.RecordAttempt(provider, ok)
	}
}

func (h *Handlers) sendEmail(ctx domain.Context, job domain.Job, cfg domain.TenantConfig) (string, error) {
	to := payloadString(job.Payload, "to")
	if to == "" {
		return "", fmt.Errorf("op=handler.send_email: %w: email payload missing %q", domain.ErrInvalidArgument, "to")
	}
	subject := payloadString(job.Payload, "subject")
	if subject == "" {
		return "", fmt.Errorf("op=handler.send_email: %w: email payload missing %q", domain.ErrInvalidArgument, "subject")
	}
	body := payloadString(job.Payload, "body")
	if body == "" {
		return "", fmt.Errorf("op=handler.send_email: %w: email payload missing %q", domain.ErrInvalidArgument, "body")
	}

	if err := h.allowSend(ctx, job.TenantID, domain.ChannelEmail); err != nil {
		return "", err
	}
	provider, err := h.Email.ForTenant(cfg)
	if err != nil {
		return "", err
	}
	res := provider.Send(ctx, cfg, domain.Message{
		Channel:  domain.ChannelEmail,
		To:       to,
		From:     payloadString(job.Payload, "from"),
		Subject:  subject,
		BodyText: body,
	})
	h.noteSend(provider.Name(), res.Success)
	if !res.Success {
		return "", sendFailure("send_email", provider.Name(), res)
	}
	return "", nil
}

func (h *Handlers) sendSMS(ctx domain.Context, job domain.Job, cfg domain.TenantConfig) (string, error) {
	to := payloadString(job.Payload, "to")
	if to == "" {
		return "", fmt.Errorf("op=handler.send_sms: %w: sms payload missing %q", domain.ErrInvalidArgument, "to")
	}
	body := payloadString(job.Payload, "body")
	if body == "" {
		return "", fmt.Errorf("op=handler.send_sms: %w: sms payload missing %q", domain.ErrInvalidArgument, "body")
	}
	from := payloadString(job.Payload, "from")
	if from == "" {
		from = cfg.TwilioFromNumber
	}
	if from == "" {
		return "", fmt.Errorf("op=handler.send_sms: %w: sms payload missing %q and tenant has no default number", domain.ErrInvalidArgument, "from")
	}

	if err := h.allowSend(ctx, job.TenantID, domain.ChannelSMS); err != nil {
		return "", err
	}
	res := h.SMS.Send(ctx, cfg, domain.Message{
		Channel:  domain.ChannelSMS,
		To:       to,
		From:     from,
		BodyText: body,
	})
	h.noteSend(h.SMS.Name(), res.Success)
	if !res.Success {
		return "", sendFailure("send_sms", h.SMS.Name(), res)
	}
	return "", nil
}

// notifyCustomer resolves the channel from the customer record. An explicit
// contact preference is honored strictly even when that contact point is
// missing; only customers without a preference fall to whichever contact
// point exists, then to the payload's fallback_channel.
func (h *Handlers) notifyCustomer(ctx domain.Context, job domain.Job, cfg domain.TenantConfig) (string, error) {
	customerID := payloadString(job.Payload, "customer_id")
	if customerID == "" {
		return "", fmt.Errorf("op=handler.notify_customer: %w: notify_customer job missing customer_id", domain.ErrInvalidArgument)
	}
	body := payloadString(job.Payload, "body")
	if body == "" {
		return "", fmt.Errorf("op=handler.notify_customer: %w: notify_customer job missing body", domain.ErrInvalidArgument)
	}

	contact, err := h.Gateway.CustomerContact(ctx, job.TenantID, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("op=handler.notify_customer: %w: customer %s not found for tenant %s",
				domain.ErrNotFound, customerID, job.TenantID)
		}
		return "", err
	}

	preference := contact.ContactPreference
	if preference == "" {
		preference = payloadString(job.Payload, "preferred_channel")
	}
	if contact.DoNotContact || preference == "do_not_contact" {
		return "Customer opted out of communications", nil
	}

	channel := domain.Channel(preference)
	if channel != domain.ChannelSMS && channel != domain.ChannelEmail {
		channel = contact.PreferredChannel()
		if channel == "" {
			channel = domain.Channel(payloadString(job.Payload, "fallback_channel"))
		}
		if channel == "" {
			channel = domain.ChannelEmail
		}
	}

	if channel == domain.ChannelSMS {
		if contact.Phone == "" {
			return "", fmt.Errorf("op=handler.notify_customer: %w: customer is missing a phone number", domain.ErrInvalidArgument)
		}
		if err := h.allowSend(ctx, job.TenantID, domain.ChannelSMS); err != nil {
			return "", err
		}
		res := h.SMS.Send(ctx, cfg, domain.Message{
			Channel:  domain.ChannelSMS,
			To:       contact.Phone,
			From:     payloadString(job.Payload, "from"),
			BodyText: body,
		})
		h.noteSend(h.SMS.Name(), res.Success)
		if !res.Success {
			return "", sendFailure("notify_customer", h.SMS.Name(), res)
		}
		return "", nil
	}

	if contact.Email == "" {
		return "", fmt.Errorf("op=handler.notify_customer: %w: customer is missing an email address", domain.ErrInvalidArgument)
	}
	subject := payloadString(job.Payload, "subject")
	if subject == "" {
		subject = "Notification"
	}
	if err := h.allowSend(ctx, job.TenantID, domain.ChannelEmail); err != nil {
		return "", err
	}
	provider, err := h.Email.ForTenant(cfg)
	if err != nil {
		return "", err
	}
	res := provider.Send(ctx, cfg, domain.Message{
		Channel:  domain.ChannelEmail,
		To:       contact.Email,
		Subject:  subject,
		BodyText: body,
	})
	h.noteSend(provider.Name(), res.Success)
	if !res.Success {
		return "", sendFailure("notify_customer", provider.Name(), res)
	}
	return "", nil
}

// processQueueItem drains one communication_queue row: generate content,
// attach the receipt PDF when the event calls for one, send, and record the
// outcome on the row. Row-level failures are also returned so the job shares
// the retry policy.
func (h *Handlers) processQueueItem(ctx domain.Context, job domain.Job, cfg domain.TenantConfig) (string, error) {
	itemID := payloadString(job.Payload, "queue_item_id")
	if itemID == "" {
		return "", fmt.Errorf("op=handler.process_queue_item: %w: process_queue_item job missing queue_item_id", domain.ErrInvalidArgument)
	}
	item, err := h.Queue.Get(ctx, itemID)
	if err != nil {
		return "", err
	}
	if item.Status == domain.QueueSent {
		// A retried job whose previous attempt crashed between the row
		// update and the job update must not send twice.
		return "Queue item already sent", nil
	}

	if item.Recipient.Email == "" {
		ferr := fmt.Errorf("op=handler.process_queue_item: %w: no email address in recipient_address", domain.ErrInvalidArgument)
		h.failQueueItem(ctx, item.ID, ferr)
		return "", ferr
	}

	params := item.MessageParams
	if params == nil {
		params = map[string]any{}
	}

	// The queue row's tenant_id is the platform UUID; message_params carries
	// the short tenant id the config and gateway layers key on.
	tenantID := payloadString(params, "tenant_id")
	if tenantID == "" {
		tenantID = item.TenantID
	}
	if tenantID != job.TenantID {
		if cfg, err = h.Configs.Get(ctx, tenantID); err != nil {
			return "", err
		}
	}

	wo := payloadString(params, "work_order_number")
	if wo != "" {
		info, err := h.Gateway.WorkOrderEquipment(ctx, tenantID, wo)
		switch {
		case err == nil:
			params["equipment_model"] = info.Model
			params["serial_number"] = info.SerialNumber
			params["manufacturer"] = info.Manufacturer
			params["year"] = info.Year
			params["service_description"] = info.ServiceDescription
			slog.Info("enriched queue item with equipment info",
				slog.String("work_order_number", wo),
				slog.String("equipment_model", info.Model))
		case !errors.Is(err, domain.ErrNotFound):
			slog.Warn("equipment lookup failed, continuing without it",
				slog.String("work_order_number", wo),
				slog.Any("error", err))
		}
	}
	if cfg.CompanyName != "" && payloadString(params, "company_name") == "" {
		params["company_name"] = cfg.CompanyName
	}
	if cfg.EmailSignature != "" && payloadString(params, "email_signature") == "" {
		params["email_signature"] = cfg.EmailSignature
	}

	content, err := h.Generator.Generate(ctx, domain.GenerateInput{
		TenantID:        tenantID,
		EventType:       item.EventType,
		Channel:         domain.ChannelEmail,
		Params:          params,
		RecipientName:   item.Recipient.Name,
		SubjectOverride: item.Subject,
		CompanyName:     cfg.CompanyName,
		EmailSignature:  cfg.EmailSignature,
	})
	if err != nil {
		h.failQueueItem(ctx, item.ID, err)
		return "", err
	}

	var attachments []domain.Attachment
	if item.EventType == "work_order_receipt" && wo != "" {
		pdf, err := h.Gateway.SalesReceiptPDF(ctx, tenantID, wo)
		if err != nil {
			slog.Warn("receipt attachment skipped",
				slog.String("work_order_number", wo),
				slog.Any("error", err))
		} else if len(pdf) > 0 {
			attachments = append(attachments, domain.Attachment{
				Filename:    fmt.Sprintf("sales_receipt_%s.pdf", wo),
				Content:     pdf,
				ContentType: "application/pdf",
			})
		}
	}

	if err := h.allowSend(ctx, tenantID, domain.ChannelEmail); err != nil {
		return "", err
	}
	provider, err := h.Email.ForTenant(cfg)
	if err != nil {
		h.failQueueItem(ctx, item.ID, err)
		return "", err
	}
	res := provider.Send(ctx, cfg, domain.Message{
		Channel:     domain.ChannelEmail,
		To:          item.Recipient.Email,
		Subject:     content.Subject,
		BodyText:    content.BodyText,
		BodyHTML:    content.BodyHTML,
		Attachments: attachments,
	})
	h.noteSend(provider.Name(), res.Success)
	if !res.Success {
		ferr := sendFailure("process_queue_item", provider.Name(), res)
		h.failQueueItem(ctx, item.ID, ferr)
		return "", ferr
	}

	if err := h.Queue.MarkSent(ctx, item.ID, res.MessageID); err != nil {
		slog.Error("queue item sent but status update failed",
			slog.String("item_id", item.ID),
			slog.Any("error", err))
	}
	observability.QueueItemProcessed("sent")
	slog.Info("queue item sent",
		slog.String("item_id", item.ID),
		slog.String("event_type", item.EventType),
		slog.String("message_id", res.MessageID))
	return "", nil
}

func (h *Handlers) failQueueItem(ctx domain.Context, itemID string, cause error) {
	if err := h.Queue.MarkFailed(ctx, itemID, cause.Error()); err != nil {
		slog.Error("queue item failure update failed",
			slog.String("item_id", itemID),
			slog.Any("error", err))
	}
	observability.QueueItemProcessed("failed")
}

// sendFailure normalizes a failed SendResult into an error even when the
// adapter reported no detail.
func sendFailure(op, provider string, res domain.SendResult) error {
	if res.Err != nil {
		return res.Err
	}
	return fmt.Errorf("op=handler.%s: provider %s returned status %d without detail", op, provider, res.StatusCode)
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func payloadBool(p map[string]any, key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
