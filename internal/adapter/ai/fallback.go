package ai

import (
	"fmt"
	"strconv"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// fallbackBody builds the deterministic message body used when no template
// exists and the LLM path is unavailable. It never fails.
func fallbackBody(in domain.GenerateInput) string {
	name := paramString(in.Params, "customer_name")
	if name == "" {
		name = paramString(in.Params, "first_name")
	}
	if name == "" {
		name = in.RecipientName
	}
	if name == "" {
		name = "Customer"
	}

	switch in.EventType {
	case "work_order_receipt":
		wo := paramString(in.Params, "work_order_number")
		if wo == "" {
			wo = "N/A"
		}
		return fmt.Sprintf(`Hello %s,

Thank you for your business. This email confirms receipt of your work order.

Work Order Number: %s

If you have any questions, please don't hesitate to contact us.

Best regards,
Your Service Team`, name, wo)

	case "sales_order_receipt":
		so := paramString(in.Params, "work_order_number")
		if so == "" {
			so = paramString(in.Params, "sales_order_number")
		}
		if so == "" {
			so = "N/A"
		}
		return fmt.Sprintf(`Hello %s,

Thank you for your purchase. This email confirms receipt of your sales order.

Sales Order Number: %s

If you have any questions, please don't hesitate to contact us.

Best regards,
Your Service Team`, name, so)

	case "service_reminder":
		model := paramString(in.Params, "model")
		if model == "" {
			model = "equipment"
		}
		return fmt.Sprintf(`Hello %s,

It's been a while since your last service appointment. Regular maintenance helps keep your %s running efficiently and prevents unexpected breakdowns.

We'd love to schedule a tune-up at your convenience. Please contact us to book an appointment.

Best regards,
Your Service Team`, name, model)

	case "appointment_confirmation":
		when := paramString(in.Params, "scheduled_start")
		if when == "" {
			when = paramString(in.Params, "appointment_time")
		}
		if when == "" {
			when = "your scheduled time"
		}
		return fmt.Sprintf(`Hello %s,

This is a confirmation of your upcoming service appointment scheduled for %s.

If you need to reschedule, please contact us as soon as possible.

We look forward to serving you!

Best regards,
Your Service Team`, name, when)

	case "invoice_reminder":
		invoice := paramString(in.Params, "invoice_id")
		if invoice == "" {
			invoice = paramString(in.Params, "invoice_number")
		}
		if invoice == "" {
			invoice = "N/A"
		}
		balance := paramString(in.Params, "balance")
		if balance == "" {
			balance = paramString(in.Params, "amount_due")
		}
		if balance == "" {
			balance = "N/A"
		}
		return fmt.Sprintf(`Hello %s,

This is a friendly reminder that invoice #%s with a balance of $%s is past due.

If you have any questions about this invoice or need to discuss payment options, please don't hesitate to contact us.

Thank you,
Your Service Team`, name, invoice, balance)

	default:
		return fmt.Sprintf(`Hello %s,

Thank you for being a valued customer.

If you have any questions, please contact us.

Best regards,
Your Service Team`, name)
	}
}

// paramString reads a payload value as text. Missing and nil keys are empty;
// JSON numbers format without a trailing exponent.
func paramString(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
