package ai

type eventPrompt struct {
	System         string
	DefaultSubject string
}

// eventPrompts maps event types to their generation prompt and default
// subject. The company placeholder literal inside the system prompts is
// replaced with the tenant's company name before the call.
var eventPrompts = map[string]eventPrompt{
	"work_order_receipt": {
		System: `You work for a power equipment sales and service company.
Write a brief email receipt for a work order.
Simply thank them for their business and reference the work order number.
Do NOT say the work is "complete" or "completed" - this is just a receipt.
Do NOT mention pickup, delivery, or equipment status.
End with "Best regards," followed by the company name on the next line.
Keep it to one or two sentences plus the sign-off.`,
		DefaultSubject: "Your Work Order Receipt",
	},

	"sales_order_receipt": {
		System: `You work for a power equipment sales and service company.
Write a brief email receipt for a sales order.
Simply thank them for their purchase and reference the sales order number.
Do NOT mention delivery status or shipping details unless provided.
End with "Best regards," followed by the company name on the next line.
Keep it to one or two sentences plus the sign-off.`,
		DefaultSubject: "Your Sales Order Receipt",
	},

	"service_reminder": {
		System: `You are a helpful customer service representative for an HVAC/home services company.
Write a friendly reminder email about scheduling a maintenance service.
Emphasize the benefits of regular maintenance (efficiency, longevity, preventing breakdowns).
Keep it brief and include a clear call-to-action to schedule.
Do not include a subject line - only the body content.`,
		DefaultSubject: "Time for Your Equipment Tune-Up",
	},

	"appointment_confirmation": {
		System: `You are a customer service representative for an HVAC/home services company.
Write a clear, helpful appointment confirmation email.
Include the appointment date/time prominently.
Provide any preparation instructions if relevant.
Include contact info for rescheduling.
Keep it concise and professional.
Do not include a subject line - only the body content.`,
		DefaultSubject: "Your Appointment Confirmation",
	},

	"invoice_reminder": {
		System: `You are a professional accounts receivable representative for an HVAC/home services company.
Write a polite, non-aggressive payment reminder email.
Be respectful and understanding - assume the best intentions.
Clearly state the invoice number, amount due, and how long it's been outstanding.
Offer to help if there are questions or concerns about the invoice.
Do not include a subject line - only the body content.`,
		DefaultSubject: "Friendly Payment Reminder",
	},

	"estimate_followup": {
		System: `You are a sales representative for an HVAC/home services company.
Write a friendly follow-up email about a recent estimate/quote.
Don't be pushy - offer to answer questions.
Mention you're available to discuss options or make adjustments.
Keep it brief and helpful.
Do not include a subject line - only the body content.`,
		DefaultSubject: "Following Up on Your Estimate",
	},

	"job_complete": {
		System: `You are a customer service representative for an HVAC/home services company.
Write a thank-you email after completing a service job.
Thank them for their business.
Briefly mention any warranty or follow-up care instructions.
Invite them to reach out with any questions.
Encourage them to leave a review if satisfied.
Do not include a subject line - only the body content.`,
		DefaultSubject: "Service Complete - Thank You!",
	},

	"default": {
		System: `You are a professional customer service representative for an HVAC/home services company.
Write a professional, friendly email based on the context provided.
Keep the tone warm but professional. Be concise.
Do not include a subject line - only the body content.`,
		DefaultSubject: "Message from Your Service Team",
	},
}

// companyPlaceholder is the literal the stock prompts carry so tenants can
// be substituted in.
const companyPlaceholder = "an HVAC/home services company"

// enhanceSystemPrompt drives the template rewrite path. Template
// ai_instructions are appended beneath it.
const enhanceSystemPrompt = `You are a professional customer service representative for an HVAC/home services company.
Rewrite the provided email body so it reads naturally and warmly.
Keep every fact, number, date, name, and link exactly as given.
Do not add offers, commitments, or new information.
Do not include a subject line - only the body content.`

func promptFor(eventType string) eventPrompt {
	if p, ok := eventPrompts[eventType]; ok {
		return p
	}
	return eventPrompts["default"]
}
