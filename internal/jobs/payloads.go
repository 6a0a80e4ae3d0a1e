package jobs

// Payloads stay ID-based; the worker reloads the registrant so edits made
// between enqueue and execution are picked up.

type Attachment struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"contentType"`
	ContentBase64 string `json:"content"`
}

type MailPayload struct {
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text,omitempty"`
	HTML        string       `json:"html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Reasons an acknowledgement email goes out.
const (
	ReasonCreated = "created"
	ReasonResend  = "resend"
	ReasonUpgrade = "upgrade"
)

type AcknowledgePayload struct {
	RegistrantID string `json:"registrantId"`
	Role         string `json:"role"`
	Reason       string `json:"reason"`
	FrontendBase string `json:"frontendBase,omitempty"`
}

type TicketPayload struct {
	RegistrantID string `json:"registrantId"`
	Role         string `json:"role"`
}

type StatusNotifyPayload struct {
	RegistrantID string `json:"registrantId"`
	Role         string `json:"role"`
	Status       string `json:"status"`
}
