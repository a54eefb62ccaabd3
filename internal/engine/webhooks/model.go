package webhooks

import "klips/internal/engine/events"

type Webhook struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"organization_id"`
	Name            string        `json:"name"`
	URL             string        `json:"url"`
	Events          []events.Name `json:"events"`
	Active          bool          `json:"active"`
	Secret          string        `json:"-"`
	FailureCount    int           `json:"failure_count"`
	LastStatus      *int          `json:"last_status,omitempty"`
	LastTriggeredAt *int64        `json:"last_triggered_at,omitempty"`
	CreatedAt       int64         `json:"created_at"`
	UpdatedAt       int64         `json:"updated_at"`
}

// Subscribed reports whether the webhook listens for name.
func (w *Webhook) Subscribed(name events.Name) bool {
	for _, e := range w.Events {
		if e == name {
			return true
		}
	}
	return false
}

// RevealedWebhook is returned only by registration and rotation; it is the
// single place a signing secret leaves the service.
type RevealedWebhook struct {
	*Webhook
	Secret string `json:"secret"`
}

// Delivery is the audit record of one attempt-sequence. It is never updated.
type Delivery struct {
	ID              string      `json:"id"`
	WebhookID       string      `json:"webhook_id"`
	TenantID        string      `json:"-"`
	Event           events.Name `json:"event"`
	StatusCode      *int        `json:"status_code"`
	DurationMs      int64       `json:"duration_ms"`
	Success         bool        `json:"success"`
	Attempts        int         `json:"attempts"`
	Test            bool        `json:"test"`
	Error           string      `json:"error,omitempty"`
	ResponseSnippet string      `json:"response_snippet,omitempty"`
	CreatedAt       int64       `json:"created_at"`
}

// TestResult is the synchronous outcome of a test delivery.
type TestResult struct {
	DeliveryID      string `json:"delivery_id"`
	Success         bool   `json:"success"`
	StatusCode      *int   `json:"status_code"`
	DurationMs      int64  `json:"duration_ms"`
	ResponseSnippet string `json:"response_snippet"`
	Error           string `json:"error,omitempty"`
}

type RegisterInput struct {
	Name   string        `json:"name" validate:"required,min=1,max=100"`
	URL    string        `json:"url" validate:"required,http_url,max=2048"`
	Events []events.Name `json:"events" validate:"required,min=1,unique,dive,oneof=link.click link.created link.updated link.deleted domain.verified qr.scanned"`
}

// Patch carries a partial update; nil fields are left unchanged.
type Patch struct {
	Name   *string        `json:"name"`
	URL    *string        `json:"url"`
	Events *[]events.Name `json:"events"`
	Active *bool          `json:"active"`
}
