package webhook

import "time"

// Delivery lifecycle states.
const (
	StatusPending   = "PENDING"
	StatusDelivered = "DELIVERED"
	StatusFailed    = "FAILED"
)

// Webhook is a registered endpoint subscribed to a set of event types.
// An empty EventTypes slice subscribes to everything.
type Webhook struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	EventTypes []string  `json:"eventTypes"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (w *Webhook) Subscribed(eventType string) bool {
	if len(w.EventTypes) == 0 {
		return true
	}
	for _, t := range w.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Delivery is one webhook-event pair. The payload is snapshotted at
// trigger time and never re-rendered on retry.
type Delivery struct {
	ID             string     `json:"id"`
	WebhookID      string     `json:"webhookId"`
	EventType      string     `json:"eventType"`
	Payload        []byte     `json:"payload"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"maxAttempts"`
	LastStatusCode *int       `json:"lastStatusCode,omitempty"`
	LastError      *string    `json:"lastError,omitempty"`
	ResponseBody   *string    `json:"responseBody,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	NextRetryAt    *time.Time `json:"nextRetryAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}
