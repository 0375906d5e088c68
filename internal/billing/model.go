package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the locally mirrored state of a payment provider subscription.
type Subscription struct {
	UserID                 uuid.UUID
	Status                 string
	CurrentPeriodEnd       *time.Time
	ExternalCustomerID     string
	ExternalSubscriptionID string
	// EventCreatedAt orders webhook deliveries; older events never overwrite newer state.
	EventCreatedAt time.Time
	UpdatedAt      time.Time
}

// WebhookResult is the acknowledgement body returned to the provider.
type WebhookResult struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Processed bool   `json:"processed"`
	Message   string `json:"message,omitempty"`
}
