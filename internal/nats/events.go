package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamUsage = "VATBOT_USAGE"
)

// Subject constants.
const (
	SubjectUsagePrefix = "vatbot.usage" // vatbot.usage.{event_type}
	SubjectUsageAll    = "vatbot.usage.>"
)

// Usage event types.
const (
	EventUsageConsumed = "consumed"
	EventLimitExceeded = "limit_exceeded"
)

// UsageEvent is published for every consumption attempt that reaches the counter store.
type UsageEvent struct {
	ID        uuid.UUID         `json:"id"`
	EventType string            `json:"event_type"`
	UserID    uuid.UUID         `json:"user_id"`
	PeriodKey string            `json:"period_key"`
	PlanKey   string            `json:"plan_key"`
	Amount    int               `json:"amount"`
	Used      int               `json:"used"`
	Limit     int               `json:"limit"`
	Meta      map[string]string `json:"meta,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
