package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry matches the usage_events table schema.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	EventType string          `json:"event_type"`
	PeriodKey string          `json:"period_key"`
	PlanKey   string          `json:"plan_key"`
	Amount    int             `json:"amount"`
	Used      int             `json:"used"`
	Limit     int             `json:"limit"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
