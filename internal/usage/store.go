package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Counter is the persisted usage for one user in one period.
type Counter struct {
	UserID    uuid.UUID `json:"-"`
	PeriodKey string    `json:"periodKey"`
	Used      int       `json:"used"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CounterLookup is the result of reading a counter: either Found with a
// value, or Absent because nothing was consumed in the period yet.
type CounterLookup struct {
	Counter Counter
	Found   bool
}

// UsedOrZero collapses Absent to zero usage.
func (l CounterLookup) UsedOrZero() int {
	if !l.Found {
		return 0
	}
	return l.Counter.Used
}

// CounterStore is the only component that mutates usage counters.
type CounterStore interface {
	// ConsumeAtomic adds amount to the (userID, periodKey) counter if the
	// result stays within limit, creating the counter when absent. The
	// check and the increment are one indivisible step. It returns
	// ErrCeilingReached without writing anything when the limit would be exceeded.
	ConsumeAtomic(ctx context.Context, userID uuid.UUID, periodKey string, amount, limit int) (*Counter, error)

	// Lookup reads the counter without creating it.
	Lookup(ctx context.Context, userID uuid.UUID, periodKey string) (CounterLookup, error)

	// History returns the user's counters, newest period first.
	History(ctx context.Context, userID uuid.UUID, limit int) ([]Counter, error)
}
