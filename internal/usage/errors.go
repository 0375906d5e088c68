package usage

import (
	"errors"
	"fmt"
)

// Error codes surfaced to HTTP clients.
const (
	CodeLimitExceeded = "LIMIT_EXCEEDED"
	CodeUsageError    = "USAGE_ERROR"
)

var (
	// ErrCeilingReached is returned by a CounterStore when used+amount would
	// exceed the limit. Nothing was written.
	ErrCeilingReached = errors.New("usage ceiling reached")

	// ErrUserNotFound is returned by a UserSource for unknown users.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoSubscription is returned by a SubscriptionSource when the user has no row.
	ErrNoSubscription = errors.New("subscription not found")

	ErrInvalidAmount = errors.New("amount must be at least 1")
)

// LimitExceededError means the user has no remaining allowance in the current period.
type LimitExceededError struct {
	Used    int
	Limit   int
	PlanKey PlanKey
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("usage limit exceeded: %d/%d messages used on plan %s", e.Used, e.Limit, e.PlanKey)
}

// UsageError wraps an unexpected counter store failure. No partial state was committed.
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage %s: %v", e.Op, e.Err)
}

func (e *UsageError) Unwrap() error { return e.Err }

// IsLimitExceeded reports whether err carries a *LimitExceededError.
func IsLimitExceeded(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le)
}
