package usage

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/vatadvisor/usage/internal/metrics"
	inats "github.com/vatadvisor/usage/internal/nats"
)

// EntitlementResolver resolves a user's plan and quota.
type EntitlementResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*Entitlement, error)
}

// Publisher emits usage events to the ledger. Optional.
type Publisher interface {
	PublishUsageEvent(ctx context.Context, event inats.UsageEvent) error
}

// Snapshot is the read-only view of a user's usage in the current period.
type Snapshot struct {
	PlanKey      PlanKey   `json:"planKey"`
	MonthlyLimit int       `json:"monthlyLimit"`
	Used         int       `json:"used"`
	Remaining    int       `json:"remaining"`
	PercentUsed  int       `json:"percentUsed"`
	PeriodKey    string    `json:"periodKey"`
	PeriodStart  time.Time `json:"periodStart"`
	PeriodEnd    time.Time `json:"periodEnd"`
	Source       Source    `json:"source"`
}

// ConsumeResult is returned after a successful consumption.
type ConsumeResult struct {
	Used         int     `json:"used"`
	Remaining    int     `json:"remaining"`
	PlanKey      PlanKey `json:"planKey"`
	MonthlyLimit int     `json:"monthlyLimit"`
	PeriodKey    string  `json:"periodKey"`
}

// Service answers usage questions and is the sole enforcement point for consumption.
type Service struct {
	resolver  EntitlementResolver
	store     CounterStore
	publisher Publisher
	now       func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher enables usage event publishing.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService creates a new usage Service.
func NewService(resolver EntitlementResolver, store CounterStore, opts ...Option) *Service {
	s := &Service{
		resolver: resolver,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type current struct {
	ent    *Entitlement
	period PeriodInfo
	lookup CounterLookup
}

func (s *Service) load(ctx context.Context, userID uuid.UUID) (*current, error) {
	ent, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	period := PeriodFor(ent.Plan, ent.Anchor, s.now())

	lookup, err := s.store.Lookup(ctx, userID, period.PeriodKey)
	if err != nil {
		metrics.UsageStoreErrorsTotal.WithLabelValues("lookup").Inc()
		return nil, &UsageError{Op: "lookup", Err: err}
	}
	return &current{ent: ent, period: period, lookup: lookup}, nil
}

// exhausted reports whether no further consumption is possible in the period.
func (c *current) exhausted() bool {
	return c.period.Expired || c.lookup.UsedOrZero() >= c.ent.MonthlyLimit
}

func (c *current) limitExceeded() *LimitExceededError {
	return &LimitExceededError{Used: c.lookup.UsedOrZero(), Limit: c.ent.MonthlyLimit, PlanKey: c.ent.Plan.Key}
}

// GetUsageSnapshot returns the user's usage in the current period. It never writes.
func (s *Service) GetUsageSnapshot(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	cur, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	used := cur.lookup.UsedOrZero()
	limit := cur.ent.MonthlyLimit
	snap := &Snapshot{
		PlanKey:      cur.ent.Plan.Key,
		MonthlyLimit: limit,
		Used:         used,
		Remaining:    max(0, limit-used),
		PercentUsed:  percent(used, limit),
		PeriodKey:    cur.period.PeriodKey,
		PeriodStart:  cur.period.PeriodStart,
		PeriodEnd:    cur.period.PeriodEnd,
		Source:       cur.ent.Source,
	}
	if cur.period.Expired {
		snap.Remaining = 0
		snap.PercentUsed = 100
	}
	return snap, nil
}

// AssertWithinLimit is a cheap pre-flight check before expensive work. It can
// race with concurrent consumption; ConsumeUsage is the authoritative check.
func (s *Service) AssertWithinLimit(ctx context.Context, userID uuid.UUID) error {
	cur, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if cur.exhausted() {
		metrics.UsageRejectedTotal.WithLabelValues("preflight").Inc()
		return cur.limitExceeded()
	}
	return nil
}

// ConsumeUsage atomically charges amount units against the current period.
// It returns *LimitExceededError when the charge would exceed the plan limit
// and *UsageError when the counter store fails.
func (s *Service) ConsumeUsage(ctx context.Context, userID uuid.UUID, amount int, meta map[string]string) (*ConsumeResult, error) {
	if amount < 1 {
		return nil, ErrInvalidAmount
	}

	ent, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	period := PeriodFor(ent.Plan, ent.Anchor, s.now())

	if period.Expired {
		return nil, s.reject(ctx, userID, ent, period, amount, meta)
	}

	counter, err := s.store.ConsumeAtomic(ctx, userID, period.PeriodKey, amount, ent.MonthlyLimit)
	if errors.Is(err, ErrCeilingReached) {
		return nil, s.reject(ctx, userID, ent, period, amount, meta)
	}
	if err != nil {
		metrics.UsageStoreErrorsTotal.WithLabelValues("consume").Inc()
		return nil, &UsageError{Op: "consume", Err: err}
	}

	metrics.UsageConsumedTotal.WithLabelValues(string(ent.Plan.Key)).Add(float64(amount))

	res := &ConsumeResult{
		Used:         counter.Used,
		Remaining:    max(0, ent.MonthlyLimit-counter.Used),
		PlanKey:      ent.Plan.Key,
		MonthlyLimit: ent.MonthlyLimit,
		PeriodKey:    period.PeriodKey,
	}
	s.publish(ctx, inats.EventUsageConsumed, userID, ent, period, amount, counter.Used, meta)
	return res, nil
}

// History returns the user's past period counters, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit int) ([]Counter, error) {
	counters, err := s.store.History(ctx, userID, limit)
	if err != nil {
		return nil, &UsageError{Op: "history", Err: err}
	}
	return counters, nil
}

func (s *Service) reject(ctx context.Context, userID uuid.UUID, ent *Entitlement, period PeriodInfo, amount int, meta map[string]string) error {
	metrics.UsageRejectedTotal.WithLabelValues("consume").Inc()

	used := ent.MonthlyLimit
	lookup, err := s.store.Lookup(ctx, userID, period.PeriodKey)
	if err != nil {
		slog.Warn("usage: re-reading counter after rejection", "user_id", userID, "error", err)
	} else {
		used = lookup.UsedOrZero()
	}

	s.publish(ctx, inats.EventLimitExceeded, userID, ent, period, amount, used, meta)
	return &LimitExceededError{Used: used, Limit: ent.MonthlyLimit, PlanKey: ent.Plan.Key}
}

func (s *Service) publish(ctx context.Context, eventType string, userID uuid.UUID, ent *Entitlement, period PeriodInfo, amount, used int, meta map[string]string) {
	if s.publisher == nil {
		return
	}
	event := inats.UsageEvent{
		ID:        uuid.New(),
		EventType: eventType,
		UserID:    userID,
		PeriodKey: period.PeriodKey,
		PlanKey:   string(ent.Plan.Key),
		Amount:    amount,
		Used:      used,
		Limit:     ent.MonthlyLimit,
		Meta:      meta,
		Timestamp: s.now().UTC(),
	}
	if err := s.publisher.PublishUsageEvent(ctx, event); err != nil {
		slog.Warn("usage: publishing event", "event_type", eventType, "user_id", userID, "error", err)
	}
}

func percent(used, limit int) int {
	if limit <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(used) / float64(limit)))
}
