package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Source names the rule that produced an Entitlement.
type Source string

const (
	SourceUserOverride       Source = "user_override"
	SourceSubscriptionActive Source = "subscription_active"
	SourceDefaultFree        Source = "default_free"
)

// Subscription statuses that grant the paid plan.
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
)

// Account is the identity data the resolver needs about a user.
type Account struct {
	ID            uuid.UUID
	CreatedAt     time.Time
	PlanOverride  *string
	QuotaOverride *int
}

// SubscriptionState is the billing collaborator's view of a user's subscription.
type SubscriptionState struct {
	Status           string
	CurrentPeriodEnd *time.Time
}

// UserSource looks up accounts. It returns ErrUserNotFound for unknown ids.
type UserSource interface {
	GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error)
}

// SubscriptionSource looks up subscriptions. It returns ErrNoSubscription when absent.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionState, error)
}

// Entitlement is the plan and quota in effect for one user at one instant.
type Entitlement struct {
	Plan         PlanConfig
	MonthlyLimit int
	Source       Source
	// Anchor is the instant billing periods are computed from.
	Anchor time.Time
}

// Resolver applies the override → subscription → default priority chain.
type Resolver struct {
	users   UserSource
	subs    SubscriptionSource
	catalog *Catalog
}

func NewResolver(users UserSource, subs SubscriptionSource, catalog *Catalog) *Resolver {
	return &Resolver{users: users, subs: subs, catalog: catalog}
}

// Resolve returns the user's current entitlement. Identity lookup failures are
// returned as-is; they are never downgraded to the default plan.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (*Entitlement, error) {
	acct, err := r.users.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", userID, err)
	}

	if acct.PlanOverride != nil && *acct.PlanOverride != "" {
		key, ok := r.catalog.Parse(*acct.PlanOverride)
		if !ok {
			return nil, fmt.Errorf("user %s has unknown plan override %q", userID, *acct.PlanOverride)
		}
		plan, _ := r.catalog.Get(key)
		limit := plan.MonthlyLimit
		if acct.QuotaOverride != nil && *acct.QuotaOverride >= 0 {
			limit = *acct.QuotaOverride
		}
		return &Entitlement{Plan: plan, MonthlyLimit: limit, Source: SourceUserOverride, Anchor: acct.CreatedAt}, nil
	}

	sub, err := r.subs.GetSubscription(ctx, userID)
	switch {
	case errors.Is(err, ErrNoSubscription):
	case err != nil:
		return nil, fmt.Errorf("looking up subscription for %s: %w", userID, err)
	case sub.Status == SubscriptionActive || sub.Status == SubscriptionTrialing:
		paid := r.catalog.Paid()
		return &Entitlement{Plan: paid, MonthlyLimit: paid.MonthlyLimit, Source: SourceSubscriptionActive, Anchor: acct.CreatedAt}, nil
	default:
		slog.Debug("usage: subscription not active, using default plan", "user_id", userID, "status", sub.Status)
	}

	def := r.catalog.Default()
	return &Entitlement{Plan: def, MonthlyLimit: def.MonthlyLimit, Source: SourceDefaultFree, Anchor: acct.CreatedAt}, nil
}
