package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/vatadvisor/usage/internal/usage"
)

// MetadataUserID is the subscription metadata key carrying our user id.
// Checkout sessions set it when the subscription is created.
const MetadataUserID = "user_id"

// ErrUnmappedSubscription means a subscription event could not be tied to a user.
var ErrUnmappedSubscription = errors.New("subscription has no user mapping")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetSubscription implements usage.SubscriptionSource.
func (s *Service) GetSubscription(ctx context.Context, userID uuid.UUID) (*usage.SubscriptionState, error) {
	sub, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &usage.SubscriptionState{
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}, nil
}

// ApplySubscriptionEvent mirrors a customer.subscription.* event.
func (s *Service) ApplySubscriptionEvent(ctx context.Context, event stripe.Event) error {
	var ss stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
		return fmt.Errorf("unmarshaling subscription: %w", err)
	}

	userID, err := s.resolveUser(ctx, &ss)
	if err != nil {
		return err
	}

	sub := &Subscription{
		UserID:                 userID,
		Status:                 string(ss.Status),
		ExternalSubscriptionID: ss.ID,
		EventCreatedAt:         time.Unix(event.Created, 0).UTC(),
	}
	if ss.Customer != nil {
		sub.ExternalCustomerID = ss.Customer.ID
	}
	if ss.CurrentPeriodEnd > 0 {
		end := time.Unix(ss.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &end
	}
	if event.Type == stripe.EventTypeCustomerSubscriptionDeleted && sub.Status == "" {
		sub.Status = string(stripe.SubscriptionStatusCanceled)
	}

	changed, err := s.repo.Upsert(ctx, sub)
	if err != nil {
		return err
	}
	if !changed {
		slog.Info("billing: stale subscription event ignored",
			"event_id", event.ID, "subscription_id", ss.ID, "user_id", userID)
		return nil
	}

	slog.Info("billing: subscription updated",
		"event_id", event.ID,
		"subscription_id", ss.ID,
		"user_id", userID,
		"status", sub.Status,
	)
	return nil
}

func (s *Service) resolveUser(ctx context.Context, ss *stripe.Subscription) (uuid.UUID, error) {
	if raw, ok := ss.Metadata[MetadataUserID]; ok {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: invalid %s metadata %q", ErrUnmappedSubscription, MetadataUserID, raw)
		}
		return id, nil
	}

	existing, err := s.repo.GetByExternalID(ctx, ss.ID)
	if errors.Is(err, usage.ErrNoSubscription) {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnmappedSubscription, ss.ID)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return existing.UserID, nil
}
