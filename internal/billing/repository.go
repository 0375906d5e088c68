package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vatadvisor/usage/internal/usage"
)

type Repository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	GetByExternalID(ctx context.Context, externalSubscriptionID string) (*Subscription, error)
	// Upsert stores sub unless a newer event was already applied. It
	// reports whether the row changed.
	Upsert(ctx context.Context, sub *Subscription) (bool, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const subscriptionColumns = `user_id, status, current_period_end, COALESCE(external_customer_id, ''),
	COALESCE(external_subscription_id, ''), COALESCE(event_created_at, created_at), updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	sub := &Subscription{}
	err := row.Scan(&sub.UserID, &sub.Status, &sub.CurrentPeriodEnd, &sub.ExternalCustomerID,
		&sub.ExternalSubscriptionID, &sub.EventCreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// GetByUserID returns usage.ErrNoSubscription when the user never subscribed.
func (r *postgresRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, usage.ErrNoSubscription
		}
		return nil, fmt.Errorf("querying subscription by user: %w", err)
	}
	return sub, nil
}

func (r *postgresRepository) GetByExternalID(ctx context.Context, externalSubscriptionID string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_subscription_id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, externalSubscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, usage.ErrNoSubscription
		}
		return nil, fmt.Errorf("querying subscription by external id: %w", err)
	}
	return sub, nil
}

func (r *postgresRepository) Upsert(ctx context.Context, sub *Subscription) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Payment can complete before the user's first authenticated request.
	if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, sub.UserID); err != nil {
		return false, fmt.Errorf("ensuring user: %w", err)
	}

	query := `
		INSERT INTO subscriptions (user_id, status, current_period_end, external_customer_id,
			external_subscription_id, event_created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		ON CONFLICT (user_id) DO UPDATE SET
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			external_customer_id = COALESCE(EXCLUDED.external_customer_id, subscriptions.external_customer_id),
			external_subscription_id = COALESCE(EXCLUDED.external_subscription_id, subscriptions.external_subscription_id),
			event_created_at = EXCLUDED.event_created_at,
			updated_at = NOW()
		WHERE subscriptions.event_created_at IS NULL
			OR subscriptions.event_created_at <= EXCLUDED.event_created_at`

	tag, err := tx.Exec(ctx, query, sub.UserID, sub.Status, sub.CurrentPeriodEnd,
		sub.ExternalCustomerID, sub.ExternalSubscriptionID, sub.EventCreatedAt)
	if err != nil {
		return false, fmt.Errorf("upserting subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
