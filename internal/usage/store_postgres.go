package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// consumeSQL inserts or increments the counter in a single statement. The
// SELECT guard rejects a first consumption larger than the limit and the
// DO UPDATE guard rejects increments past it; either way no row is returned.
const consumeSQL = `
	INSERT INTO usage_counters (user_id, period_key, used)
	SELECT $1::uuid, $2::text, $3::int
	WHERE $3::int <= $4::int
	ON CONFLICT (user_id, period_key) DO UPDATE
	SET used = usage_counters.used + EXCLUDED.used,
	    updated_at = NOW()
	WHERE usage_counters.used + EXCLUDED.used <= $4::int
	RETURNING user_id, period_key, used, created_at, updated_at`

// PostgresStore keeps counters in the usage_counters table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ConsumeAtomic(ctx context.Context, userID uuid.UUID, periodKey string, amount, limit int) (*Counter, error) {
	var c Counter
	err := s.pool.QueryRow(ctx, consumeSQL, userID, periodKey, amount, limit).
		Scan(&c.UserID, &c.PeriodKey, &c.Used, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCeilingReached
		}
		return nil, fmt.Errorf("consuming usage: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, userID uuid.UUID, periodKey string) (CounterLookup, error) {
	var c Counter
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, period_key, used, created_at, updated_at
		 FROM usage_counters WHERE user_id = $1 AND period_key = $2`, userID, periodKey,
	).Scan(&c.UserID, &c.PeriodKey, &c.Used, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CounterLookup{}, nil
		}
		return CounterLookup{}, fmt.Errorf("reading usage counter: %w", err)
	}
	return CounterLookup{Counter: c, Found: true}, nil
}

func (s *PostgresStore) History(ctx context.Context, userID uuid.UUID, limit int) ([]Counter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, period_key, used, created_at, updated_at
		 FROM usage_counters WHERE user_id = $1
		 ORDER BY period_key DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying usage history: %w", err)
	}
	defer rows.Close()

	var counters []Counter
	for rows.Next() {
		var c Counter
		if err := rows.Scan(&c.UserID, &c.PeriodKey, &c.Used, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning usage counter: %w", err)
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}
