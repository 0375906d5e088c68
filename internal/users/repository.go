package users

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
	// Ensure inserts the user if unknown and leaves existing rows untouched.
	Ensure(ctx context.Context, id uuid.UUID, email string) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	SetOverride(ctx context.Context, id uuid.UUID, planOverride *string, quotaOverride *int) (*User, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const userColumns = `id, COALESCE(email, ''), plan_override, quota_override, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(&user.ID, &user.Email, &user.PlanOverride, &user.QuotaOverride, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *postgresRepository) Ensure(ctx context.Context, id uuid.UUID, email string) error {
	query := `
		INSERT INTO users (id, email)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, id, email); err != nil {
		return fmt.Errorf("ensuring user: %w", err)
	}
	return nil
}

// GetByID returns usage.ErrUserNotFound for unknown ids.
func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, usage.ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) SetOverride(ctx context.Context, id uuid.UUID, planOverride *string, quotaOverride *int) (*User, error) {
	query := `
		UPDATE users
		SET plan_override = $2, quota_override = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, planOverride, quotaOverride))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, usage.ErrUserNotFound
		}
		return nil, fmt.Errorf("updating user override: %w", err)
	}
	return user, nil
}
