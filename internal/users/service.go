package users

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vatadvisor/usage/internal/usage"
)

// ErrUnknownPlan is returned when an override names a plan outside the catalog.
var ErrUnknownPlan = fmt.Errorf("unknown plan")

type Service struct {
	repo    Repository
	catalog *usage.Catalog

	// ids already ensured by this process
	seen sync.Map
}

func NewService(repo Repository, catalog *usage.Catalog) *Service {
	return &Service{repo: repo, catalog: catalog}
}

// GetAccount implements usage.UserSource.
func (s *Service) GetAccount(ctx context.Context, userID uuid.UUID) (*usage.Account, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &usage.Account{
		ID:            user.ID,
		CreatedAt:     user.CreatedAt,
		PlanOverride:  user.PlanOverride,
		QuotaOverride: user.QuotaOverride,
	}, nil
}

// Provision records a user seen with a valid token. Repeat calls for the
// same id are served from memory.
func (s *Service) Provision(ctx context.Context, userID uuid.UUID, email string) error {
	if _, ok := s.seen.Load(userID); ok {
		return nil
	}
	if err := s.repo.Ensure(ctx, userID, email); err != nil {
		return err
	}
	s.seen.Store(userID, struct{}{})
	return nil
}

// SetOverride validates the plan key against the catalog and stores it in
// canonical form. Nil values clear the override.
func (s *Service) SetOverride(ctx context.Context, userID uuid.UUID, req OverrideRequest) (*User, error) {
	var plan *string
	if req.PlanKey != nil {
		key, ok := s.catalog.Parse(*req.PlanKey)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, *req.PlanKey)
		}
		k := string(key)
		plan = &k
	}

	user, err := s.repo.SetOverride(ctx, userID, plan, req.QuotaOverride)
	if err != nil {
		return nil, err
	}

	slog.Info("user override updated",
		"user_id", userID,
		"plan_override", plan,
		"quota_override", req.QuotaOverride,
	)
	return user, nil
}
