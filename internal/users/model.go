package users

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors the identity provider's account plus support overrides.
type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	PlanOverride  *string   `json:"planOverride"`
	QuotaOverride *int      `json:"quotaOverride"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// OverrideRequest sets or clears a user's plan and quota override.
// A null field clears the override.
type OverrideRequest struct {
	PlanKey       *string `json:"planKey" validate:"omitempty,min=1,max=32"`
	QuotaOverride *int    `json:"quotaOverride" validate:"omitempty,min=0,max=1000000"`
}
