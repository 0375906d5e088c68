package users

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vatadvisor/usage/internal/api"
	"github.com/vatadvisor/usage/internal/auth"
	"github.com/vatadvisor/usage/internal/usage"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// SetOverride handles PUT /admin/users/{userID}/override.
func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user id"))
		return
	}

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	user, err := h.svc.SetOverride(r.Context(), userID, req)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownPlan):
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	case errors.Is(err, usage.ErrUserNotFound):
		api.HandleError(w, api.ErrNotFound)
		return
	default:
		slog.Error("setting user override", "user_id", userID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, user)
}

// ProvisionMiddleware records authenticated users so their accounting
// anchor exists before the first usage call. Runs after auth.Middleware.
func (h *Handler) ProvisionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.GetUserClaims(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || claims == nil {
			api.HandleError(w, api.ErrUnauthorized)
			return
		}

		if err := h.svc.Provision(r.Context(), userID, claims.Email); err != nil {
			slog.Error("provisioning user", "user_id", userID, "error", err)
			api.HandleError(w, api.ErrUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
