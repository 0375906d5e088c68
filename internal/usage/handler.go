package usage

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vatadvisor/usage/internal/api"
	"github.com/vatadvisor/usage/internal/auth"
)

const (
	defaultHistoryLimit = 12
	maxHistoryLimit     = 100
)

// Handler provides HTTP handlers for usage endpoints.
type Handler struct {
	svc     *Service
	catalog *Catalog
}

// NewHandler creates a new usage Handler.
func NewHandler(svc *Service, catalog *Catalog) *Handler {
	return &Handler{svc: svc, catalog: catalog}
}

// GetUsage returns the authenticated user's snapshot for the current period.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	snap, err := h.svc.GetUsageSnapshot(r.Context(), userID)
	if err != nil {
		WriteError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, snap)
}

// GetHistory returns past period counters, newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	limit := defaultHistoryLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > maxHistoryLimit {
			api.HandleError(w, api.NewBadRequestError("limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	counters, err := h.svc.History(r.Context(), userID, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	if counters == nil {
		counters = []Counter{}
	}

	api.JSONList(w, http.StatusOK, counters, limit)
}

// ListPlans returns the plan catalog.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.catalog.All())
}

// WriteError maps usage errors onto the HTTP error body.
func WriteError(w http.ResponseWriter, err error) {
	var le *LimitExceededError
	if errors.As(err, &le) {
		api.HandleError(w, api.NewError(http.StatusTooManyRequests, CodeLimitExceeded, le.Error()))
		return
	}
	if errors.Is(err, ErrUserNotFound) {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	if errors.Is(err, ErrInvalidAmount) {
		api.HandleError(w, api.NewBadRequestError(err.Error()))
		return
	}

	slog.Error("usage request failed", "error", err)
	api.HandleError(w, api.NewError(http.StatusInternalServerError, CodeUsageError, "usage could not be determined"))
}
