package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vatadvisor/usage/internal/api"
	"github.com/vatadvisor/usage/internal/auth"
	"github.com/vatadvisor/usage/internal/metrics"
	"github.com/vatadvisor/usage/internal/usage"
)

// Responder produces an answer to a user's question.
type Responder interface {
	Reply(ctx context.Context, message string) (string, error)
}

// UsageGate is the slice of usage.Service the chat flow depends on.
type UsageGate interface {
	AssertWithinLimit(ctx context.Context, userID uuid.UUID) error
	ConsumeUsage(ctx context.Context, userID uuid.UUID, amount int, meta map[string]string) (*usage.ConsumeResult, error)
}

type Handler struct {
	gate      UsageGate
	responder Responder
	validate  *validator.Validate
}

func NewHandler(gate UsageGate, responder Responder) *Handler {
	return &Handler{
		gate:      gate,
		responder: responder,
		validate:  validator.New(),
	}
}

// SendMessage answers one question. The pre-flight check avoids paying for
// a reply the user cannot receive; the reply is released only after the
// message is charged.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if err := h.gate.AssertWithinLimit(r.Context(), userID); err != nil {
		metrics.ChatRepliesTotal.WithLabelValues(outcome(err)).Inc()
		usage.WriteError(w, err)
		return
	}

	reply, err := h.responder.Reply(r.Context(), req.Message)
	if err != nil {
		slog.Error("chat: generating reply", "user_id", userID, "error", err)
		metrics.ChatRepliesTotal.WithLabelValues("failed").Inc()
		api.HandleError(w, api.NewError(http.StatusBadGateway, "REPLY_FAILED", "could not generate a reply"))
		return
	}

	var meta map[string]string
	if req.ConversationID != "" {
		meta = map[string]string{"conversation_id": req.ConversationID}
	}

	result, err := h.gate.ConsumeUsage(r.Context(), userID, 1, meta)
	if err != nil {
		// Lost the race for the last unit or the store failed; the reply is withheld.
		metrics.ChatRepliesTotal.WithLabelValues(outcome(err)).Inc()
		usage.WriteError(w, err)
		return
	}

	metrics.ChatRepliesTotal.WithLabelValues("ok").Inc()
	api.JSON(w, http.StatusOK, SendMessageResponse{Reply: reply, Usage: result})
}

func outcome(err error) string {
	if usage.IsLimitExceeded(err) {
		return "limited"
	}
	return "failed"
}
