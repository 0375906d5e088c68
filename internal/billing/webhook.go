package billing

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/vatadvisor/usage/internal/api"
	"github.com/vatadvisor/usage/internal/metrics"
)

const maxWebhookBody = 65536

// WebhookHandler verifies and applies payment provider webhooks.
type WebhookHandler struct {
	svc    *Service
	secret string
}

func NewWebhookHandler(svc *Service, secret string) *WebhookHandler {
	return &WebhookHandler{svc: svc, secret: secret}
}

// Handle processes POST /billing/webhook. Unmapped subscriptions and
// unknown event types are acknowledged so the provider stops retrying.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		api.HandleError(w, api.ErrUnavailable)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("unreadable body"))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		slog.Warn("billing: webhook signature verification failed", "error", err)
		metrics.BillingEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		api.HandleError(w, api.NewBadRequestError("invalid signature"))
		return
	}

	result := WebhookResult{EventID: event.ID, EventType: string(event.Type), Processed: true}

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		err = h.svc.ApplySubscriptionEvent(r.Context(), event)
	default:
		result.Processed = false
		result.Message = "event type not handled"
		metrics.BillingEventsTotal.WithLabelValues(string(event.Type), "ignored").Inc()
		api.JSON(w, http.StatusOK, result)
		return
	}

	switch {
	case err == nil:
		metrics.BillingEventsTotal.WithLabelValues(string(event.Type), "applied").Inc()
	case errors.Is(err, ErrUnmappedSubscription):
		slog.Warn("billing: subscription event not mapped to a user", "event_id", event.ID, "error", err)
		metrics.BillingEventsTotal.WithLabelValues(string(event.Type), "unmapped").Inc()
		result.Processed = false
		result.Message = "subscription not mapped to a user"
	default:
		slog.Error("billing: applying webhook event", "event_id", event.ID, "event_type", event.Type, "error", err)
		metrics.BillingEventsTotal.WithLabelValues(string(event.Type), "failed").Inc()
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, result)
}
