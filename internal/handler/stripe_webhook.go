package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/checkoutd/checkoutd/internal/payment"
)

// maxStripePayload matches Stripe's documented event size limit.
const maxStripePayload = 64 << 10

// StripeEventVerifier verifies and normalizes Stripe webhook payloads.
type StripeEventVerifier interface {
	ConstructEvent(payload []byte, signature string) (*payment.Event, error)
}

// StripeEventQueue hands verified events to the checkout worker.
type StripeEventQueue interface {
	Publish(ctx context.Context, e *payment.Event) (string, error)
}

// StripeWebhookHandler receives Stripe webhook events.
type StripeWebhookHandler struct {
	verifier StripeEventVerifier
	queue    StripeEventQueue
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler.
func NewStripeWebhookHandler(verifier StripeEventVerifier, queue StripeEventQueue, logger *slog.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		verifier: verifier,
		queue:    queue,
		logger:   logger.With("handler", "stripe_webhook"),
	}
}

// Receive handles POST /v1/checkouts/webhooks/stripe
//
// Stripe is answered 200 only once the event is durably queued, so a queue
// failure makes Stripe redeliver.
func (h *StripeWebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStripePayload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	event, err := h.verifier.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		h.logger.Warn("stripe webhook signature rejected", "error", err)
		writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "Invalid signature")
		return
	case errors.Is(err, payment.ErrUnhandledEvent):
		h.logger.Debug("stripe event ignored", "event_id", event.ID, "event_type", event.Type)
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		h.logger.Warn("stripe event malformed", "error", err)
		writeError(w, http.StatusBadRequest, "INVALID_EVENT", "Malformed event")
		return
	}

	// Intents not created by a checkout carry no checkout id.
	if event.CheckoutID == "" {
		h.logger.Debug("stripe event without checkout", "event_id", event.ID, "event_type", event.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := h.queue.Publish(r.Context(), event); err != nil {
		h.logger.Error("failed to enqueue stripe event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Event could not be queued")
		return
	}
	w.WriteHeader(http.StatusOK)
}
