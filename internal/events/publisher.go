// Package events moves verified Stripe events through a Redis stream to the
// checkout state machine.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/checkoutd/checkoutd/internal/metrics"
	"github.com/checkoutd/checkoutd/internal/payment"
)

const (
	// StreamKey is the Redis stream for Stripe events.
	StreamKey = "stream:stripe_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:stripe_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout bounds the XADD done while Stripe waits for our response.
	PublishTimeout = 2 * time.Second
)

// StripeEventPayload is the stream encoding of a normalized Stripe event.
type StripeEventPayload struct {
	EventID       string `json:"eid"`
	Type          string `json:"t"`
	CheckoutID    string `json:"cid"`
	IntentID      string `json:"pi"`
	IntentStatus  string `json:"st"`
	CustomerID    string `json:"cus,omitempty"`
	Amount        int64  `json:"amt"`
	CreatedAtUnix int64  `json:"ts"`
}

// NewStripeEventPayload flattens a normalized event for the stream.
func NewStripeEventPayload(e *payment.Event) StripeEventPayload {
	return StripeEventPayload{
		EventID:       e.ID,
		Type:          e.Type,
		CheckoutID:    e.CheckoutID,
		IntentID:      e.Intent.ID,
		IntentStatus:  e.Intent.Status,
		CustomerID:    e.Intent.CustomerID,
		Amount:        e.Intent.Amount,
		CreatedAtUnix: e.Created.Unix(),
	}
}

// Intent rebuilds the payment intent carried by the payload.
func (p StripeEventPayload) Intent() payment.PaymentIntent {
	return payment.PaymentIntent{
		ID:         p.IntentID,
		Status:     p.IntentStatus,
		CustomerID: p.CustomerID,
		Amount:     p.Amount,
	}
}

// Publisher enqueues verified Stripe events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new Stripe event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "events.publisher"),
		metrics: recorder,
	}
}

// Publish adds an event to the stream and returns its stream id.
// Callers answer Stripe only after this succeeds so Stripe redelivers on failure.
func (p *Publisher) Publish(ctx context.Context, e *payment.Event) (string, error) {
	payload := NewStripeEventPayload(e)
	if err := ValidateStripeEventPayload(payload); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	p.metrics.IncStripeEventReceived(e.Type)
	p.logger.Debug("stripe event enqueued",
		"event_id", e.ID,
		"event_type", e.Type,
		"checkout_id", e.CheckoutID,
		"stream_id", id,
	)
	return id, nil
}
