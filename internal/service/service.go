// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/checkoutd/checkoutd/internal/model"
)

// Service errors.
var (
	ErrCheckoutNotFound     = errors.New("checkout not found")
	ErrNotOpenCheckout      = errors.New("checkout is not open")
	ErrExpiredCheckout      = errors.New("checkout is expired")
	ErrNotConfirmedCheckout = errors.New("checkout is not confirmed")
	ErrPaymentError         = errors.New("payment error")
	ErrNotPermitted         = errors.New("not permitted")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrOrderNotFound        = errors.New("order not found")
)

// FieldError is a validation failure on one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field errors. Handlers render it as 422.
type ValidationError []FieldError

func (e ValidationError) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, message string) error {
	return ValidationError{{Field: field, Message: message}}
}

// EventPublisher fans domain events out to organization webhook endpoints.
type EventPublisher interface {
	Publish(ctx context.Context, organizationID string, eventType model.EventType, data any) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, model.EventType, any) error { return nil }

// pendingEvent is held until the transaction that produced it commits.
type pendingEvent struct {
	organizationID string
	eventType      model.EventType
	data           any
}

type eventBuffer []pendingEvent

func (b *eventBuffer) add(orgID string, et model.EventType, data any) {
	*b = append(*b, pendingEvent{organizationID: orgID, eventType: et, data: data})
}

// publishAfterCommit publishes the events buffered in b once the
// transaction on ctx commits. The buffer is read at commit time.
func (s *CheckoutService) publishAfterCommit(ctx context.Context, b *eventBuffer) {
	s.store.AfterCommit(ctx, func(ctx context.Context) {
		b.flush(ctx, s.events, s.logger)
	})
}

func (b eventBuffer) flush(ctx context.Context, p EventPublisher, logger *slog.Logger) {
	for _, e := range b {
		if err := p.Publish(ctx, e.organizationID, e.eventType, e.data); err != nil {
			logger.Error("event_publish_failed",
				"event_type", e.eventType,
				"organization_id", e.organizationID,
				"error", err,
			)
		}
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
