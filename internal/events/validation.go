package events

import (
	"fmt"

	"github.com/checkoutd/checkoutd/internal/payment"
)

// ValidateStripeEventPayload rejects payloads the worker cannot dispatch.
func ValidateStripeEventPayload(p StripeEventPayload) error {
	if p.EventID == "" {
		return fmt.Errorf("event id is required")
	}
	if p.Type != payment.EventPaymentIntentSucceeded && p.Type != payment.EventPaymentIntentFailed {
		return fmt.Errorf("unsupported event type %q", p.Type)
	}
	if p.CheckoutID == "" {
		return fmt.Errorf("checkout id is required")
	}
	if p.IntentID == "" {
		return fmt.Errorf("payment intent id is required")
	}
	if p.Amount < 0 {
		return fmt.Errorf("amount must not be negative")
	}
	if p.CreatedAtUnix <= 0 {
		return fmt.Errorf("created must be set")
	}
	return nil
}
