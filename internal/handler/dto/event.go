package dto

import "github.com/checkoutd/checkoutd/internal/model"

// NewEventRenderer returns the payload renderer for outgoing webhook events.
// Domain objects are rendered the way the API returns them.
func NewEventRenderer(checkoutBaseURL string) func(data any) any {
	return func(data any) any {
		switch v := data.(type) {
		case *model.Checkout:
			return NewCheckoutResponse(v, checkoutBaseURL)
		case *model.Order:
			return NewOrderResponse(v)
		case *model.Subscription:
			return NewSubscriptionResponse(v)
		default:
			return data
		}
	}
}
