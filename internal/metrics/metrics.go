// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory for tests.
type Recorder interface {
	// Checkout lifecycle
	IncCheckoutCreated()
	IncCheckoutTransition(to string)
	IncCheckoutsExpired(n int)

	// Payment processor calls. status: "success" or "error"
	ObserveStripeCall(operation, status string, duration time.Duration)

	// Stripe event pipeline. status: "success", "failed", "duplicate", "dead_lettered", "ignored"
	IncStripeEventReceived(eventType string)
	IncStripeEventProcessed(status string)
	SetStripeEventQueueDepth(depth int64)

	// Outgoing webhooks. status: "success", "failed", "exhausted"
	IncWebhookDelivery(status string)
	ObserveWebhookDeliveryDuration(duration time.Duration)
	SetWebhookQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
