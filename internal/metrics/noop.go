package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncCheckoutCreated() {}
func (n *NoopRecorder) IncCheckoutTransition(string) {}
func (n *NoopRecorder) IncCheckoutsExpired(int) {}
func (n *NoopRecorder) ObserveStripeCall(string, string, time.Duration) {}
func (n *NoopRecorder) IncStripeEventReceived(string) {}
func (n *NoopRecorder) IncStripeEventProcessed(string) {}
func (n *NoopRecorder) SetStripeEventQueueDepth(int64) {}
func (n *NoopRecorder) IncWebhookDelivery(string) {}
func (n *NoopRecorder) ObserveWebhookDeliveryDuration(time.Duration) {}
func (n *NoopRecorder) SetWebhookQueueDepth(int64) {}
