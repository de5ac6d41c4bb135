package handler

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/checkoutd/checkoutd/internal/metrics"
)

// MetricsHandler exposes in-memory metrics in the Prometheus text format.
// It is mounted when the Prometheus registry is disabled.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics handles GET /metrics
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "checkoutd_checkouts_created_total %d\n", snap.CheckoutsCreated)
	writeMetric(w, "checkoutd_checkouts_expired_total %d\n", snap.CheckoutsExpired)
	writeLabeled(w, "checkoutd_checkout_transitions_total", "status", snap.CheckoutTransitions)
	writeLabeled(w, "checkoutd_stripe_calls_total", "call", snap.StripeCalls)
	writeLabeled(w, "checkoutd_stripe_events_received_total", "type", snap.StripeEventsReceived)
	writeLabeled(w, "checkoutd_stripe_events_processed_total", "status", snap.StripeEventsProcessed)
	writeMetric(w, "checkoutd_stripe_event_queue_depth %d\n", snap.StripeEventQueueDepth)
	writeLabeled(w, "checkoutd_webhook_deliveries_total", "status", snap.WebhookDeliveries)
	writeMetric(w, "checkoutd_webhook_queue_depth %d\n", snap.WebhookQueueDepth)
}

// writeLabeled emits one sample per label value in a stable order.
func writeLabeled(w http.ResponseWriter, name, label string, counts map[string]uint64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, k, counts[k])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
