package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkoutd"

// PrometheusRecorder exports metrics through a dedicated Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	checkoutsCreated      prometheus.Counter
	checkoutTransitions   *prometheus.CounterVec
	checkoutsExpired      prometheus.Counter
	stripeCallDuration    *prometheus.HistogramVec
	stripeEventsReceived  *prometheus.CounterVec
	stripeEventsProcessed *prometheus.CounterVec
	stripeEventQueueDepth prometheus.Gauge
	webhookDeliveries     *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	webhookQueueDepth     prometheus.Gauge
}

// NewPrometheus registers all collectors, plus the Go and process collectors.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &PrometheusRecorder{
		registry: reg,
		checkoutsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkouts_created_total",
			Help: "Checkout sessions created.",
		}),
		checkoutTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkout_transitions_total",
			Help: "Checkout status transitions by target status.",
		}, []string{"status"}),
		checkoutsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkouts_expired_total",
			Help: "Checkout sessions expired by the background job.",
		}),
		stripeCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stripe_call_duration_seconds",
			Help:    "Latency of Stripe API calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		stripeEventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stripe_events_received_total",
			Help: "Verified Stripe webhook events by type.",
		}, []string{"type"}),
		stripeEventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stripe_events_processed_total",
			Help: "Stripe events handled by the event worker by outcome.",
		}, []string{"status"}),
		stripeEventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stripe_event_queue_depth",
			Help: "Pending entries in the Stripe event stream.",
		}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_deliveries_total",
			Help: "Outgoing webhook delivery attempts by outcome.",
		}, []string{"status"}),
		webhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "webhook_delivery_duration_seconds",
			Help:    "Latency of outgoing webhook deliveries.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		webhookQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "webhook_queue_depth",
			Help: "Webhook deliveries waiting to be sent or retried.",
		}),
	}

	reg.MustRegister(
		p.checkoutsCreated,
		p.checkoutTransitions,
		p.checkoutsExpired,
		p.stripeCallDuration,
		p.stripeEventsReceived,
		p.stripeEventsProcessed,
		p.stripeEventQueueDepth,
		p.webhookDeliveries,
		p.webhookDuration,
		p.webhookQueueDepth,
	)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) IncCheckoutCreated() { p.checkoutsCreated.Inc() }

func (p *PrometheusRecorder) IncCheckoutTransition(to string) {
	p.checkoutTransitions.WithLabelValues(to).Inc()
}

func (p *PrometheusRecorder) IncCheckoutsExpired(n int) { p.checkoutsExpired.Add(float64(n)) }

func (p *PrometheusRecorder) ObserveStripeCall(operation, status string, duration time.Duration) {
	p.stripeCallDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncStripeEventReceived(eventType string) {
	p.stripeEventsReceived.WithLabelValues(eventType).Inc()
}

func (p *PrometheusRecorder) IncStripeEventProcessed(status string) {
	p.stripeEventsProcessed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) SetStripeEventQueueDepth(depth int64) {
	p.stripeEventQueueDepth.Set(float64(depth))
}

func (p *PrometheusRecorder) IncWebhookDelivery(status string) {
	p.webhookDeliveries.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveWebhookDeliveryDuration(duration time.Duration) {
	p.webhookDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetWebhookQueueDepth(depth int64) {
	p.webhookQueueDepth.Set(float64(depth))
}
