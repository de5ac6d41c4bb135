package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_Counters(t *testing.T) {
	p := NewPrometheus()

	p.IncCheckoutCreated()
	p.IncCheckoutTransition("confirmed")
	p.IncCheckoutTransition("confirmed")
	p.IncCheckoutsExpired(3)
	p.IncStripeEventProcessed("duplicate")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.checkoutsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.checkoutTransitions.WithLabelValues("confirmed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.checkoutsExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.stripeEventsProcessed.WithLabelValues("duplicate")))
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	p := NewPrometheus()
	p.ObserveStripeCall("payment_intent.create", "success", 120*time.Millisecond)
	p.IncWebhookDelivery("success")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `checkoutd_stripe_call_duration_seconds_count{operation="payment_intent.create",status="success"} 1`))
	assert.True(t, strings.Contains(body, `checkoutd_webhook_deliveries_total{status="success"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestInMemoryRecorder_Snapshot(t *testing.T) {
	m := NewInMemory()
	m.IncCheckoutCreated()
	m.IncCheckoutTransition("succeeded")
	m.ObserveStripeCall("customer.create", "error", time.Second)
	m.SetStripeEventQueueDepth(7)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.CheckoutsCreated)
	assert.Equal(t, uint64(1), snap.CheckoutTransitions["succeeded"])
	assert.Equal(t, uint64(1), snap.StripeCalls["customer.create:error"])
	assert.Equal(t, int64(7), snap.StripeEventQueueDepth)

	var _ Recorder = m
	var _ Recorder = NewNoop()
	var _ Recorder = NewPrometheus()
}
