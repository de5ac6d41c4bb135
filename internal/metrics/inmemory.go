package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	CheckoutsCreated      uint64
	CheckoutTransitions   map[string]uint64
	CheckoutsExpired      uint64
	StripeCalls           map[string]uint64 // keyed by "operation:status"
	StripeEventsReceived  map[string]uint64
	StripeEventsProcessed map[string]uint64
	StripeEventQueueDepth int64
	WebhookDeliveries     map[string]uint64
	WebhookQueueDepth     int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	checkoutsCreated uint64
	checkoutsExpired uint64
	queueDepth       int64
	webhookDepth     int64

	mu                    sync.Mutex
	checkoutTransitions   map[string]uint64
	stripeCalls           map[string]uint64
	stripeEventsReceived  map[string]uint64
	stripeEventsProcessed map[string]uint64
	webhookDeliveries     map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		checkoutTransitions:   make(map[string]uint64),
		stripeCalls:           make(map[string]uint64),
		stripeEventsReceived:  make(map[string]uint64),
		stripeEventsProcessed: make(map[string]uint64),
		webhookDeliveries:     make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		CheckoutsCreated:      atomic.LoadUint64(&m.checkoutsCreated),
		CheckoutTransitions:   copyCounts(m.checkoutTransitions),
		CheckoutsExpired:      atomic.LoadUint64(&m.checkoutsExpired),
		StripeCalls:           copyCounts(m.stripeCalls),
		StripeEventsReceived:  copyCounts(m.stripeEventsReceived),
		StripeEventsProcessed: copyCounts(m.stripeEventsProcessed),
		StripeEventQueueDepth: atomic.LoadInt64(&m.queueDepth),
		WebhookDeliveries:     copyCounts(m.webhookDeliveries),
		WebhookQueueDepth:     atomic.LoadInt64(&m.webhookDepth),
	}
}

func (m *InMemoryRecorder) IncCheckoutCreated() {
	atomic.AddUint64(&m.checkoutsCreated, 1)
}

func (m *InMemoryRecorder) IncCheckoutTransition(to string) {
	m.inc(m.checkoutTransitions, to)
}

func (m *InMemoryRecorder) IncCheckoutsExpired(n int) {
	atomic.AddUint64(&m.checkoutsExpired, uint64(n))
}

func (m *InMemoryRecorder) ObserveStripeCall(operation, status string, _ time.Duration) {
	m.inc(m.stripeCalls, operation+":"+status)
}

func (m *InMemoryRecorder) IncStripeEventReceived(eventType string) {
	m.inc(m.stripeEventsReceived, eventType)
}

func (m *InMemoryRecorder) IncStripeEventProcessed(status string) {
	m.inc(m.stripeEventsProcessed, status)
}

func (m *InMemoryRecorder) SetStripeEventQueueDepth(depth int64) {
	atomic.StoreInt64(&m.queueDepth, depth)
}

func (m *InMemoryRecorder) IncWebhookDelivery(status string) {
	m.inc(m.webhookDeliveries, status)
}

func (m *InMemoryRecorder) ObserveWebhookDeliveryDuration(time.Duration) {}

func (m *InMemoryRecorder) SetWebhookQueueDepth(depth int64) {
	atomic.StoreInt64(&m.webhookDepth, depth)
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, key string) {
	m.mu.Lock()
	counts[key]++
	m.mu.Unlock()
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
