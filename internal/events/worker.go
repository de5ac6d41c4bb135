package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/checkoutd/checkoutd/internal/metrics"
	"github.com/checkoutd/checkoutd/internal/payment"
	"github.com/checkoutd/checkoutd/internal/service"
)

const (
	// ConsumerGroup is the Redis consumer group name.
	ConsumerGroup = "checkout_workers"

	// DefaultBatchSize is the max messages read per poll.
	DefaultBatchSize = 50

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxDeliveries is how many times a message is attempted before
	// it is dead-lettered.
	DefaultMaxDeliveries = 5

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 30 * time.Second

	// DefaultMetricsInterval is how often to refresh queue depth metrics.
	DefaultMetricsInterval = 5 * time.Second
)

// Processing outcomes reported to metrics.
const (
	statusSuccess      = "success"
	statusFailed       = "failed"
	statusDuplicate    = "duplicate"
	statusIgnored      = "ignored"
	statusDeadLettered = "dead_lettered"
)

// Ledger records which Stripe events have been applied.
// MarkStripeEventProcessed must join the transaction started by WithTx.
type Ledger interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	MarkStripeEventProcessed(ctx context.Context, id, eventType string) (bool, error)
}

// CheckoutHandler applies payment outcomes to checkouts.
type CheckoutHandler interface {
	HandleStripeSuccess(ctx context.Context, checkoutID string, intent payment.PaymentIntent) error
	HandleStripeFailure(ctx context.Context, checkoutID string, intent payment.PaymentIntent) error
}

// Worker consumes Stripe events from the Redis stream.
type Worker struct {
	redis           *redis.Client
	ledger          Ledger
	checkouts       CheckoutHandler
	logger          *slog.Logger
	metrics         metrics.Recorder
	consumerID      string
	batchSize       int
	blockTimeout    time.Duration
	maxDeliveries   int64
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewWorker creates a new Stripe event worker.
func NewWorker(client *redis.Client, ledger Ledger, checkouts CheckoutHandler, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		redis:           client,
		ledger:          ledger,
		checkouts:       checkouts,
		logger:          logger.With("component", "events.worker", "consumer_id", consumerID),
		metrics:         recorder,
		consumerID:      consumerID,
		batchSize:       DefaultBatchSize,
		blockTimeout:    DefaultBlockTimeout,
		maxDeliveries:   DefaultMaxDeliveries,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		claimStartID:    "0-0",
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled or Shutdown is called.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.started = true
	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	defer close(w.done)

	if err := w.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("stripe event worker started")

	for {
		w.mu.Lock()
		draining := w.draining
		w.mu.Unlock()
		if draining {
			w.logger.Info("stripe event worker draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("stripe event worker stopping")
			return nil
		default:
			if err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
				sleep(ctx, time.Second)
			}
		}
	}
}

// Shutdown stops the worker after the in-flight message.
// It implements server.ShutdownFunc.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.draining = true
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	w.logger.Info("stripe event worker shutdown initiated")
	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		w.logger.Info("stripe event worker shutdown complete")
		return nil
	case <-ctx.Done():
		w.logger.Warn("stripe event worker shutdown timed out")
		return ctx.Err()
	}
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (w *Worker) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// SetMaxDeliveries overrides how many attempts a message gets.
func (w *Worker) SetMaxDeliveries(n int) {
	if n > 0 {
		w.maxDeliveries = int64(n)
	}
}

// SetClaimInterval overrides the default pending-claim interval.
func (w *Worker) SetClaimInterval(interval time.Duration) {
	if interval > 0 {
		w.claimInterval = interval
	}
}

// SetClaimIdle overrides the default pending idle threshold.
func (w *Worker) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		w.claimIdle = idle
	}
}

// SetMetricsInterval overrides the default metrics refresh interval.
func (w *Worker) SetMetricsInterval(interval time.Duration) {
	if interval > 0 {
		w.metricsInterval = interval
	}
}

func (w *Worker) ensureConsumerGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return err
	}
	return nil
}

// processOnce handles reclaimed messages if any are due, otherwise new ones.
func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	claimed, err := w.maybeClaimPending(ctx)
	if err != nil {
		w.logger.Warn("failed to claim pending messages", "error", err)
	}

	messages := w.dropExhausted(ctx, claimed)
	if len(claimed) == 0 {
		messages, err = w.readBatch(ctx)
		if err != nil {
			return err
		}
	}

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.processMessage(ctx, msg)
	}
	return nil
}

// processMessage dispatches one message. Messages that fail transiently stay
// pending and are reclaimed after claimIdle.
func (w *Worker) processMessage(ctx context.Context, msg redis.XMessage) {
	payload, err := parseMessage(msg)
	if err != nil {
		w.deadLetter(ctx, msg, "invalid_payload", err.Error())
		return
	}

	status, err := w.dispatch(ctx, payload)
	if err != nil {
		w.metrics.IncStripeEventProcessed(statusFailed)
		w.logger.Error("stripe event processing failed",
			"message_id", msg.ID,
			"event_id", payload.EventID,
			"checkout_id", payload.CheckoutID,
			"error", err,
		)
		return
	}

	w.metrics.IncStripeEventProcessed(status)
	if err := w.ack(ctx, msg.ID); err != nil {
		w.logger.Warn("failed to ack message", "message_id", msg.ID, "error", err)
	}
}

// dispatch applies an event exactly once. The ledger entry and the checkout
// transition commit together.
func (w *Worker) dispatch(ctx context.Context, p StripeEventPayload) (string, error) {
	status := statusSuccess
	err := w.ledger.WithTx(ctx, func(ctx context.Context) error {
		fresh, err := w.ledger.MarkStripeEventProcessed(ctx, p.EventID, p.Type)
		if err != nil {
			return err
		}
		if !fresh {
			status = statusDuplicate
			return nil
		}

		switch p.Type {
		case payment.EventPaymentIntentSucceeded:
			err = w.checkouts.HandleStripeSuccess(ctx, p.CheckoutID, p.Intent())
		case payment.EventPaymentIntentFailed:
			err = w.checkouts.HandleStripeFailure(ctx, p.CheckoutID, p.Intent())
		default:
			status = statusIgnored
			return nil
		}

		if errors.Is(err, service.ErrCheckoutNotFound) || errors.Is(err, service.ErrNotConfirmedCheckout) {
			w.logger.Warn("stripe event does not apply to checkout",
				"event_id", p.EventID,
				"event_type", p.Type,
				"checkout_id", p.CheckoutID,
				"reason", err.Error(),
			)
			status = statusIgnored
			return nil
		}
		return err
	})
	if err != nil {
		return "", err
	}

	w.logger.Info("stripe event processed",
		"event_id", p.EventID,
		"event_type", p.Type,
		"checkout_id", p.CheckoutID,
		"status", status,
	)
	return status, nil
}

func parseMessage(msg redis.XMessage) (StripeEventPayload, error) {
	var p StripeEventPayload
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return p, errors.New("payload field missing or not a string")
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("unmarshal: %w", err)
	}
	if err := ValidateStripeEventPayload(p); err != nil {
		return p, err
	}
	return p, nil
}

// maybeClaimPending reclaims messages another consumer (or a failed attempt
// by this one) left pending for longer than claimIdle.
func (w *Worker) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if w.claimInterval <= 0 || w.claimIdle <= 0 {
		return nil, nil
	}
	if !w.lastClaim.IsZero() && time.Since(w.lastClaim) < w.claimInterval {
		return nil, nil
	}
	w.lastClaim = time.Now()

	messages, start, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.claimIdle,
		Start:    w.claimStartID,
		Count:    int64(w.batchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		w.claimStartID = start
	}
	return messages, nil
}

// dropExhausted dead-letters claimed messages that reached maxDeliveries and
// returns the rest.
func (w *Worker) dropExhausted(ctx context.Context, messages []redis.XMessage) []redis.XMessage {
	if len(messages) == 0 {
		return nil
	}

	pending, err := w.redis.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: StreamKey,
		Group:  ConsumerGroup,
		Start:  messages[0].ID,
		End:    messages[len(messages)-1].ID,
		Count:  int64(len(messages)),
	}).Result()
	if err != nil {
		w.logger.Warn("failed to read delivery counts", "error", err)
		return messages
	}
	deliveries := make(map[string]int64, len(pending))
	for _, p := range pending {
		deliveries[p.ID] = p.RetryCount
	}

	kept := messages[:0]
	for _, msg := range messages {
		if n := deliveries[msg.ID]; n > w.maxDeliveries {
			w.deadLetter(ctx, msg, "max_deliveries", fmt.Sprintf("delivered %d times", n))
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}

func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if w.metricsInterval <= 0 {
		return
	}
	if !w.lastMetrics.IsZero() && time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	groups, err := w.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		w.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == ConsumerGroup {
			w.metrics.SetStripeEventQueueDepth(group.Pending + group.Lag)
			return
		}
	}
}

func (w *Worker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.batchSize),
		Block:    w.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}

// deadLetter copies a poison message to the DLQ stream and acks it.
func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason, detail string) {
	w.logger.Warn("dead-lettering stripe event",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	_, err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: 10000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           detail,
			"payload":          msg.Values["payload"],
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		// Leave it pending so it is retried rather than lost.
		w.logger.Error("failed to write to dead-letter queue", "message_id", msg.ID, "error", err)
		return
	}

	w.metrics.IncStripeEventProcessed(statusDeadLettered)
	if err := w.ack(ctx, msg.ID); err != nil {
		w.logger.Warn("failed to ack dead-lettered message", "message_id", msg.ID, "error", err)
	}
}

func (w *Worker) ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// isConsumerGroupExistsError checks for BUSYGROUP (group already exists).
func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
