package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/checkoutd/checkoutd/internal/metrics"
	"github.com/checkoutd/checkoutd/internal/model"
)

const (
	// DefaultBatchSize is the number of deliveries to process per poll.
	DefaultBatchSize = 50
	// DefaultPollInterval is the time between polling for due deliveries.
	DefaultPollInterval = 5 * time.Second
	// DefaultMetricsInterval is how often to update queue depth metrics.
	DefaultMetricsInterval = 10 * time.Second
	// DefaultLease is how long a claimed delivery is hidden from other workers.
	DefaultLease = 2 * ClientTimeout
)

// WorkerStore is the persistence the delivery worker needs.
type WorkerStore interface {
	ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.WebhookDelivery, error)
	GetEndpoint(ctx context.Context, id string) (*model.WebhookEndpoint, error)
	UpdateDeliverySuccess(ctx context.Context, id string, httpStatus int) error
	UpdateDeliveryFailure(ctx context.Context, id string, httpStatus *int, errMsg string, nextRetryAt time.Time, exhausted bool) error
	GetQueueDepth(ctx context.Context) (int64, error)
}

// Worker delivers pending webhooks.
type Worker struct {
	store           WorkerStore
	client          *http.Client
	logger          *slog.Logger
	metrics         metrics.Recorder
	batchSize       int
	pollInterval    time.Duration
	metricsInterval time.Duration
	lease           time.Duration
	lastMetrics     time.Time
	now             func() time.Time
}

// NewWorker creates a new webhook delivery worker.
func NewWorker(store WorkerStore, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		store:           store,
		client:          NewHTTPClient(),
		logger:          logger.With("component", "webhook.worker"),
		metrics:         recorder,
		batchSize:       DefaultBatchSize,
		pollInterval:    DefaultPollInterval,
		metricsInterval: DefaultMetricsInterval,
		lease:           DefaultLease,
		now:             time.Now,
	}
}

// Run polls for due deliveries until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("webhook worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("webhook worker stopping")
			return nil
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
			}
		}
	}
}

// processOnce claims and delivers one batch.
func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	deliveries, err := w.store.ClaimDueDeliveries(ctx, w.now().UTC(), w.batchSize, w.lease)
	if err != nil {
		return fmt.Errorf("claim due deliveries: %w", err)
	}

	for _, delivery := range deliveries {
		if err := w.deliver(ctx, delivery); err != nil {
			w.logger.Warn("delivery failed",
				"delivery_id", delivery.ID,
				"error", err,
			)
		}
	}
	return nil
}

// deliver sends a single webhook and records the outcome.
func (w *Worker) deliver(ctx context.Context, delivery *model.WebhookDelivery) error {
	endpoint, err := w.store.GetEndpoint(ctx, delivery.EndpointID)
	if err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			return w.recordFailure(ctx, delivery, endpointGone("endpoint deleted"))
		}
		return err
	}
	if !endpoint.IsActive() {
		return w.recordFailure(ctx, delivery, endpointGone("endpoint disabled"))
	}

	body := []byte(delivery.PayloadJSON)
	timestamp := w.now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.TargetURL, bytes.NewReader(body))
	if err != nil {
		return w.recordFailure(ctx, delivery, transportFailure("build request", err))
	}
	SetWebhookHeaders(req, HTTPHeaders{
		Signature:  GenerateSignature(endpoint.Secret, timestamp, body),
		Timestamp:  strconv.FormatInt(timestamp, 10),
		DeliveryID: delivery.ID,
		EventType:  string(delivery.EventType),
	})

	start := time.Now()
	resp, err := w.client.Do(req)
	duration := time.Since(start)
	w.metrics.ObserveWebhookDeliveryDuration(duration)

	if err != nil {
		if ctx.Err() != nil {
			// The lease expires and another poll picks it up.
			return ctx.Err()
		}
		return w.recordFailure(ctx, delivery, transportFailure("send", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Info("webhook delivered",
			"delivery_id", delivery.ID,
			"event_type", delivery.EventType,
			"target_host", ExtractHost(endpoint.TargetURL),
			"http_status", resp.StatusCode,
			"duration_ms", duration.Milliseconds(),
		)
		w.metrics.IncWebhookDelivery(string(model.DeliveryStatusSuccess))
		return w.store.UpdateDeliverySuccess(ctx, delivery.ID, resp.StatusCode)
	}

	return w.recordFailure(ctx, delivery, responseFailure(resp.StatusCode))
}

// recordFailure schedules the next attempt or exhausts the delivery.
func (w *Worker) recordFailure(ctx context.Context, delivery *model.WebhookDelivery, failure *DeliveryError) error {
	attempt := delivery.AttemptCount + 1
	exhausted := failure.Final || IsExhausted(attempt, delivery.MaxAttempts)

	status := model.DeliveryStatusFailed
	if exhausted {
		status = model.DeliveryStatusExhausted
	}

	w.logger.Warn("webhook delivery failed",
		"delivery_id", delivery.ID,
		"attempt", attempt,
		"exhausted", exhausted,
		"http_status", failure.HTTPStatus,
		"error", failure.Reason,
	)
	w.metrics.IncWebhookDelivery(string(status))

	nextRetryAt := NextRetryAt(w.now(), delivery.AttemptCount)
	return w.store.UpdateDeliveryFailure(ctx, delivery.ID, failure.statusPtr(), failure.Reason, nextRetryAt, exhausted)
}

// maybeUpdateQueueDepth periodically updates the queue depth gauge.
func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	depth, err := w.store.GetQueueDepth(ctx)
	if err != nil {
		w.logger.Warn("failed to get queue depth", "error", err)
		return
	}
	w.metrics.SetWebhookQueueDepth(depth)
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetPollInterval overrides the default poll interval.
func (w *Worker) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		w.pollInterval = interval
	}
}

// SetHTTPClient replaces the delivery client.
func (w *Worker) SetHTTPClient(client *http.Client) {
	if client != nil {
		w.client = client
	}
}
