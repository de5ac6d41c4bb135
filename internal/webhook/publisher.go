package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/checkoutd/checkoutd/internal/model"
)

// PayloadRenderer converts a domain object into its public JSON shape.
type PayloadRenderer func(data any) any

// DeliveryStore is the persistence the publisher needs.
type DeliveryStore interface {
	ListActiveEndpointsByOrganizationAndEvent(ctx context.Context, orgID string, eventType model.EventType) ([]*model.WebhookEndpoint, error)
	CreateDelivery(ctx context.Context, d *model.WebhookDelivery) error
}

// Publisher creates webhook delivery records when domain events occur.
type Publisher struct {
	store  DeliveryStore
	render PayloadRenderer
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a new webhook publisher. A nil render passes data
// through unchanged.
func NewPublisher(store DeliveryStore, render PayloadRenderer, logger *slog.Logger) *Publisher {
	if render == nil {
		render = func(data any) any { return data }
	}
	return &Publisher{
		store:  store,
		render: render,
		logger: logger.With("component", "webhook.publisher"),
		now:    time.Now,
	}
}

// Publish fans an event out to every enabled endpoint of the organization
// subscribed to eventType. One event id is shared by all deliveries.
func (p *Publisher) Publish(ctx context.Context, organizationID string, eventType model.EventType, data any) error {
	endpoints, err := p.store.ListActiveEndpointsByOrganizationAndEvent(ctx, organizationID, eventType)
	if err != nil {
		return fmt.Errorf("list active endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	now := p.now().UTC()
	eventID := ulid.Make().String()
	payloadJSON, err := json.Marshal(model.WebhookPayload{
		EventType: string(eventType),
		EventID:   eventID,
		Timestamp: now,
		Data:      p.render(data),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	for _, endpoint := range endpoints {
		delivery := &model.WebhookDelivery{
			ID:          ulid.Make().String(),
			EndpointID:  endpoint.ID,
			EventID:     eventID,
			EventType:   eventType,
			PayloadJSON: string(payloadJSON),
			Status:      model.DeliveryStatusPending,
			MaxAttempts: DefaultMaxAttempts,
			NextRetryAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := p.store.CreateDelivery(ctx, delivery); err != nil {
			p.logger.Warn("failed to create delivery",
				"endpoint_id", endpoint.ID,
				"event_id", eventID,
				"error", err,
			)
			continue
		}

		p.logger.Debug("webhook delivery created",
			"delivery_id", delivery.ID,
			"endpoint_id", endpoint.ID,
			"event_type", eventType,
		)
	}

	return nil
}
