package model

import (
	"slices"
	"time"
)

// EventType represents outgoing webhook event types.
type EventType string

const (
	EventTypeCheckoutCreated     EventType = "checkout.created"
	EventTypeCheckoutUpdated     EventType = "checkout.updated"
	EventTypeOrderCreated        EventType = "order.created"
	EventTypeSubscriptionCreated EventType = "subscription.created"
	EventTypeSubscriptionUpdated EventType = "subscription.updated"
)

// ValidEventTypes contains all valid event types.
var ValidEventTypes = []EventType{
	EventTypeCheckoutCreated,
	EventTypeCheckoutUpdated,
	EventTypeOrderCreated,
	EventTypeSubscriptionCreated,
	EventTypeSubscriptionUpdated,
}

// IsValidEventType checks if an event type is valid.
func IsValidEventType(et EventType) bool {
	return slices.Contains(ValidEventTypes, et)
}

// DeliveryStatus represents webhook delivery state.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSuccess   DeliveryStatus = "success"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExhausted DeliveryStatus = "exhausted"
)

// WebhookEndpoint is an organization's subscription to outgoing events.
type WebhookEndpoint struct {
	ID             string
	OrganizationID string
	TargetURL      string
	// Secret signs deliveries. It is returned to the caller once on creation.
	Secret      string
	Enabled     bool
	EventTypes  []EventType
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// IsDeleted returns true if the endpoint is soft-deleted.
func (e *WebhookEndpoint) IsDeleted() bool {
	return e.DeletedAt != nil
}

// IsActive returns true if the endpoint can receive webhooks.
func (e *WebhookEndpoint) IsActive() bool {
	return e.Enabled && !e.IsDeleted()
}

// SubscribesToEvent checks if endpoint subscribes to given event type.
func (e *WebhookEndpoint) SubscribesToEvent(et EventType) bool {
	return slices.Contains(e.EventTypes, et)
}

// WebhookDelivery represents a delivery attempt record.
type WebhookDelivery struct {
	ID             string
	EndpointID     string
	EventID        string
	EventType      EventType
	PayloadJSON    string
	Status         DeliveryStatus
	AttemptCount   int
	MaxAttempts    int
	NextRetryAt    time.Time
	LastAttemptAt  *time.Time
	LastHTTPStatus *int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanRetry returns true if delivery can be retried.
func (d *WebhookDelivery) CanRetry() bool {
	return d.Status == DeliveryStatusFailed && d.AttemptCount < d.MaxAttempts
}

// IsTerminal returns true if delivery is in a terminal state.
func (d *WebhookDelivery) IsTerminal() bool {
	return d.Status == DeliveryStatusSuccess || d.Status == DeliveryStatusExhausted
}

// WebhookPayload is the body POSTed to webhook endpoints.
type WebhookPayload struct {
	EventType string    `json:"type"`
	EventID   string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}
