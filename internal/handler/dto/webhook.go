package dto

import (
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
)

// WebhookEndpointCreateRequest is the body of POST /v1/organizations/{id}/webhooks.
type WebhookEndpointCreateRequest struct {
	TargetURL   string            `json:"target_url" validate:"required,url,max=2048"`
	EventTypes  []model.EventType `json:"event_types" validate:"max=20"`
	Name        string            `json:"name" validate:"max=100"`
	Description string            `json:"description" validate:"max=500"`
}

// WebhookEndpointUpdateRequest is the body of PATCH /v1/organizations/{id}/webhooks/{webhook_id}.
type WebhookEndpointUpdateRequest struct {
	TargetURL   *string           `json:"target_url,omitempty" validate:"omitempty,url,max=2048"`
	EventTypes  []model.EventType `json:"event_types,omitempty" validate:"max=20"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Name        *string           `json:"name,omitempty" validate:"omitempty,max=100"`
	Description *string           `json:"description,omitempty" validate:"omitempty,max=500"`
}

// WebhookEndpointResponse is an endpoint without its secret.
type WebhookEndpointResponse struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	TargetURL      string            `json:"target_url"`
	Enabled        bool              `json:"enabled"`
	EventTypes     []model.EventType `json:"event_types"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// WebhookEndpointSecretResponse carries the signing secret, shown on
// creation and rotation only.
type WebhookEndpointSecretResponse struct {
	WebhookEndpointResponse
	Secret string `json:"secret"`
}

// NewWebhookEndpointResponse renders an endpoint.
func NewWebhookEndpointResponse(e *model.WebhookEndpoint) WebhookEndpointResponse {
	return WebhookEndpointResponse{
		ID:             e.ID,
		OrganizationID: e.OrganizationID,
		TargetURL:      e.TargetURL,
		Enabled:        e.Enabled,
		EventTypes:     e.EventTypes,
		Name:           e.Name,
		Description:    e.Description,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// WebhookDeliveryResponse is one delivery of an event to an endpoint.
type WebhookDeliveryResponse struct {
	ID             string     `json:"id"`
	EndpointID     string     `json:"endpoint_id"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	Status         string     `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	MaxAttempts    int        `json:"max_attempts"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	LastHTTPStatus *int       `json:"last_http_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewWebhookDeliveryResponse renders a delivery. Retry time is shown only
// while another attempt is scheduled.
func NewWebhookDeliveryResponse(d *model.WebhookDelivery) WebhookDeliveryResponse {
	resp := WebhookDeliveryResponse{
		ID:             d.ID,
		EndpointID:     d.EndpointID,
		EventID:        d.EventID,
		EventType:      string(d.EventType),
		Status:         string(d.Status),
		AttemptCount:   d.AttemptCount,
		MaxAttempts:    d.MaxAttempts,
		LastAttemptAt:  d.LastAttemptAt,
		LastHTTPStatus: d.LastHTTPStatus,
		LastError:      d.LastError,
		CreatedAt:      d.CreatedAt,
	}
	if !d.IsTerminal() {
		next := d.NextRetryAt
		resp.NextRetryAt = &next
	}
	return resp
}
