package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/handler/dto"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/service"
	"github.com/checkoutd/checkoutd/internal/webhook"
)

// WebhookStore persists organization webhook endpoints and deliveries.
type WebhookStore interface {
	CreateEndpoint(ctx context.Context, e *model.WebhookEndpoint) error
	GetOrganizationEndpoint(ctx context.Context, orgID, id string) (*model.WebhookEndpoint, error)
	ListEndpointsByOrganization(ctx context.Context, orgID string) ([]*model.WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, e *model.WebhookEndpoint) error
	UpdateEndpointSecret(ctx context.Context, id, secret string) error
	DeleteEndpoint(ctx context.Context, id string) error
	ListDeliveriesByEndpoint(ctx context.Context, endpointID string, statuses []model.DeliveryStatus, limit, offset int) ([]*model.WebhookDelivery, int, error)
	ResetDeliveryForRetry(ctx context.Context, endpointID, id string) error
}

// OrganizationAdmins checks that the caller administers an organization.
type OrganizationAdmins interface {
	RequireAdmin(ctx context.Context, ac *model.AuthContext, id string) (*model.Organization, error)
}

// WebhookHandler handles organization webhook endpoint management.
type WebhookHandler struct {
	store         WebhookStore
	organizations OrganizationAdmins
	logger        *slog.Logger
	urlOptions    webhook.ValidationOptions
}

// NewWebhookHandler creates a new webhook handler. urlOptions controls
// target URL checks; AllowInsecure is for local development only.
func NewWebhookHandler(store WebhookStore, organizations OrganizationAdmins, logger *slog.Logger, urlOptions webhook.ValidationOptions) *WebhookHandler {
	return &WebhookHandler{
		store:         store,
		organizations: organizations,
		logger:        logger.With("handler", "webhook"),
		urlOptions:    urlOptions,
	}
}

// Create handles POST /v1/organizations/{id}/webhooks
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req dto.WebhookEndpointCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	eventTypes := req.EventTypes
	if len(eventTypes) == 0 {
		eventTypes = model.ValidEventTypes
	}
	if errs := h.validateEndpoint(req.TargetURL, eventTypes); len(errs) > 0 {
		writeValidationError(w, errs)
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	now := time.Now().UTC()
	endpoint := &model.WebhookEndpoint{
		ID:             ulid.Make().String(),
		OrganizationID: org.ID,
		TargetURL:      req.TargetURL,
		Secret:         secret,
		Enabled:        true,
		EventTypes:     eventTypes,
		Name:           req.Name,
		Description:    req.Description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.CreateEndpoint(r.Context(), endpoint); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("webhook endpoint created",
		"endpoint_id", endpoint.ID,
		"organization_id", org.ID,
	)
	writeJSON(w, http.StatusCreated, dto.WebhookEndpointSecretResponse{
		WebhookEndpointResponse: dto.NewWebhookEndpointResponse(endpoint),
		Secret:                  secret,
	})
}

// List handles GET /v1/organizations/{id}/webhooks
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	org, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	endpoints, err := h.store.ListEndpointsByOrganization(r.Context(), org.ID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewListResponse(dto.Map(endpoints, dto.NewWebhookEndpointResponse), len(endpoints), max(len(endpoints), 1)))
}

// Get handles GET /v1/organizations/{id}/webhooks/{webhook_id}
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.loadEndpoint(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dto.NewWebhookEndpointResponse(endpoint))
}

// Update handles PATCH /v1/organizations/{id}/webhooks/{webhook_id}
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.loadEndpoint(w, r)
	if !ok {
		return
	}

	var req dto.WebhookEndpointUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TargetURL != nil {
		endpoint.TargetURL = *req.TargetURL
	}
	if req.EventTypes != nil {
		endpoint.EventTypes = req.EventTypes
	}
	if req.Enabled != nil {
		endpoint.Enabled = *req.Enabled
	}
	if req.Name != nil {
		endpoint.Name = *req.Name
	}
	if req.Description != nil {
		endpoint.Description = *req.Description
	}
	if errs := h.validateEndpoint(endpoint.TargetURL, endpoint.EventTypes); len(errs) > 0 {
		writeValidationError(w, errs)
		return
	}

	if err := h.store.UpdateEndpoint(r.Context(), endpoint); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("webhook endpoint updated",
		"endpoint_id", endpoint.ID,
		"organization_id", endpoint.OrganizationID,
	)
	writeJSON(w, http.StatusOK, dto.NewWebhookEndpointResponse(endpoint))
}

// Delete handles DELETE /v1/organizations/{id}/webhooks/{webhook_id}
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.loadEndpoint(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteEndpoint(r.Context(), endpoint.ID); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("webhook endpoint deleted",
		"endpoint_id", endpoint.ID,
		"organization_id", endpoint.OrganizationID,
	)
	w.WriteHeader(http.StatusNoContent)
}

// RotateSecret handles POST /v1/organizations/{id}/webhooks/{webhook_id}/rotate-secret
func (h *WebhookHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.loadEndpoint(w, r)
	if !ok {
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if err := h.store.UpdateEndpointSecret(r.Context(), endpoint.ID, secret); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("webhook secret rotated",
		"endpoint_id", endpoint.ID,
		"organization_id", endpoint.OrganizationID,
	)
	writeJSON(w, http.StatusOK, dto.WebhookEndpointSecretResponse{
		WebhookEndpointResponse: dto.NewWebhookEndpointResponse(endpoint),
		Secret:                  secret,
	})
}

// ListDeliveries handles GET /v1/organizations/{id}/webhooks/{webhook_id}/deliveries
func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.loadEndpoint(w, r)
	if !ok {
		return
	}

	page, errs := parsePage(r)
	var statuses []model.DeliveryStatus
	for _, s := range r.URL.Query()["status"] {
		status := model.DeliveryStatus(s)
		switch status {
		case model.DeliveryStatusPending, model.DeliveryStatusSuccess,
			model.DeliveryStatusFailed, model.DeliveryStatusExhausted:
			statuses = append(statuses, status)
		default:
			errs = append(errs, service.FieldError{Field: "status", Message: "Invalid delivery status."})
		}
	}
	if len(errs) > 0 {
		writeValidationError(w, errs)
		return
	}

	deliveries, total, err := h.store.ListDeliveriesByEndpoint(r.Context(), endpoint.ID, statuses,
		page.Limit, (page.Page-1)*page.Limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewListResponse(dto.Map(deliveries, dto.NewWebhookDeliveryResponse), total, page.Limit))
}

// RetryDelivery handles POST /v1/organizations/{id}/webhooks/{webhook_id}/deliveries/{delivery_id}/retry
func (h *WebhookHandler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.loadEndpoint(w, r)
	if !ok {
		return
	}

	deliveryID := chi.URLParam(r, "delivery_id")
	if err := h.store.ResetDeliveryForRetry(r.Context(), endpoint.ID, deliveryID); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("webhook delivery retry requested",
		"delivery_id", deliveryID,
		"endpoint_id", endpoint.ID,
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retry_scheduled"})
}

func (h *WebhookHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (*model.Organization, bool) {
	org, err := h.organizations.RequireAdmin(r.Context(), auth.AuthFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return nil, false
	}
	return org, true
}

func (h *WebhookHandler) loadEndpoint(w http.ResponseWriter, r *http.Request) (*model.WebhookEndpoint, bool) {
	org, ok := h.requireAdmin(w, r)
	if !ok {
		return nil, false
	}
	endpoint, err := h.store.GetOrganizationEndpoint(r.Context(), org.ID, chi.URLParam(r, "webhook_id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return nil, false
	}
	return endpoint, true
}

func (h *WebhookHandler) validateEndpoint(targetURL string, eventTypes []model.EventType) service.ValidationError {
	var errs service.ValidationError
	if err := webhook.ValidateTargetURLWithOptions(targetURL, h.urlOptions); err != nil {
		errs = append(errs, service.FieldError{Field: "target_url", Message: err.Error()})
	}
	if len(eventTypes) == 0 {
		errs = append(errs, service.FieldError{Field: "event_types", Message: "At least one event type is required."})
	}
	for _, et := range eventTypes {
		if !model.IsValidEventType(et) {
			errs = append(errs, service.FieldError{Field: "event_types", Message: "Invalid event type: " + string(et)})
		}
	}
	return errs
}
