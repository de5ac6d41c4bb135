package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/handler/dto"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/checkoutd/checkoutd/internal/service"
)

// OrganizationService is the organization behavior the HTTP layer needs.
type OrganizationService interface {
	List(ctx context.Context, ac *model.AuthContext, adminOnly bool, page repository.Page) ([]*model.Organization, int, error)
	Search(ctx context.Context, platform model.Platform, name string) ([]*model.Organization, error)
	Lookup(ctx context.Context, platform model.Platform, name string) (*model.Organization, error)
	Get(ctx context.Context, id string) (*model.Organization, error)
	Update(ctx context.Context, ac *model.AuthContext, id string, in service.OrganizationUpdateInput) (*model.Organization, error)
	GetBadgeSettings(ctx context.Context, ac *model.AuthContext, id string) (*model.BadgeSettings, error)
	UpdateBadgeSettings(ctx context.Context, ac *model.AuthContext, id string, in service.BadgeSettingsUpdateInput) (*model.Organization, error)
}

// OrganizationHandler handles organization endpoints.
type OrganizationHandler struct {
	organizations OrganizationService
	logger        *slog.Logger
}

// NewOrganizationHandler creates a new OrganizationHandler.
func NewOrganizationHandler(organizations OrganizationService, logger *slog.Logger) *OrganizationHandler {
	return &OrganizationHandler{
		organizations: organizations,
		logger:        logger.With("handler", "organization"),
	}
}

// List handles GET /v1/organizations/
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, errs := parsePage(r)
	adminOnly, berrs := parseBool(r, "is_admin_only", true)
	if errs = append(errs, berrs...); len(errs) > 0 {
		writeValidationError(w, errs)
		return
	}

	orgs, total, err := h.organizations.List(r.Context(), auth.AuthFromContext(r.Context()), adminOnly, page)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewListResponse(dto.Map(orgs, dto.NewOrganizationResponse), total, page.Limit))
}

// Search handles GET /v1/organizations/search
func (h *OrganizationHandler) Search(w http.ResponseWriter, r *http.Request) {
	platform, name, ok := h.searchParams(w, r)
	if !ok {
		return
	}

	orgs, err := h.organizations.Search(r.Context(), platform, name)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewListResponse(dto.Map(orgs, dto.NewOrganizationResponse), len(orgs), max(len(orgs), 1)))
}

// Lookup handles GET /v1/organizations/lookup
func (h *OrganizationHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	platform, name, ok := h.searchParams(w, r)
	if !ok {
		return
	}

	org, err := h.organizations.Lookup(r.Context(), platform, name)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewOrganizationResponse(org))
}

// Get handles GET /v1/organizations/{id}
func (h *OrganizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	org, err := h.organizations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewOrganizationResponse(org))
}

// Update handles PATCH /v1/organizations/{id}
func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req dto.OrganizationUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	org, err := h.organizations.Update(r.Context(), auth.AuthFromContext(r.Context()), chi.URLParam(r, "id"), req.ToInput())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewOrganizationResponse(org))
}

// GetBadgeSettings handles GET /v1/organizations/{id}/badge_settings
func (h *OrganizationHandler) GetBadgeSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.organizations.GetBadgeSettings(r.Context(), auth.AuthFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewBadgeSettingsResponse(settings))
}

// UpdateBadgeSettings handles POST /v1/organizations/{id}/badge_settings
func (h *OrganizationHandler) UpdateBadgeSettings(w http.ResponseWriter, r *http.Request) {
	var req dto.BadgeSettingsUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	org, err := h.organizations.UpdateBadgeSettings(r.Context(), auth.AuthFromContext(r.Context()), chi.URLParam(r, "id"), req.ToInput())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewOrganizationResponse(org))
}

// searchParams reads platform and organization_name. Both are optional;
// an unknown platform is a validation error.
func (h *OrganizationHandler) searchParams(w http.ResponseWriter, r *http.Request) (model.Platform, string, bool) {
	q := r.URL.Query()
	platform := model.Platform(q.Get("platform"))
	if platform != "" && !platform.IsValid() {
		writeValidationError(w, service.ValidationError{{Field: "platform", Message: "Unsupported platform."}})
		return "", "", false
	}
	return platform, q.Get("organization_name"), true
}
