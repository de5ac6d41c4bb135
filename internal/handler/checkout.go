package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/handler/dto"
	"github.com/checkoutd/checkoutd/internal/middleware"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/service"
)

// CheckoutService is the checkout behavior the HTTP layer needs.
type CheckoutService interface {
	Create(ctx context.Context, ac *model.AuthContext, in service.CheckoutCreateInput) (*model.Checkout, error)
	ClientCreate(ctx context.Context, in service.CheckoutClientCreateInput) (*model.Checkout, error)
	Get(ctx context.Context, ac *model.AuthContext, id string) (*model.Checkout, error)
	List(ctx context.Context, ac *model.AuthContext, in service.CheckoutListInput) ([]*model.Checkout, int, error)
	ClientGet(ctx context.Context, clientSecret string) (*model.Checkout, error)
	Update(ctx context.Context, ac *model.AuthContext, id string, in service.CheckoutUpdateInput) (*model.Checkout, error)
	ClientUpdate(ctx context.Context, clientSecret string, in service.CheckoutUpdatePublicInput) (*model.Checkout, error)
	ClientConfirm(ctx context.Context, clientSecret string, in service.CheckoutConfirmInput) (*model.Checkout, error)
}

// CheckoutHandler handles checkout session endpoints.
type CheckoutHandler struct {
	checkouts       CheckoutService
	checkoutBaseURL string
	logger          *slog.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler. checkoutBaseURL is the
// origin of the hosted checkout pages.
func NewCheckoutHandler(checkouts CheckoutService, checkoutBaseURL string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkouts:       checkouts,
		checkoutBaseURL: checkoutBaseURL,
		logger:          logger.With("handler", "checkout"),
	}
}

// List handles GET /v1/checkouts/
func (h *CheckoutHandler) List(w http.ResponseWriter, r *http.Request) {
	page, errs := parsePage(r)
	q := r.URL.Query()
	status := model.CheckoutStatus(q.Get("status"))
	if status != "" && !status.IsValid() {
		errs = append(errs, service.FieldError{Field: "status", Message: "Invalid checkout status."})
	}
	if len(errs) > 0 {
		writeValidationError(w, errs)
		return
	}

	items, total, err := h.checkouts.List(r.Context(), auth.AuthFromContext(r.Context()), service.CheckoutListInput{
		OrganizationID: q.Get("organization_id"),
		ProductID:      q.Get("product_id"),
		Status:         status,
		Page:           page,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.NewListResponse(dto.Map(items, h.render), total, page.Limit))
}

// Create handles POST /v1/checkouts/
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.checkouts.Create(r.Context(), auth.AuthFromContext(r.Context()), req.ToInput())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.render(c))
}

// Get handles GET /v1/checkouts/{id}
func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.checkouts.Get(r.Context(), auth.AuthFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(c))
}

// Update handles PATCH /v1/checkouts/{id}
func (h *CheckoutHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.checkouts.Update(r.Context(), auth.AuthFromContext(r.Context()), chi.URLParam(r, "id"), req.ToInput())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(c))
}

// ClientCreate handles POST /v1/checkouts/client/
func (h *CheckoutHandler) ClientCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutClientCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.checkouts.ClientCreate(r.Context(), req.ToInput(middleware.ClientIP(r)))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.renderPublic(c))
}

// ClientGet handles GET /v1/checkouts/client/{client_secret}
func (h *CheckoutHandler) ClientGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.checkouts.ClientGet(r.Context(), chi.URLParam(r, "client_secret"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderPublic(c))
}

// ClientUpdate handles PATCH /v1/checkouts/client/{client_secret}
func (h *CheckoutHandler) ClientUpdate(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutUpdatePublicRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.checkouts.ClientUpdate(r.Context(), chi.URLParam(r, "client_secret"), req.ToInput())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderPublic(c))
}

// ClientConfirm handles POST /v1/checkouts/client/{client_secret}/confirm
func (h *CheckoutHandler) ClientConfirm(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.checkouts.ClientConfirm(r.Context(), chi.URLParam(r, "client_secret"), req.ToInput())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderPublic(c))
}

func (h *CheckoutHandler) render(c *model.Checkout) dto.CheckoutResponse {
	return dto.NewCheckoutResponse(c, h.checkoutBaseURL)
}

func (h *CheckoutHandler) renderPublic(c *model.Checkout) dto.CheckoutPublicResponse {
	return dto.NewCheckoutPublicResponse(c, h.checkoutBaseURL)
}

// ClientPathPrefix is the path prefix of the client secret routes.
const ClientPathPrefix = "/v1/checkouts/client/"

// EmbedOriginFunc returns a CORS origin check that admits the embed origin
// of the checkout addressed by a client secret route. It runs before
// routing, so the secret is read from the path.
func (h *CheckoutHandler) EmbedOriginFunc() func(r *http.Request, origin string) bool {
	return func(r *http.Request, origin string) bool {
		rest, ok := strings.CutPrefix(r.URL.Path, ClientPathPrefix)
		if !ok {
			return false
		}
		secret, _, _ := strings.Cut(rest, "/")
		if secret == "" {
			return false
		}
		c, err := h.checkouts.ClientGet(r.Context(), secret)
		if err != nil || c.EmbedOrigin == nil {
			return false
		}
		return strings.EqualFold(*c.EmbedOrigin, origin)
	}
}
