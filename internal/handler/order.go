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

// OrderService is the purchase history the HTTP layer needs.
type OrderService interface {
	ListUserOrders(ctx context.Context, ac *model.AuthContext, productID string, page repository.Page) ([]*service.UserOrder, int, error)
	GetUserOrder(ctx context.Context, ac *model.AuthContext, id string) (*service.UserOrder, error)
}

// OrderHandler handles the caller's order endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger.With("handler", "order")}
}

// List handles GET /v1/users/orders/
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	page, errs := parsePage(r)
	if len(errs) > 0 {
		writeValidationError(w, errs)
		return
	}

	orders, total, err := h.orders.ListUserOrders(r.Context(), auth.AuthFromContext(r.Context()), r.URL.Query().Get("product_id"), page)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewListResponse(dto.Map(orders, dto.NewUserOrderResponse), total, page.Limit))
}

// Get handles GET /v1/users/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetUserOrder(r.Context(), auth.AuthFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUserOrderResponse(order))
}
