package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
)

// OrderStore is the persistence the order service needs.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOrders(ctx context.Context, filter repository.OrderFilter, page repository.Page) ([]*model.Order, int, error)
	GetProductPrice(ctx context.Context, id string) (*model.ProductPrice, *model.Product, error)
}

// UserOrder is an order with the product and price it bought.
type UserOrder struct {
	*model.Order
	Product *model.Product
	Price   *model.ProductPrice
}

// OrderService serves a customer's purchase history.
type OrderService struct {
	store OrderStore
}

// NewOrderService creates a new OrderService.
func NewOrderService(store OrderStore) *OrderService {
	return &OrderService{store: store}
}

// ListUserOrders returns one page of the caller's orders.
func (s *OrderService) ListUserOrders(ctx context.Context, ac *model.AuthContext, productID string, page repository.Page) ([]*UserOrder, int, error) {
	orders, total, err := s.store.ListOrders(ctx, repository.OrderFilter{
		UserID:    ac.UserID,
		ProductID: productID,
	}, page)
	if err != nil {
		return nil, 0, err
	}

	prices := make(map[string]*UserOrder, len(orders))
	out := make([]*UserOrder, 0, len(orders))
	for _, o := range orders {
		uo := &UserOrder{Order: o}
		if cached, ok := prices[o.ProductPriceID]; ok {
			uo.Product, uo.Price = cached.Product, cached.Price
		} else {
			if err := s.enrich(ctx, uo); err != nil {
				return nil, 0, err
			}
			prices[o.ProductPriceID] = uo
		}
		out = append(out, uo)
	}
	return out, total, nil
}

// GetUserOrder returns one of the caller's orders. Orders of other users
// are reported as not found.
func (s *OrderService) GetUserOrder(ctx context.Context, ac *model.AuthContext, id string) (*UserOrder, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if o.UserID != ac.UserID {
		return nil, ErrOrderNotFound
	}

	uo := &UserOrder{Order: o}
	if err := s.enrich(ctx, uo); err != nil {
		return nil, err
	}
	return uo, nil
}

func (s *OrderService) enrich(ctx context.Context, uo *UserOrder) error {
	price, product, err := s.store.GetProductPrice(ctx, uo.ProductPriceID)
	if err != nil {
		return fmt.Errorf("load order price %s: %w", uo.ProductPriceID, err)
	}
	uo.Price, uo.Product = price, product
	return nil
}
