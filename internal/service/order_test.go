package service

import (
	"context"
	"testing"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrderEnv(t *testing.T) (*OrderService, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	store.products["prod-1"] = &model.Product{ID: "prod-1", Name: "Pro"}
	store.products["prod-2"] = &model.Product{ID: "prod-2", Name: "Team"}
	store.prices["price-1"] = &model.ProductPrice{ID: "price-1", ProductID: "prod-1", AmountType: model.PriceAmountTypeFixed}
	store.prices["price-2"] = &model.ProductPrice{ID: "price-2", ProductID: "prod-2", AmountType: model.PriceAmountTypeFixed}

	store.orders = []*model.Order{
		{ID: "o-1", UserID: "alice", ProductID: "prod-1", ProductPriceID: "price-1", Amount: 1000},
		{ID: "o-2", UserID: "alice", ProductID: "prod-2", ProductPriceID: "price-2", Amount: 3000},
		{ID: "o-3", UserID: "alice", ProductID: "prod-1", ProductPriceID: "price-1", Amount: 1000},
		{ID: "o-4", UserID: "bob", ProductID: "prod-1", ProductPriceID: "price-1", Amount: 1000},
	}
	return NewOrderService(store), store
}

func TestListUserOrders(t *testing.T) {
	svc, _ := newOrderEnv(t)
	alice := &model.AuthContext{UserID: "alice"}

	orders, total, err := svc.ListUserOrders(context.Background(), alice, "", repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, orders, 3)
	for _, o := range orders {
		assert.Equal(t, "alice", o.UserID)
		require.NotNil(t, o.Product)
		require.NotNil(t, o.Price)
		assert.Equal(t, o.ProductID, o.Product.ID)
	}

	orders, total, err = svc.ListUserOrders(context.Background(), alice, "prod-2", repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Team", orders[0].Product.Name)
}

func TestListUserOrders_MissingPrice(t *testing.T) {
	svc, store := newOrderEnv(t)
	delete(store.prices, "price-2")

	_, _, err := svc.ListUserOrders(context.Background(), &model.AuthContext{UserID: "alice"}, "", repository.Page{})
	assert.ErrorIs(t, err, repository.ErrPriceNotFound)
}

func TestGetUserOrder(t *testing.T) {
	svc, _ := newOrderEnv(t)

	o, err := svc.GetUserOrder(context.Background(), &model.AuthContext{UserID: "alice"}, "o-2")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), o.Amount)
	assert.Equal(t, "Team", o.Product.Name)

	_, err = svc.GetUserOrder(context.Background(), &model.AuthContext{UserID: "bob"}, "o-2")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = svc.GetUserOrder(context.Background(), &model.AuthContext{UserID: "alice"}, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
