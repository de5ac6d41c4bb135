package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkoutd/checkoutd/internal/model"
)

func TestOptional(t *testing.T) {
	var req struct {
		A Optional[int64]  `json:"a"`
		B Optional[int64]  `json:"b"`
		C Optional[string] `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":null,"c":"x"}`), &req))

	assert.True(t, req.A.Set)
	assert.Nil(t, req.A.Value)
	assert.False(t, req.B.Set)
	assert.True(t, req.C.Set)
	assert.Equal(t, "x", *req.C.Value)

	assert.Error(t, json.Unmarshal([]byte(`{"a":"nope"}`), &req))
}

func TestNewListResponse(t *testing.T) {
	tests := []struct {
		name    string
		items   []int
		total   int
		limit   int
		maxPage int
	}{
		{"empty", nil, 0, 10, 0},
		{"exact pages", []int{1, 2}, 20, 10, 2},
		{"partial last page", []int{1}, 21, 10, 3},
		{"single page", []int{1, 2, 3}, 3, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewListResponse(tt.items, tt.total, tt.limit)
			assert.NotNil(t, resp.Items)
			assert.Equal(t, tt.total, resp.Pagination.TotalCount)
			assert.Equal(t, tt.maxPage, resp.Pagination.MaxPage)
		})
	}

	raw, err := json.Marshal(NewListResponse[int](nil, 0, 10))
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[],"pagination":{"total_count":0,"max_page":0}}`, string(raw))
}

func TestEventRenderer(t *testing.T) {
	render := NewEventRenderer("https://pay.example.com/")
	c := &model.Checkout{
		ID:           "co-1",
		Status:       model.CheckoutStatusSucceeded,
		ClientSecret: "ckd_cs_x",
		SuccessURL:   "https://shop.example.com/done/" + model.CheckoutIDPlaceholder,
		ExpiresAt:    time.Now(),
	}

	out, ok := render(c).(CheckoutResponse)
	require.True(t, ok)
	assert.Equal(t, "https://pay.example.com/checkout/ckd_cs_x", out.URL)
	assert.Equal(t, "https://shop.example.com/done/co-1", out.SuccessURL)

	_, ok = render(&model.Order{ID: "ord-1"}).(OrderResponse)
	assert.True(t, ok)

	other := map[string]string{"k": "v"}
	assert.Equal(t, other, render(other))
}
