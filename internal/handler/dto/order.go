package dto

import (
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/service"
)

// ProductResponse is the product an order or subscription refers to.
type ProductResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    *string `json:"description"`
	IsRecurring    bool    `json:"is_recurring"`
	OrganizationID string  `json:"organization_id"`
}

// PriceResponse is a product price.
type PriceResponse struct {
	ID                string  `json:"id"`
	Type              string  `json:"type"`
	AmountType        string  `json:"amount_type"`
	RecurringInterval *string `json:"recurring_interval"`
	PriceAmount       *int64  `json:"price_amount"`
	PriceCurrency     string  `json:"price_currency"`
	MinimumAmount     *int64  `json:"minimum_amount"`
	MaximumAmount     *int64  `json:"maximum_amount"`
	PresetAmount      *int64  `json:"preset_amount"`
	IsArchived        bool    `json:"is_archived"`
}

// OrderResponse is an order without its purchase context.
type OrderResponse struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	TaxAmount      int64             `json:"tax_amount"`
	Currency       string            `json:"currency"`
	BillingReason  string            `json:"billing_reason"`
	UserID         string            `json:"user_id"`
	ProductID      string            `json:"product_id"`
	ProductPriceID string            `json:"product_price_id"`
	SubscriptionID *string           `json:"subscription_id"`
	CheckoutID     *string           `json:"checkout_id"`
	Metadata       map[string]string `json:"metadata"`
	CreatedAt      time.Time         `json:"created_at"`
	ModifiedAt     *time.Time        `json:"modified_at"`
}

// UserOrderResponse is one of the caller's orders with what it bought.
type UserOrderResponse struct {
	OrderResponse
	Product *ProductResponse `json:"product"`
	Price   *PriceResponse   `json:"product_price"`
}

// NewOrderResponse renders an order.
func NewOrderResponse(o *model.Order) OrderResponse {
	metadata := o.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return OrderResponse{
		ID:             o.ID,
		Amount:         o.Amount,
		TaxAmount:      o.TaxAmount,
		Currency:       o.Currency,
		BillingReason:  string(o.BillingReason),
		UserID:         o.UserID,
		ProductID:      o.ProductID,
		ProductPriceID: o.ProductPriceID,
		SubscriptionID: o.SubscriptionID,
		CheckoutID:     o.CheckoutID,
		Metadata:       metadata,
		CreatedAt:      o.CreatedAt,
		ModifiedAt:     o.ModifiedAt,
	}
}

// NewUserOrderResponse renders an order with its product and price.
func NewUserOrderResponse(uo *service.UserOrder) UserOrderResponse {
	resp := UserOrderResponse{OrderResponse: NewOrderResponse(uo.Order)}
	if uo.Product != nil {
		product := newProductResponse(uo.Product)
		resp.Product = &product
	}
	if uo.Price != nil {
		resp.Price = newPriceResponse(uo.Price)
	}
	return resp
}

func newProductResponse(p *model.Product) ProductResponse {
	return ProductResponse{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		IsRecurring:    p.IsRecurring,
		OrganizationID: p.OrganizationID,
	}
}

func newPriceResponse(p *model.ProductPrice) *PriceResponse {
	resp := &PriceResponse{
		ID:            p.ID,
		Type:          string(p.Type),
		AmountType:    string(p.AmountType),
		PriceAmount:   p.PriceAmount,
		PriceCurrency: p.PriceCurrency,
		MinimumAmount: p.MinimumAmount,
		MaximumAmount: p.MaximumAmount,
		PresetAmount:  p.PresetAmount,
		IsArchived:    p.IsArchived,
	}
	if p.RecurringInterval != nil {
		interval := string(*p.RecurringInterval)
		resp.RecurringInterval = &interval
	}
	return resp
}

// SubscriptionResponse is a subscription as sent in outgoing events.
type SubscriptionResponse struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Amount             *int64            `json:"amount"`
	Currency           *string           `json:"currency"`
	RecurringInterval  string            `json:"recurring_interval"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time        `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	StartedAt          *time.Time        `json:"started_at"`
	EndedAt            *time.Time        `json:"ended_at"`
	UserID             string            `json:"user_id"`
	OrganizationID     string            `json:"organization_id"`
	ProductID          string            `json:"product_id"`
	PriceID            string            `json:"price_id"`
	CheckoutID         *string           `json:"checkout_id"`
	Metadata           map[string]string `json:"metadata"`
	CreatedAt          time.Time         `json:"created_at"`
	ModifiedAt         *time.Time        `json:"modified_at"`
}

// NewSubscriptionResponse renders a subscription.
func NewSubscriptionResponse(s *model.Subscription) SubscriptionResponse {
	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return SubscriptionResponse{
		ID:                 s.ID,
		Status:             string(s.Status),
		Amount:             s.Amount,
		Currency:           s.Currency,
		RecurringInterval:  string(s.RecurringInterval),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		StartedAt:          s.StartedAt,
		EndedAt:            s.EndedAt,
		UserID:             s.UserID,
		OrganizationID:     s.OrganizationID,
		ProductID:          s.ProductID,
		PriceID:            s.PriceID,
		CheckoutID:         s.CheckoutID,
		Metadata:           metadata,
		CreatedAt:          s.CreatedAt,
		ModifiedAt:         s.ModifiedAt,
	}
}
