package dto

import (
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/service"
)

// Address is a postal address in requests and responses.
type Address struct {
	Line1      string `json:"line1,omitempty" validate:"max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	PostalCode string `json:"postal_code,omitempty" validate:"max=20"`
	City       string `json:"city,omitempty" validate:"max=100"`
	State      string `json:"state,omitempty" validate:"max=100"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
}

func (a *Address) toModel() *model.Address {
	if a == nil {
		return nil
	}
	return &model.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		PostalCode: a.PostalCode,
		City:       a.City,
		State:      a.State,
		Country:    a.Country,
	}
}

func newAddress(a *model.Address) *Address {
	if a == nil {
		return nil
	}
	return &Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		PostalCode: a.PostalCode,
		City:       a.City,
		State:      a.State,
		Country:    a.Country,
	}
}

// CheckoutCreateRequest is the body of POST /v1/checkouts/.
type CheckoutCreateRequest struct {
	PaymentProcessor       string            `json:"payment_processor" validate:"required,oneof=stripe"`
	ProductPriceID         string            `json:"product_price_id" validate:"required,uuid"`
	Amount                 *int64            `json:"amount,omitempty" validate:"omitempty,gte=0"`
	SubscriptionID         *string           `json:"subscription_id,omitempty" validate:"omitempty,uuid"`
	SuccessURL             *string           `json:"success_url,omitempty" validate:"omitempty,url,max=2048"`
	EmbedOrigin            *string           `json:"embed_origin,omitempty" validate:"omitempty,url,max=255"`
	CustomerName           *string           `json:"customer_name,omitempty" validate:"omitempty,max=256"`
	CustomerEmail          *string           `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerIPAddress      *string           `json:"customer_ip_address,omitempty" validate:"omitempty,ip"`
	CustomerBillingAddress *Address          `json:"customer_billing_address,omitempty"`
	CustomerTaxID          *string           `json:"customer_tax_id,omitempty" validate:"omitempty,max=64"`
	Metadata               map[string]string `json:"metadata,omitempty" validate:"max=50,dive,keys,max=40,endkeys,max=500"`
	CustomFieldData        map[string]any    `json:"custom_field_data,omitempty" validate:"max=50"`
}

// ToInput converts the request for the checkout service.
func (r CheckoutCreateRequest) ToInput() service.CheckoutCreateInput {
	return service.CheckoutCreateInput{
		ProductPriceID:         r.ProductPriceID,
		Amount:                 r.Amount,
		SubscriptionID:         r.SubscriptionID,
		SuccessURL:             r.SuccessURL,
		EmbedOrigin:            r.EmbedOrigin,
		CustomerName:           r.CustomerName,
		CustomerEmail:          r.CustomerEmail,
		CustomerIPAddress:      r.CustomerIPAddress,
		CustomerBillingAddress: r.CustomerBillingAddress.toModel(),
		CustomerTaxID:          r.CustomerTaxID,
		Metadata:               r.Metadata,
		CustomFieldData:        r.CustomFieldData,
	}
}

// CheckoutClientCreateRequest is the body of POST /v1/checkouts/client/.
type CheckoutClientCreateRequest struct {
	ProductPriceID string  `json:"product_price_id" validate:"required,uuid"`
	Amount         *int64  `json:"amount,omitempty" validate:"omitempty,gte=0"`
	CustomerEmail  *string `json:"customer_email,omitempty" validate:"omitempty,email"`
}

// ToInput converts the request. The IP address comes from the connection.
func (r CheckoutClientCreateRequest) ToInput(ip string) service.CheckoutClientCreateInput {
	in := service.CheckoutClientCreateInput{
		ProductPriceID: r.ProductPriceID,
		Amount:         r.Amount,
		CustomerEmail:  r.CustomerEmail,
	}
	if ip != "" {
		in.CustomerIPAddress = &ip
	}
	return in
}

// CheckoutUpdatePublicRequest is the body of PATCH /v1/checkouts/client/{client_secret}.
type CheckoutUpdatePublicRequest struct {
	ProductPriceID         *string        `json:"product_price_id,omitempty" validate:"omitempty,uuid"`
	Amount                 *int64         `json:"amount,omitempty" validate:"omitempty,gte=0"`
	CustomerName           *string        `json:"customer_name,omitempty" validate:"omitempty,max=256"`
	CustomerEmail          *string        `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerBillingAddress *Address       `json:"customer_billing_address,omitempty"`
	CustomerTaxID          *string        `json:"customer_tax_id,omitempty" validate:"omitempty,max=64"`
	CustomFieldData        map[string]any `json:"custom_field_data,omitempty" validate:"max=50"`
}

// ToInput converts the request for the checkout service.
func (r CheckoutUpdatePublicRequest) ToInput() service.CheckoutUpdatePublicInput {
	return service.CheckoutUpdatePublicInput{
		ProductPriceID:         r.ProductPriceID,
		Amount:                 r.Amount,
		CustomerName:           r.CustomerName,
		CustomerEmail:          r.CustomerEmail,
		CustomerBillingAddress: r.CustomerBillingAddress.toModel(),
		CustomerTaxID:          r.CustomerTaxID,
		CustomFieldData:        r.CustomFieldData,
	}
}

// CheckoutUpdateRequest is the body of PATCH /v1/checkouts/{id}.
type CheckoutUpdateRequest struct {
	CheckoutUpdatePublicRequest
	CustomerIPAddress *string           `json:"customer_ip_address,omitempty" validate:"omitempty,ip"`
	SuccessURL        *string           `json:"success_url,omitempty" validate:"omitempty,url,max=2048"`
	EmbedOrigin       *string           `json:"embed_origin,omitempty" validate:"omitempty,url,max=255"`
	Metadata          map[string]string `json:"metadata,omitempty" validate:"max=50,dive,keys,max=40,endkeys,max=500"`
}

// ToInput converts the request for the checkout service.
func (r CheckoutUpdateRequest) ToInput() service.CheckoutUpdateInput {
	return service.CheckoutUpdateInput{
		ProductPriceID:         r.ProductPriceID,
		Amount:                 r.Amount,
		CustomerName:           r.CustomerName,
		CustomerEmail:          r.CustomerEmail,
		CustomerIPAddress:      r.CustomerIPAddress,
		CustomerBillingAddress: r.CustomerBillingAddress.toModel(),
		CustomerTaxID:          r.CustomerTaxID,
		Metadata:               r.Metadata,
		CustomFieldData:        r.CustomFieldData,
		SuccessURL:             r.SuccessURL,
		EmbedOrigin:            r.EmbedOrigin,
	}
}

// CheckoutConfirmRequest is the body of POST /v1/checkouts/client/{client_secret}/confirm.
type CheckoutConfirmRequest struct {
	CheckoutUpdatePublicRequest
	ConfirmationTokenID *string `json:"confirmation_token_id,omitempty" validate:"omitempty,max=255"`
}

// ToInput converts the request for the checkout service.
func (r CheckoutConfirmRequest) ToInput() service.CheckoutConfirmInput {
	return service.CheckoutConfirmInput{
		CheckoutUpdatePublicInput: r.CheckoutUpdatePublicRequest.ToInput(),
		ConfirmationTokenID:       r.ConfirmationTokenID,
	}
}

// CheckoutProductResponse is the product of a checkout with the prices the
// customer may switch between.
type CheckoutProductResponse struct {
	ProductResponse
	IsArchived bool             `json:"is_archived"`
	Prices     []*PriceResponse `json:"prices"`
}

// CheckoutOrganizationResponse is the public face of the selling organization.
type CheckoutOrganizationResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Slug      string  `json:"slug"`
	AvatarURL *string `json:"avatar_url"`
}

// CheckoutPublicResponse is what a customer sees through the client secret.
type CheckoutPublicResponse struct {
	ID                       string               `json:"id"`
	Status                   model.CheckoutStatus `json:"status"`
	ClientSecret             string               `json:"client_secret"`
	URL                      string               `json:"url"`
	ExpiresAt                time.Time            `json:"expires_at"`
	SuccessURL               string               `json:"success_url"`
	EmbedOrigin              *string              `json:"embed_origin"`
	Amount                   *int64               `json:"amount"`
	TaxAmount                *int64               `json:"tax_amount"`
	Currency                 *string              `json:"currency"`
	TotalAmount              *int64               `json:"total_amount"`
	IsPaymentRequired        bool                 `json:"is_payment_required"`
	PaymentProcessor         string               `json:"payment_processor"`
	PaymentProcessorMetadata map[string]string    `json:"payment_processor_metadata"`
	ProductID                string               `json:"product_id"`
	ProductPriceID           string               `json:"product_price_id"`
	SubscriptionID           *string              `json:"subscription_id"`
	CustomerName             *string              `json:"customer_name"`
	CustomerEmail            *string              `json:"customer_email"`
	CustomerIPAddress        *string              `json:"customer_ip_address"`
	CustomerBillingAddress   *Address             `json:"customer_billing_address"`
	CustomerTaxID            *string              `json:"customer_tax_id"`
	CustomFieldData          map[string]any       `json:"custom_field_data"`
	CreatedAt                time.Time            `json:"created_at"`
	ModifiedAt               *time.Time           `json:"modified_at"`

	Product      *CheckoutProductResponse      `json:"product"`
	ProductPrice *PriceResponse                `json:"product_price"`
	Organization *CheckoutOrganizationResponse `json:"organization"`
}

// CheckoutResponse adds the fields only the merchant sees.
type CheckoutResponse struct {
	CheckoutPublicResponse
	OrganizationID string            `json:"organization_id"`
	CustomerID     *string           `json:"customer_id"`
	Metadata       map[string]string `json:"metadata"`
}

// NewCheckoutPublicResponse renders a checkout for its customer.
func NewCheckoutPublicResponse(c *model.Checkout, checkoutBaseURL string) CheckoutPublicResponse {
	processorMetadata := c.PaymentProcessorMetadata
	if processorMetadata == nil {
		processorMetadata = map[string]string{}
	}
	customFieldData := c.CustomFieldData
	if customFieldData == nil {
		customFieldData = map[string]any{}
	}
	resp := CheckoutPublicResponse{
		ID:                       c.ID,
		Status:                   c.Status,
		ClientSecret:             c.ClientSecret,
		URL:                      c.URL(checkoutBaseURL),
		ExpiresAt:                c.ExpiresAt,
		SuccessURL:               c.ResolvedSuccessURL(),
		EmbedOrigin:              c.EmbedOrigin,
		Amount:                   c.Amount,
		TaxAmount:                c.TaxAmount,
		Currency:                 c.Currency,
		TotalAmount:              c.TotalAmount(),
		IsPaymentRequired:        c.IsPaymentRequired(),
		PaymentProcessor:         string(c.PaymentProcessor),
		PaymentProcessorMetadata: processorMetadata,
		ProductID:                c.ProductID,
		ProductPriceID:           c.ProductPriceID,
		SubscriptionID:           c.SubscriptionID,
		CustomerName:             c.CustomerName,
		CustomerEmail:            c.CustomerEmail,
		CustomerIPAddress:        c.CustomerIPAddress,
		CustomerBillingAddress:   newAddress(c.CustomerBillingAddress),
		CustomerTaxID:            c.CustomerTaxID,
		CustomFieldData:          customFieldData,
		CreatedAt:                c.CreatedAt,
		ModifiedAt:               c.ModifiedAt,
	}
	if c.Product != nil {
		resp.Product = newCheckoutProductResponse(c.Product)
	}
	if c.ProductPrice != nil {
		resp.ProductPrice = newPriceResponse(c.ProductPrice)
	}
	if o := c.Organization; o != nil {
		resp.Organization = &CheckoutOrganizationResponse{
			ID:        o.ID,
			Name:      o.Name,
			Slug:      o.Slug,
			AvatarURL: o.AvatarURL,
		}
	}
	return resp
}

func newCheckoutProductResponse(p *model.Product) *CheckoutProductResponse {
	return &CheckoutProductResponse{
		ProductResponse: newProductResponse(p),
		IsArchived:      p.IsArchived,
		Prices:          Map(p.Prices, newPriceResponse),
	}
}

// NewCheckoutResponse renders a checkout for the merchant.
func NewCheckoutResponse(c *model.Checkout, checkoutBaseURL string) CheckoutResponse {
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return CheckoutResponse{
		CheckoutPublicResponse: NewCheckoutPublicResponse(c, checkoutBaseURL),
		OrganizationID:         c.OrganizationID,
		CustomerID:             c.CustomerID,
		Metadata:               metadata,
	}
}
