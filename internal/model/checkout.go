// Package model defines domain entities for the application.
package model

import (
	"slices"
	"strings"
	"time"
)

// CheckoutStatus represents the lifecycle state of a checkout session.
type CheckoutStatus string

const (
	CheckoutStatusOpen      CheckoutStatus = "open"
	CheckoutStatusExpired   CheckoutStatus = "expired"
	CheckoutStatusConfirmed CheckoutStatus = "confirmed"
	CheckoutStatusSucceeded CheckoutStatus = "succeeded"
	CheckoutStatusFailed    CheckoutStatus = "failed"
)

// checkoutTransitions lists the statuses reachable from each status.
// Statuses missing from the map are terminal.
var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusOpen:      {CheckoutStatusConfirmed, CheckoutStatusExpired},
	CheckoutStatusConfirmed: {CheckoutStatusSucceeded, CheckoutStatusFailed},
}

// IsValid reports whether s is a known status.
func (s CheckoutStatus) IsValid() bool {
	switch s {
	case CheckoutStatusOpen, CheckoutStatusExpired, CheckoutStatusConfirmed,
		CheckoutStatusSucceeded, CheckoutStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a checkout in status s may move to status to.
func (s CheckoutStatus) CanTransition(to CheckoutStatus) bool {
	return slices.Contains(checkoutTransitions[s], to)
}

// IsTerminal reports whether no further transitions are possible.
func (s CheckoutStatus) IsTerminal() bool {
	return len(checkoutTransitions[s]) == 0
}

// PaymentProcessor identifies the external processor backing a checkout.
type PaymentProcessor string

const PaymentProcessorStripe PaymentProcessor = "stripe"

// CheckoutIDPlaceholder is substituted with the checkout id in success URLs.
const CheckoutIDPlaceholder = "{CHECKOUT_ID}"

// Address is a postal billing address.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country"`
}

// Checkout is a purchase attempt for a single product price.
type Checkout struct {
	ID               string
	PaymentProcessor PaymentProcessor
	Status           CheckoutStatus
	ClientSecret     string
	ExpiresAt        time.Time
	SuccessURL       string
	EmbedOrigin      *string

	// Amount is nil for free prices. Currency is nil when Amount is.
	Amount    *int64
	TaxAmount *int64
	Currency  *string

	ProductID      string
	ProductPriceID string
	SubscriptionID *string
	OrganizationID string

	CustomerID             *string
	CustomerName           *string
	CustomerEmail          *string
	CustomerIPAddress      *string
	CustomerBillingAddress *Address
	CustomerTaxID          *string

	PaymentProcessorMetadata map[string]string
	Metadata                 map[string]string
	CustomFieldData          map[string]any

	CreatedAt  time.Time
	ModifiedAt *time.Time
	DeletedAt  *time.Time

	// Relations rendered with the checkout. Nil unless loaded.
	Product      *Product
	ProductPrice *ProductPrice
	Organization *Organization
}

// IsExpired reports whether the session deadline has passed at now.
func (c *Checkout) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// IsOpen reports whether the checkout can still be modified at now.
func (c *Checkout) IsOpen(now time.Time) bool {
	return c.Status == CheckoutStatusOpen && !c.IsExpired(now)
}

// IsPaymentRequired reports whether the customer has anything to pay.
func (c *Checkout) IsPaymentRequired() bool {
	return c.Amount != nil && *c.Amount > 0
}

// TotalAmount returns amount plus tax, or nil when there is no amount.
// Tax that is not yet computed counts as zero.
func (c *Checkout) TotalAmount() *int64 {
	if c.Amount == nil {
		return nil
	}
	total := *c.Amount
	if c.TaxAmount != nil {
		total += *c.TaxAmount
	}
	return &total
}

// URL returns the customer-facing checkout page URL.
func (c *Checkout) URL(checkoutBaseURL string) string {
	return strings.TrimSuffix(checkoutBaseURL, "/") + "/checkout/" + c.ClientSecret
}

// ResolvedSuccessURL returns the success URL with the checkout id substituted.
func (c *Checkout) ResolvedSuccessURL() string {
	return strings.ReplaceAll(c.SuccessURL, CheckoutIDPlaceholder, c.ID)
}

// SetProcessorMetadata records a processor-side value on the checkout.
func (c *Checkout) SetProcessorMetadata(key, value string) {
	if c.PaymentProcessorMetadata == nil {
		c.PaymentProcessorMetadata = make(map[string]string)
	}
	c.PaymentProcessorMetadata[key] = value
}
