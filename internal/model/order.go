package model

import (
	"maps"
	"time"
)

// OrderBillingReason explains why an order was created.
type OrderBillingReason string

const (
	OrderBillingReasonPurchase           OrderBillingReason = "purchase"
	OrderBillingReasonSubscriptionCreate OrderBillingReason = "subscription_create"
	OrderBillingReasonSubscriptionUpdate OrderBillingReason = "subscription_update"
)

// Order is the record of a successful checkout.
type Order struct {
	ID                    string
	Amount                int64
	TaxAmount             int64
	PlatformFeeAmount     int64
	Currency              string
	BillingReason         OrderBillingReason
	UserID                string
	ProductID             string
	ProductPriceID        string
	SubscriptionID        *string
	CheckoutID            *string
	StripePaymentIntentID *string
	Metadata              map[string]string
	CreatedAt             time.Time
	ModifiedAt            *time.Time
}

// SubscriptionStatus is the state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription is a recurring entitlement created by a checkout.
type Subscription struct {
	ID                 string
	Status             SubscriptionStatus
	Amount             *int64
	Currency           *string
	RecurringInterval  RecurringInterval
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	StartedAt          *time.Time
	EndedAt            *time.Time
	UserID             string
	OrganizationID     string
	ProductID          string
	PriceID            string
	CheckoutID         *string
	Metadata           map[string]string
	CreatedAt          time.Time
	ModifiedAt         *time.Time
}

// MergeMetadata copies src into the subscription, overwriting existing keys.
func (s *Subscription) MergeMetadata(src map[string]string) {
	if len(src) == 0 {
		return
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]string, len(src))
	}
	maps.Copy(s.Metadata, src)
}

// User is a customer or organization member.
type User struct {
	ID               string
	Email            string
	StripeCustomerID *string
	CreatedAt        time.Time
}
