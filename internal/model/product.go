package model

import "time"

// Bounds applied to custom (pay-what-you-want) prices, in cents.
const (
	MinimumPriceAmount int64 = 50
	MaximumPriceAmount int64 = 99_999_999
)

// PriceAmountType decides how a checkout amount is derived from a price.
type PriceAmountType string

const (
	PriceAmountTypeFixed  PriceAmountType = "fixed"
	PriceAmountTypeCustom PriceAmountType = "custom"
	PriceAmountTypeFree   PriceAmountType = "free"
)

// PriceType distinguishes one-time purchases from subscriptions.
type PriceType string

const (
	PriceTypeOneTime   PriceType = "one_time"
	PriceTypeRecurring PriceType = "recurring"
)

// RecurringInterval is the billing period of a recurring price.
type RecurringInterval string

const (
	RecurringIntervalMonth RecurringInterval = "month"
	RecurringIntervalYear  RecurringInterval = "year"
)

// Next returns the end of the billing period starting at t.
func (i RecurringInterval) Next(t time.Time) time.Time {
	if i == RecurringIntervalYear {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// Product is something an organization sells.
type Product struct {
	ID              string
	OrganizationID  string
	Name            string
	Description     *string
	IsRecurring     bool
	IsArchived      bool
	IsTaxApplicable bool
	CreatedAt       time.Time
	ModifiedAt      *time.Time

	// Prices holds the unarchived prices when loaded.
	Prices []*ProductPrice
}

// ProductPrice is one way of paying for a product.
type ProductPrice struct {
	ID                string
	ProductID         string
	Type              PriceType
	RecurringInterval *RecurringInterval
	AmountType        PriceAmountType

	// Fixed prices
	PriceAmount   *int64
	PriceCurrency string

	// Custom prices
	MinimumAmount *int64
	MaximumAmount *int64
	PresetAmount  *int64

	IsArchived bool
	CreatedAt  time.Time
	ModifiedAt *time.Time
}

// IsRecurring reports whether the price starts a subscription.
func (p *ProductPrice) IsRecurring() bool {
	return p.Type == PriceTypeRecurring
}

// CustomAmountBounds returns the inclusive amount range of a custom price.
func (p *ProductPrice) CustomAmountBounds() (minimum, maximum int64) {
	minimum, maximum = MinimumPriceAmount, MaximumPriceAmount
	if p.MinimumAmount != nil && *p.MinimumAmount > minimum {
		minimum = *p.MinimumAmount
	}
	if p.MaximumAmount != nil && *p.MaximumAmount < maximum {
		maximum = *p.MaximumAmount
	}
	return minimum, maximum
}

// DefaultCustomAmount returns the amount preselected for a custom price.
func (p *ProductPrice) DefaultCustomAmount() int64 {
	if p.PresetAmount != nil {
		return *p.PresetAmount
	}
	minimum, _ := p.CustomAmountBounds()
	return minimum
}
