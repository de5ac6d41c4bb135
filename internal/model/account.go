package model

import "time"

// AccountType identifies the payout provider of an account.
type AccountType string

const (
	AccountTypeStripe         AccountType = "stripe"
	AccountTypeOpenCollective AccountType = "open_collective"
)

// AccountStatus tracks payout onboarding.
type AccountStatus string

const (
	AccountStatusCreated           AccountStatus = "created"
	AccountStatusOnboardingStarted AccountStatus = "onboarding_started"
	AccountStatusUnderReview       AccountStatus = "under_review"
	AccountStatusActive            AccountStatus = "active"
)

// Account receives payouts for one or more organizations.
type Account struct {
	ID          string
	AccountType AccountType
	AdminID     string
	StripeID    *string
	Email       *string
	Country     string
	Currency    *string

	IsDetailsSubmitted bool
	IsChargesEnabled   bool
	IsPayoutsEnabled   bool

	ProcessorFeesApplicable bool
	// Overrides of the platform defaults; nil means use the default.
	PlatformFeePercent *int
	PlatformFeeFixed   *int

	BusinessType        *string
	Status              AccountStatus
	NextReviewThreshold *int64

	CreatedAt  time.Time
	ModifiedAt *time.Time
	DeletedAt  *time.Time
}

// IsActive reports whether onboarding is complete.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// IsUnderReview reports whether payouts are held for manual review.
func (a *Account) IsUnderReview() bool {
	return a.Status == AccountStatusUnderReview
}

// IsPayoutReady reports whether money can be paid out to the account.
// Stripe accounts additionally need payouts enabled on the Stripe side.
func (a *Account) IsPayoutReady() bool {
	return a.IsActive() && (a.AccountType != AccountTypeStripe || a.IsPayoutsEnabled)
}

// PlatformFee returns the fee basis points and fixed cents for the account.
func (a *Account) PlatformFee(defaultPercent, defaultFixed int) (percent, fixed int) {
	percent, fixed = defaultPercent, defaultFixed
	if a != nil && a.PlatformFeePercent != nil {
		percent = *a.PlatformFeePercent
	}
	if a != nil && a.PlatformFeeFixed != nil {
		fixed = *a.PlatformFeeFixed
	}
	return percent, fixed
}

// PlatformFeeAmount computes the fee on amount cents, rounded half up.
// Nothing is charged on zero amounts.
func PlatformFeeAmount(amount int64, percent, fixed int) int64 {
	if amount <= 0 {
		return 0
	}
	fee := (amount*int64(percent)+5000)/10000 + int64(fixed)
	if fee > amount {
		return amount
	}
	return fee
}
