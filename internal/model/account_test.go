package model

import "testing"

func intPtr(v int) *int { return &v }

func TestPlatformFeeAmount(t *testing.T) {
	testCases := []struct {
		name    string
		amount  int64
		percent int
		fixed   int
		want    int64
	}{
		{"default fee", 10000, 500, 40, 540},
		{"rounds half up", 1010, 500, 0, 51},
		{"zero amount", 0, 500, 40, 0},
		{"capped at amount", 50, 500, 100, 50},
		{"no fee", 1000, 0, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PlatformFeeAmount(tc.amount, tc.percent, tc.fixed); got != tc.want {
				t.Errorf("PlatformFeeAmount = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAccount_PlatformFee(t *testing.T) {
	var nilAccount *Account
	if p, f := nilAccount.PlatformFee(500, 40); p != 500 || f != 40 {
		t.Errorf("nil account fee = %d/%d, want defaults", p, f)
	}

	a := &Account{PlatformFeePercent: intPtr(300)}
	if p, f := a.PlatformFee(500, 40); p != 300 || f != 40 {
		t.Errorf("fee = %d/%d, want 300/40", p, f)
	}

	a.PlatformFeeFixed = intPtr(0)
	if _, f := a.PlatformFee(500, 40); f != 0 {
		t.Errorf("fixed = %d, want 0", f)
	}
}

func TestAccount_IsPayoutReady(t *testing.T) {
	testCases := []struct {
		name    string
		account Account
		want    bool
	}{
		{"stripe active with payouts", Account{AccountType: AccountTypeStripe, Status: AccountStatusActive, IsPayoutsEnabled: true}, true},
		{"stripe active without payouts", Account{AccountType: AccountTypeStripe, Status: AccountStatusActive}, false},
		{"open collective active", Account{AccountType: AccountTypeOpenCollective, Status: AccountStatusActive}, true},
		{"under review", Account{AccountType: AccountTypeStripe, Status: AccountStatusUnderReview, IsPayoutsEnabled: true}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.account.IsPayoutReady(); got != tc.want {
				t.Errorf("IsPayoutReady = %v, want %v", got, tc.want)
			}
		})
	}
}
