package model

import (
	"slices"
	"testing"
)

func TestAPIKey_HasScope(t *testing.T) {
	testCases := []struct {
		name      string
		keyScopes []string
		checkFor  string
		want      bool
	}{
		{
			name:      "has exact scope",
			keyScopes: []string{ScopeCheckoutsRead, ScopeCheckoutsWrite},
			checkFor:  ScopeCheckoutsRead,
			want:      true,
		},
		{
			name:      "does not have scope",
			keyScopes: []string{ScopeCheckoutsRead},
			checkFor:  ScopeCheckoutsWrite,
			want:      false,
		},
		{
			name:      "admin implies all",
			keyScopes: []string{ScopeAdmin},
			checkFor:  ScopeOrdersRead,
			want:      true,
		},
		{
			name:      "admin implies webhooks",
			keyScopes: []string{ScopeAdmin},
			checkFor:  ScopeWebhooksWrite,
			want:      true,
		},
		{
			name:      "empty scopes",
			keyScopes: []string{},
			checkFor:  ScopeCheckoutsRead,
			want:      false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key := &APIKey{Scopes: tc.keyScopes}
			got := key.HasScope(tc.checkFor)
			if got != tc.want {
				t.Errorf("HasScope(%s) = %v, want %v", tc.checkFor, got, tc.want)
			}
		})
	}
}

func TestAuthContext_HasScope(t *testing.T) {
	testCases := []struct {
		name     string
		scopes   []string
		checkFor string
		want     bool
	}{
		{
			name:     "has scope",
			scopes:   []string{ScopeOrganizationsRead},
			checkFor: ScopeOrganizationsRead,
			want:     true,
		},
		{
			name:     "admin grants all",
			scopes:   []string{ScopeAdmin},
			checkFor: ScopeOrganizationsWrite,
			want:     true,
		},
		{
			name:     "missing scope",
			scopes:   []string{ScopeCheckoutsRead},
			checkFor: ScopeAdmin,
			want:     false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := &AuthContext{Scopes: tc.scopes}
			got := ctx.HasScope(tc.checkFor)
			if got != tc.want {
				t.Errorf("HasScope(%s) = %v, want %v", tc.checkFor, got, tc.want)
			}
		})
	}
}

func TestAPIKey_IsRevoked(t *testing.T) {
	key := &APIKey{}
	if key.IsRevoked() {
		t.Error("new key should not be revoked")
	}
}

func TestAPIKey_GetRateLimitConfig(t *testing.T) {
	testCases := []struct {
		tier      string
		wantRPM   int
		wantBurst int
	}{
		{TierFree, 60, 10},
		{TierPro, 600, 50},
		{TierUnlimited, 0, 0},
		{"unknown", 60, 10}, // Falls back to free
	}

	for _, tc := range testCases {
		t.Run(tc.tier, func(t *testing.T) {
			key := &APIKey{RateLimitTier: tc.tier}
			config := key.GetRateLimitConfig()
			if config.RequestsPerMinute != tc.wantRPM {
				t.Errorf("RPM = %d, want %d", config.RequestsPerMinute, tc.wantRPM)
			}
			if config.Burst != tc.wantBurst {
				t.Errorf("Burst = %d, want %d", config.Burst, tc.wantBurst)
			}
		})
	}
}

func TestValidScopes(t *testing.T) {
	expected := []string{ScopeCheckoutsRead, ScopeCheckoutsWrite, ScopeWebhooksWrite, ScopeAdmin}
	for _, scope := range expected {
		if !slices.Contains(ValidScopes, scope) {
			t.Errorf("ValidScopes should contain %s", scope)
		}
	}
	if IsValidScope("links:write") {
		t.Error("unknown scope reported as valid")
	}
}

func TestParseScope(t *testing.T) {
	got := ParseScope("  checkouts:read   orders:read ")
	if len(got) != 2 || got[0] != ScopeCheckoutsRead || got[1] != ScopeOrdersRead {
		t.Errorf("ParseScope = %v", got)
	}
}
