package model

import (
	"testing"
	"time"
)

func TestOAuth2Token_Validity(t *testing.T) {
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	refresh := "hash"
	tok := &OAuth2Token{IssuedAt: issued, ExpiresIn: 3600, RefreshTokenHash: &refresh}

	if !tok.IsAccessTokenValid(issued.Add(59 * time.Minute)) {
		t.Error("token should be valid before expiry")
	}
	if tok.IsAccessTokenValid(issued.Add(time.Hour)) {
		t.Error("token should expire after expires_in")
	}
	if !tok.IsRefreshTokenValid() {
		t.Error("refresh token should be valid")
	}

	revoked := issued.Add(time.Minute)
	tok.AccessTokenRevokedAt = &revoked
	tok.RefreshTokenRevokedAt = &revoked
	if tok.IsAccessTokenValid(issued.Add(2 * time.Minute)) {
		t.Error("revoked access token should be invalid")
	}
	if tok.IsRefreshTokenValid() {
		t.Error("revoked refresh token should be invalid")
	}
}

func TestOAuth2Client_AllowsScope(t *testing.T) {
	c := &OAuth2Client{
		Scope:        "checkouts:read orders:read",
		RedirectURIs: []string{"https://app.example.com/callback"},
	}

	if !c.AllowsScope([]string{ScopeOrdersRead}) {
		t.Error("registered scope should be allowed")
	}
	if c.AllowsScope([]string{ScopeOrdersRead, ScopeAdmin}) {
		t.Error("unregistered scope should be rejected")
	}
	if !c.HasRedirectURI("https://app.example.com/callback") {
		t.Error("registered redirect uri not found")
	}
	if c.HasRedirectURI("https://evil.example.com/callback") {
		t.Error("unregistered redirect uri accepted")
	}
}

func TestSubscription_MergeMetadata(t *testing.T) {
	s := &Subscription{Metadata: map[string]string{"plan": "free", "keep": "yes"}}
	s.MergeMetadata(map[string]string{"plan": "pro"})

	if s.Metadata["plan"] != "pro" || s.Metadata["keep"] != "yes" {
		t.Errorf("metadata = %v", s.Metadata)
	}

	empty := &Subscription{}
	empty.MergeMetadata(map[string]string{"a": "b"})
	if empty.Metadata["a"] != "b" {
		t.Errorf("metadata = %v", empty.Metadata)
	}
}
