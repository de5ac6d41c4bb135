package model

import (
	"slices"
	"time"
)

// OAuth2 constants shared by the authorization server.
const (
	OAuth2TokenTypeBearer          = "Bearer"
	OAuth2CodeChallengeMethodS256  = "S256"
	OAuth2AuthorizationCodeTTL     = 10 * time.Minute
	OAuth2AccessTokenTTL           = time.Hour
	OAuth2GrantTypeAuthorization   = "authorization_code"
	OAuth2GrantTypeRefreshToken    = "refresh_token"
	OAuth2ResponseTypeCode         = "code"
	OAuth2ClientSecretNeverExpires = 0
)

// OAuth2Client is a third-party application registered by a user.
type OAuth2Client struct {
	ID                    string
	ClientID              string
	ClientSecretHash      string
	ClientName            string
	RedirectURIs          []string
	Scope                 string
	UserID                string
	ClientIDIssuedAt      int64
	ClientSecretExpiresAt int64
	CreatedAt             time.Time
	ModifiedAt            *time.Time
	DeletedAt             *time.Time
}

// HasRedirectURI reports whether uri was registered for the client.
func (c *OAuth2Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AllowsScope reports whether every requested scope was registered.
func (c *OAuth2Client) AllowsScope(requested []string) bool {
	allowed := ParseScope(c.Scope)
	for _, s := range requested {
		if !slices.Contains(allowed, s) {
			return false
		}
	}
	return true
}

// OAuth2AuthorizationCode is a single-use code issued by /authorize.
type OAuth2AuthorizationCode struct {
	ID                  string
	CodeHash            string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	CodeChallenge       *string
	CodeChallengeMethod *string
	AuthTime            time.Time
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// IsExpired reports whether the code can no longer be exchanged.
func (c *OAuth2AuthorizationCode) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// OAuth2Token is an issued access/refresh token pair.
type OAuth2Token struct {
	ID                    string
	ClientID              string
	UserID                string
	TokenType             string
	AccessTokenHash       string
	RefreshTokenHash      *string
	Scope                 string
	IssuedAt              time.Time
	ExpiresIn             int
	AccessTokenRevokedAt  *time.Time
	RefreshTokenRevokedAt *time.Time
	CreatedAt             time.Time
}

// IsAccessTokenValid reports whether the access token may be used at now.
func (t *OAuth2Token) IsAccessTokenValid(now time.Time) bool {
	if t.AccessTokenRevokedAt != nil {
		return false
	}
	return now.Before(t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second))
}

// IsRefreshTokenValid reports whether the refresh token may be used.
func (t *OAuth2Token) IsRefreshTokenValid() bool {
	return t.RefreshTokenHash != nil && t.RefreshTokenRevokedAt == nil
}

// OAuth2Grant records the scopes a user consented to for a client.
type OAuth2Grant struct {
	ID         string
	ClientID   string
	UserID     string
	Scope      string
	CreatedAt  time.Time
	ModifiedAt *time.Time
}
