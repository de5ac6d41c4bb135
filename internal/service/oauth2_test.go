package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedirectURI = "https://app.example.com/callback"

type oauth2Env struct {
	svc    *OAuth2Service
	store  *fakeStore
	user   *model.AuthContext
	client *RegisteredClient
}

func newOAuth2Env(t *testing.T) *oauth2Env {
	t.Helper()
	store := newFakeStore()
	svc := NewOAuth2Service(store, discardLogger())
	user := &model.AuthContext{UserID: "user-1"}

	client, err := svc.RegisterClient(context.Background(), user, ClientRegisterInput{
		ClientName:   "Example App",
		RedirectURIs: []string{testRedirectURI},
		Scope:        "checkouts:read orders:read",
	})
	require.NoError(t, err)

	return &oauth2Env{svc: svc, store: store, user: user, client: client}
}

func (e *oauth2Env) authorize(t *testing.T, in AuthorizeInput) string {
	t.Helper()
	if in.ResponseType == "" {
		in.ResponseType = model.OAuth2ResponseTypeCode
	}
	if in.ClientID == "" {
		in.ClientID = e.client.ClientID
	}
	redirect, err := e.svc.Authorize(context.Background(), e.user, in)
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	return u.Query().Get("code")
}

func (e *oauth2Env) exchange(code, verifier string) (*TokenResponse, error) {
	return e.exchangeAt(code, verifier, testRedirectURI)
}

func (e *oauth2Env) exchangeAt(code, verifier, redirectURI string) (*TokenResponse, error) {
	return e.svc.Token(context.Background(), TokenInput{
		GrantType:    model.OAuth2GrantTypeAuthorization,
		ClientID:     e.client.ClientID,
		ClientSecret: e.client.ClientSecret,
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
	})
}

func requireOAuth2Error(t *testing.T, err error, code string) {
	t.Helper()
	var oerr *OAuth2Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, code, oerr.Code)
}

func TestRegisterClient(t *testing.T) {
	e := newOAuth2Env(t)

	assert.True(t, len(e.client.ClientID) > len(auth.TokenPrefixClientID))
	assert.Contains(t, e.client.ClientSecret, auth.TokenPrefixClientSecret)
	assert.NotEqual(t, e.client.ClientSecret, e.client.ClientSecretHash)
	assert.Equal(t, "checkouts:read orders:read", e.client.Scope)
	assert.Equal(t, int64(model.OAuth2ClientSecretNeverExpires), e.client.ClientSecretExpiresAt)

	clients, total, err := e.svc.ListClients(context.Background(), e.user, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, e.client.ClientID, clients[0].ClientID)
}

func TestRegisterClient_Validation(t *testing.T) {
	e := newOAuth2Env(t)

	_, err := e.svc.RegisterClient(context.Background(), e.user, ClientRegisterInput{
		RedirectURIs: []string{"http://evil.example.com/cb", "https://ok.example.com/cb#frag"},
		Scope:        "admin checkouts:read bogus",
	})

	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make([]string, len(verr))
	for i, fe := range verr {
		fields[i] = fe.Field
	}
	assert.Equal(t, []string{"client_name", "redirect_uris", "redirect_uris", "scope", "scope"}, fields)
}

func TestIsAllowedRedirectURI(t *testing.T) {
	tests := []struct {
		uri  string
		want bool
	}{
		{"https://app.example.com/cb", true},
		{"http://localhost:8080/cb", true},
		{"http://127.0.0.1/cb", true},
		{"http://app.example.com/cb", false},
		{"https://app.example.com/cb#x", false},
		{"myapp://callback", false},
		{"/relative", false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			assert.Equal(t, tt.want, isAllowedRedirectURI(tt.uri))
		})
	}
}

func TestDeleteClient(t *testing.T) {
	e := newOAuth2Env(t)
	ctx := context.Background()

	err := e.svc.DeleteClient(ctx, &model.AuthContext{UserID: "someone-else"}, e.client.ClientID)
	assert.ErrorIs(t, err, ErrOAuth2ClientNotFound)

	require.NoError(t, e.svc.DeleteClient(ctx, e.user, e.client.ClientID))

	_, err = e.svc.Authorize(ctx, e.user, AuthorizeInput{
		ResponseType: model.OAuth2ResponseTypeCode,
		ClientID:     e.client.ClientID,
	})
	requireOAuth2Error(t, err, OAuth2ErrInvalidClient)
}

func TestAuthorize(t *testing.T) {
	e := newOAuth2Env(t)

	redirect, err := e.svc.Authorize(context.Background(), e.user, AuthorizeInput{
		ResponseType: model.OAuth2ResponseTypeCode,
		ClientID:     e.client.ClientID,
		Scope:        "orders:read",
		State:        "xyz",
	})
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", u.Host)
	assert.Equal(t, "xyz", u.Query().Get("state"))

	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	stored, ok := e.store.codes[auth.HashToken(code)]
	require.True(t, ok)
	assert.Equal(t, "orders:read", stored.Scope)
	assert.Equal(t, testRedirectURI, stored.RedirectURI)

	grant, ok := e.store.grants[e.client.ClientID+"/"+e.user.UserID]
	require.True(t, ok)
	assert.Equal(t, "orders:read", grant.Scope)
}

func TestAuthorize_Rejections(t *testing.T) {
	e := newOAuth2Env(t)

	tests := []struct {
		name string
		in   AuthorizeInput
		code string
	}{
		{"response type", AuthorizeInput{ResponseType: "token"}, OAuth2ErrUnsupportedResponseType},
		{"unknown client", AuthorizeInput{ClientID: "ckd_oci_missing"}, OAuth2ErrInvalidClient},
		{"unregistered redirect", AuthorizeInput{RedirectURI: "https://evil.example.com/cb"}, OAuth2ErrInvalidRequest},
		{"scope escalation", AuthorizeInput{Scope: "checkouts:write"}, OAuth2ErrInvalidScope},
		{"plain pkce", AuthorizeInput{CodeChallenge: "abc", CodeChallengeMethod: "plain"}, OAuth2ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			if in.ResponseType == "" {
				in.ResponseType = model.OAuth2ResponseTypeCode
			}
			if in.ClientID == "" {
				in.ClientID = e.client.ClientID
			}
			_, err := e.svc.Authorize(context.Background(), e.user, in)
			requireOAuth2Error(t, err, tt.code)
		})
	}
	assert.Empty(t, e.store.codes)
}

func TestToken_AuthorizationCode(t *testing.T) {
	e := newOAuth2Env(t)
	code := e.authorize(t, AuthorizeInput{})

	resp, err := e.exchange(code, "")
	require.NoError(t, err)
	assert.Equal(t, model.OAuth2TokenTypeBearer, resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, "checkouts:read orders:read", resp.Scope)
	assert.True(t, auth.IsAccessToken(resp.AccessToken))
	assert.Contains(t, resp.RefreshToken, auth.TokenPrefixRefreshToken)

	ac, err := e.svc.IntrospectAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, model.AuthSubjectOAuth2, ac.Subject)
	assert.Equal(t, e.user.UserID, ac.UserID)
	assert.Equal(t, e.client.ClientID, ac.ClientID)
	assert.Equal(t, []string{"checkouts:read", "orders:read"}, ac.Scopes)

	_, err = e.exchange(code, "")
	requireOAuth2Error(t, err, OAuth2ErrInvalidGrant)
}

func TestToken_PKCE(t *testing.T) {
	e := newOAuth2Env(t)
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code := e.authorize(t, AuthorizeInput{CodeChallenge: challenge})
	_, err := e.exchange(code, "wrong-verifier")
	requireOAuth2Error(t, err, OAuth2ErrInvalidGrant)

	code = e.authorize(t, AuthorizeInput{CodeChallenge: challenge})
	_, err = e.exchange(code, verifier)
	require.NoError(t, err)
}

func TestToken_FailedVerifierBurnsCode(t *testing.T) {
	e := newOAuth2Env(t)
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code := e.authorize(t, AuthorizeInput{CodeChallenge: challenge})
	_, err := e.exchange(code, "wrong-verifier")
	requireOAuth2Error(t, err, OAuth2ErrInvalidGrant)

	_, err = e.exchange(code, verifier)
	requireOAuth2Error(t, err, OAuth2ErrInvalidGrant)
	assert.Empty(t, e.store.codes)
	assert.Empty(t, e.store.tokens)
}

func TestToken_RedirectURIMustMatchCode(t *testing.T) {
	e := newOAuth2Env(t)

	code := e.authorize(t, AuthorizeInput{})
	_, err := e.exchangeAt(code, "", "")
	requireOAuth2Error(t, err, OAuth2ErrInvalidRequest)
	_, err = e.exchange(code, "")
	requireOAuth2Error(t, err, OAuth2ErrInvalidGrant)

	code = e.authorize(t, AuthorizeInput{})
	_, err = e.exchangeAt(code, "", "https://evil.example.com/callback")
	requireOAuth2Error(t, err, OAuth2ErrInvalidGrant)

	code = e.authorize(t, AuthorizeInput{RedirectURI: testRedirectURI})
	resp, err := e.exchange(code, "")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestToken_ExpiredCode(t *testing.T) {
	e := newOAuth2Env(t)
	code := e.authorize(t, AuthorizeInput{})

	e.svc.now = func() time.Time { return time.Now().UTC().Add(model.OAuth2AuthorizationCodeTTL + time.Minute) }
	_, err := e.exchange(code, "")
	requireOAuth2Error(t, err, OAuth2ErrInvalidGrant)
}

func TestToken_ClientAuthentication(t *testing.T) {
	e := newOAuth2Env(t)
	code := e.authorize(t, AuthorizeInput{})

	_, err := e.svc.Token(context.Background(), TokenInput{
		GrantType:    model.OAuth2GrantTypeAuthorization,
		ClientID:     e.client.ClientID,
		ClientSecret: "ckd_ocs_wrong",
		Code:         code,
	})
	requireOAuth2Error(t, err, OAuth2ErrInvalidClient)

	_, err = e.svc.Token(context.Background(), TokenInput{
		GrantType:    "password",
		ClientID:     e.client.ClientID,
		ClientSecret: e.client.ClientSecret,
	})
	requireOAuth2Error(t, err, OAuth2ErrUnsupportedGrantType)
}

func TestToken_RefreshRotates(t *testing.T) {
	e := newOAuth2Env(t)
	first, err := e.exchange(e.authorize(t, AuthorizeInput{}), "")
	require.NoError(t, err)

	refreshIn := TokenInput{
		GrantType:    model.OAuth2GrantTypeRefreshToken,
		ClientID:     e.client.ClientID,
		ClientSecret: e.client.ClientSecret,
		RefreshToken: first.RefreshToken,
	}
	second, err := e.svc.Token(context.Background(), refreshIn)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	_, err = e.svc.IntrospectAccessToken(context.Background(), first.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	_, err = e.svc.Token(context.Background(), refreshIn)
	requireOAuth2Error(t, err, OAuth2ErrInvalidGrant)
}

func TestRevoke(t *testing.T) {
	e := newOAuth2Env(t)
	resp, err := e.exchange(e.authorize(t, AuthorizeInput{}), "")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, e.svc.Revoke(ctx, e.client.ClientID, e.client.ClientSecret, "ckd_oat_unknown"))

	require.NoError(t, e.svc.Revoke(ctx, e.client.ClientID, e.client.ClientSecret, resp.RefreshToken))
	_, err = e.svc.IntrospectAccessToken(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestIntrospectAccessToken_Expired(t *testing.T) {
	e := newOAuth2Env(t)
	resp, err := e.exchange(e.authorize(t, AuthorizeInput{}), "")
	require.NoError(t, err)

	e.svc.now = func() time.Time { return time.Now().UTC().Add(model.OAuth2AccessTokenTTL + time.Second) }
	_, err = e.svc.IntrospectAccessToken(context.Background(), resp.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	_, err = e.svc.IntrospectAccessToken(context.Background(), "ckd_oat_missing")
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
}
