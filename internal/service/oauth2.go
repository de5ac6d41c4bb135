package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/google/uuid"
)

// OAuth2 error codes (RFC 6749 section 5.2).
const (
	OAuth2ErrInvalidRequest          = "invalid_request"
	OAuth2ErrInvalidClient           = "invalid_client"
	OAuth2ErrInvalidGrant            = "invalid_grant"
	OAuth2ErrInvalidScope            = "invalid_scope"
	OAuth2ErrUnsupportedGrantType    = "unsupported_grant_type"
	OAuth2ErrUnsupportedResponseType = "unsupported_response_type"
)

// OAuth2Error is a protocol error returned to OAuth2 clients.
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *OAuth2Error) Error() string {
	if e.Description == "" {
		return "oauth2: " + e.Code
	}
	return "oauth2: " + e.Code + ": " + e.Description
}

func oauth2Err(code, description string) error {
	return &OAuth2Error{Code: code, Description: description}
}

var (
	// ErrOAuth2ClientNotFound is returned when a client does not exist or is not owned by the caller.
	ErrOAuth2ClientNotFound = errors.New("oauth2 client not found")
	// ErrInvalidAccessToken is returned when an access token is unknown, expired or revoked.
	ErrInvalidAccessToken = errors.New("invalid access token")
)

// OAuth2Store is the persistence the OAuth2 service needs.
type OAuth2Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateOAuth2Client(ctx context.Context, c *model.OAuth2Client) error
	GetOAuth2Client(ctx context.Context, clientID string) (*model.OAuth2Client, error)
	ListOAuth2Clients(ctx context.Context, userID string, page repository.Page) ([]*model.OAuth2Client, int, error)
	DeleteOAuth2Client(ctx context.Context, userID, clientID string) error

	CreateOAuth2AuthorizationCode(ctx context.Context, c *model.OAuth2AuthorizationCode) error
	ConsumeOAuth2AuthorizationCode(ctx context.Context, codeHash string) (*model.OAuth2AuthorizationCode, error)

	CreateOAuth2Token(ctx context.Context, t *model.OAuth2Token) error
	GetOAuth2TokenByAccessHash(ctx context.Context, hash string) (*model.OAuth2Token, error)
	GetOAuth2TokenByRefreshHash(ctx context.Context, hash string) (*model.OAuth2Token, error)
	RevokeOAuth2Token(ctx context.Context, id string, at time.Time) error

	UpsertOAuth2Grant(ctx context.Context, g *model.OAuth2Grant) error
}

// OAuth2Service is the authorization server for third-party applications.
type OAuth2Service struct {
	store  OAuth2Store
	logger *slog.Logger
	now    func() time.Time
}

// NewOAuth2Service creates a new OAuth2Service.
func NewOAuth2Service(store OAuth2Store, logger *slog.Logger) *OAuth2Service {
	return &OAuth2Service{
		store:  store,
		logger: logger.With("component", "oauth2"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ClientRegisterInput defines input for registering a client.
type ClientRegisterInput struct {
	ClientName   string
	RedirectURIs []string
	Scope        string
}

// RegisteredClient is a new client with its plaintext secret.
// The secret is never retrievable again.
type RegisteredClient struct {
	*model.OAuth2Client
	ClientSecret string
}

// AuthorizeInput defines an authorization request (RFC 6749 section 4.1.1).
type AuthorizeInput struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenInput defines a token request for either supported grant.
type TokenInput struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	Code         string
	RedirectURI  string
	CodeVerifier string

	RefreshToken string
}

// TokenResponse is a successful token response (RFC 6749 section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// RegisterClient registers a client owned by the caller.
func (s *OAuth2Service) RegisterClient(ctx context.Context, ac *model.AuthContext, in ClientRegisterInput) (*RegisteredClient, error) {
	if err := validateClientRegistration(in); err != nil {
		return nil, err
	}

	clientID, err := auth.GenerateToken(auth.TokenPrefixClientID)
	if err != nil {
		return nil, err
	}
	secret, err := auth.GenerateToken(auth.TokenPrefixClientSecret)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("hash client secret: %w", err)
	}

	now := s.now()
	client := &model.OAuth2Client{
		ID:                    uuid.NewString(),
		ClientID:              clientID,
		ClientSecretHash:      hash,
		ClientName:            strings.TrimSpace(in.ClientName),
		RedirectURIs:          in.RedirectURIs,
		Scope:                 strings.Join(model.ParseScope(in.Scope), " "),
		UserID:                ac.UserID,
		ClientIDIssuedAt:      now.Unix(),
		ClientSecretExpiresAt: model.OAuth2ClientSecretNeverExpires,
		CreatedAt:             now,
	}
	if err := s.store.CreateOAuth2Client(ctx, client); err != nil {
		return nil, err
	}

	s.logger.Info("oauth2_client_registered", "client_id", client.ClientID, "user_id", ac.UserID)
	return &RegisteredClient{OAuth2Client: client, ClientSecret: secret}, nil
}

// ListClients returns the caller's clients.
func (s *OAuth2Service) ListClients(ctx context.Context, ac *model.AuthContext, page repository.Page) ([]*model.OAuth2Client, int, error) {
	return s.store.ListOAuth2Clients(ctx, ac.UserID, page)
}

// DeleteClient deletes one of the caller's clients and revokes its tokens.
func (s *OAuth2Service) DeleteClient(ctx context.Context, ac *model.AuthContext, clientID string) error {
	if err := s.store.DeleteOAuth2Client(ctx, ac.UserID, clientID); err != nil {
		if errors.Is(err, repository.ErrOAuth2ClientNotFound) {
			return ErrOAuth2ClientNotFound
		}
		return err
	}
	s.logger.Info("oauth2_client_deleted", "client_id", clientID, "user_id", ac.UserID)
	return nil
}

// Authorize issues an authorization code for the caller and returns the
// redirect URI carrying it.
func (s *OAuth2Service) Authorize(ctx context.Context, ac *model.AuthContext, in AuthorizeInput) (string, error) {
	if in.ResponseType != model.OAuth2ResponseTypeCode {
		return "", oauth2Err(OAuth2ErrUnsupportedResponseType, "only the code response type is supported")
	}
	client, err := s.store.GetOAuth2Client(ctx, in.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrOAuth2ClientNotFound) {
			return "", oauth2Err(OAuth2ErrInvalidClient, "unknown client")
		}
		return "", err
	}

	redirectURI := in.RedirectURI
	if redirectURI == "" && len(client.RedirectURIs) == 1 {
		redirectURI = client.RedirectURIs[0]
	}
	if !client.HasRedirectURI(redirectURI) {
		return "", oauth2Err(OAuth2ErrInvalidRequest, "redirect_uri is not registered")
	}

	scopes := model.ParseScope(in.Scope)
	if len(scopes) == 0 {
		scopes = model.ParseScope(client.Scope)
	}
	if !client.AllowsScope(scopes) {
		return "", oauth2Err(OAuth2ErrInvalidScope, "scope exceeds the client registration")
	}

	var challenge, method *string
	if in.CodeChallenge != "" {
		m := in.CodeChallengeMethod
		if m == "" {
			m = model.OAuth2CodeChallengeMethodS256
		}
		if m != model.OAuth2CodeChallengeMethodS256 {
			return "", oauth2Err(OAuth2ErrInvalidRequest, "only S256 code challenges are supported")
		}
		c := in.CodeChallenge
		challenge, method = &c, &m
	}

	code, err := auth.GenerateToken(auth.TokenPrefixAuthorizationCode)
	if err != nil {
		return "", err
	}
	now := s.now()
	scope := strings.Join(scopes, " ")

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateOAuth2AuthorizationCode(ctx, &model.OAuth2AuthorizationCode{
			ID:                  uuid.NewString(),
			CodeHash:            auth.HashToken(code),
			ClientID:            client.ClientID,
			UserID:              ac.UserID,
			RedirectURI:         redirectURI,
			Scope:               scope,
			CodeChallenge:       challenge,
			CodeChallengeMethod: method,
			AuthTime:            now,
			ExpiresAt:           now.Add(model.OAuth2AuthorizationCodeTTL),
			CreatedAt:           now,
		}); err != nil {
			return err
		}
		return s.store.UpsertOAuth2Grant(ctx, &model.OAuth2Grant{
			ID:        uuid.NewString(),
			ClientID:  client.ClientID,
			UserID:    ac.UserID,
			Scope:     scope,
			CreatedAt: now,
		})
	})
	if err != nil {
		return "", err
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parse redirect uri: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if in.State != "" {
		q.Set("state", in.State)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Token exchanges an authorization code or a refresh token for tokens.
func (s *OAuth2Service) Token(ctx context.Context, in TokenInput) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, in.ClientID, in.ClientSecret)
	if err != nil {
		return nil, err
	}

	switch in.GrantType {
	case model.OAuth2GrantTypeAuthorization:
		return s.exchangeCode(ctx, client, in)
	case model.OAuth2GrantTypeRefreshToken:
		return s.refresh(ctx, client, in.RefreshToken)
	default:
		return nil, oauth2Err(OAuth2ErrUnsupportedGrantType, "")
	}
}

// Revoke revokes the token pair an access or refresh token belongs to
// (RFC 7009). Unknown tokens are ignored.
func (s *OAuth2Service) Revoke(ctx context.Context, clientID, clientSecret, token string) error {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}

	hash := auth.HashToken(token)
	t, err := s.store.GetOAuth2TokenByAccessHash(ctx, hash)
	if errors.Is(err, repository.ErrOAuth2TokenNotFound) {
		t, err = s.store.GetOAuth2TokenByRefreshHash(ctx, hash)
	}
	if err != nil {
		if errors.Is(err, repository.ErrOAuth2TokenNotFound) {
			return nil
		}
		return err
	}
	if t.ClientID != client.ClientID {
		return nil
	}
	return s.store.RevokeOAuth2Token(ctx, t.ID, s.now())
}

// IntrospectAccessToken resolves a bearer access token to its auth context.
func (s *OAuth2Service) IntrospectAccessToken(ctx context.Context, token string) (*model.AuthContext, error) {
	t, err := s.store.GetOAuth2TokenByAccessHash(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrOAuth2TokenNotFound) {
			return nil, ErrInvalidAccessToken
		}
		return nil, err
	}
	if !t.IsAccessTokenValid(s.now()) {
		return nil, ErrInvalidAccessToken
	}
	return &model.AuthContext{
		Subject:       model.AuthSubjectOAuth2,
		KeyID:         t.ID,
		ClientID:      t.ClientID,
		UserID:        t.UserID,
		Scopes:        model.ParseScope(t.Scope),
		RateLimitTier: model.TierFree,
	}, nil
}

func (s *OAuth2Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*model.OAuth2Client, error) {
	if clientID == "" || clientSecret == "" {
		return nil, oauth2Err(OAuth2ErrInvalidClient, "client credentials are required")
	}
	client, err := s.store.GetOAuth2Client(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrOAuth2ClientNotFound) {
			return nil, oauth2Err(OAuth2ErrInvalidClient, "")
		}
		return nil, err
	}
	if client.ClientSecretExpiresAt != model.OAuth2ClientSecretNeverExpires && s.now().Unix() >= client.ClientSecretExpiresAt {
		return nil, oauth2Err(OAuth2ErrInvalidClient, "client secret expired")
	}
	ok, err := auth.VerifySecret(clientSecret, client.ClientSecretHash)
	if err != nil || !ok {
		return nil, oauth2Err(OAuth2ErrInvalidClient, "")
	}
	return client, nil
}

// exchangeCode trades an authorization code for tokens. The code is consumed
// on its own, before any check, so a failed attempt burns it for good.
func (s *OAuth2Service) exchangeCode(ctx context.Context, client *model.OAuth2Client, in TokenInput) (*TokenResponse, error) {
	if in.Code == "" {
		return nil, oauth2Err(OAuth2ErrInvalidRequest, "code is required")
	}

	code, err := s.store.ConsumeOAuth2AuthorizationCode(ctx, auth.HashToken(in.Code))
	if err != nil {
		if errors.Is(err, repository.ErrOAuth2CodeNotFound) {
			return nil, oauth2Err(OAuth2ErrInvalidGrant, "unknown authorization code")
		}
		return nil, err
	}
	switch {
	case code.ClientID != client.ClientID:
		return nil, oauth2Err(OAuth2ErrInvalidGrant, "code was issued to another client")
	case code.IsExpired(s.now()):
		return nil, oauth2Err(OAuth2ErrInvalidGrant, "authorization code expired")
	case code.RedirectURI != "" && in.RedirectURI == "":
		return nil, oauth2Err(OAuth2ErrInvalidRequest, "redirect_uri is required")
	case in.RedirectURI != code.RedirectURI:
		return nil, oauth2Err(OAuth2ErrInvalidGrant, "redirect_uri mismatch")
	}
	if code.CodeChallenge != nil {
		if in.CodeVerifier == "" || !auth.VerifyPKCE(in.CodeVerifier, *code.CodeChallenge) {
			return nil, oauth2Err(OAuth2ErrInvalidGrant, "code verifier mismatch")
		}
	}

	var resp *TokenResponse
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.issueToken(ctx, client.ClientID, code.UserID, code.Scope)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *OAuth2Service) refresh(ctx context.Context, client *model.OAuth2Client, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, oauth2Err(OAuth2ErrInvalidRequest, "refresh_token is required")
	}

	var resp *TokenResponse
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.store.GetOAuth2TokenByRefreshHash(ctx, auth.HashToken(refreshToken))
		if err != nil {
			if errors.Is(err, repository.ErrOAuth2TokenNotFound) {
				return oauth2Err(OAuth2ErrInvalidGrant, "unknown refresh token")
			}
			return err
		}
		if t.ClientID != client.ClientID || !t.IsRefreshTokenValid() {
			return oauth2Err(OAuth2ErrInvalidGrant, "refresh token is not valid")
		}
		if err := s.store.RevokeOAuth2Token(ctx, t.ID, s.now()); err != nil {
			return err
		}

		resp, err = s.issueToken(ctx, t.ClientID, t.UserID, t.Scope)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *OAuth2Service) issueToken(ctx context.Context, clientID, userID, scope string) (*TokenResponse, error) {
	access, err := auth.GenerateToken(auth.TokenPrefixAccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := auth.GenerateToken(auth.TokenPrefixRefreshToken)
	if err != nil {
		return nil, err
	}

	now := s.now()
	refreshHash := auth.HashToken(refresh)
	expiresIn := int(model.OAuth2AccessTokenTTL / time.Second)
	if err := s.store.CreateOAuth2Token(ctx, &model.OAuth2Token{
		ID:               uuid.NewString(),
		ClientID:         clientID,
		UserID:           userID,
		TokenType:        model.OAuth2TokenTypeBearer,
		AccessTokenHash:  auth.HashToken(access),
		RefreshTokenHash: &refreshHash,
		Scope:            scope,
		IssuedAt:         now,
		ExpiresIn:        expiresIn,
		CreatedAt:        now,
	}); err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    model.OAuth2TokenTypeBearer,
		ExpiresIn:    expiresIn,
		RefreshToken: refresh,
		Scope:        scope,
	}, nil
}

func validateClientRegistration(in ClientRegisterInput) error {
	var errs ValidationError
	if strings.TrimSpace(in.ClientName) == "" {
		errs = append(errs, FieldError{Field: "client_name", Message: "Field is required."})
	}
	if len(in.RedirectURIs) == 0 {
		errs = append(errs, FieldError{Field: "redirect_uris", Message: "At least one redirect URI is required."})
	}
	for _, uri := range in.RedirectURIs {
		if !isAllowedRedirectURI(uri) {
			errs = append(errs, FieldError{Field: "redirect_uris", Message: "Invalid redirect URI: " + uri})
		}
	}
	for _, sc := range model.ParseScope(in.Scope) {
		if !model.IsValidScope(sc) || sc == model.ScopeAdmin {
			errs = append(errs, FieldError{Field: "scope", Message: "Invalid scope: " + sc})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// isAllowedRedirectURI accepts https URIs and plain http on loopback hosts.
func isAllowedRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.Fragment != "" {
		return false
	}
	switch u.Scheme {
	case "https":
		return true
	case "http":
		host := u.Hostname()
		return host == "localhost" || host == "127.0.0.1" || host == "::1"
	}
	return false
}
