package dto

import (
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/service"
)

// OAuth2ClientRegisterRequest is the body of POST /v1/oauth2/clients
// (RFC 7591 field names).
type OAuth2ClientRegisterRequest struct {
	ClientName   string   `json:"client_name" validate:"required,max=255"`
	RedirectURIs []string `json:"redirect_uris" validate:"required,min=1,max=10,dive,url"`
	Scope        string   `json:"scope"`
}

// ToInput converts the request for the OAuth2 service.
func (r OAuth2ClientRegisterRequest) ToInput() service.ClientRegisterInput {
	return service.ClientRegisterInput{
		ClientName:   r.ClientName,
		RedirectURIs: r.RedirectURIs,
		Scope:        r.Scope,
	}
}

// OAuth2ClientResponse is a registered client without its secret.
type OAuth2ClientResponse struct {
	ClientID              string     `json:"client_id"`
	ClientName            string     `json:"client_name"`
	RedirectURIs          []string   `json:"redirect_uris"`
	Scope                 string     `json:"scope"`
	ClientIDIssuedAt      int64      `json:"client_id_issued_at"`
	ClientSecretExpiresAt int64      `json:"client_secret_expires_at"`
	CreatedAt             time.Time  `json:"created_at"`
	ModifiedAt            *time.Time `json:"modified_at"`
}

// OAuth2ClientCreateResponse carries the plaintext secret, shown once.
type OAuth2ClientCreateResponse struct {
	OAuth2ClientResponse
	ClientSecret string `json:"client_secret"`
}

// NewOAuth2ClientResponse renders a client.
func NewOAuth2ClientResponse(c *model.OAuth2Client) OAuth2ClientResponse {
	return OAuth2ClientResponse{
		ClientID:              c.ClientID,
		ClientName:            c.ClientName,
		RedirectURIs:          c.RedirectURIs,
		Scope:                 c.Scope,
		ClientIDIssuedAt:      c.ClientIDIssuedAt,
		ClientSecretExpiresAt: c.ClientSecretExpiresAt,
		CreatedAt:             c.CreatedAt,
		ModifiedAt:            c.ModifiedAt,
	}
}

// NewOAuth2ClientCreateResponse renders a newly registered client.
func NewOAuth2ClientCreateResponse(c *service.RegisteredClient) OAuth2ClientCreateResponse {
	return OAuth2ClientCreateResponse{
		OAuth2ClientResponse: NewOAuth2ClientResponse(c.OAuth2Client),
		ClientSecret:         c.ClientSecret,
	}
}

// AuthorizeRequest is the body of POST /v1/oauth2/authorize, submitted
// after the user consents.
type AuthorizeRequest struct {
	ResponseType        string `json:"response_type" validate:"required"`
	ClientID            string `json:"client_id" validate:"required"`
	RedirectURI         string `json:"redirect_uri" validate:"omitempty,url"`
	Scope               string `json:"scope"`
	State               string `json:"state" validate:"max=500"`
	CodeChallenge       string `json:"code_challenge" validate:"omitempty,min=43,max=128"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

// ToInput converts the request for the OAuth2 service.
func (r AuthorizeRequest) ToInput() service.AuthorizeInput {
	return service.AuthorizeInput{
		ResponseType:        r.ResponseType,
		ClientID:            r.ClientID,
		RedirectURI:         r.RedirectURI,
		Scope:               r.Scope,
		State:               r.State,
		CodeChallenge:       r.CodeChallenge,
		CodeChallengeMethod: r.CodeChallengeMethod,
	}
}

// AuthorizeResponse tells the consent page where to send the user.
type AuthorizeResponse struct {
	RedirectTo string `json:"redirect_to"`
}
