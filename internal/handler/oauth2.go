package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/handler/dto"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/checkoutd/checkoutd/internal/service"
)

// OAuth2Service is the authorization server behavior the HTTP layer needs.
type OAuth2Service interface {
	RegisterClient(ctx context.Context, ac *model.AuthContext, in service.ClientRegisterInput) (*service.RegisteredClient, error)
	ListClients(ctx context.Context, ac *model.AuthContext, page repository.Page) ([]*model.OAuth2Client, int, error)
	DeleteClient(ctx context.Context, ac *model.AuthContext, clientID string) error
	Authorize(ctx context.Context, ac *model.AuthContext, in service.AuthorizeInput) (string, error)
	Token(ctx context.Context, in service.TokenInput) (*service.TokenResponse, error)
	Revoke(ctx context.Context, clientID, clientSecret, token string) error
}

// OAuth2Handler handles OAuth2 client management and protocol endpoints.
type OAuth2Handler struct {
	oauth2 OAuth2Service
	logger *slog.Logger
}

// NewOAuth2Handler creates a new OAuth2Handler.
func NewOAuth2Handler(oauth2 OAuth2Service, logger *slog.Logger) *OAuth2Handler {
	return &OAuth2Handler{oauth2: oauth2, logger: logger.With("handler", "oauth2")}
}

// ListClients handles GET /v1/oauth2/clients
func (h *OAuth2Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	page, errs := parsePage(r)
	if len(errs) > 0 {
		writeValidationError(w, errs)
		return
	}

	clients, total, err := h.oauth2.ListClients(r.Context(), auth.AuthFromContext(r.Context()), page)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewListResponse(dto.Map(clients, dto.NewOAuth2ClientResponse), total, page.Limit))
}

// RegisterClient handles POST /v1/oauth2/clients
func (h *OAuth2Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req dto.OAuth2ClientRegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	client, err := h.oauth2.RegisterClient(r.Context(), auth.AuthFromContext(r.Context()), req.ToInput())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.NewOAuth2ClientCreateResponse(client))
}

// DeleteClient handles DELETE /v1/oauth2/clients/{client_id}
func (h *OAuth2Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := h.oauth2.DeleteClient(r.Context(), auth.AuthFromContext(r.Context()), chi.URLParam(r, "client_id")); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Authorize handles POST /v1/oauth2/authorize. The consent page posts here
// with the user's credential once they approve the client.
func (h *OAuth2Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req dto.AuthorizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	redirectTo, err := h.oauth2.Authorize(r.Context(), auth.AuthFromContext(r.Context()), req.ToInput())
	if err != nil {
		h.writeOAuth2Error(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.AuthorizeResponse{RedirectTo: redirectTo})
}

// Token handles POST /v1/oauth2/token (RFC 6749 section 3.2).
// Clients authenticate with HTTP Basic or with form parameters.
func (h *OAuth2Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuth2Error(w, &service.OAuth2Error{Code: service.OAuth2ErrInvalidRequest, Description: "invalid form body"})
		return
	}
	clientID, clientSecret := clientCredentials(r)

	resp, err := h.oauth2.Token(r.Context(), service.TokenInput{
		GrantType:    r.PostForm.Get("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
	})
	if err != nil {
		h.writeOAuth2Error(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// Revoke handles POST /v1/oauth2/revoke (RFC 7009). Unknown tokens are
// answered with 200 like revoked ones.
func (h *OAuth2Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuth2Error(w, &service.OAuth2Error{Code: service.OAuth2ErrInvalidRequest, Description: "invalid form body"})
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		h.writeOAuth2Error(w, &service.OAuth2Error{Code: service.OAuth2ErrInvalidRequest, Description: "token is required"})
		return
	}
	clientID, clientSecret := clientCredentials(r)

	if err := h.oauth2.Revoke(r.Context(), clientID, clientSecret, token); err != nil {
		h.writeOAuth2Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeOAuth2Error renders protocol errors in the RFC 6749 shape.
func (h *OAuth2Handler) writeOAuth2Error(w http.ResponseWriter, err error) {
	var oerr *service.OAuth2Error
	if !errors.As(err, &oerr) {
		handleServiceError(w, h.logger, err)
		return
	}

	status := http.StatusBadRequest
	if oerr.Code == service.OAuth2ErrInvalidClient {
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", `Basic realm="checkoutd"`)
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, oerr)
}

func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}
