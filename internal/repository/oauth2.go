package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// Common errors for OAuth2 repository operations.
var (
	ErrOAuth2ClientNotFound = errors.New("oauth2 client not found")
	ErrOAuth2CodeNotFound   = errors.New("oauth2 authorization code not found")
	ErrOAuth2TokenNotFound  = errors.New("oauth2 token not found")
)

const oauth2ClientColumns = `
	id, client_id, client_secret_hash, client_name, redirect_uris, scope, user_id,
	client_id_issued_at, client_secret_expires_at, created_at, modified_at, deleted_at`

// CreateOAuth2Client inserts a client registration.
func (r *Repository) CreateOAuth2Client(ctx context.Context, c *model.OAuth2Client) error {
	query := `
		INSERT INTO oauth2_clients (
			id, client_id, client_secret_hash, client_name, redirect_uris, scope, user_id,
			client_id_issued_at, client_secret_expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q(ctx).Exec(ctx, query,
		c.ID, c.ClientID, c.ClientSecretHash, c.ClientName, pq.Array(c.RedirectURIs), c.Scope, c.UserID,
		c.ClientIDIssuedAt, c.ClientSecretExpiresAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create oauth2 client: %w", err)
	}
	return nil
}

// GetOAuth2Client retrieves a live client by its public client_id.
func (r *Repository) GetOAuth2Client(ctx context.Context, clientID string) (*model.OAuth2Client, error) {
	query := `SELECT ` + oauth2ClientColumns + ` FROM oauth2_clients WHERE client_id = $1 AND deleted_at IS NULL`
	return scanOAuth2Client(r.q(ctx).QueryRow(ctx, query, clientID))
}

// ListOAuth2Clients returns one page of a user's clients and the total count.
func (r *Repository) ListOAuth2Clients(ctx context.Context, userID string, page Page) ([]*model.OAuth2Client, int, error) {
	var c conditions
	c.raw("deleted_at IS NULL")
	c.add("user_id = $%d", userID)

	total, err := r.count(ctx, "oauth2_clients", &c)
	if err != nil {
		return nil, 0, err
	}

	suffix, args := pageSuffix(&c, "created_at DESC, id DESC", page.Normalize())
	rows, err := r.q(ctx).Query(ctx, `SELECT `+oauth2ClientColumns+` FROM oauth2_clients`+c.where()+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list oauth2 clients: %w", err)
	}
	defer rows.Close()

	var clients []*model.OAuth2Client
	for rows.Next() {
		client, err := scanOAuth2Client(rows)
		if err != nil {
			return nil, 0, err
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating oauth2 clients: %w", err)
	}
	return clients, total, nil
}

// DeleteOAuth2Client soft-deletes a client owned by userID and revokes its tokens.
func (r *Repository) DeleteOAuth2Client(ctx context.Context, userID, clientID string) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		result, err := r.q(ctx).Exec(ctx, `
			UPDATE oauth2_clients SET deleted_at = $3
			WHERE client_id = $1 AND user_id = $2 AND deleted_at IS NULL
		`, clientID, userID, now)
		if err != nil {
			return fmt.Errorf("failed to delete oauth2 client: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrOAuth2ClientNotFound
		}

		if _, err := r.q(ctx).Exec(ctx, `
			UPDATE oauth2_tokens
			SET access_token_revoked_at = COALESCE(access_token_revoked_at, $2),
			    refresh_token_revoked_at = COALESCE(refresh_token_revoked_at, $2)
			WHERE client_id = $1
		`, clientID, now); err != nil {
			return fmt.Errorf("failed to revoke client tokens: %w", err)
		}
		return nil
	})
}

// CreateOAuth2AuthorizationCode stores a newly issued code.
func (r *Repository) CreateOAuth2AuthorizationCode(ctx context.Context, c *model.OAuth2AuthorizationCode) error {
	query := `
		INSERT INTO oauth2_authorization_codes (
			id, code_hash, client_id, user_id, redirect_uri, scope,
			code_challenge, code_challenge_method, auth_time, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.q(ctx).Exec(ctx, query,
		c.ID, c.CodeHash, c.ClientID, c.UserID, c.RedirectURI, c.Scope,
		c.CodeChallenge, c.CodeChallengeMethod, c.AuthTime, c.ExpiresAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create authorization code: %w", err)
	}
	return nil
}

// ConsumeOAuth2AuthorizationCode deletes and returns the code with the given hash.
// A code can be consumed only once.
func (r *Repository) ConsumeOAuth2AuthorizationCode(ctx context.Context, codeHash string) (*model.OAuth2AuthorizationCode, error) {
	query := `
		DELETE FROM oauth2_authorization_codes
		WHERE code_hash = $1
		RETURNING id, code_hash, client_id, user_id, redirect_uri, scope,
		          code_challenge, code_challenge_method, auth_time, expires_at, created_at
	`

	var c model.OAuth2AuthorizationCode
	err := r.q(ctx).QueryRow(ctx, query, codeHash).Scan(
		&c.ID, &c.CodeHash, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope,
		&c.CodeChallenge, &c.CodeChallengeMethod, &c.AuthTime, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOAuth2CodeNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	return &c, nil
}

const oauth2TokenColumns = `
	id, client_id, user_id, token_type, access_token_hash, refresh_token_hash, scope,
	issued_at, expires_in, access_token_revoked_at, refresh_token_revoked_at, created_at`

// CreateOAuth2Token stores an issued token pair.
func (r *Repository) CreateOAuth2Token(ctx context.Context, t *model.OAuth2Token) error {
	query := `
		INSERT INTO oauth2_tokens (
			id, client_id, user_id, token_type, access_token_hash, refresh_token_hash, scope,
			issued_at, expires_in, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q(ctx).Exec(ctx, query,
		t.ID, t.ClientID, t.UserID, t.TokenType, t.AccessTokenHash, t.RefreshTokenHash, t.Scope,
		t.IssuedAt, t.ExpiresIn, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create oauth2 token: %w", err)
	}
	return nil
}

// GetOAuth2TokenByAccessHash looks up a token by its access token hash.
func (r *Repository) GetOAuth2TokenByAccessHash(ctx context.Context, hash string) (*model.OAuth2Token, error) {
	query := `SELECT ` + oauth2TokenColumns + ` FROM oauth2_tokens WHERE access_token_hash = $1`
	return scanOAuth2Token(r.q(ctx).QueryRow(ctx, query, hash))
}

// GetOAuth2TokenByRefreshHash looks up and locks a token by its refresh token hash.
func (r *Repository) GetOAuth2TokenByRefreshHash(ctx context.Context, hash string) (*model.OAuth2Token, error) {
	query := `SELECT ` + oauth2TokenColumns + ` FROM oauth2_tokens WHERE refresh_token_hash = $1` + lockClause(true)
	return scanOAuth2Token(r.q(ctx).QueryRow(ctx, query, hash))
}

// RevokeOAuth2Token revokes both halves of a token pair.
func (r *Repository) RevokeOAuth2Token(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE oauth2_tokens
		SET access_token_revoked_at = COALESCE(access_token_revoked_at, $2),
		    refresh_token_revoked_at = COALESCE(refresh_token_revoked_at, $2)
		WHERE id = $1
	`

	result, err := r.q(ctx).Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to revoke oauth2 token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOAuth2TokenNotFound
	}
	return nil
}

// UpsertOAuth2Grant records the scopes a user granted to a client.
func (r *Repository) UpsertOAuth2Grant(ctx context.Context, g *model.OAuth2Grant) error {
	query := `
		INSERT INTO oauth2_grants (id, client_id, user_id, scope, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_id, user_id)
		DO UPDATE SET scope = EXCLUDED.scope, modified_at = NOW()
	`

	if _, err := r.q(ctx).Exec(ctx, query, g.ID, g.ClientID, g.UserID, g.Scope, g.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert oauth2 grant: %w", err)
	}
	return nil
}

func scanOAuth2Client(row pgx.Row) (*model.OAuth2Client, error) {
	var c model.OAuth2Client
	err := row.Scan(
		&c.ID, &c.ClientID, &c.ClientSecretHash, &c.ClientName, pq.Array(&c.RedirectURIs), &c.Scope, &c.UserID,
		&c.ClientIDIssuedAt, &c.ClientSecretExpiresAt, &c.CreatedAt, &c.ModifiedAt, &c.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOAuth2ClientNotFound
		}
		return nil, fmt.Errorf("failed to scan oauth2 client: %w", err)
	}
	return &c, nil
}

func scanOAuth2Token(row pgx.Row) (*model.OAuth2Token, error) {
	var t model.OAuth2Token
	err := row.Scan(
		&t.ID, &t.ClientID, &t.UserID, &t.TokenType, &t.AccessTokenHash, &t.RefreshTokenHash, &t.Scope,
		&t.IssuedAt, &t.ExpiresIn, &t.AccessTokenRevokedAt, &t.RefreshTokenRevokedAt, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOAuth2TokenNotFound
		}
		return nil, fmt.Errorf("failed to scan oauth2 token: %w", err)
	}
	return &t, nil
}
