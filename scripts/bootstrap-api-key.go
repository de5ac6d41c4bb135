// Command bootstrap-api-key provisions the first admin API key for a fresh
// checkoutd database. Run it once after migrations:
//
//	go run ./scripts/bootstrap-api-key.go -email ops@example.com -format json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
)

type bootstrapResult struct {
	UserID    string   `json:"user_id"`
	Email     string   `json:"email"`
	KeyID     string   `json:"key_id"`
	Key       string   `json:"key"`
	KeyPrefix string   `json:"key_prefix"`
	Scopes    []string `json:"scopes"`
	Live      bool     `json:"live"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		email       = flag.String("email", "ops@checkoutd.local", "Email of the user that owns the key")
		name        = flag.String("name", "bootstrap", "API key name")
		scopesInput = flag.String("scopes", model.ScopeAdmin, "Comma-separated scopes, e.g. checkouts:read,orders:read")
		live        = flag.Bool("live", false, "Issue a live key instead of a test key")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if err := run(*databaseURL, *email, *name, *scopesInput, *live, *format); err != nil {
		fmt.Fprintln(os.Stderr, "bootstrap-api-key:", err)
		os.Exit(1)
	}
}

func run(databaseURL, email, name, scopesInput string, live bool, format string) error {
	if databaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return errors.New("email is required")
	}
	scopes, err := parseScopes(scopesInput)
	if err != nil {
		return err
	}
	format = strings.ToLower(format)
	if format != "plain" && format != "json" {
		return fmt.Errorf("invalid format %q; use plain or json", format)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer repo.Close()

	user, err := repo.GetOrCreateUser(ctx, &model.User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	env := auth.EnvTest
	if live {
		env = auth.EnvLive
	}
	generated, err := auth.GenerateAPIKey(env)
	if err != nil {
		return fmt.Errorf("generate api key: %w", err)
	}

	key := &model.APIKey{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        scopes,
		RateLimitTier: model.TierUnlimited,
		Name:          name,
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	if format == "plain" {
		fmt.Println(generated.Plaintext)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(bootstrapResult{
		UserID:    user.ID,
		Email:     user.Email,
		KeyID:     key.ID,
		Key:       generated.Plaintext,
		KeyPrefix: key.KeyPrefix,
		Scopes:    scopes,
		Live:      live,
	})
}

func parseScopes(input string) ([]string, error) {
	var scopes []string
	for _, part := range strings.Split(input, ",") {
		scope := strings.TrimSpace(part)
		if scope == "" {
			continue
		}
		if !model.IsValidScope(scope) {
			return nil, fmt.Errorf("invalid scope %q", scope)
		}
		scopes = append(scopes, scope)
	}
	if len(scopes) == 0 {
		return []string{model.ScopeAdmin}, nil
	}
	return scopes, nil
}
