// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// Migrations lists the migration files in apply order.
func Migrations(direction string) ([]string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(root, "migrations", "*."+direction+".sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(files)
	return files, nil
}

// ApplyMigration executes one migration file.
func ApplyMigration(ctx context.Context, pool *pgxpool.Pool, path string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply migration %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ResetSchema rolls every migration back, newest first, then applies them all.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	downs, err := Migrations("down")
	if err != nil {
		return err
	}
	slices.Reverse(downs)
	for _, path := range downs {
		if err := ApplyMigration(ctx, pool, path); err != nil {
			return err
		}
	}

	ups, err := Migrations("up")
	if err != nil {
		return err
	}
	for _, path := range ups {
		if err := ApplyMigration(ctx, pool, path); err != nil {
			return err
		}
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Fixtures
// ============================================================================

// Fixture is a seeded tenant: a user administering one organization that
// sells one product with a single price.
type Fixture struct {
	User         *model.User
	Organization *model.Organization
	Product      *model.Product
	Price        *model.ProductPrice
}

// SeedFixture inserts a fixture whose price has the given amount type.
// Fixed prices cost 1000 usd cents.
func SeedFixture(ctx context.Context, pool *pgxpool.Pool, amountType model.PriceAmountType) (*Fixture, error) {
	now := time.Now().UTC()
	f := &Fixture{
		User: &model.User{ID: uuid.NewString(), Email: UniqueID("user") + "@example.com", CreatedAt: now},
		Organization: &model.Organization{
			ID:       uuid.NewString(),
			Name:     UniqueID("org"),
			Platform: model.PlatformGitHub,
		},
	}
	f.Organization.Slug = f.Organization.Name
	f.Product = &model.Product{ID: uuid.NewString(), OrganizationID: f.Organization.ID, Name: "Pro plan"}
	f.Price = &model.ProductPrice{
		ID:            uuid.NewString(),
		ProductID:     f.Product.ID,
		Type:          model.PriceTypeOneTime,
		AmountType:    amountType,
		PriceCurrency: "usd",
	}
	if amountType == model.PriceAmountTypeFixed {
		amount := int64(1000)
		f.Price.PriceAmount = &amount
	}

	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO users (id, email, created_at) VALUES ($1, $2, $3)`,
			[]any{f.User.ID, f.User.Email, now}},
		{`INSERT INTO organizations (id, name, slug, platform) VALUES ($1, $2, $3, $4)`,
			[]any{f.Organization.ID, f.Organization.Name, f.Organization.Slug, string(f.Organization.Platform)}},
		{`INSERT INTO organization_members (organization_id, user_id, is_admin) VALUES ($1, $2, TRUE)`,
			[]any{f.Organization.ID, f.User.ID}},
		{`INSERT INTO products (id, organization_id, name, is_tax_applicable) VALUES ($1, $2, $3, FALSE)`,
			[]any{f.Product.ID, f.Organization.ID, f.Product.Name}},
		{`INSERT INTO product_prices (id, product_id, type, amount_type, price_amount, price_currency)
		  VALUES ($1, $2, $3, $4, $5, $6)`,
			[]any{f.Price.ID, f.Product.ID, string(f.Price.Type), string(f.Price.AmountType), f.Price.PriceAmount, f.Price.PriceCurrency}},
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s.sql, s.args...); err != nil {
			return nil, fmt.Errorf("seed fixture: %w", err)
		}
	}
	return f, nil
}

// NewTestCheckout returns an open checkout for the fixture's price.
func NewTestCheckout(t testing.TB, f *Fixture, ttl time.Duration) *model.Checkout {
	t.Helper()
	now := time.Now().UTC()
	c := &model.Checkout{
		ID:               uuid.NewString(),
		PaymentProcessor: model.PaymentProcessorStripe,
		Status:           model.CheckoutStatusOpen,
		ClientSecret:     UniqueID("ckd_cs"),
		ExpiresAt:        now.Add(ttl),
		SuccessURL:       "https://example.com/success",
		ProductID:        f.Product.ID,
		ProductPriceID:   f.Price.ID,
		OrganizationID:   f.Organization.ID,
		Metadata:         map[string]string{},
		CreatedAt:        now,
	}
	if f.Price.PriceAmount != nil {
		amount := *f.Price.PriceAmount
		currency := f.Price.PriceCurrency
		c.Amount = &amount
		c.Currency = &currency
	}
	return c
}

// NewTestAPIKey creates a test API key with sensible defaults.
func NewTestAPIKey(t testing.TB, userID string) *model.APIKey {
	t.Helper()
	return &model.APIKey{
		ID:            uuid.NewString(),
		UserID:        userID,
		KeyHash:       UniqueID("hash"),
		KeyPrefix:     "abc123",
		Scopes:        []string{model.ScopeCheckoutsRead, model.ScopeCheckoutsWrite},
		RateLimitTier: model.TierFree,
		Name:          "Test Key",
		CreatedAt:     time.Now().UTC(),
	}
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
