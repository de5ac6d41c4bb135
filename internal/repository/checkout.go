package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/jackc/pgx/v5"
)

// Common errors for checkout repository operations.
var (
	ErrCheckoutNotFound     = errors.New("checkout not found")
	ErrClientSecretConflict = errors.New("checkout client secret already exists")
)

// CheckoutFilter narrows checkout listings.
type CheckoutFilter struct {
	// MemberUserID restricts results to organizations the user belongs to.
	MemberUserID   string
	OrganizationID string
	ProductID      string
	Status         model.CheckoutStatus
}

const checkoutColumns = `
	id, payment_processor, status, client_secret, expires_at, success_url, embed_origin,
	amount, tax_amount, currency, product_id, product_price_id, subscription_id, organization_id,
	customer_id, customer_name, customer_email, customer_ip_address, customer_billing_address, customer_tax_id,
	payment_processor_metadata, metadata, custom_field_data, created_at, modified_at, deleted_at`

// CreateCheckout inserts a new checkout session.
func (r *Repository) CreateCheckout(ctx context.Context, c *model.Checkout) error {
	query := `
		INSERT INTO checkouts (
			id, payment_processor, status, client_secret, expires_at, success_url, embed_origin,
			amount, tax_amount, currency, product_id, product_price_id, subscription_id, organization_id,
			customer_id, customer_name, customer_email, customer_ip_address, customer_billing_address, customer_tax_id,
			payment_processor_metadata, metadata, custom_field_data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`

	_, err := r.q(ctx).Exec(ctx, query,
		c.ID, c.PaymentProcessor, c.Status, c.ClientSecret, c.ExpiresAt, c.SuccessURL, c.EmbedOrigin,
		c.Amount, c.TaxAmount, c.Currency, c.ProductID, c.ProductPriceID, c.SubscriptionID, c.OrganizationID,
		c.CustomerID, c.CustomerName, c.CustomerEmail, c.CustomerIPAddress, c.CustomerBillingAddress, c.CustomerTaxID,
		jsonMap(c.PaymentProcessorMetadata), jsonMap(c.Metadata), jsonObject(c.CustomFieldData), c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrClientSecretConflict
		}
		return fmt.Errorf("failed to create checkout: %w", err)
	}
	return nil
}

// GetCheckout retrieves a checkout by id. With lock set the row is
// locked FOR UPDATE until the surrounding transaction ends.
func (r *Repository) GetCheckout(ctx context.Context, id string, lock bool) (*model.Checkout, error) {
	query := `SELECT ` + checkoutColumns + ` FROM checkouts WHERE id = $1 AND deleted_at IS NULL` + lockClause(lock)
	return scanCheckout(r.q(ctx).QueryRow(ctx, query, id))
}

// GetCheckoutByClientSecret retrieves a checkout that has not yet reached its
// expiry time. Sessions past expires_at are reported as not found.
func (r *Repository) GetCheckoutByClientSecret(ctx context.Context, clientSecret string, now time.Time, lock bool) (*model.Checkout, error) {
	query := `SELECT ` + checkoutColumns + `
		FROM checkouts
		WHERE client_secret = $1 AND expires_at > $2 AND deleted_at IS NULL` + lockClause(lock)
	return scanCheckout(r.q(ctx).QueryRow(ctx, query, clientSecret, now))
}

// UpdateCheckout writes every mutable column of c.
func (r *Repository) UpdateCheckout(ctx context.Context, c *model.Checkout) error {
	query := `
		UPDATE checkouts SET
			status = $2, success_url = $3, embed_origin = $4,
			amount = $5, tax_amount = $6, currency = $7, product_price_id = $8,
			customer_id = $9, customer_name = $10, customer_email = $11, customer_ip_address = $12,
			customer_billing_address = $13, customer_tax_id = $14,
			payment_processor_metadata = $15, metadata = $16, custom_field_data = $17, modified_at = $18
		WHERE id = $1 AND deleted_at IS NULL
	`

	now := time.Now().UTC()
	result, err := r.q(ctx).Exec(ctx, query,
		c.ID, c.Status, c.SuccessURL, c.EmbedOrigin,
		c.Amount, c.TaxAmount, c.Currency, c.ProductPriceID,
		c.CustomerID, c.CustomerName, c.CustomerEmail, c.CustomerIPAddress,
		c.CustomerBillingAddress, c.CustomerTaxID,
		jsonMap(c.PaymentProcessorMetadata), jsonMap(c.Metadata), jsonObject(c.CustomFieldData), now,
	)
	if err != nil {
		return fmt.Errorf("failed to update checkout: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrCheckoutNotFound
	}
	c.ModifiedAt = &now
	return nil
}

// ListCheckouts returns one page of checkouts, newest first, and the total count.
func (r *Repository) ListCheckouts(ctx context.Context, filter CheckoutFilter, page Page) ([]*model.Checkout, int, error) {
	var c conditions
	c.raw("deleted_at IS NULL")
	if filter.MemberUserID != "" {
		c.add(`organization_id IN (
			SELECT organization_id FROM organization_members WHERE user_id = $%d AND deleted_at IS NULL)`, filter.MemberUserID)
	}
	if filter.OrganizationID != "" {
		c.add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.ProductID != "" {
		c.add("product_id = $%d", filter.ProductID)
	}
	if filter.Status != "" {
		c.add("status = $%d", filter.Status)
	}

	total, err := r.count(ctx, "checkouts", &c)
	if err != nil {
		return nil, 0, err
	}

	suffix, args := pageSuffix(&c, "created_at DESC, id DESC", page.Normalize())
	rows, err := r.q(ctx).Query(ctx, `SELECT `+checkoutColumns+` FROM checkouts`+c.where()+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list checkouts: %w", err)
	}
	defer rows.Close()

	var checkouts []*model.Checkout
	for rows.Next() {
		checkout, err := scanCheckout(rows)
		if err != nil {
			return nil, 0, err
		}
		checkouts = append(checkouts, checkout)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating checkouts: %w", err)
	}
	return checkouts, total, nil
}

// ExpireOpenCheckouts moves every open checkout past its deadline to expired
// and returns their ids.
func (r *Repository) ExpireOpenCheckouts(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE checkouts
		SET status = 'expired', modified_at = $1
		WHERE status = 'open' AND expires_at <= $1 AND deleted_at IS NULL
		RETURNING id
	`

	rows, err := r.q(ctx).Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire checkouts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect expired checkouts: %w", err)
	}
	return ids, nil
}

func scanCheckout(row pgx.Row) (*model.Checkout, error) {
	var c model.Checkout
	err := row.Scan(
		&c.ID, &c.PaymentProcessor, &c.Status, &c.ClientSecret, &c.ExpiresAt, &c.SuccessURL, &c.EmbedOrigin,
		&c.Amount, &c.TaxAmount, &c.Currency, &c.ProductID, &c.ProductPriceID, &c.SubscriptionID, &c.OrganizationID,
		&c.CustomerID, &c.CustomerName, &c.CustomerEmail, &c.CustomerIPAddress, &c.CustomerBillingAddress, &c.CustomerTaxID,
		&c.PaymentProcessorMetadata, &c.Metadata, &c.CustomFieldData, &c.CreatedAt, &c.ModifiedAt, &c.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCheckoutNotFound
		}
		return nil, fmt.Errorf("failed to scan checkout: %w", err)
	}
	return &c, nil
}

// jsonMap avoids storing JSON null in NOT NULL jsonb columns.
func jsonMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func jsonObject(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
