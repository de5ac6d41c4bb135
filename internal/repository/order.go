package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/jackc/pgx/v5"
)

// Common errors for order and subscription repository operations.
var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderExists          = errors.New("order already exists for checkout")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// OrderFilter narrows order listings.
type OrderFilter struct {
	UserID    string
	ProductID string
}

const orderColumns = `
	id, amount, tax_amount, platform_fee_amount, currency, billing_reason, user_id,
	product_id, product_price_id, subscription_id, checkout_id, stripe_payment_intent_id,
	metadata, created_at, modified_at`

// CreateOrder inserts an order. A checkout produces at most one order.
func (r *Repository) CreateOrder(ctx context.Context, o *model.Order) error {
	query := `
		INSERT INTO orders (
			id, amount, tax_amount, platform_fee_amount, currency, billing_reason, user_id,
			product_id, product_price_id, subscription_id, checkout_id, stripe_payment_intent_id,
			metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.q(ctx).Exec(ctx, query,
		o.ID, o.Amount, o.TaxAmount, o.PlatformFeeAmount, o.Currency, o.BillingReason, o.UserID,
		o.ProductID, o.ProductPriceID, o.SubscriptionID, o.CheckoutID, o.StripePaymentIntentID,
		jsonMap(o.Metadata), o.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOrderExists
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by id.
func (r *Repository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND deleted_at IS NULL`
	return scanOrder(r.q(ctx).QueryRow(ctx, query, id))
}

// ListOrders returns one page of orders, newest first, and the total count.
func (r *Repository) ListOrders(ctx context.Context, filter OrderFilter, page Page) ([]*model.Order, int, error) {
	var c conditions
	c.raw("deleted_at IS NULL")
	if filter.UserID != "" {
		c.add("user_id = $%d", filter.UserID)
	}
	if filter.ProductID != "" {
		c.add("product_id = $%d", filter.ProductID)
	}

	total, err := r.count(ctx, "orders", &c)
	if err != nil {
		return nil, 0, err
	}

	suffix, args := pageSuffix(&c, "created_at DESC, id DESC", page.Normalize())
	rows, err := r.q(ctx).Query(ctx, `SELECT `+orderColumns+` FROM orders`+c.where()+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, total, nil
}

const subscriptionColumns = `
	id, status, amount, currency, recurring_interval, current_period_start, current_period_end,
	cancel_at_period_end, started_at, ended_at, user_id, organization_id, product_id, price_id,
	checkout_id, metadata, created_at, modified_at`

// CreateSubscription inserts a subscription.
func (r *Repository) CreateSubscription(ctx context.Context, s *model.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, status, amount, currency, recurring_interval, current_period_start, current_period_end,
			cancel_at_period_end, started_at, ended_at, user_id, organization_id, product_id, price_id,
			checkout_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.q(ctx).Exec(ctx, query,
		s.ID, s.Status, s.Amount, s.Currency, s.RecurringInterval, s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd, s.StartedAt, s.EndedAt, s.UserID, s.OrganizationID, s.ProductID, s.PriceID,
		s.CheckoutID, jsonMap(s.Metadata), s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by id, optionally locking the row.
func (r *Repository) GetSubscription(ctx context.Context, id string, lock bool) (*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 AND deleted_at IS NULL` + lockClause(lock)

	var s model.Subscription
	err := r.q(ctx).QueryRow(ctx, query, id).Scan(
		&s.ID, &s.Status, &s.Amount, &s.Currency, &s.RecurringInterval, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd, &s.StartedAt, &s.EndedAt, &s.UserID, &s.OrganizationID, &s.ProductID, &s.PriceID,
		&s.CheckoutID, &s.Metadata, &s.CreatedAt, &s.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &s, nil
}

// UpdateSubscription writes the mutable columns of a subscription.
func (r *Repository) UpdateSubscription(ctx context.Context, s *model.Subscription) error {
	query := `
		UPDATE subscriptions SET
			status = $2, amount = $3, currency = $4, recurring_interval = $5,
			current_period_start = $6, current_period_end = $7, cancel_at_period_end = $8,
			ended_at = $9, product_id = $10, price_id = $11, checkout_id = $12, metadata = $13,
			modified_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING modified_at
	`

	err := r.q(ctx).QueryRow(ctx, query,
		s.ID, s.Status, s.Amount, s.Currency, s.RecurringInterval,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelAtPeriodEnd,
		s.EndedAt, s.ProductID, s.PriceID, s.CheckoutID, jsonMap(s.Metadata),
	).Scan(&s.ModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSubscriptionNotFound
		}
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(
		&o.ID, &o.Amount, &o.TaxAmount, &o.PlatformFeeAmount, &o.Currency, &o.BillingReason, &o.UserID,
		&o.ProductID, &o.ProductPriceID, &o.SubscriptionID, &o.CheckoutID, &o.StripePaymentIntentID,
		&o.Metadata, &o.CreatedAt, &o.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &o, nil
}
