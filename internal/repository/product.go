package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/jackc/pgx/v5"
)

// ErrPriceNotFound is returned when a product price does not exist.
var ErrPriceNotFound = errors.New("product price not found")

const priceColumns = `
	pp.id, pp.product_id, pp.type, pp.recurring_interval, pp.amount_type,
	pp.price_amount, pp.price_currency, pp.minimum_amount, pp.maximum_amount, pp.preset_amount,
	pp.is_archived, pp.created_at, pp.modified_at`

func priceDest(p *model.ProductPrice) []any {
	return []any{
		&p.ID, &p.ProductID, &p.Type, &p.RecurringInterval, &p.AmountType,
		&p.PriceAmount, &p.PriceCurrency, &p.MinimumAmount, &p.MaximumAmount, &p.PresetAmount,
		&p.IsArchived, &p.CreatedAt, &p.ModifiedAt,
	}
}

// GetProductPrice returns a price together with its product.
func (r *Repository) GetProductPrice(ctx context.Context, id string) (*model.ProductPrice, *model.Product, error) {
	query := `
		SELECT ` + priceColumns + `,
		       p.id, p.organization_id, p.name, p.description, p.is_recurring, p.is_archived,
		       p.is_tax_applicable, p.created_at, p.modified_at
		FROM product_prices pp
		JOIN products p ON p.id = pp.product_id
		WHERE pp.id = $1 AND pp.deleted_at IS NULL AND p.deleted_at IS NULL
	`

	var price model.ProductPrice
	var product model.Product
	dest := append(priceDest(&price),
		&product.ID, &product.OrganizationID, &product.Name, &product.Description, &product.IsRecurring, &product.IsArchived,
		&product.IsTaxApplicable, &product.CreatedAt, &product.ModifiedAt,
	)
	if err := r.q(ctx).QueryRow(ctx, query, id).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrPriceNotFound
		}
		return nil, nil, fmt.Errorf("failed to get product price: %w", err)
	}
	return &price, &product, nil
}

// ListProductPrices returns the unarchived prices of a product, oldest first.
func (r *Repository) ListProductPrices(ctx context.Context, productID string) ([]*model.ProductPrice, error) {
	query := `
		SELECT ` + priceColumns + `
		FROM product_prices pp
		WHERE pp.product_id = $1 AND NOT pp.is_archived AND pp.deleted_at IS NULL
		ORDER BY pp.created_at, pp.id
	`

	rows, err := r.q(ctx).Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list product prices: %w", err)
	}
	defer rows.Close()

	var prices []*model.ProductPrice
	for rows.Next() {
		var p model.ProductPrice
		if err := rows.Scan(priceDest(&p)...); err != nil {
			return nil, fmt.Errorf("failed to scan product price: %w", err)
		}
		prices = append(prices, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product prices: %w", err)
	}
	return prices, nil
}
