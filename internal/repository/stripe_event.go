package repository

import (
	"context"
	"fmt"
)

// MarkStripeEventProcessed records a Stripe event id in the ledger.
// It returns false when the event had already been recorded.
func (r *Repository) MarkStripeEventProcessed(ctx context.Context, id, eventType string) (bool, error) {
	query := `
		INSERT INTO processed_stripe_events (id, type)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.q(ctx).Exec(ctx, query, id, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record stripe event: %w", err)
	}
	return result.RowsAffected() == 1, nil
}
