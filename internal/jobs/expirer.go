// Package jobs holds periodic background jobs.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// CheckoutExpirer moves open checkouts past their expiry to expired.
type CheckoutExpirer interface {
	ExpireOpenCheckouts(ctx context.Context) (int, error)
}

// Expirer runs CheckoutExpirer on a fixed interval.
type Expirer struct {
	checkouts CheckoutExpirer
	interval  time.Duration
	logger    *slog.Logger
}

// NewExpirer creates an expirer job. A non-positive interval defaults to one minute.
func NewExpirer(checkouts CheckoutExpirer, interval time.Duration, logger *slog.Logger) *Expirer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Expirer{
		checkouts: checkouts,
		interval:  interval,
		logger:    logger.With("component", "jobs.expirer"),
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
// Sweep errors are logged; the next tick retries.
func (e *Expirer) Run(ctx context.Context) error {
	e.logger.Info("checkout expirer started", "interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		e.sweep(ctx)

		select {
		case <-ctx.Done():
			e.logger.Info("checkout expirer stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Expirer) sweep(ctx context.Context) {
	n, err := e.checkouts.ExpireOpenCheckouts(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("expire checkouts failed", "error", err)
		}
		return
	}
	if n > 0 {
		e.logger.Debug("expired checkouts", "count", n)
	}
}
