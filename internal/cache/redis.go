// Package cache holds the Redis-backed pieces of checkoutd: the auth
// context cache and the request rate limiter. The Stripe event stream
// shares the same connection pool.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis pool.
type Options struct {
	URL string
	// PoolSize covers API traffic plus the blocking XREADGROUP of the
	// event worker, which holds a connection while it waits.
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
}

func (o Options) redisOptions() (*redis.Options, error) {
	opt, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = 10
	if o.PoolSize > 0 {
		opt.PoolSize = o.PoolSize
	}
	opt.MinIdleConns = min(max(o.MinIdleConns, 0), opt.PoolSize)
	opt.PoolTimeout = 4 * time.Second
	if o.PoolTimeout > 0 {
		opt.PoolTimeout = o.PoolTimeout
	}
	opt.ConnMaxIdleTime = 5 * time.Minute
	return opt, nil
}

// Cache wraps the shared Redis client.
type Cache struct {
	client *redis.Client
	now    func() time.Time
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, o Options) (*Cache, error) {
	opt, err := o.redisOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client, now: time.Now}, nil
}

// Ping checks Redis connectivity for the readiness probe.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Stream returns the client the Stripe event publisher and worker use for
// the events stream.
func (c *Cache) Stream() *redis.Client {
	return c.client
}
