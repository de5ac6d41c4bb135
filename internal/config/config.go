// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache and event stream (Redis)
	RedisURL          string        `env:"REDIS_URL,required"`
	RedisPoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	RedisMinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	RedisPoolTimeout  time.Duration `env:"REDIS_POOL_TIMEOUT" envDefault:"4s"`

	// Public base URL of this API
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Base URL of the checkout frontend; checkout urls and default success urls hang off it
	CheckoutBaseURL string `env:"CHECKOUT_BASE_URL" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Stripe
	StripeSecretKey           string `env:"STRIPE_SECRET_KEY,required"`
	StripeWebhookSecret       string `env:"STRIPE_WEBHOOK_SECRET,required"`
	StripeStatementDescriptor string `env:"STRIPE_STATEMENT_DESCRIPTOR" envDefault:""`

	// Checkout sessions
	CheckoutTTL            time.Duration `env:"CHECKOUT_TTL" envDefault:"1h"`
	CheckoutExpiryInterval time.Duration `env:"CHECKOUT_EXPIRY_INTERVAL" envDefault:"1m"`

	// Platform fees applied to orders when the account does not override them.
	// Percent is expressed in basis points (500 = 5%), fixed in cents.
	PlatformFeePercent int `env:"PLATFORM_FEE_PERCENT" envDefault:"500"`
	PlatformFeeFixed   int `env:"PLATFORM_FEE_FIXED" envDefault:"40"`

	// Background workers (Stripe event consumer, checkout expirer, webhook delivery)
	WorkersEnabled bool `env:"WORKERS_ENABLED" envDefault:"true"`

	// Outgoing webhooks. Allows http:// and private targets for local development.
	WebhookAllowInsecure bool `env:"WEBHOOK_ALLOW_INSECURE" envDefault:"false"`

	// Prometheus /metrics endpoint
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// Rate limiting
	RateLimitAPIEnabled    bool `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitPublicEnabled bool `env:"RATE_LIMIT_PUBLIC_ENABLED" envDefault:"true"`
	RateLimitPublicRPS     int  `env:"RATE_LIMIT_PUBLIC_RPS" envDefault:"10"`
	RateLimitPublicBurst   int  `env:"RATE_LIMIT_PUBLIC_BURST" envDefault:"20"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	if c.CheckoutTTL <= 0 {
		return fmt.Errorf("CHECKOUT_TTL must be positive, got %s", c.CheckoutTTL)
	}
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent > 10000 {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and 10000 basis points, got %d", c.PlatformFeePercent)
	}
	if c.PlatformFeeFixed < 0 {
		return fmt.Errorf("PLATFORM_FEE_FIXED must not be negative, got %d", c.PlatformFeeFixed)
	}
	if c.IsProduction() && c.WebhookAllowInsecure {
		return fmt.Errorf("WEBHOOK_ALLOW_INSECURE cannot be enabled in production")
	}
	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
