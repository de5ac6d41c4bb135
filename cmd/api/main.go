// Package main is the entrypoint for the checkoutd API server.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	_ "github.com/lib/pq"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/cache"
	"github.com/checkoutd/checkoutd/internal/config"
	"github.com/checkoutd/checkoutd/internal/events"
	"github.com/checkoutd/checkoutd/internal/handler"
	"github.com/checkoutd/checkoutd/internal/handler/dto"
	"github.com/checkoutd/checkoutd/internal/jobs"
	"github.com/checkoutd/checkoutd/internal/metrics"
	"github.com/checkoutd/checkoutd/internal/payment"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/checkoutd/checkoutd/internal/server"
	"github.com/checkoutd/checkoutd/internal/service"
	"github.com/checkoutd/checkoutd/internal/webhook"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return err
	}
	logger.Info("connected to database")

	// Webhook storage runs on database/sql.
	webhookDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		repo.Close()
		return err
	}

	cacheClient, err := cache.New(ctx, cache.Options{
		URL:          cfg.RedisURL,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		PoolTimeout:  cfg.RedisPoolTimeout,
	})
	if err != nil {
		logger.Error("failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		_ = webhookDB.Close()
		repo.Close()
		return err
	}
	logger.Info("connected to Redis")

	var (
		recorder       metrics.Recorder
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		prom := metrics.NewPrometheus()
		recorder, metricsHandler = prom, prom.Handler()
	} else {
		mem := metrics.NewInMemory()
		recorder, metricsHandler = mem, http.HandlerFunc(handler.NewMetricsHandler(mem).Metrics)
	}

	// Services
	webhookRepo := webhook.NewRepository(webhookDB)
	webhookPublisher := webhook.NewPublisher(webhookRepo, dto.NewEventRenderer(cfg.CheckoutBaseURL), logger)
	stripeClient := payment.NewStripeClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, logger,
		payment.WithMetrics(recorder),
		payment.WithStatementDescriptor(cfg.StripeStatementDescriptor),
	)
	checkoutService := service.NewCheckoutService(repo, stripeClient, webhookPublisher, service.CheckoutConfig{
		BaseURL:            cfg.CheckoutBaseURL,
		TTL:                cfg.CheckoutTTL,
		PlatformFeePercent: cfg.PlatformFeePercent,
		PlatformFeeFixed:   cfg.PlatformFeeFixed,
	}, recorder, logger)
	organizationService := service.NewOrganizationService(repo, logger)
	orderService := service.NewOrderService(repo)
	oauth2Service := service.NewOAuth2Service(repo, logger)
	stripeEvents := events.NewPublisher(cacheClient.Stream(), logger, recorder)

	// Handlers
	handlers := routeHandlers{
		root:         handler.New(version),
		health:       handler.NewHealthHandler(repo, cacheClient),
		metrics:      metricsHandler,
		checkouts:    handler.NewCheckoutHandler(checkoutService, cfg.CheckoutBaseURL, logger),
		stripe:       handler.NewStripeWebhookHandler(stripeClient, stripeEvents, logger),
		orgs:         handler.NewOrganizationHandler(organizationService, logger),
		orders:       handler.NewOrderHandler(orderService, logger),
		oauth2:       handler.NewOAuth2Handler(oauth2Service, logger),
		webhooks:     handler.NewWebhookHandler(webhookRepo, organizationService, logger, webhook.ValidationOptions{AllowInsecure: cfg.WebhookAllowInsecure}),
		apiKeys:      handler.NewAPIKeyHandler(repo, cacheClient, apiKeyEnv(cfg), logger),
		keyStore:     repo,
		tokens:       oauth2Service,
		cache:        cacheClient,
	}
	r := setupRouter(handlers, cfg, logger)

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Resources registered first close last.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("webhook_db", func(context.Context) error {
		return webhookDB.Close()
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})

	if cfg.WorkersEnabled {
		eventWorker := events.NewWorker(cacheClient.Stream(), repo, checkoutService, logger, events.NewConsumerID(), recorder)
		srv.Go("stripe_events", eventWorker.Run)
		srv.Go("checkout_expirer", jobs.NewExpirer(checkoutService, cfg.CheckoutExpiryInterval, logger).Run)
		srv.Go("webhook_delivery", webhook.NewWorker(webhookRepo, logger, recorder).Run)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"version", version,
		"workers", cfg.WorkersEnabled,
	)
	return srv.Run(ctx)
}

// apiKeyEnv picks the environment marker embedded in new API keys.
func apiKeyEnv(cfg *config.Config) string {
	if cfg.IsProduction() {
		return auth.EnvLive
	}
	return auth.EnvTest
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

// redactURL strips credentials from a connection URL for logging.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}
	if parsed.User != nil {
		if username := parsed.User.Username(); username != "" {
			parsed.User = url.User(username)
		} else {
			parsed.User = url.User("redacted")
		}
	}
	return parsed.String()
}

// sanitizeError removes connection secrets from driver errors.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}
	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
