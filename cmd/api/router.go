package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/checkoutd/checkoutd/internal/cache"
	"github.com/checkoutd/checkoutd/internal/config"
	"github.com/checkoutd/checkoutd/internal/handler"
	"github.com/checkoutd/checkoutd/internal/middleware"
	"github.com/checkoutd/checkoutd/internal/model"
)

// routeHandlers collects everything setupRouter mounts.
type routeHandlers struct {
	root      *handler.Handler
	health    *handler.HealthHandler
	metrics   http.Handler
	checkouts *handler.CheckoutHandler
	stripe    *handler.StripeWebhookHandler
	orgs      *handler.OrganizationHandler
	orders    *handler.OrderHandler
	oauth2    *handler.OAuth2Handler
	webhooks  *handler.WebhookHandler
	apiKeys   *handler.APIKeyHandler

	keyStore middleware.APIKeyStore
	tokens   middleware.TokenIntrospector
	cache    *cache.Cache
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(h routeHandlers, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	cors.AllowOriginFunc = h.checkouts.EmbedOriginFunc()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(cors))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	r.Get("/", h.root.Hello)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	authCfg := middleware.AuthConfig{
		Logger:      logger,
		Keys:        h.keyStore,
		Tokens:      h.tokens,
		Cache:       h.cache,
		MinDuration: middleware.DefaultMinAuthDuration,
	}
	rateLimitCfg := middleware.RateLimitConfig{
		Logger:     logger,
		Limiter:    h.cache,
		APIEnabled: cfg.RateLimitAPIEnabled,
		IPEnabled:  cfg.RateLimitPublicEnabled,
		IPRPS:      cfg.RateLimitPublicRPS,
		IPBurst:    cfg.RateLimitPublicBurst,
	}
	authenticated := chi.Chain(middleware.Auth(authCfg), middleware.RateLimitAPI(rateLimitCfg))
	scope := middleware.RequireScope

	r.Route("/v1", func(r chi.Router) {
		r.Route("/checkouts", func(r chi.Router) {
			// Stripe authenticates with its signature header.
			r.Post("/webhooks/stripe", h.stripe.Receive)

			// Client secret routes for the hosted and embedded checkout.
			r.Route("/client", func(r chi.Router) {
				r.Use(middleware.RateLimitIP(rateLimitCfg))
				r.Post("/", h.checkouts.ClientCreate)
				r.Get("/{client_secret}", h.checkouts.ClientGet)
				r.Patch("/{client_secret}", h.checkouts.ClientUpdate)
				r.Post("/{client_secret}/confirm", h.checkouts.ClientConfirm)
			})

			r.Group(func(r chi.Router) {
				r.Use(authenticated...)
				checkoutRead := scope(model.ScopeCheckoutsRead, model.ScopeCheckoutsWrite)
				r.With(checkoutRead).Get("/", h.checkouts.List)
				r.With(scope(model.ScopeCheckoutsWrite)).Post("/", h.checkouts.Create)
				r.With(checkoutRead).Get("/{id}", h.checkouts.Get)
				r.With(scope(model.ScopeCheckoutsWrite)).Patch("/{id}", h.checkouts.Update)
			})
		})

		// OAuth2 clients authenticate in the request itself.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitIP(rateLimitCfg))
			r.Post("/oauth2/token", h.oauth2.Token)
			r.Post("/oauth2/revoke", h.oauth2.Revoke)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticated...)

			r.Route("/organizations", func(r chi.Router) {
				orgRead := scope(model.ScopeOrganizationsRead, model.ScopeOrganizationsWrite)
				r.With(orgRead).Get("/", h.orgs.List)
				r.With(orgRead).Get("/search", h.orgs.Search)
				r.With(orgRead).Get("/lookup", h.orgs.Lookup)
				r.With(orgRead).Get("/{id}", h.orgs.Get)
				r.With(scope(model.ScopeOrganizationsWrite)).Patch("/{id}", h.orgs.Update)
				r.With(orgRead).Get("/{id}/badge_settings", h.orgs.GetBadgeSettings)
				r.With(scope(model.ScopeOrganizationsWrite)).Post("/{id}/badge_settings", h.orgs.UpdateBadgeSettings)

				r.Route("/{id}/webhooks", func(r chi.Router) {
					r.Use(scope(model.ScopeWebhooksWrite))
					r.Get("/", h.webhooks.List)
					r.Post("/", h.webhooks.Create)
					r.Route("/{webhook_id}", func(r chi.Router) {
						r.Get("/", h.webhooks.Get)
						r.Patch("/", h.webhooks.Update)
						r.Delete("/", h.webhooks.Delete)
						r.Post("/rotate-secret", h.webhooks.RotateSecret)
						r.Get("/deliveries", h.webhooks.ListDeliveries)
						r.Post("/deliveries/{delivery_id}/retry", h.webhooks.RetryDelivery)
					})
				})
			})

			r.Route("/users/orders", func(r chi.Router) {
				r.Use(scope(model.ScopeOrdersRead))
				r.Get("/", h.orders.List)
				r.Get("/{id}", h.orders.Get)
			})

			// Client registration and consent act for the user, so they
			// need a full credential.
			admin := scope(model.ScopeAdmin)
			r.With(admin).Get("/oauth2/clients", h.oauth2.ListClients)
			r.With(admin).Post("/oauth2/clients", h.oauth2.RegisterClient)
			r.With(admin).Delete("/oauth2/clients/{client_id}", h.oauth2.DeleteClient)
			r.With(admin).Post("/oauth2/authorize", h.oauth2.Authorize)

			r.Route("/api-keys", func(r chi.Router) {
				r.Get("/", h.apiKeys.List)
				r.With(admin).Post("/", h.apiKeys.Create)
				r.With(admin).Delete("/{key_id}", h.apiKeys.Revoke)
				r.With(admin).Post("/{key_id}/rotate", h.apiKeys.Rotate)
			})
		})
	})

	r.NotFound(h.root.NotFound)
	r.MethodNotAllowed(h.root.MethodNotAllowed)

	return r
}
