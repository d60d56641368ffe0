package routes

import (
	"github.com/BradenHooton/keyward/internal/auth"
	"github.com/BradenHooton/keyward/internal/handlers"
	"github.com/BradenHooton/keyward/internal/middleware"
	"github.com/BradenHooton/keyward/internal/models"
	pkghttp "github.com/BradenHooton/keyward/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Options configures route registration
type Options struct {
	HeaderName         string
	IPConfig           *pkghttp.IPConfig
	RateLimitPerMinute int
	// FailureDelay pads rejected authentications. Nil disables it.
	FailureDelay *auth.FailureDelay
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	apiKeyHandler *handlers.APIKeyHandler,
	healthHandler *handlers.HealthHandler,
	authenticator auth.APIKeyAuthenticator,
	authorizer auth.ScopeAuthorizer,
	opts Options,
) {
	rateLimitConfig := middleware.DefaultManagementRateLimit()
	rateLimitConfig.IPConfig = opts.IPConfig
	if opts.RateLimitPerMinute > 0 {
		rateLimitConfig.RequestsPerMinute = opts.RateLimitPerMinute
	}

	// Public routes - no authentication required
	router.Get("/health", healthHandler.Health)

	// Protected routes - API key required
	router.Group(func(r chi.Router) {
		// Limit by IP before authenticating so key guessing is throttled too
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		r.Use(auth.APIKeyMiddleware(authenticator, opts.HeaderName, opts.IPConfig, opts.FailureDelay))
		r.Use(middleware.RecordKeyID)

		// Any valid key
		r.Get("/me", apiKeyHandler.Me)

		r.Route("/api-keys", func(r chi.Router) {
			r.Use(middleware.RateLimitByAPIKey(rateLimitConfig))

			r.With(auth.RequireAnyScope(authorizer, models.ScopeAPIKeysRead, models.ScopeAPIKeysWrite)).Get("/", apiKeyHandler.ListAPIKeys)
			r.With(auth.RequireScope(authorizer, models.ScopeAPIKeysRead)).Get("/{id}", apiKeyHandler.GetAPIKey)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(authorizer, models.ScopeAPIKeysWrite))
				r.Post("/", apiKeyHandler.CreateAPIKey)
				r.Patch("/{id}", apiKeyHandler.UpdateAPIKey)
				r.Post("/{id}/revoke", apiKeyHandler.RevokeAPIKey)
				r.Delete("/{id}", apiKeyHandler.DeleteAPIKey)
			})
		})
	})
}
