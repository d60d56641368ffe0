package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/keyward/internal/auth"
	pkghttp "github.com/BradenHooton/keyward/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// IPConfig decides when forwarding headers are trusted. Nil means
	// RemoteAddr only.
	IPConfig *pkghttp.IPConfig
}

// DefaultManagementRateLimit returns the default limit for key management routes
func DefaultManagementRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(writeRateLimited),
	)
}

// RateLimitByAPIKey rate limits per authenticated key, falling back to the
// client IP for unauthenticated requests. Must run after APIKeyMiddleware.
func RateLimitByAPIKey(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if info := auth.GetAPIKeyFromContext(r); info != nil {
				return "key:" + info.KeyID, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(writeRateLimited),
	)
}

func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "rate limit exceeded")
}
