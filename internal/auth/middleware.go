package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/keyward/internal/models"
	pkghttp "github.com/BradenHooton/keyward/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// APIKeyContextKey is the key for storing the authenticated key in context
	APIKeyContextKey contextKey = "api_key"

	// DefaultHeaderName carries the raw key when no header is configured
	DefaultHeaderName = "X-API-Key"

	unauthorizedMessage = "invalid or missing api key"
)

// APIKeyAuthenticator resolves a raw key to its record
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, rawKey, clientIP string) (*models.APIKeyInfo, error)
}

// APIKeyMiddleware authenticates requests by API key and injects the key
// record into context.
//
// The key is read from headerName, falling back to "Authorization: Bearer".
// Every rejection gets the same 401 body so callers cannot tell a revoked key
// from an unknown one. Storage failures are 503. A non-nil delay pads every
// 401 to its minimum duration.
func APIKeyMiddleware(authn APIKeyAuthenticator, headerName string, ipConfig *pkghttp.IPConfig, delay *FailureDelay) func(next http.Handler) http.Handler {
	if headerName == "" {
		headerName = DefaultHeaderName
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rawKey := extractRawKey(r, headerName)
			if rawKey == "" {
				delay.WaitFrom(start)
				pkghttp.WriteUnauthorized(w, unauthorizedMessage)
				return
			}

			info, err := authn.Authenticate(r.Context(), rawKey, pkghttp.ExtractClientIP(r, ipConfig))
			if err != nil {
				if errors.Is(err, models.ErrBackendUnavailable) {
					pkghttp.WriteServiceUnavailable(w, "authentication temporarily unavailable")
					return
				}
				delay.WaitFrom(start)
				pkghttp.WriteUnauthorized(w, unauthorizedMessage)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), info)))
		})
	}
}

func extractRawKey(r *http.Request, headerName string) string {
	if v := strings.TrimSpace(r.Header.Get(headerName)); v != "" {
		return v
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// WithAPIKey returns a context carrying the authenticated key
func WithAPIKey(ctx context.Context, info *models.APIKeyInfo) context.Context {
	return context.WithValue(ctx, APIKeyContextKey, info)
}

// GetAPIKeyFromContext extracts the authenticated key from request context
func GetAPIKeyFromContext(r *http.Request) *models.APIKeyInfo {
	info, ok := r.Context().Value(APIKeyContextKey).(*models.APIKeyInfo)
	if !ok {
		return nil
	}
	return info
}
