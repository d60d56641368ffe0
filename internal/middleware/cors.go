package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
	// HeaderName is the API key header browsers must be allowed to send
	HeaderName string
	MaxAge     int
}

// CORS returns a CORS middleware for browser clients of the management API.
// With no allowed origins it is a no-op, so cross-origin requests fail
// closed. Credentials are never allowed since keys travel in headers.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	if len(config.AllowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	headers := []string{"Accept", "Authorization", "Content-Type"}
	if config.HeaderName != "" {
		headers = append(headers, config.HeaderName)
	}

	maxAge := config.MaxAge
	if maxAge <= 0 {
		maxAge = 300
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   headers,
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           maxAge,
	})
}
