package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/keyward/internal/auth"
	pkglogger "github.com/BradenHooton/keyward/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// SecureLogger returns a middleware for logging HTTP requests with sensitive data redaction.
// The raw key header is never logged; the authenticated key id is.
func SecureLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// Inner middleware stores the key on a derived request, so capture
			// it through a pointer the inner chain can fill in.
			var keyID string
			r = r.WithContext(context.WithValue(r.Context(), keyIDSlot{}, &keyID))

			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if pkglogger.SanitizeQueryString(r.URL.RawQuery) {
				path = path + "?[REDACTED]"
			} else if r.URL.RawQuery != "" {
				path = r.URL.Path + "?" + r.URL.RawQuery
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", wrapped.Status()),
				slog.Int64("bytes", int64(wrapped.BytesWritten())),
				slog.String("duration", time.Since(start).String()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if keyID != "" {
				attrs = append(attrs, slog.String("key_id", keyID))
			}

			logger.LogAttrs(context.Background(), slog.LevelInfo, "http_request", attrs...)
		})
	}
}

type keyIDSlot struct{}

// RecordKeyID copies the authenticated key id into the request log entry.
// Mount it after APIKeyMiddleware.
func RecordKeyID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slot, ok := r.Context().Value(keyIDSlot{}).(*string); ok {
			if info := auth.GetAPIKeyFromContext(r); info != nil {
				*slot = info.KeyID
			}
		}
		next.ServeHTTP(w, r)
	})
}
