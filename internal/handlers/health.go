package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/keyward/pkg/http"
)

// Pinger checks the storage backend
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service and storage health
type HealthHandler struct {
	storage Pinger
	backend string
	logger  *slog.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(storage Pinger, backend string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{storage: storage, backend: backend, logger: logger}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Backend string `json:"backend"`
}

// Health GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.storage.Ping(ctx); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", slog.Any("error", err))
		pkghttp.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "unhealthy",
			Storage: "down",
			Backend: h.backend,
		})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Storage: "up",
		Backend: h.backend,
	})
}
