package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/keyward/internal/auth"
	"github.com/BradenHooton/keyward/internal/models"
	"github.com/BradenHooton/keyward/internal/services"
	pkghttp "github.com/BradenHooton/keyward/pkg/http"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// APIKeyServiceInterface defines the key management operations the handlers need
type APIKeyServiceInterface interface {
	CreateAPIKey(ctx context.Context, params services.CreateAPIKeyParams) (*models.GeneratedAPIKey, error)
	GetAPIKey(ctx context.Context, keyID string) (*models.APIKeyInfo, error)
	ListAPIKeys(ctx context.Context, limit, offset int) ([]*models.APIKeyInfo, error)
	UpdateAPIKey(ctx context.Context, keyID string, update models.APIKeyUpdate, actorKeyID string) (*models.APIKeyInfo, error)
	RevokeAPIKey(ctx context.Context, keyID, actorKeyID string) error
	DeleteAPIKey(ctx context.Context, keyID, actorKeyID string) error
}

// APIKeyHandler handles API key HTTP requests
type APIKeyHandler struct {
	service APIKeyServiceInterface
	logger  *slog.Logger
	now     func() time.Time
}

// NewAPIKeyHandler creates a new APIKeyHandler
func NewAPIKeyHandler(service APIKeyServiceInterface, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		service: service,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Request DTOs

// CreateAPIKeyRequest represents the request to create an API key
type CreateAPIKeyRequest struct {
	Name      string            `json:"name" validate:"required,min=1,max=255"`
	Scopes    []string          `json:"scopes" validate:"omitempty,max=64,dive,required,max=128"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" validate:"omitempty,max=32,dive,keys,required,max=64,endkeys,max=512"`
}

// UpdateAPIKeyRequest is a partial update. expires_at distinguishes absent
// (untouched) from null (clear).
type UpdateAPIKeyRequest struct {
	Name      *string            `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Scopes    *[]string          `json:"scopes,omitempty" validate:"omitempty,max=64,dive,required,max=128"`
	ExpiresAt json.RawMessage    `json:"expires_at,omitempty"`
	Metadata  *map[string]string `json:"metadata,omitempty" validate:"omitempty,max=32,dive,keys,required,max=64,endkeys,max=512"`
}

// Response DTOs

// APIKeyResponse is the public view of a key. The hash is never included.
type APIKeyResponse struct {
	KeyID      string            `json:"key_id"`
	Name       string            `json:"name"`
	Scopes     []string          `json:"scopes"`
	State      models.KeyState   `json:"state"`
	IsActive   bool              `json:"is_active"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	LastUsedAt *time.Time        `json:"last_used_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CreateAPIKeyResponse carries the raw key, shown exactly once
type CreateAPIKeyResponse struct {
	Key       string          `json:"key"`
	DisplayID string          `json:"display_id,omitempty"`
	Message   string          `json:"message"`
	APIKey    *APIKeyResponse `json:"api_key"`
}

// ListAPIKeysResponse represents the response for listing API keys
type ListAPIKeysResponse struct {
	Keys   []*APIKeyResponse `json:"keys"`
	Count  int               `json:"count"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// Handlers

// Me GET /me
func (h *APIKeyHandler) Me(w http.ResponseWriter, r *http.Request) {
	info := auth.GetAPIKeyFromContext(r)
	if info == nil {
		pkghttp.WriteUnauthorized(w, "invalid or missing api key")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, h.toResponse(info))
}

// CreateAPIKey POST /api-keys
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	generated, err := h.service.CreateAPIKey(r.Context(), services.CreateAPIKeyParams{
		Name:       req.Name,
		Scopes:     req.Scopes,
		ExpiresAt:  req.ExpiresAt,
		Metadata:   req.Metadata,
		ActorKeyID: actorKeyID(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to create api key")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, CreateAPIKeyResponse{
		Key:       generated.RawKey,
		DisplayID: generated.DisplayID,
		Message:   "Save this API key - it will not be shown again",
		APIKey:    h.toResponse(generated.APIKey),
	})
}

// ListAPIKeys GET /api-keys
func (h *APIKeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20, 1, 100)
	if err != nil {
		pkghttp.WriteBadRequest(w, "invalid limit parameter")
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, 1_000_000)
	if err != nil {
		pkghttp.WriteBadRequest(w, "invalid offset parameter")
		return
	}

	keys, err := h.service.ListAPIKeys(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list api keys")
		return
	}

	resp := ListAPIKeysResponse{
		Keys:   make([]*APIKeyResponse, len(keys)),
		Count:  len(keys),
		Limit:  limit,
		Offset: offset,
	}
	for i, key := range keys {
		resp.Keys[i] = h.toResponse(key)
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// GetAPIKey GET /api-keys/{id}
func (h *APIKeyHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		pkghttp.WriteBadRequest(w, "invalid key id")
		return
	}

	key, err := h.service.GetAPIKey(r.Context(), keyID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to get api key")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, h.toResponse(key))
}

// UpdateAPIKey PATCH /api-keys/{id}
func (h *APIKeyHandler) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		pkghttp.WriteBadRequest(w, "invalid key id")
		return
	}

	var req UpdateAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	update, err := req.toUpdate()
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if update.IsEmpty() {
		pkghttp.WriteBadRequest(w, "no fields to update")
		return
	}

	key, err := h.service.UpdateAPIKey(r.Context(), keyID, update, actorKeyID(r))
	if err != nil {
		h.writeServiceError(w, r, err, "failed to update api key")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, h.toResponse(key))
}

// RevokeAPIKey POST /api-keys/{id}/revoke
func (h *APIKeyHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		pkghttp.WriteBadRequest(w, "invalid key id")
		return
	}

	if err := h.service.RevokeAPIKey(r.Context(), keyID, actorKeyID(r)); err != nil {
		h.writeServiceError(w, r, err, "failed to revoke api key")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "api key revoked",
	})
}

// DeleteAPIKey DELETE /api-keys/{id}
func (h *APIKeyHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		pkghttp.WriteBadRequest(w, "invalid key id")
		return
	}

	if err := h.service.DeleteAPIKey(r.Context(), keyID, actorKeyID(r)); err != nil {
		h.writeServiceError(w, r, err, "failed to delete api key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helpers

func (req *UpdateAPIKeyRequest) toUpdate() (models.APIKeyUpdate, error) {
	var update models.APIKeyUpdate
	if req.Name != nil {
		update.Name = models.Some(*req.Name)
	}
	if req.Scopes != nil {
		update.Scopes = models.Some(*req.Scopes)
	}
	if req.Metadata != nil {
		update.Metadata = models.Some(*req.Metadata)
	}
	if len(req.ExpiresAt) > 0 {
		var expiresAt *time.Time
		if err := json.Unmarshal(req.ExpiresAt, &expiresAt); err != nil {
			return update, errors.New("invalid expires_at format (use RFC3339)")
		}
		update.ExpiresAt = models.Some(expiresAt)
	}
	return update, nil
}

func (h *APIKeyHandler) toResponse(key *models.APIKeyInfo) *APIKeyResponse {
	if key == nil {
		return nil
	}
	return &APIKeyResponse{
		KeyID:      key.KeyID,
		Name:       key.Name,
		Scopes:     key.Scopes,
		State:      key.StateAt(h.now()),
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt,
		ExpiresAt:  key.ExpiresAt,
		LastUsedAt: key.LastUsedAt,
		Metadata:   key.Metadata,
	}
}

// writeServiceError maps service errors to HTTP responses
func (h *APIKeyHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrKeyNotFound):
		pkghttp.WriteNotFound(w, "api key not found")
	case errors.Is(err, models.ErrDuplicateKey):
		pkghttp.WriteConflict(w, "api key already exists")
	case errors.Is(err, models.ErrBackendUnavailable):
		h.logger.ErrorContext(r.Context(), fallback, slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "storage temporarily unavailable")
	default:
		h.logger.ErrorContext(r.Context(), fallback, slog.Any("error", err))
		pkghttp.WriteInternalError(w, fallback)
	}
}

func actorKeyID(r *http.Request) string {
	if info := auth.GetAPIKeyFromContext(r); info != nil {
		return info.KeyID
	}
	return ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

// queryInt parses an integer query parameter within [lo, hi]
func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, errors.New("parameter out of range")
	}
	return n, nil
}
