package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/keyward/internal/auth"
	"github.com/BradenHooton/keyward/internal/models"
	"github.com/BradenHooton/keyward/internal/services"
	pkghttp "github.com/BradenHooton/keyward/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAPIKeyContext adds an authenticated key to the request context
func WithAPIKeyContext(req *http.Request, keyID string, scopes ...string) *http.Request {
	info := &models.APIKeyInfo{
		KeyID:    keyID,
		Name:     "caller",
		Scopes:   scopes,
		IsActive: true,
	}
	return req.WithContext(auth.WithAPIKey(req.Context(), info))
}

// WithChiParam sets a chi URL parameter on the request
func WithChiParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAPIKeyService implements APIKeyServiceInterface for testing
type MockAPIKeyService struct {
	CreateAPIKeyFunc func(ctx context.Context, params services.CreateAPIKeyParams) (*models.GeneratedAPIKey, error)
	GetAPIKeyFunc    func(ctx context.Context, keyID string) (*models.APIKeyInfo, error)
	ListAPIKeysFunc  func(ctx context.Context, limit, offset int) ([]*models.APIKeyInfo, error)
	UpdateAPIKeyFunc func(ctx context.Context, keyID string, update models.APIKeyUpdate, actorKeyID string) (*models.APIKeyInfo, error)
	RevokeAPIKeyFunc func(ctx context.Context, keyID, actorKeyID string) error
	DeleteAPIKeyFunc func(ctx context.Context, keyID, actorKeyID string) error
}

func (m *MockAPIKeyService) CreateAPIKey(ctx context.Context, params services.CreateAPIKeyParams) (*models.GeneratedAPIKey, error) {
	if m.CreateAPIKeyFunc == nil {
		return nil, models.ErrBackendUnavailable
	}
	return m.CreateAPIKeyFunc(ctx, params)
}

func (m *MockAPIKeyService) GetAPIKey(ctx context.Context, keyID string) (*models.APIKeyInfo, error) {
	if m.GetAPIKeyFunc == nil {
		return nil, models.ErrKeyNotFound
	}
	return m.GetAPIKeyFunc(ctx, keyID)
}

func (m *MockAPIKeyService) ListAPIKeys(ctx context.Context, limit, offset int) ([]*models.APIKeyInfo, error) {
	if m.ListAPIKeysFunc == nil {
		return []*models.APIKeyInfo{}, nil
	}
	return m.ListAPIKeysFunc(ctx, limit, offset)
}

func (m *MockAPIKeyService) UpdateAPIKey(ctx context.Context, keyID string, update models.APIKeyUpdate, actorKeyID string) (*models.APIKeyInfo, error) {
	if m.UpdateAPIKeyFunc == nil {
		return nil, models.ErrKeyNotFound
	}
	return m.UpdateAPIKeyFunc(ctx, keyID, update, actorKeyID)
}

func (m *MockAPIKeyService) RevokeAPIKey(ctx context.Context, keyID, actorKeyID string) error {
	if m.RevokeAPIKeyFunc == nil {
		return models.ErrKeyNotFound
	}
	return m.RevokeAPIKeyFunc(ctx, keyID, actorKeyID)
}

func (m *MockAPIKeyService) DeleteAPIKey(ctx context.Context, keyID, actorKeyID string) error {
	if m.DeleteAPIKeyFunc == nil {
		return models.ErrKeyNotFound
	}
	return m.DeleteAPIKeyFunc(ctx, keyID, actorKeyID)
}
