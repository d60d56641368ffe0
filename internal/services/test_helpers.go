package services

import (
	"context"
	"time"

	"github.com/BradenHooton/keyward/internal/models"
	"github.com/BradenHooton/keyward/internal/repositories"
)

// MockAPIKeyRepository implements APIKeyRepository for testing. Unset funcs
// behave like an empty backend.
type MockAPIKeyRepository struct {
	CreateFunc         func(ctx context.Context, keyHash string, info *models.APIKeyInfo) (*models.APIKeyInfo, error)
	GetFunc            func(ctx context.Context, keyHash string) (*models.APIKeyInfo, error)
	GetByIDFunc        func(ctx context.Context, keyID string) (*models.APIKeyInfo, error)
	UpdateFunc         func(ctx context.Context, keyHash string, update models.APIKeyUpdate) (*models.APIKeyInfo, error)
	RevokeFunc         func(ctx context.Context, keyHash string) (bool, error)
	UpdateLastUsedFunc func(ctx context.Context, keyHash string) error
	DeleteFunc         func(ctx context.Context, keyHash string) (bool, error)
	ListFunc           func(ctx context.Context, opts repositories.ListOptions) ([]*models.APIKeyInfo, error)
}

func (m *MockAPIKeyRepository) Create(ctx context.Context, keyHash string, info *models.APIKeyInfo) (*models.APIKeyInfo, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, keyHash, info)
	}
	created := info.Clone()
	created.KeyHash = keyHash
	return created, nil
}

func (m *MockAPIKeyRepository) Get(ctx context.Context, keyHash string) (*models.APIKeyInfo, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, keyHash)
	}
	return nil, nil
}

func (m *MockAPIKeyRepository) GetByID(ctx context.Context, keyID string) (*models.APIKeyInfo, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, keyID)
	}
	return nil, nil
}

func (m *MockAPIKeyRepository) Update(ctx context.Context, keyHash string, update models.APIKeyUpdate) (*models.APIKeyInfo, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, keyHash, update)
	}
	return nil, nil
}

func (m *MockAPIKeyRepository) Revoke(ctx context.Context, keyHash string) (bool, error) {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, keyHash)
	}
	return false, nil
}

func (m *MockAPIKeyRepository) UpdateLastUsed(ctx context.Context, keyHash string) error {
	if m.UpdateLastUsedFunc != nil {
		return m.UpdateLastUsedFunc(ctx, keyHash)
	}
	return nil
}

func (m *MockAPIKeyRepository) Delete(ctx context.Context, keyHash string) (bool, error) {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keyHash)
	}
	return false, nil
}

func (m *MockAPIKeyRepository) List(ctx context.Context, opts repositories.ListOptions) ([]*models.APIKeyInfo, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, opts)
	}
	return []*models.APIKeyInfo{}, nil
}

func (m *MockAPIKeyRepository) Close() error {
	return nil
}

// fixedClock returns a clock pinned to t
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
