package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BradenHooton/keyward/internal/models"
)

// MemoryAPIKeyRepository keeps keys in process memory. Intended for tests and
// single-instance deployments; nothing survives a restart.
type MemoryAPIKeyRepository struct {
	mu     sync.RWMutex
	byHash map[string]*models.APIKeyInfo
	byID   map[string]string // key_id -> key_hash
	closed bool
	now    func() time.Time
}

// NewMemoryAPIKeyRepository creates an empty in-memory repository
func NewMemoryAPIKeyRepository() *MemoryAPIKeyRepository {
	return &MemoryAPIKeyRepository{
		byHash: make(map[string]*models.APIKeyInfo),
		byID:   make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (r *MemoryAPIKeyRepository) WithClock(now func() time.Time) *MemoryAPIKeyRepository {
	r.now = now
	return r
}

func (r *MemoryAPIKeyRepository) checkOpen() error {
	if r.closed {
		return fmt.Errorf("memory repository closed: %w", models.ErrBackendUnavailable)
	}
	return nil
}

// Create stores a new key. Both uniqueness checks and the insert happen under
// one write lock.
func (r *MemoryAPIKeyRepository) Create(ctx context.Context, keyHash string, info *models.APIKeyInfo) (*models.APIKeyInfo, error) {
	rec := prepareForCreate(keyHash, info, r.now())

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if _, exists := r.byHash[keyHash]; exists {
		return nil, &models.DuplicateKeyError{Field: models.FieldKeyHash}
	}
	if _, exists := r.byID[rec.KeyID]; exists {
		return nil, &models.DuplicateKeyError{Field: models.FieldKeyID, Value: rec.KeyID}
	}

	r.byHash[keyHash] = rec
	r.byID[rec.KeyID] = keyHash
	return rec.Clone(), nil
}

// Get retrieves a key by hash
func (r *MemoryAPIKeyRepository) Get(ctx context.Context, keyHash string) (*models.APIKeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return r.byHash[keyHash].Clone(), nil
}

// GetByID retrieves a key by key_id
func (r *MemoryAPIKeyRepository) GetByID(ctx context.Context, keyID string) (*models.APIKeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	keyHash, ok := r.byID[keyID]
	if !ok {
		return nil, nil
	}
	return r.byHash[keyHash].Clone(), nil
}

// Update applies a partial update
func (r *MemoryAPIKeyRepository) Update(ctx context.Context, keyHash string, update models.APIKeyUpdate) (*models.APIKeyInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	current, ok := r.byHash[keyHash]
	if !ok {
		return nil, nil
	}

	updated := update.Apply(current)
	r.byHash[keyHash] = updated
	return updated.Clone(), nil
}

// Revoke deactivates a key
func (r *MemoryAPIKeyRepository) Revoke(ctx context.Context, keyHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return false, err
	}
	rec, ok := r.byHash[keyHash]
	if !ok {
		return false, nil
	}
	rec.IsActive = false
	return true, nil
}

// UpdateLastUsed stamps last_used_at
func (r *MemoryAPIKeyRepository) UpdateLastUsed(ctx context.Context, keyHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return err
	}
	if rec, ok := r.byHash[keyHash]; ok {
		now := r.now().UTC()
		rec.LastUsedAt = &now
	}
	return nil
}

// Delete removes a key from both indexes
func (r *MemoryAPIKeyRepository) Delete(ctx context.Context, keyHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return false, err
	}
	rec, ok := r.byHash[keyHash]
	if !ok {
		return false, nil
	}
	delete(r.byHash, keyHash)
	delete(r.byID, rec.KeyID)
	return true, nil
}

// List returns a sorted page of keys
func (r *MemoryAPIKeyRepository) List(ctx context.Context, opts ListOptions) ([]*models.APIKeyInfo, error) {
	r.mu.RLock()
	if err := r.checkOpen(); err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	keys := make([]*models.APIKeyInfo, 0, len(r.byHash))
	for _, rec := range r.byHash {
		keys = append(keys, rec.Clone())
	}
	r.mu.RUnlock()

	sortKeys(keys)
	return paginate(keys, opts), nil
}

// PurgeExpired deletes keys whose expiry is before the cutoff
func (r *MemoryAPIKeyRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	for keyHash, rec := range r.byHash {
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(before) {
			delete(r.byHash, keyHash)
			delete(r.byID, rec.KeyID)
			n++
		}
	}
	return n, nil
}

// Ping reports whether the repository is open
func (r *MemoryAPIKeyRepository) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkOpen()
}

// Close marks the repository closed and drops its contents
func (r *MemoryAPIKeyRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.byHash = make(map[string]*models.APIKeyInfo)
	r.byID = make(map[string]string)
	return nil
}
