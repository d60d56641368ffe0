package repositories

import (
	"context"
	"sort"
	"time"

	"github.com/BradenHooton/keyward/internal/models"
)

// APIKeyRepository defines the storage operations for API key records.
// Records are looked up by key hash. Lookups return (nil, nil) when the key
// does not exist; every returned record is an independent copy.
type APIKeyRepository interface {
	// Create stores a new key. A collision on key_hash or key_id returns
	// a *models.DuplicateKeyError and leaves the store unchanged.
	Create(ctx context.Context, keyHash string, info *models.APIKeyInfo) (*models.APIKeyInfo, error)

	// Get retrieves a key by its hash
	Get(ctx context.Context, keyHash string) (*models.APIKeyInfo, error)

	// GetByID retrieves a key by its durable identifier
	GetByID(ctx context.Context, keyID string) (*models.APIKeyInfo, error)

	// Update applies a partial update and returns the updated record
	Update(ctx context.Context, keyHash string, update models.APIKeyUpdate) (*models.APIKeyInfo, error)

	// Revoke sets is_active=false. Revoking a revoked key returns true.
	Revoke(ctx context.Context, keyHash string) (bool, error)

	// UpdateLastUsed sets last_used_at to now. A missing key is not an error.
	UpdateLastUsed(ctx context.Context, keyHash string) error

	// Delete removes the key and its id index
	Delete(ctx context.Context, keyHash string) (bool, error)

	// List returns keys ordered by created_at desc, then key_id desc
	List(ctx context.Context, opts ListOptions) ([]*models.APIKeyInfo, error)

	// Close releases backend resources. Safe to call more than once.
	Close() error
}

// HealthChecker is implemented by backends that can be pinged
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ExpiredPurger is implemented by backends that can remove expired keys in
// one statement. Callers fall back to List + Delete otherwise.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// ListOptions controls pagination. Limit <= 0 means no limit and a negative
// Offset is treated as zero.
type ListOptions struct {
	Limit  int
	Offset int
}

func (o ListOptions) normalized() ListOptions {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit < 0 {
		o.Limit = 0
	}
	return o
}

// Validate returns the record for keyHash only when it exists and is valid
// at the current time.
func Validate(ctx context.Context, repo APIKeyRepository, keyHash string) (*models.APIKeyInfo, error) {
	info, err := repo.Get(ctx, keyHash)
	if err != nil || info == nil {
		return nil, err
	}
	if !info.IsValid() {
		return nil, nil
	}
	return info, nil
}

// sortKeys orders keys newest first with key_id as the tie breaker
func sortKeys(keys []*models.APIKeyInfo) {
	sort.SliceStable(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].KeyID > keys[j].KeyID
	})
}

// paginate applies Offset then Limit to an already sorted slice
func paginate(keys []*models.APIKeyInfo, opts ListOptions) []*models.APIKeyInfo {
	opts = opts.normalized()
	if opts.Offset >= len(keys) {
		return []*models.APIKeyInfo{}
	}
	keys = keys[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(keys) {
		keys = keys[:opts.Limit]
	}
	return keys
}

// prepareForCreate copies info, stamps the hash and fills defaults
func prepareForCreate(keyHash string, info *models.APIKeyInfo, now time.Time) *models.APIKeyInfo {
	rec := info.Clone()
	rec.KeyHash = keyHash
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if len(rec.Metadata) == 0 {
		rec.Metadata = nil
	}
	rec.NormalizeUTC()
	return rec
}
