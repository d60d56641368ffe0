package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/keyward/internal/database"
	"github.com/BradenHooton/keyward/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const apiKeyColumns = `key_id, key_hash, name, scopes, is_active, created_at, expires_at, last_used_at, metadata`

// APIKeyRepositoryImpl implements APIKeyRepository on PostgreSQL
type APIKeyRepositoryImpl struct {
	db  *database.DB
	now func() time.Time
}

// NewAPIKeyRepository creates a new PostgreSQL API key repository
func NewAPIKeyRepository(db *database.DB) *APIKeyRepositoryImpl {
	return &APIKeyRepositoryImpl{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *APIKeyRepositoryImpl) pool() *pgxpool.Pool {
	return r.db.Pool
}

// scanAPIKeyRow handles nullable fields and populates an APIKeyInfo from a database row
func scanAPIKeyRow(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.APIKeyInfo, error) {
	var info models.APIKeyInfo
	var expiresAt, lastUsedAt *time.Time
	var metadata []byte

	err := scanner.Scan(
		&info.KeyID,
		&info.KeyHash,
		&info.Name,
		pq.Array(&info.Scopes),
		&info.IsActive,
		&info.CreatedAt,
		&expiresAt,
		&lastUsedAt,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	info.ExpiresAt = expiresAt
	info.LastUsedAt = lastUsedAt
	if info.Scopes == nil {
		info.Scopes = []string{}
	}
	if info.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	info.NormalizeUTC()

	return &info, nil
}

// scanAPIKeyRows iterates through rows and scans each into APIKeyInfo models
func scanAPIKeyRows(rows pgx.Rows) ([]*models.APIKeyInfo, error) {
	defer rows.Close()

	keys := make([]*models.APIKeyInfo, 0)

	for rows.Next() {
		info, err := scanAPIKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", database.MapPostgresError(err))
		}
		keys = append(keys, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", database.MapPostgresError(err))
	}

	return keys, nil
}

// queryOne runs a single-row query. A missing row yields (nil, nil).
func (r *APIKeyRepositoryImpl) queryOne(ctx context.Context, query string, args ...interface{}) (*models.APIKeyInfo, error) {
	info, err := scanAPIKeyRow(r.pool().QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, database.MapPostgresError(err)
	}
	return info, nil
}

// Create stores a new API key. Uniqueness is enforced by the table constraints.
func (r *APIKeyRepositoryImpl) Create(ctx context.Context, keyHash string, info *models.APIKeyInfo) (*models.APIKeyInfo, error) {
	rec := prepareForCreate(keyHash, info, r.now())

	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + apiKeyColumns

	created, err := r.queryOne(ctx, query,
		rec.KeyID,
		rec.KeyHash,
		rec.Name,
		pq.Array(rec.Scopes),
		rec.IsActive,
		rec.CreatedAt,
		rec.ExpiresAt,
		rec.LastUsedAt,
		metadata,
	)
	if err != nil {
		var dup *models.DuplicateKeyError
		if errors.As(err, &dup) && dup.Field == models.FieldKeyID {
			dup.Value = rec.KeyID
		}
		return nil, err
	}

	return created, nil
}

// Get retrieves an API key by its hash
func (r *APIKeyRepositoryImpl) Get(ctx context.Context, keyHash string) (*models.APIKeyInfo, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`
	return r.queryOne(ctx, query, keyHash)
}

// GetByID retrieves an API key by its key_id
func (r *APIKeyRepositoryImpl) GetByID(ctx context.Context, keyID string) (*models.APIKeyInfo, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_id = $1`
	return r.queryOne(ctx, query, keyID)
}

// Update applies the present fields of update in one statement
func (r *APIKeyRepositoryImpl) Update(ctx context.Context, keyHash string, update models.APIKeyUpdate) (*models.APIKeyInfo, error) {
	if update.IsEmpty() {
		return r.Get(ctx, keyHash)
	}

	sets := make([]string, 0, 6)
	args := make([]interface{}, 0, 7)
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Name.Set {
		add("name", update.Name.Value)
	}
	if update.Scopes.Set {
		scopes := update.Scopes.Value
		if scopes == nil {
			scopes = []string{}
		}
		add("scopes", pq.Array(scopes))
	}
	if update.IsActive.Set {
		add("is_active", update.IsActive.Value)
	}
	if update.ExpiresAt.Set {
		add("expires_at", utcPtr(update.ExpiresAt.Value))
	}
	if update.LastUsedAt.Set {
		add("last_used_at", utcPtr(update.LastUsedAt.Value))
	}
	if update.Metadata.Set {
		metadata, err := encodeMetadata(update.Metadata.Value)
		if err != nil {
			return nil, err
		}
		add("metadata", metadata)
	}

	args = append(args, keyHash)
	query := fmt.Sprintf(`UPDATE api_keys SET %s WHERE key_hash = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), apiKeyColumns)

	return r.queryOne(ctx, query, args...)
}

// Revoke deactivates an API key. Revoking twice is not an error.
func (r *APIKeyRepositoryImpl) Revoke(ctx context.Context, keyHash string) (bool, error) {
	query := `UPDATE api_keys SET is_active = FALSE WHERE key_hash = $1`

	result, err := r.pool().Exec(ctx, query, keyHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() > 0, nil
}

// UpdateLastUsed updates the last_used_at timestamp for an API key
func (r *APIKeyRepositoryImpl) UpdateLastUsed(ctx context.Context, keyHash string) error {
	query := `UPDATE api_keys SET last_used_at = $1 WHERE key_hash = $2`

	if _, err := r.pool().Exec(ctx, query, r.now(), keyHash); err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// Delete removes an API key
func (r *APIKeyRepositoryImpl) Delete(ctx context.Context, keyHash string) (bool, error) {
	result, err := r.pool().Exec(ctx, `DELETE FROM api_keys WHERE key_hash = $1`, keyHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() > 0, nil
}

// List retrieves API keys newest first (paginated)
func (r *APIKeyRepositoryImpl) List(ctx context.Context, opts ListOptions) ([]*models.APIKeyInfo, error) {
	opts = opts.normalized()

	// LIMIT NULL is no limit in PostgreSQL
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}

	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		ORDER BY created_at DESC, key_id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool().Query(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", database.MapPostgresError(err))
	}

	return scanAPIKeyRows(rows)
}

// PurgeExpired deletes API keys whose expiry is before the cutoff
func (r *APIKeyRepositoryImpl) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at < $1`

	result, err := r.pool().Exec(ctx, query, before.UTC())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// Ping checks database connectivity
func (r *APIKeyRepositoryImpl) Ping(ctx context.Context) error {
	if err := r.db.HealthCheck(ctx); err != nil {
		return errors.Join(models.ErrBackendUnavailable, err)
	}
	return nil
}

// Close closes the connection pool
func (r *APIKeyRepositoryImpl) Close() error {
	r.db.Close()
	return nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b, nil
}

// decodeMetadata returns nil for an empty object so records round-trip the
// same way across backends
func decodeMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
