package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/keyward/internal/database"
	"github.com/BradenHooton/keyward/internal/models"
	"github.com/jmoiron/sqlx"
)

// SQLiteAPIKeyRepository implements APIKeyRepository on SQLite via sqlx.
// Timestamps are stored as unix nanoseconds, scopes and metadata as JSON.
type SQLiteAPIKeyRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteAPIKeyRepository wraps an open, migrated SQLite database
func NewSQLiteAPIKeyRepository(db *sqlx.DB) *SQLiteAPIKeyRepository {
	return &SQLiteAPIKeyRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// apiKeyRow maps 1:1 to the api_keys table columns
type apiKeyRow struct {
	KeyID      string        `db:"key_id"`
	KeyHash    string        `db:"key_hash"`
	Name       string        `db:"name"`
	Scopes     string        `db:"scopes"`
	IsActive   bool          `db:"is_active"`
	CreatedAt  int64         `db:"created_at"`
	ExpiresAt  sql.NullInt64 `db:"expires_at"`
	LastUsedAt sql.NullInt64 `db:"last_used_at"`
	Metadata   string        `db:"metadata"`
}

func apiKeyRowFromModel(info *models.APIKeyInfo) (apiKeyRow, error) {
	scopes, err := json.Marshal(info.Scopes)
	if err != nil {
		return apiKeyRow{}, fmt.Errorf("encode scopes: %w", err)
	}
	metadata, err := encodeMetadata(info.Metadata)
	if err != nil {
		return apiKeyRow{}, err
	}

	return apiKeyRow{
		KeyID:      info.KeyID,
		KeyHash:    info.KeyHash,
		Name:       info.Name,
		Scopes:     string(scopes),
		IsActive:   info.IsActive,
		CreatedAt:  info.CreatedAt.UTC().UnixNano(),
		ExpiresAt:  nullUnixNano(info.ExpiresAt),
		LastUsedAt: nullUnixNano(info.LastUsedAt),
		Metadata:   string(metadata),
	}, nil
}

func (r apiKeyRow) toModel() (*models.APIKeyInfo, error) {
	info := &models.APIKeyInfo{
		KeyID:      r.KeyID,
		KeyHash:    r.KeyHash,
		Name:       r.Name,
		IsActive:   r.IsActive,
		CreatedAt:  time.Unix(0, r.CreatedAt).UTC(),
		ExpiresAt:  timeFromNull(r.ExpiresAt),
		LastUsedAt: timeFromNull(r.LastUsedAt),
	}

	if err := json.Unmarshal([]byte(r.Scopes), &info.Scopes); err != nil {
		return nil, fmt.Errorf("decode scopes: %w", err)
	}
	if info.Scopes == nil {
		info.Scopes = []string{}
	}

	metadata, err := decodeMetadata([]byte(r.Metadata))
	if err != nil {
		return nil, err
	}
	info.Metadata = metadata

	return info, nil
}

func nullUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func (r *SQLiteAPIKeyRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.APIKeyInfo, error) {
	var row apiKeyRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, database.MapSQLiteError(err)
	}
	return row.toModel()
}

// Create inserts a new key; the UNIQUE constraints reject collisions
func (r *SQLiteAPIKeyRepository) Create(ctx context.Context, keyHash string, info *models.APIKeyInfo) (*models.APIKeyInfo, error) {
	rec := prepareForCreate(keyHash, info, r.now())

	row, err := apiKeyRowFromModel(rec)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES (:key_id, :key_hash, :name, :scopes, :is_active, :created_at, :expires_at, :last_used_at, :metadata)
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		err = database.MapSQLiteError(err)
		var dup *models.DuplicateKeyError
		if errors.As(err, &dup) && dup.Field == models.FieldKeyID {
			dup.Value = rec.KeyID
		}
		return nil, err
	}

	return rec.Clone(), nil
}

// Get retrieves a key by hash
func (r *SQLiteAPIKeyRepository) Get(ctx context.Context, keyHash string) (*models.APIKeyInfo, error) {
	return r.getOne(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, keyHash)
}

// GetByID retrieves a key by key_id
func (r *SQLiteAPIKeyRepository) GetByID(ctx context.Context, keyID string) (*models.APIKeyInfo, error) {
	return r.getOne(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_id = ?`, keyID)
}

// Update applies the present fields and returns the stored row
func (r *SQLiteAPIKeyRepository) Update(ctx context.Context, keyHash string, update models.APIKeyUpdate) (*models.APIKeyInfo, error) {
	if update.IsEmpty() {
		return r.Get(ctx, keyHash)
	}

	sets := make([]string, 0, 6)
	args := make([]interface{}, 0, 7)
	add := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if update.Name.Set {
		add("name", update.Name.Value)
	}
	if update.Scopes.Set {
		scopes := update.Scopes.Value
		if scopes == nil {
			scopes = []string{}
		}
		b, err := json.Marshal(scopes)
		if err != nil {
			return nil, fmt.Errorf("encode scopes: %w", err)
		}
		add("scopes", string(b))
	}
	if update.IsActive.Set {
		add("is_active", update.IsActive.Value)
	}
	if update.ExpiresAt.Set {
		add("expires_at", nullUnixNano(update.ExpiresAt.Value))
	}
	if update.LastUsedAt.Set {
		add("last_used_at", nullUnixNano(update.LastUsedAt.Value))
	}
	if update.Metadata.Set {
		b, err := encodeMetadata(update.Metadata.Value)
		if err != nil {
			return nil, err
		}
		add("metadata", string(b))
	}

	args = append(args, keyHash)
	query := fmt.Sprintf(`UPDATE api_keys SET %s WHERE key_hash = ? RETURNING %s`,
		strings.Join(sets, ", "), apiKeyColumns)

	return r.getOne(ctx, query, args...)
}

// Revoke deactivates a key
func (r *SQLiteAPIKeyRepository) Revoke(ctx context.Context, keyHash string) (bool, error) {
	return r.execAffected(ctx, `UPDATE api_keys SET is_active = 0 WHERE key_hash = ?`, keyHash)
}

// UpdateLastUsed stamps last_used_at
func (r *SQLiteAPIKeyRepository) UpdateLastUsed(ctx context.Context, keyHash string) error {
	_, err := r.execAffected(ctx, `UPDATE api_keys SET last_used_at = ? WHERE key_hash = ?`,
		r.now().UTC().UnixNano(), keyHash)
	return err
}

// Delete removes a key
func (r *SQLiteAPIKeyRepository) Delete(ctx context.Context, keyHash string) (bool, error) {
	return r.execAffected(ctx, `DELETE FROM api_keys WHERE key_hash = ?`, keyHash)
}

func (r *SQLiteAPIKeyRepository) execAffected(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, database.MapSQLiteError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, database.MapSQLiteError(err)
	}
	return n > 0, nil
}

// List returns keys newest first. LIMIT -1 is no limit in SQLite.
func (r *SQLiteAPIKeyRepository) List(ctx context.Context, opts ListOptions) ([]*models.APIKeyInfo, error) {
	opts = opts.normalized()
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	var rows []apiKeyRow
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		ORDER BY created_at DESC, key_id DESC
		LIMIT ? OFFSET ?
	`
	if err := r.db.SelectContext(ctx, &rows, query, limit, opts.Offset); err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", database.MapSQLiteError(err))
	}

	keys := make([]*models.APIKeyInfo, 0, len(rows))
	for _, row := range rows {
		info, err := row.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, info)
	}
	return keys, nil
}

// PurgeExpired deletes keys whose expiry is before the cutoff
func (r *SQLiteAPIKeyRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at < ?`,
		before.UTC().UnixNano())
	if err != nil {
		return 0, database.MapSQLiteError(err)
	}
	return result.RowsAffected()
}

// Ping checks the database handle
func (r *SQLiteAPIKeyRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return errors.Join(models.ErrBackendUnavailable, err)
	}
	return nil
}

// Close closes the database. sql.DB.Close is safe to call repeatedly.
func (r *SQLiteAPIKeyRepository) Close() error {
	return r.db.Close()
}
