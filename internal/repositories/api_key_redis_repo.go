package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/keyward/internal/models"
	"github.com/go-redis/redis/v8"
)

const (
	// DefaultRedisKeyPrefix namespaces every key written by the Redis backend
	DefaultRedisKeyPrefix = "api_key:"

	redisMaxTxRetries = 5
)

// errTxRetriesExhausted is returned when optimistic locking keeps failing
var errTxRetriesExhausted = errors.New("redis transaction failed after retries due to concurrent writes")

// RedisAPIKeyRepository stores keys as JSON strings:
//
//	{prefix}hash:{key_hash} -> record
//	{prefix}id:{key_id}     -> key_hash
//	{prefix}all_keys        -> set of key hashes
//
// A non-zero ttl is applied to both keys on every write.
type RedisAPIKeyRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	closed atomic.Bool
	now    func() time.Time
}

// NewRedisAPIKeyRepository wraps a connected client. An empty prefix uses
// DefaultRedisKeyPrefix.
func NewRedisAPIKeyRepository(client *redis.Client, prefix string, ttl time.Duration) *RedisAPIKeyRepository {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisAPIKeyRepository{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisAPIKeyRepository) hashKey(keyHash string) string {
	return r.prefix + "hash:" + keyHash
}

func (r *RedisAPIKeyRepository) idKey(keyID string) string {
	return r.prefix + "id:" + keyID
}

func (r *RedisAPIKeyRepository) allKeysKey() string {
	return r.prefix + "all_keys"
}

// redisRecord is the stored JSON form of a key
type redisRecord struct {
	KeyID      string            `json:"key_id"`
	KeyHash    string            `json:"key_hash"`
	Name       string            `json:"name"`
	Scopes     []string          `json:"scopes"`
	IsActive   bool              `json:"is_active"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  *time.Time        `json:"expires_at"`
	LastUsedAt *time.Time        `json:"last_used_at"`
	Metadata   map[string]string `json:"metadata"`
}

func encodeRedisRecord(info *models.APIKeyInfo) (string, error) {
	b, err := json.Marshal(redisRecord{
		KeyID:      info.KeyID,
		KeyHash:    info.KeyHash,
		Name:       info.Name,
		Scopes:     info.Scopes,
		IsActive:   info.IsActive,
		CreatedAt:  info.CreatedAt,
		ExpiresAt:  info.ExpiresAt,
		LastUsedAt: info.LastUsedAt,
		Metadata:   info.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("encode api key record: %w", err)
	}
	return string(b), nil
}

func decodeRedisRecord(data string) (*models.APIKeyInfo, error) {
	var rec redisRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode api key record: %w", err)
	}
	info := &models.APIKeyInfo{
		KeyID:      rec.KeyID,
		KeyHash:    rec.KeyHash,
		Name:       rec.Name,
		Scopes:     rec.Scopes,
		IsActive:   rec.IsActive,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		LastUsedAt: rec.LastUsedAt,
		Metadata:   rec.Metadata,
	}
	if info.Scopes == nil {
		info.Scopes = []string{}
	}
	if len(info.Metadata) == 0 {
		info.Metadata = nil
	}
	info.NormalizeUTC()
	return info, nil
}

func (r *RedisAPIKeyRepository) checkOpen() error {
	if r.closed.Load() {
		return fmt.Errorf("redis repository closed: %w", models.ErrBackendUnavailable)
	}
	return nil
}

// mapRedisError marks connection failures as backend unavailability
func mapRedisError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(models.ErrBackendUnavailable, err)
	}
	return err
}

// withRetry runs fn under WATCH on keys, retrying optimistic lock failures
func (r *RedisAPIKeyRepository) withRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < redisMaxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errTxRetriesExhausted
}

// Create writes the record, the id index and the tracking set entry in one
// MULTI/EXEC guarded by WATCH on both keys.
func (r *RedisAPIKeyRepository) Create(ctx context.Context, keyHash string, info *models.APIKeyInfo) (*models.APIKeyInfo, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	rec := prepareForCreate(keyHash, info, r.now())
	data, err := encodeRedisRecord(rec)
	if err != nil {
		return nil, err
	}

	hashKey := r.hashKey(keyHash)
	idKey := r.idKey(rec.KeyID)

	err = r.withRetry(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, hashKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return &models.DuplicateKeyError{Field: models.FieldKeyHash}
		}

		n, err = tx.Exists(ctx, idKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return &models.DuplicateKeyError{Field: models.FieldKeyID, Value: rec.KeyID}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, hashKey, data, r.ttl)
			pipe.Set(ctx, idKey, keyHash, r.ttl)
			pipe.SAdd(ctx, r.allKeysKey(), keyHash)
			return nil
		})
		return err
	}, hashKey, idKey)
	if err != nil {
		return nil, mapRedisError(err)
	}

	return rec.Clone(), nil
}

// Get retrieves a key by hash
func (r *RedisAPIKeyRepository) Get(ctx context.Context, keyHash string) (*models.APIKeyInfo, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return r.get(ctx, r.client, keyHash)
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisAPIKeyRepository) get(ctx context.Context, c stringGetter, keyHash string) (*models.APIKeyInfo, error) {
	data, err := c.Get(ctx, r.hashKey(keyHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, mapRedisError(err)
	}
	return decodeRedisRecord(data)
}

// GetByID resolves the id index, then loads the record
func (r *RedisAPIKeyRepository) GetByID(ctx context.Context, keyID string) (*models.APIKeyInfo, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	keyHash, err := r.client.Get(ctx, r.idKey(keyID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, mapRedisError(err)
	}
	return r.get(ctx, r.client, keyHash)
}

// Update merges the present fields into the stored record. The record key is
// watched so a concurrent delete is never undone.
func (r *RedisAPIKeyRepository) Update(ctx context.Context, keyHash string, update models.APIKeyUpdate) (*models.APIKeyInfo, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	hashKey := r.hashKey(keyHash)
	var updated *models.APIKeyInfo

	err := r.withRetry(ctx, func(tx *redis.Tx) error {
		current, err := r.get(ctx, tx, keyHash)
		if err != nil {
			return err
		}
		if current == nil {
			updated = nil
			return nil
		}

		next := update.Apply(current)
		data, err := encodeRedisRecord(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, hashKey, data, r.ttl)
			if r.ttl > 0 {
				pipe.Expire(ctx, r.idKey(next.KeyID), r.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}, hashKey)
	if err != nil {
		return nil, mapRedisError(err)
	}

	return updated.Clone(), nil
}

// Revoke deactivates a key
func (r *RedisAPIKeyRepository) Revoke(ctx context.Context, keyHash string) (bool, error) {
	info, err := r.Update(ctx, keyHash, models.APIKeyUpdate{IsActive: models.Some(false)})
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// UpdateLastUsed stamps last_used_at
func (r *RedisAPIKeyRepository) UpdateLastUsed(ctx context.Context, keyHash string) error {
	now := r.now().UTC()
	_, err := r.Update(ctx, keyHash, models.APIKeyUpdate{LastUsedAt: models.Some(&now)})
	return err
}

// Delete removes the record, its id index and its tracking set entry
func (r *RedisAPIKeyRepository) Delete(ctx context.Context, keyHash string) (bool, error) {
	if err := r.checkOpen(); err != nil {
		return false, err
	}

	hashKey := r.hashKey(keyHash)
	var deleted bool

	err := r.withRetry(ctx, func(tx *redis.Tx) error {
		current, err := r.get(ctx, tx, keyHash)
		if err != nil {
			return err
		}
		if current == nil {
			deleted = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, hashKey, r.idKey(current.KeyID))
			pipe.SRem(ctx, r.allKeysKey(), keyHash)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	}, hashKey)
	if err != nil {
		return false, mapRedisError(err)
	}

	return deleted, nil
}

// List loads every tracked record with MGET, drops set members whose record
// has expired or vanished, then sorts and paginates in memory.
func (r *RedisAPIKeyRepository) List(ctx context.Context, opts ListOptions) ([]*models.APIKeyInfo, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	members, err := r.client.SMembers(ctx, r.allKeysKey()).Result()
	if err != nil {
		return nil, mapRedisError(err)
	}
	if len(members) == 0 {
		return []*models.APIKeyInfo{}, nil
	}

	redisKeys := make([]string, len(members))
	for i, m := range members {
		redisKeys[i] = r.hashKey(m)
	}

	values, err := r.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, mapRedisError(err)
	}

	keys := make([]*models.APIKeyInfo, 0, len(values))
	stale := make([]interface{}, 0)
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			stale = append(stale, members[i])
			continue
		}
		info, err := decodeRedisRecord(data)
		if err != nil {
			return nil, err
		}
		keys = append(keys, info)
	}

	if len(stale) > 0 {
		if err := r.client.SRem(ctx, r.allKeysKey(), stale...).Err(); err != nil {
			return nil, mapRedisError(err)
		}
	}

	sortKeys(keys)
	return paginate(keys, opts), nil
}

// Ping checks the connection
func (r *RedisAPIKeyRepository) Ping(ctx context.Context) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Join(models.ErrBackendUnavailable, err)
	}
	return nil
}

// Close closes the client once
func (r *RedisAPIKeyRepository) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}
