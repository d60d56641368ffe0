package repositories_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/keyward/internal/auth"
	"github.com/BradenHooton/keyward/internal/models"
	"github.com/BradenHooton/keyward/internal/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repoFactory returns a fresh, empty repository. Cleanup is registered by
// the factory itself.
type repoFactory func(t *testing.T) repositories.APIKeyRepository

// newKeyInfo builds a record with a random hash. Timestamps are truncated to
// microseconds so every backend round-trips them exactly.
func newKeyInfo(t *testing.T, name string) (string, *models.APIKeyInfo) {
	t.Helper()
	raw, hash, err := auth.GenerateAPIKey("test_")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	return hash, &models.APIKeyInfo{
		KeyID:     uuid.New().String(),
		Name:      name,
		Scopes:    []string{"read", "write"},
		IsActive:  true,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		Metadata:  map[string]string{"team": "platform"},
	}
}

func runAPIKeyRepositoryContract(t *testing.T, newRepo repoFactory) {
	ctx := context.Background()

	t.Run("create and get round trip", func(t *testing.T) {
		repo := newRepo(t)
		hash, info := newKeyInfo(t, "svc")
		exp := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Microsecond)
		info.ExpiresAt = &exp

		created, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)
		assert.Equal(t, hash, created.KeyHash)

		got, err := repo.Get(ctx, hash)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, info.KeyID, got.KeyID)
		assert.Equal(t, hash, got.KeyHash)
		assert.Equal(t, "svc", got.Name)
		assert.Equal(t, []string{"read", "write"}, got.Scopes)
		assert.True(t, got.IsActive)
		assert.True(t, info.CreatedAt.Equal(got.CreatedAt))
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, exp.Equal(*got.ExpiresAt))
		assert.Nil(t, got.LastUsedAt)
		assert.Equal(t, map[string]string{"team": "platform"}, got.Metadata)
		assert.Equal(t, time.UTC, got.CreatedAt.Location())

		byID, err := repo.GetByID(ctx, info.KeyID)
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, hash, byID.KeyHash)
	})

	t.Run("created_at defaults to now", func(t *testing.T) {
		repo := newRepo(t)
		hash, info := newKeyInfo(t, "defaulted")
		info.CreatedAt = time.Time{}

		before := time.Now().Add(-time.Second)
		created, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)
		assert.False(t, created.CreatedAt.IsZero())
		assert.True(t, created.CreatedAt.After(before))
	})

	t.Run("timestamps normalized to UTC", func(t *testing.T) {
		repo := newRepo(t)
		hash, info := newKeyInfo(t, "zoned")
		info.CreatedAt = info.CreatedAt.In(time.FixedZone("CET", 3600))

		_, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)

		got, err := repo.Get(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, time.UTC, got.CreatedAt.Location())
		assert.True(t, info.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("missing keys return nil", func(t *testing.T) {
		repo := newRepo(t)

		got, err := repo.Get(ctx, auth.HashAPIKey("nope"))
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = repo.GetByID(ctx, uuid.New().String())
		require.NoError(t, err)
		assert.Nil(t, got)

		updated, err := repo.Update(ctx, auth.HashAPIKey("nope"), models.APIKeyUpdate{Name: models.Some("x")})
		require.NoError(t, err)
		assert.Nil(t, updated)

		ok, err := repo.Revoke(ctx, auth.HashAPIKey("nope"))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.Delete(ctx, auth.HashAPIKey("nope"))
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, repo.UpdateLastUsed(ctx, auth.HashAPIKey("nope")))
	})

	t.Run("duplicate hash rejected", func(t *testing.T) {
		repo := newRepo(t)
		hash, info := newKeyInfo(t, "first")
		_, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)

		_, second := newKeyInfo(t, "second")
		_, err = repo.Create(ctx, hash, second)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrDuplicateKey))

		var dup *models.DuplicateKeyError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, models.FieldKeyHash, dup.Field)

		got, err := repo.Get(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, "first", got.Name)

		missing, err := repo.GetByID(ctx, second.KeyID)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("duplicate key id rejected", func(t *testing.T) {
		repo := newRepo(t)
		hash, info := newKeyInfo(t, "first")
		_, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)

		otherHash, other := newKeyInfo(t, "second")
		other.KeyID = info.KeyID
		_, err = repo.Create(ctx, otherHash, other)

		var dup *models.DuplicateKeyError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, models.FieldKeyID, dup.Field)

		got, err := repo.Get(ctx, otherHash)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("concurrent creates with same hash", func(t *testing.T) {
		repo := newRepo(t)
		hash, _ := newKeyInfo(t, "race")

		const workers = 20
		var wg sync.WaitGroup
		results := make(chan error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, info := newKeyInfo(t, fmt.Sprintf("race-%d", i))
				_, err := repo.Create(ctx, hash, info)
				results <- err
			}(i)
		}
		wg.Wait()
		close(results)

		var successes, duplicates int
		for err := range results {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrDuplicateKey):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, duplicates)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		repo := newRepo(t)
		hash, info := newKeyInfo(t, "copy")
		created, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)

		created.Name = "mutated"
		created.Scopes[0] = "admin"
		info.Scopes[1] = "admin"

		got, err := repo.Get(ctx, hash)
		require.NoError(t, err)
		got.Metadata["team"] = "mutated"

		again, err := repo.Get(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, "copy", again.Name)
		assert.Equal(t, []string{"read", "write"}, again.Scopes)
		assert.Equal(t, "platform", again.Metadata["team"])
	})

	t.Run("partial update", func(t *testing.T) {
		repo := newRepo(t)
		hash, info := newKeyInfo(t, "before")
		exp := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
		info.ExpiresAt = &exp
		_, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)

		updated, err := repo.Update(ctx, hash, models.APIKeyUpdate{
			Name:   models.Some("after"),
			Scopes: models.Some([]string{"admin"}),
		})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, "after", updated.Name)
		assert.Equal(t, []string{"admin"}, updated.Scopes)
		require.NotNil(t, updated.ExpiresAt)
		assert.True(t, exp.Equal(*updated.ExpiresAt))
		assert.Equal(t, info.KeyID, updated.KeyID)

		cleared, err := repo.Update(ctx, hash, models.APIKeyUpdate{
			ExpiresAt: models.Some[*time.Time](nil),
			Metadata:  models.Some(map[string]string{"owner": "ops"}),
		})
		require.NoError(t, err)
		assert.Nil(t, cleared.ExpiresAt)
		assert.Equal(t, map[string]string{"owner": "ops"}, cleared.Metadata)
		assert.Equal(t, "after", cleared.Name)

		got, err := repo.Get(ctx, hash)
		require.NoError(t, err)
		assert.Nil(t, got.ExpiresAt)
		assert.Equal(t, "after", got.Name)

		unchanged, err := repo.Update(ctx, hash, models.APIKeyUpdate{})
		require.NoError(t, err)
		assert.Equal(t, "after", unchanged.Name)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		hash, info := newKeyInfo(t, "revoke")
		_, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)

		ok, err := repo.Revoke(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Revoke(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.Get(ctx, hash)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.Equal(t, models.KeyStateRevoked, got.State())
	})

	t.Run("update last used", func(t *testing.T) {
		repo := newRepo(t)
		hash, info := newKeyInfo(t, "used")
		_, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)

		before := time.Now().Add(-time.Second)
		require.NoError(t, repo.UpdateLastUsed(ctx, hash))

		got, err := repo.Get(ctx, hash)
		require.NoError(t, err)
		require.NotNil(t, got.LastUsedAt)
		assert.True(t, got.LastUsedAt.After(before))
		assert.Equal(t, time.UTC, got.LastUsedAt.Location())
	})

	t.Run("delete removes both indexes", func(t *testing.T) {
		repo := newRepo(t)
		hash, info := newKeyInfo(t, "delete")
		_, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)

		ok, err := repo.Delete(ctx, hash)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.Get(ctx, hash)
		require.NoError(t, err)
		assert.Nil(t, got)

		byID, err := repo.GetByID(ctx, info.KeyID)
		require.NoError(t, err)
		assert.Nil(t, byID)

		ok, err = repo.Delete(ctx, hash)
		require.NoError(t, err)
		assert.False(t, ok)

		// key_id is free again
		_, err = repo.Create(ctx, hash, info)
		require.NoError(t, err)
	})

	t.Run("list ordering and pagination", func(t *testing.T) {
		repo := newRepo(t)
		base := time.Now().UTC().Truncate(time.Microsecond)

		ids := make([]string, 0, 5)
		for i := 0; i < 5; i++ {
			hash, info := newKeyInfo(t, fmt.Sprintf("k%d", i))
			info.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			_, err := repo.Create(ctx, hash, info)
			require.NoError(t, err)
			ids = append(ids, info.KeyID)
		}

		all, err := repo.List(ctx, repositories.ListOptions{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, ids[4], all[0].KeyID)
		assert.Equal(t, ids[0], all[4].KeyID)

		page, err := repo.List(ctx, repositories.ListOptions{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[3], page[0].KeyID)
		assert.Equal(t, ids[2], page[1].KeyID)

		beyond, err := repo.List(ctx, repositories.ListOptions{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, beyond)

		negative, err := repo.List(ctx, repositories.ListOptions{Limit: 1, Offset: -3})
		require.NoError(t, err)
		require.Len(t, negative, 1)
		assert.Equal(t, ids[4], negative[0].KeyID)
	})

	t.Run("list tie broken by key id", func(t *testing.T) {
		repo := newRepo(t)
		created := time.Now().UTC().Truncate(time.Microsecond)

		for _, id := range []string{"aaaaaaaa-0000-0000-0000-000000000000", "bbbbbbbb-0000-0000-0000-000000000000"} {
			hash, info := newKeyInfo(t, id)
			info.KeyID = id
			info.CreatedAt = created
			_, err := repo.Create(ctx, hash, info)
			require.NoError(t, err)
		}

		keys, err := repo.List(ctx, repositories.ListOptions{})
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, "bbbbbbbb-0000-0000-0000-000000000000", keys[0].KeyID)
	})

	t.Run("validate", func(t *testing.T) {
		repo := newRepo(t)

		activeHash, active := newKeyInfo(t, "active")
		_, err := repo.Create(ctx, activeHash, active)
		require.NoError(t, err)

		expiredHash, expired := newKeyInfo(t, "expired")
		past := time.Now().Add(-time.Hour).UTC()
		expired.ExpiresAt = &past
		_, err = repo.Create(ctx, expiredHash, expired)
		require.NoError(t, err)

		revokedHash, revoked := newKeyInfo(t, "revoked")
		revoked.IsActive = false
		_, err = repo.Create(ctx, revokedHash, revoked)
		require.NoError(t, err)

		got, err := repositories.Validate(ctx, repo, activeHash)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, active.KeyID, got.KeyID)

		for _, h := range []string{expiredHash, revokedHash, auth.HashAPIKey("missing")} {
			got, err := repositories.Validate(ctx, repo, h)
			require.NoError(t, err)
			assert.Nil(t, got)
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		assert.NoError(t, repo.Close())
		assert.NotPanics(t, func() { _ = repo.Close() })

		_, err := repo.Get(ctx, auth.HashAPIKey("x"))
		assert.Error(t, err)
	})
}

// runExpiredPurgerContract checks PurgeExpired on backends that implement it
func runExpiredPurgerContract(t *testing.T, newRepo repoFactory) {
	ctx := context.Background()
	repo := newRepo(t)
	purger, ok := repo.(repositories.ExpiredPurger)
	require.True(t, ok, "repository does not implement ExpiredPurger")

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Minute)

	oldHash, oldKey := newKeyInfo(t, "old")
	oldKey.ExpiresAt = &old
	recentHash, recentKey := newKeyInfo(t, "recent")
	recentKey.ExpiresAt = &recent
	foreverHash, forever := newKeyInfo(t, "forever")

	for hash, info := range map[string]*models.APIKeyInfo{oldHash: oldKey, recentHash: recentKey, foreverHash: forever} {
		_, err := repo.Create(ctx, hash, info)
		require.NoError(t, err)
	}

	n, err := purger.PurgeExpired(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.Get(ctx, oldHash)
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, h := range []string{recentHash, foreverHash} {
		got, err := repo.Get(ctx, h)
		require.NoError(t, err)
		assert.NotNil(t, got)
	}
}
