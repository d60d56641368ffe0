package repositories_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/BradenHooton/keyward/internal/config"
	"github.com/BradenHooton/keyward/internal/database"
	"github.com/BradenHooton/keyward/internal/models"
	"github.com/BradenHooton/keyward/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRepo(t *testing.T) repositories.APIKeyRepository {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "keys.db"),
		BusyTimeout: 5 * time.Second,
	}
	db, err := database.NewSQLite(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, database.MigrateSQLite(context.Background(), db, logger))

	repo := repositories.NewSQLiteAPIKeyRepository(db)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteAPIKeyRepository_Contract(t *testing.T) {
	runAPIKeyRepositoryContract(t, newSQLiteRepo)
}

func TestSQLiteAPIKeyRepository_PurgeExpired(t *testing.T) {
	runExpiredPurgerContract(t, newSQLiteRepo)
}

func TestSQLiteAPIKeyRepository_NanosecondPrecision(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	hash, info := newKeyInfo(t, "precise")
	info.CreatedAt = time.Date(2030, 1, 2, 3, 4, 5, 123456789, time.UTC)

	_, err := repo.Create(ctx, hash, info)
	require.NoError(t, err)

	got, err := repo.Get(ctx, hash)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(info.CreatedAt))
}

func TestSQLiteAPIKeyRepository_ClosedIsUnavailable(t *testing.T) {
	repo := newSQLiteRepo(t)
	require.NoError(t, repo.Close())

	_, err := repo.Get(context.Background(), "x")
	assert.True(t, errors.Is(err, models.ErrBackendUnavailable))
}
