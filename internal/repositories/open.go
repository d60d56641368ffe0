package repositories

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/keyward/internal/config"
	"github.com/BradenHooton/keyward/internal/database"
)

// Open connects the backend named by cfg.Storage.Backend and, for the SQL
// backends, applies migrations when AutoMigrate is set.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (APIKeyRepository, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory key storage; keys are lost on restart")
		return NewMemoryAPIKeyRepository(), nil

	case config.BackendPostgres:
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}
		return NewAPIKeyRepository(db), nil

	case config.BackendSQLite:
		db, err := database.NewSQLite(&cfg.SQLite, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.AutoMigrate {
			if err := database.MigrateSQLite(ctx, db, logger); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return NewSQLiteAPIKeyRepository(db), nil

	case config.BackendRedis:
		client, err := database.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return NewRedisAPIKeyRepository(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Migrate applies migrations for the configured SQL backend without
// returning a repository. Other backends need no schema.
func Migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Migrate(ctx)

	case config.BackendSQLite:
		db, err := database.NewSQLite(&cfg.SQLite, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		return database.MigrateSQLite(ctx, db, logger)

	default:
		logger.Info("storage backend has no schema to migrate", slog.String("backend", cfg.Storage.Backend))
		return nil
	}
}
