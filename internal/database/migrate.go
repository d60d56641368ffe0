package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/BradenHooton/keyward/migrations"
	"github.com/pressly/goose/v3"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// runMigrations applies every pending migration under migrations/<dir>
func runMigrations(ctx context.Context, db *sql.DB, dir string, logger *slog.Logger) error {
	fsys, err := fs.Sub(migrations.FS, dir)
	if err != nil {
		return fmt.Errorf("failed to open %s migrations: %w", dir, err)
	}

	dialect := goose.DialectPostgres
	if dir == dialectSQLite {
		dialect = goose.DialectSQLite3
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if logger != nil {
		logger.Info("migrations applied",
			slog.String("dialect", dir),
			slog.Int("applied", len(results)),
		)
	}
	return nil
}
