package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/keyward/internal/config"
	"github.com/BradenHooton/keyward/internal/models"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// NewSQLite opens the SQLite database described by cfg. A single open
// connection serializes writers, which SQLite requires.
func NewSQLite(cfg *config.SQLiteConfig, logger *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if logger != nil {
		logger.Info("sqlite database opened", slog.String("path", cfg.Path))
	}
	return db, nil
}

// MigrateSQLite applies the embedded sqlite migrations
func MigrateSQLite(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	return runMigrations(ctx, db.DB, dialectSQLite, logger)
}

// MapSQLiteError translates sqlite driver errors into model errors
func MapSQLiteError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return &models.DuplicateKeyError{Field: duplicateField(sqliteErr.Error())}
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return errors.Join(models.ErrBackendUnavailable, err)
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return &models.DuplicateKeyError{Field: duplicateField(msg)}
	}
	if strings.Contains(msg, "sql: database is closed") {
		return errors.Join(models.ErrBackendUnavailable, err)
	}

	return err
}
