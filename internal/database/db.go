package database

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/BradenHooton/keyward/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
)

// MapPostgresError translates driver errors into model errors. Unique
// violations become a DuplicateKeyError naming the offending column.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &models.DuplicateKeyError{Field: duplicateField(pgErr.ConstraintName + " " + pgErr.Detail)}
		case "23502": // not_null_violation
			return models.ErrBadRequest
		case "08000", "08003", "08006", "57P01": // connection failures, admin shutdown
			return errors.Join(models.ErrBackendUnavailable, err)
		}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || errors.Is(err, pgx.ErrTxClosed) {
		return errors.Join(models.ErrBackendUnavailable, err)
	}

	// closed pool, or the connection dropped mid-query
	var netErr net.Error
	if errors.Is(err, puddle.ErrClosedPool) || errors.As(err, &netErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return errors.Join(models.ErrBackendUnavailable, err)
	}

	return err
}

// duplicateField picks the unique column out of a constraint name or message.
// key_hash is checked first because it is the lookup key.
func duplicateField(s string) string {
	switch {
	case strings.Contains(s, models.FieldKeyHash):
		return models.FieldKeyHash
	case strings.Contains(s, models.FieldKeyID), strings.Contains(s, "pkey"):
		return models.FieldKeyID
	default:
		return ""
	}
}
