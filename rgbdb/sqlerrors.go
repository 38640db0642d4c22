package rgbdb

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrRetriesExceeded is returned when a transaction is retried more
	// than the max allowed valued without a success.
	ErrRetriesExceeded = errors.New("db tx retries exceeded")
)

// MapSQLError interprets a database specific error as one of the backend
// agnostic error types. Other errors are returned unchanged.
func MapSQLError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return parseSqliteError(sqliteErr)
	}

	var pqErr *pgconn.PgError
	if errors.As(err, &pqErr) {
		return parsePostgresError(pqErr)
	}

	return err
}

func parseSqliteError(sqliteErr *sqlite.Error) error {
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:

		return &ErrSqlUniqueConstraintViolation{
			DbError: sqliteErr,
		}

	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return &ErrSqlForeignKeyViolation{
			DbError: sqliteErr,
		}

	case sqlite3.SQLITE_BUSY:
		return &ErrSerializationError{
			DbError: sqliteErr,
		}

	default:
		return fmt.Errorf("unknown sqlite error: %w", sqliteErr)
	}
}

func parsePostgresError(pqErr *pgconn.PgError) error {
	switch pqErr.Code {
	case pgerrcode.UniqueViolation:
		return &ErrSqlUniqueConstraintViolation{
			DbError: pqErr,
		}

	case pgerrcode.ForeignKeyViolation:
		return &ErrSqlForeignKeyViolation{
			DbError: pqErr,
		}

	// Unable to serialize the transaction, so we'll need to try again.
	case pgerrcode.SerializationFailure:
		return &ErrSerializationError{
			DbError: pqErr,
		}

	default:
		return fmt.Errorf("unknown postgres error: %w", pqErr)
	}
}

// ErrSqlUniqueConstraintViolation is a unique constraint violation of any
// backend.
type ErrSqlUniqueConstraintViolation struct {
	DbError error
}

// Error returns the error message.
func (e ErrSqlUniqueConstraintViolation) Error() string {
	return fmt.Sprintf("sql unique constraint violation: %v", e.DbError)
}

// Unwrap returns the wrapped error.
func (e ErrSqlUniqueConstraintViolation) Unwrap() error {
	return e.DbError
}

// ErrSqlForeignKeyViolation is a foreign key violation of any backend.
type ErrSqlForeignKeyViolation struct {
	DbError error
}

// Error returns the error message.
func (e ErrSqlForeignKeyViolation) Error() string {
	return fmt.Sprintf("sql foreign key violation: %v", e.DbError)
}

// Unwrap returns the wrapped error.
func (e ErrSqlForeignKeyViolation) Unwrap() error {
	return e.DbError
}

// ErrSerializationError is returned when a transaction couldn't be
// serialized with concurrent transactions and may be retried.
type ErrSerializationError struct {
	DbError error
}

// Unwrap returns the wrapped error.
func (e ErrSerializationError) Unwrap() error {
	return e.DbError
}

// Error returns the error message.
func (e ErrSerializationError) Error() string {
	return e.DbError.Error()
}
