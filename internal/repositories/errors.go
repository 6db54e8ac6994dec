package repositories

import (
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Common repository errors
var (
	ErrNotFound            = errors.New("record not found")
	ErrUnexpectedRowCount  = errors.New("unexpected number of affected rows")
	ErrDuplicateKey        = errors.New("duplicate key violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")
)

// Postgres SQLSTATE codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translateError maps driver errors onto the repository sentinels, keeping
// the driver message as context.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrap(ErrDuplicateKey, err.Error())
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return errors.Wrap(ErrForeignKeyViolation, err.Error())
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errors.Wrap(ErrDuplicateKey, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return errors.Wrap(ErrForeignKeyViolation, pgErr.ConstraintName)
		}
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return errors.Wrap(ErrDuplicateKey, sqliteErr.Error())
		// Deleting a referenced parent row reports the trigger code
		case sqlite3.ErrConstraintForeignKey, sqlite3.ErrConstraintTrigger:
			return errors.Wrap(ErrForeignKeyViolation, sqliteErr.Error())
		}
	}

	return err
}

// expectOneRow checks the outcome of a single-row write
func expectOneRow(result *gorm.DB) error {
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected != 1 {
		return errors.Wrapf(ErrUnexpectedRowCount, "expected 1 row, got %d", result.RowsAffected)
	}
	return nil
}
