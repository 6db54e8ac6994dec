package repositories

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"record not found", gorm.ErrRecordNotFound, ErrNotFound},
		{"gorm duplicate", gorm.ErrDuplicatedKey, ErrDuplicateKey},
		{"postgres unique", &pgconn.PgError{Code: pgUniqueViolation}, ErrDuplicateKey},
		{"postgres foreign key", &pgconn.PgError{Code: pgForeignKeyViolation}, ErrForeignKeyViolation},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, ErrDuplicateKey},
		{"sqlite missing parent", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, ErrForeignKeyViolation},
		{"sqlite referenced parent", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintTrigger}, ErrForeignKeyViolation},
		{"wrapped sqlite", errors.Wrap(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintTrigger}, "delete"), ErrForeignKeyViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(translateError(tt.err), tt.want))
		})
	}

	t.Run("unrelated errors pass through", func(t *testing.T) {
		err := errors.New("connection reset")
		assert.Equal(t, err, translateError(err))
		assert.Nil(t, translateError(nil))
	})
}
