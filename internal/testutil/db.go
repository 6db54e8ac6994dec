// Package testutil opens throwaway SQLite databases for store tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"example.com/backstage/services/library/internal/database"
	"example.com/backstage/services/library/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewTestDB opens a private in-memory SQLite database with foreign keys on
// and the library tables created. A single connection is used, so
// transactions run one at a time.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	dialector, err := database.Dialector("sqlite", dsn)
	require.NoError(t, err)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: database.NewLogger(false)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.SetupModels(db))
	return db
}

// SeedMember inserts a member and returns it
func SeedMember(t *testing.T, db *gorm.DB, id string) models.Member {
	t.Helper()

	member := models.Member{ID: id, Name: "Ada Lovelace", Address: "12 Marylebone", Contact: "071-1234567"}
	require.NoError(t, db.Create(&member).Error)
	return member
}

// SeedBook inserts a book with the given number of copies
func SeedBook(t *testing.T, db *gorm.DB, isbn string, copies int) models.Book {
	t.Helper()

	book := models.Book{ISBN: isbn, Title: "Title " + isbn, Copies: copies}
	require.NoError(t, db.Create(&book).Error)
	return book
}

// SeedIssueNote inserts an issue note with one item per isbn
func SeedIssueNote(t *testing.T, db *gorm.DB, memberID string, date time.Time, isbns ...string) models.IssueNote {
	t.Helper()

	note := models.IssueNote{Date: date, MemberID: memberID}
	for _, isbn := range isbns {
		note.Items = append(note.Items, models.IssueItem{ISBN: isbn})
	}
	require.NoError(t, db.Create(&note).Error)
	return note
}

// SeedReturn marks an issue item as returned
func SeedReturn(t *testing.T, db *gorm.DB, issueNoteID int64, isbn string, date time.Time) {
	t.Helper()

	require.NoError(t, db.Create(&models.Return{IssueNoteID: issueNoteID, ISBN: isbn, Date: date}).Error)
}
