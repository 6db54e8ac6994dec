package repositories

import (
	"context"
	"time"

	"example.com/backstage/services/library/internal/models"
)

// IssueNoteRepository provides the queries needed to place an issue note.
// Inside WithTransaction the member and book lookups lock the rows they read
// until the transaction ends.
type IssueNoteRepository interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo IssueNoteRepository) error) error

	MemberExists(ctx context.Context, memberID string) (bool, error)
	// FindBooks returns the existing books among isbns keyed by isbn
	FindBooks(ctx context.Context, isbns []string) (map[string]models.Book, error)
	// FindOutstandingCount counts issue items of isbn with no return
	FindOutstandingCount(ctx context.Context, isbn string) (int64, error)
	FindMemberOutstandingISBNs(ctx context.Context, memberID string) ([]string, error)
	InsertIssueNote(ctx context.Context, note *models.IssueNote) error
}

// IssueNoteReader loads issue notes for the search projection
type IssueNoteReader interface {
	// FindIssueNotes loads notes with their items and returns
	FindIssueNotes(ctx context.Context, ids []int64) ([]models.IssueNote, error)
	FindIssueNoteIDsSince(ctx context.Context, since time.Time) ([]int64, error)
}

// ReturnRepository provides the queries needed to record returns
type ReturnRepository interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo ReturnRepository) error) error

	// IssueItemExists locks the item row inside a transaction
	IssueItemExists(ctx context.Context, issueNoteID int64, isbn string) (bool, error)
	IsReturned(ctx context.Context, issueNoteID int64, isbn string) (bool, error)
	InsertReturn(ctx context.Context, ret *models.Return) error
}

// MemberRepository provides member directory access
type MemberRepository interface {
	List(ctx context.Context, query string) ([]models.Member, error)
	FindByID(ctx context.Context, id string) (*models.Member, error)
	Create(ctx context.Context, member *models.Member) error
	Update(ctx context.Context, member *models.Member) error
	Delete(ctx context.Context, id string) error
}
