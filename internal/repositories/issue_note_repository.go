package repositories

import (
	"context"
	"time"

	"example.com/backstage/services/library/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// outstandingItems selects issue items that have no matching return
const outstandingItems = `LEFT JOIN "return" r ON r.issue_id = ii.issue_id AND r.isbn = ii.isbn`

// GormIssueNoteRepository implements IssueNoteRepository and IssueNoteReader
type GormIssueNoteRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
	locking    bool     // Set on the repository handed to a transaction
}

// NewIssueNoteRepository creates a new issue note repository
func NewIssueNoteRepository(db *gorm.DB, readOnlyDB *gorm.DB) *GormIssueNoteRepository {
	return &GormIssueNoteRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// WithTransaction runs fn with a repository bound to one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (r *GormIssueNoteRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo IssueNoteRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &GormIssueNoteRepository{db: tx, readOnlyDB: tx, locking: true})
	})
}

func (r *GormIssueNoteRepository) forUpdate(db *gorm.DB) *gorm.DB {
	if !r.locking {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// MemberExists checks the member row, locking it inside a transaction
func (r *GormIssueNoteRepository) MemberExists(ctx context.Context, memberID string) (bool, error) {
	var member models.Member
	err := r.forUpdate(r.db.WithContext(ctx)).
		Select("id").
		Where("id = ?", memberID).
		Take(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to look up member")
	}
	return true, nil
}

// FindBooks loads the requested books in isbn order. Inside a transaction
// the rows stay locked, and the fixed order keeps concurrent placements
// from deadlocking on each other.
func (r *GormIssueNoteRepository) FindBooks(ctx context.Context, isbns []string) (map[string]models.Book, error) {
	books := make(map[string]models.Book, len(isbns))
	if len(isbns) == 0 {
		return books, nil
	}

	var rows []models.Book
	err := r.forUpdate(r.db.WithContext(ctx)).
		Where("isbn IN ?", isbns).
		Order("isbn").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up books")
	}

	for _, book := range rows {
		books[book.ISBN] = book
	}
	return books, nil
}

// FindOutstandingCount counts loans of isbn that have not been returned
func (r *GormIssueNoteRepository) FindOutstandingCount(ctx context.Context, isbn string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("issue_item AS ii").
		Joins(outstandingItems).
		Where("ii.isbn = ? AND r.issue_id IS NULL", isbn).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count outstanding loans of %s", isbn)
	}
	return count, nil
}

// FindMemberOutstandingISBNs lists the isbns a member currently holds
func (r *GormIssueNoteRepository) FindMemberOutstandingISBNs(ctx context.Context, memberID string) ([]string, error) {
	isbns := []string{}
	err := r.db.WithContext(ctx).
		Table("issue_item AS ii").
		Joins("JOIN issue_note n ON n.id = ii.issue_id").
		Joins(outstandingItems).
		Where("n.member_id = ? AND r.issue_id IS NULL", memberID).
		Order("ii.isbn").
		Pluck("ii.isbn", &isbns).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list outstanding loans of member")
	}
	return isbns, nil
}

// InsertIssueNote inserts the note, then its items in order. Every insert
// must affect exactly one row. The generated id is written back to the note
// and its items.
func (r *GormIssueNoteRepository) InsertIssueNote(ctx context.Context, note *models.IssueNote) error {
	db := r.db.WithContext(ctx)

	if err := expectOneRow(db.Omit(clause.Associations).Create(note)); err != nil {
		return errors.Wrap(err, "failed to insert issue note")
	}

	for i := range note.Items {
		note.Items[i].IssueNoteID = note.ID
		if err := expectOneRow(db.Create(&note.Items[i])); err != nil {
			return errors.Wrapf(err, "failed to insert issue item %s", note.Items[i].ISBN)
		}
	}

	return nil
}

// FindIssueNotes loads notes with their items and returns from the replica
func (r *GormIssueNoteRepository) FindIssueNotes(ctx context.Context, ids []int64) ([]models.IssueNote, error) {
	notes := []models.IssueNote{}
	if len(ids) == 0 {
		return notes, nil
	}

	err := r.readOnlyDB.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("isbn") }).
		Preload("Returns").
		Where("id IN ?", ids).
		Order("id").
		Find(&notes).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load issue notes")
	}
	return notes, nil
}

// FindIssueNoteIDsSince lists notes dated on or after since
func (r *GormIssueNoteRepository) FindIssueNoteIDsSince(ctx context.Context, since time.Time) ([]int64, error) {
	ids := []int64{}
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.IssueNote{}).
		Where("date >= ?", since).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent issue notes")
	}
	return ids, nil
}
