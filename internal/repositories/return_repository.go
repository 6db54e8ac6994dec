package repositories

import (
	"context"

	"example.com/backstage/services/library/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormReturnRepository implements ReturnRepository
type GormReturnRepository struct {
	db      *gorm.DB
	locking bool
}

// NewReturnRepository creates a new return repository
func NewReturnRepository(db *gorm.DB) *GormReturnRepository {
	return &GormReturnRepository{db: db}
}

// WithTransaction runs fn with a repository bound to one transaction
func (r *GormReturnRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo ReturnRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &GormReturnRepository{db: tx, locking: true})
	})
}

// IssueItemExists checks the item, locking it inside a transaction so two
// returns of the same item serialize
func (r *GormReturnRepository) IssueItemExists(ctx context.Context, issueNoteID int64, isbn string) (bool, error) {
	db := r.db.WithContext(ctx)
	if r.locking {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var item models.IssueItem
	err := db.Where("issue_id = ? AND isbn = ?", issueNoteID, isbn).Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to look up issue item")
	}
	return true, nil
}

// IsReturned checks whether a return row exists for the item
func (r *GormReturnRepository) IsReturned(ctx context.Context, issueNoteID int64, isbn string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Return{}).
		Where("issue_id = ? AND isbn = ?", issueNoteID, isbn).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to look up return")
	}
	return count > 0, nil
}

// InsertReturn inserts one return row
func (r *GormReturnRepository) InsertReturn(ctx context.Context, ret *models.Return) error {
	if err := expectOneRow(r.db.WithContext(ctx).Create(ret)); err != nil {
		return errors.Wrapf(err, "failed to insert return of %s", ret.ISBN)
	}
	return nil
}
