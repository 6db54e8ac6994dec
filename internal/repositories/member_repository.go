package repositories

import (
	"context"

	"example.com/backstage/services/library/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// GormMemberRepository implements MemberRepository
type GormMemberRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(db *gorm.DB, readOnlyDB *gorm.DB) *GormMemberRepository {
	return &GormMemberRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// List returns all members, or those with a field containing query
func (r *GormMemberRepository) List(ctx context.Context, query string) ([]models.Member, error) {
	members := []models.Member{}

	db := r.readOnlyDB.WithContext(ctx).Order("name, id")
	if query != "" {
		pattern := "%" + query + "%"
		db = db.Where("id LIKE ? OR name LIKE ? OR address LIKE ? OR contact LIKE ?",
			pattern, pattern, pattern, pattern)
	}

	if err := db.Find(&members).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list members")
	}
	return members, nil
}

// FindByID gets a member by id
func (r *GormMemberRepository) FindByID(ctx context.Context, id string) (*models.Member, error) {
	var member models.Member
	err := r.readOnlyDB.WithContext(ctx).Where("id = ?", id).Take(&member).Error
	if err != nil {
		return nil, errors.Wrap(translateError(err), "failed to get member by ID")
	}
	return &member, nil
}

// Create inserts a member
func (r *GormMemberRepository) Create(ctx context.Context, member *models.Member) error {
	if err := expectOneRow(r.db.WithContext(ctx).Create(member)); err != nil {
		return errors.Wrap(err, "failed to create member")
	}
	return nil
}

// Update overwrites the name, address and contact of a member
func (r *GormMemberRepository) Update(ctx context.Context, member *models.Member) error {
	result := r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("id = ?", member.ID).
		Updates(map[string]interface{}{
			"name":    member.Name,
			"address": member.Address,
			"contact": member.Contact,
		})
	if result.Error != nil {
		return errors.Wrap(translateError(result.Error), "failed to update member")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a member. Members referenced by issue notes cannot be
// deleted and yield ErrForeignKeyViolation.
func (r *GormMemberRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Member{})
	if result.Error != nil {
		return errors.Wrap(translateError(result.Error), "failed to delete member")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
