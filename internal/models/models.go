package models

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// MaxOutstandingItems is the number of books a member may hold at once
const MaxOutstandingItems = 3

// Member represents a registered library member
type Member struct {
	ID      string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name    string `gorm:"not null" json:"name"`
	Address string `gorm:"not null" json:"address"`
	Contact string `gorm:"not null" json:"contact"`
}

// TableName overrides the pluralised table name
func (Member) TableName() string { return "member" }

// Book represents a title in the catalogue and how many copies the library owns
type Book struct {
	ISBN   string      `gorm:"column:isbn;primaryKey" json:"isbn"`
	Title  string      `gorm:"not null" json:"title"`
	Copies int         `gorm:"not null;default:0" json:"copies"`
	Items  []IssueItem `gorm:"foreignKey:ISBN;references:ISBN" json:"-"`
}

// TableName overrides the pluralised table name
func (Book) TableName() string { return "book" }

// IssueNote is a borrowing record: one member, one to three books, one date
type IssueNote struct {
	ID       int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	Date     time.Time   `gorm:"type:date;not null" json:"date"`
	MemberID string      `gorm:"column:member_id;type:varchar(36);not null;index" json:"memberId"`
	Member   *Member     `gorm:"foreignKey:MemberID;constraint:OnDelete:RESTRICT" json:"-"`
	Items    []IssueItem `gorm:"foreignKey:IssueNoteID;constraint:OnDelete:CASCADE" json:"-"`
	Returns  []Return    `gorm:"foreignKey:IssueNoteID" json:"-"`
}

// TableName overrides the pluralised table name
func (IssueNote) TableName() string { return "issue_note" }

// ISBNs returns the isbns of the note items in insertion order
func (n IssueNote) ISBNs() []string {
	isbns := make([]string, 0, len(n.Items))
	for _, item := range n.Items {
		isbns = append(isbns, item.ISBN)
	}
	return isbns
}

// IssueItem is one book lent under an issue note
type IssueItem struct {
	IssueNoteID int64  `gorm:"column:issue_id;primaryKey;autoIncrement:false" json:"issueNoteId"`
	ISBN        string `gorm:"column:isbn;primaryKey" json:"isbn"`
}

// TableName overrides the pluralised table name
func (IssueItem) TableName() string { return "issue_item" }

// Return marks an issue item as handed back
type Return struct {
	IssueNoteID int64     `gorm:"column:issue_id;primaryKey;autoIncrement:false" json:"issueNoteId"`
	ISBN        string    `gorm:"column:isbn;primaryKey" json:"isbn"`
	Date        time.Time `gorm:"type:date;not null" json:"date"`
}

// TableName overrides the pluralised table name
func (Return) TableName() string { return "return" }

// SetupModels creates the library tables. It is only used when
// database.auto_migrate is set and by the store tests.
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Member{},
		&Book{},
		&IssueNote{},
		&IssueItem{},
		&Return{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
