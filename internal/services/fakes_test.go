package services

import (
	"context"
	"sort"
	"time"

	"example.com/backstage/services/library/config"
	"example.com/backstage/services/library/internal/messaging"
	"example.com/backstage/services/library/internal/models"
	"example.com/backstage/services/library/internal/repositories"
	"example.com/backstage/services/library/internal/search"
	"example.com/backstage/services/library/internal/tracing"

	"github.com/stretchr/testify/mock"
)

// MockPublisher records published events
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event messaging.LibraryEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

// fakeIssueNoteRepo is an in-memory IssueNoteRepository. It counts store
// calls so tests can assert that validation never reaches the store.
type fakeIssueNoteRepo struct {
	members     map[string]bool
	books       map[string]models.Book
	outstanding map[string]int64
	held        map[string][]string
	inserted    []*models.IssueNote
	insertErr   error
	findErr     error
	nextID      int64
	calls       int
}

func newFakeIssueNoteRepo() *fakeIssueNoteRepo {
	return &fakeIssueNoteRepo{
		members:     map[string]bool{},
		books:       map[string]models.Book{},
		outstanding: map[string]int64{},
		held:        map[string][]string{},
	}
}

func (r *fakeIssueNoteRepo) lend(memberID, isbn string) {
	r.outstanding[isbn]++
	r.held[memberID] = append(r.held[memberID], isbn)
}

func (r *fakeIssueNoteRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo repositories.IssueNoteRepository) error) error {
	r.calls++
	return fn(ctx, r)
}

func (r *fakeIssueNoteRepo) MemberExists(_ context.Context, memberID string) (bool, error) {
	r.calls++
	return r.members[memberID], nil
}

func (r *fakeIssueNoteRepo) FindBooks(_ context.Context, isbns []string) (map[string]models.Book, error) {
	r.calls++
	if r.findErr != nil {
		return nil, r.findErr
	}
	found := map[string]models.Book{}
	for _, isbn := range isbns {
		if book, ok := r.books[isbn]; ok {
			found[isbn] = book
		}
	}
	return found, nil
}

func (r *fakeIssueNoteRepo) FindOutstandingCount(_ context.Context, isbn string) (int64, error) {
	r.calls++
	return r.outstanding[isbn], nil
}

func (r *fakeIssueNoteRepo) FindMemberOutstandingISBNs(_ context.Context, memberID string) ([]string, error) {
	r.calls++
	isbns := append([]string{}, r.held[memberID]...)
	sort.Strings(isbns)
	return isbns, nil
}

func (r *fakeIssueNoteRepo) InsertIssueNote(_ context.Context, note *models.IssueNote) error {
	r.calls++
	if r.insertErr != nil {
		return r.insertErr
	}
	r.nextID++
	note.ID = r.nextID
	for i := range note.Items {
		note.Items[i].IssueNoteID = note.ID
		r.lend(note.MemberID, note.Items[i].ISBN)
	}
	r.inserted = append(r.inserted, note)
	return nil
}

// fakeReader serves issue notes for indexing
type fakeReader struct {
	notes map[int64]models.IssueNote
	since time.Time
}

func (r *fakeReader) FindIssueNotes(_ context.Context, ids []int64) ([]models.IssueNote, error) {
	notes := []models.IssueNote{}
	for _, id := range ids {
		if note, ok := r.notes[id]; ok {
			notes = append(notes, note)
		}
	}
	return notes, nil
}

func (r *fakeReader) FindIssueNoteIDsSince(_ context.Context, since time.Time) ([]int64, error) {
	r.since = since
	ids := []int64{}
	for id, note := range r.notes {
		if !note.Date.Before(since) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// MockIndex is a testify mock of the search projection
type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) IndexIssueNote(ctx context.Context, doc search.IssueNoteDocument) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *MockIndex) SearchIssueNotes(ctx context.Context, q search.IssueNoteQuery) ([]search.IssueNoteDocument, error) {
	args := m.Called(ctx, q)
	docs, _ := args.Get(0).([]search.IssueNoteDocument)
	return docs, args.Error(1)
}

func newTestTracer() tracing.Tracer {
	tracer, err := tracing.NewTracer(config.TracingConfig{})
	if err != nil {
		panic(err)
	}
	return tracer
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
