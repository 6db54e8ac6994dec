package services

import (
	"context"
	"testing"
	"time"

	"example.com/backstage/services/library/internal/messaging"
	"example.com/backstage/services/library/internal/metrics"
	"example.com/backstage/services/library/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	memberID      = "11111111-1111-1111-1111-111111111111"
	otherMemberID = "22222222-2222-2222-2222-222222222222"
)

var now = time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)

func newIssueNoteService(repo *fakeIssueNoteRepo, publisher *MockPublisher) (*IssueNoteService, *metrics.Metrics) {
	m := metrics.NewMetrics()
	service := NewIssueNoteService(repo, publisher, m, newTestTracer())
	service.now = fixedClock(now)
	return service, m
}

func seededRepo() *fakeIssueNoteRepo {
	repo := newFakeIssueNoteRepo()
	repo.members[memberID] = true
	repo.members[otherMemberID] = true
	for _, isbn := range []string{"978-0-13-1", "978-0-13-2", "978-0-13-3", "978-0-13-4"} {
		repo.books[isbn] = models.Book{ISBN: isbn, Copies: 2}
	}
	return repo
}

func TestValidateIssueNoteRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     IssueNoteRequest
		message string
	}{
		{"empty member id", IssueNoteRequest{Books: []string{"1-1"}}, "The member id is empty or invalid"},
		{"malformed member id", IssueNoteRequest{MemberID: "1111-1111", Books: []string{"1-1"}}, "The member id is empty or invalid"},
		{"member id checked first", IssueNoteRequest{MemberID: "nope"}, "The member id is empty or invalid"},
		{"no books", IssueNoteRequest{MemberID: memberID}, "An issue note requires at least one book"},
		{"empty book list", IssueNoteRequest{MemberID: memberID, Books: []string{}}, "An issue note requires at least one book"},
		{"four books", IssueNoteRequest{MemberID: memberID, Books: []string{"1", "2", "3", "4"}}, "A member can't borrow more than 3 books"},
		{"too many checked before format", IssueNoteRequest{MemberID: memberID, Books: []string{"x", "x", "x", "x"}}, "A member can't borrow more than 3 books"},
		{"isbn with letters", IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13", "97A"}}, "Invalid isbn has been found"},
		{"isbn with trailing hyphen", IssueNoteRequest{MemberID: memberID, Books: []string{"978-"}}, "Invalid isbn has been found"},
		{"empty isbn", IssueNoteRequest{MemberID: memberID, Books: []string{""}}, "Invalid isbn has been found"},
		{"format checked before duplicates", IssueNoteRequest{MemberID: memberID, Books: []string{"1-1", "1-1", "x"}}, "Invalid isbn has been found"},
		{"duplicate isbn", IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13", "978-0-13"}}, "Duplicate isbn has been found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIssueNoteRequest(tt.req)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Equal(t, tt.message, err.Error())
		})
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateIssueNoteRequest(IssueNoteRequest{
			MemberID: "ABCDEF01-2345-6789-abcd-ef0123456789",
			Books:    []string{"78", "978-0-13", "1-2-3"},
		}))
	})
}

func TestPlaceIssueNoteValidationNeverTouchesStore(t *testing.T) {
	repo := seededRepo()
	publisher := new(MockPublisher)
	service, m := newIssueNoteService(repo, publisher)

	_, err := service.PlaceIssueNote(context.Background(), IssueNoteRequest{MemberID: "bad", Books: []string{"978-0-13-1"}})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Zero(t, repo.calls)
	assert.Empty(t, repo.inserted)
	assert.Equal(t, int64(1), m.GetCounters()[metrics.CounterIssueNotesRejected])
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestPlaceIssueNoteBusinessRules(t *testing.T) {
	tests := []struct {
		name    string
		arrange func(repo *fakeIssueNoteRepo)
		req     IssueNoteRequest
		isKind  func(error) bool
		message string
	}{
		{
			name:    "unknown member",
			req:     IssueNoteRequest{MemberID: "33333333-3333-3333-3333-333333333333", Books: []string{"978-0-13-1"}},
			isKind:  IsNotFound,
			message: "Member does not exist within the database",
		},
		{
			name:    "unknown book",
			req:     IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-1", "978-9-99"}},
			isKind:  IsNotFound,
			message: "978-9-99 book doesn't exist within the database",
		},
		{
			name: "no copies left",
			arrange: func(repo *fakeIssueNoteRepo) {
				repo.lend(otherMemberID, "978-0-13-2")
				repo.lend(otherMemberID, "978-0-13-2")
			},
			req:     IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-2"}},
			isKind:  IsConflict,
			message: "978-0-13-2 book is not available at the moment",
		},
		{
			name: "books checked in request order",
			arrange: func(repo *fakeIssueNoteRepo) {
				repo.lend(otherMemberID, "978-0-13-2")
				repo.lend(otherMemberID, "978-0-13-2")
			},
			req:     IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-2", "978-9-99"}},
			isKind:  IsConflict,
			message: "978-0-13-2 book is not available at the moment",
		},
		{
			name:    "already held by member",
			arrange: func(repo *fakeIssueNoteRepo) { repo.lend(memberID, "978-0-13-1") },
			req:     IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-1"}},
			isKind:  IsConflict,
			message: "978-0-13-1 book has been already issued to the same member",
		},
		{
			name: "limit reached",
			arrange: func(repo *fakeIssueNoteRepo) {
				repo.lend(memberID, "978-0-13-1")
				repo.lend(memberID, "978-0-13-2")
				repo.lend(memberID, "978-0-13-3")
			},
			req:     IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-4"}},
			isKind:  IsConflict,
			message: "Issue limit is exceeded, only 0 books are available",
		},
		{
			name: "limit exceeded by request",
			arrange: func(repo *fakeIssueNoteRepo) {
				repo.lend(memberID, "978-0-13-1")
				repo.lend(memberID, "978-0-13-2")
			},
			req:     IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-3", "978-0-13-4"}},
			isKind:  IsConflict,
			message: "Issue limit is exceeded, only 1 books are available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := seededRepo()
			if tt.arrange != nil {
				tt.arrange(repo)
			}
			publisher := new(MockPublisher)
			service, _ := newIssueNoteService(repo, publisher)

			note, err := service.PlaceIssueNote(context.Background(), tt.req)

			require.Error(t, err)
			assert.Nil(t, note)
			assert.True(t, tt.isKind(err), "unexpected error kind: %v", err)
			assert.Equal(t, tt.message, err.Error())
			assert.Empty(t, repo.inserted)
			publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
		})
	}
}

func TestPlaceIssueNote(t *testing.T) {
	repo := seededRepo()
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e messaging.LibraryEvent) bool {
		return e.Type == messaging.EventIssueNotePlaced && len(e.IssueNoteIDs) == 1 && e.IssueNoteIDs[0] == 1
	})).Return(nil).Once()
	service, m := newIssueNoteService(repo, publisher)

	note, err := service.PlaceIssueNote(context.Background(), IssueNoteRequest{
		MemberID: memberID,
		Books:    []string{"978-0-13-3", "978-0-13-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1), note.ID)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), note.Date)
	assert.Equal(t, memberID, note.MemberID)
	assert.Equal(t, []string{"978-0-13-3", "978-0-13-1"}, note.ISBNs())
	require.Len(t, repo.inserted, 1)
	for _, item := range note.Items {
		assert.Equal(t, note.ID, item.IssueNoteID)
	}
	assert.Equal(t, int64(1), m.GetCounters()[metrics.CounterIssueNotesPlaced])
	publisher.AssertExpectations(t)
}

func TestPlaceIssueNoteEchoesSubmittedMemberID(t *testing.T) {
	repo := newFakeIssueNoteRepo()
	repo.members["abcdef01-2345-6789-abcd-ef0123456789"] = true
	repo.books["1-1"] = models.Book{ISBN: "1-1", Copies: 1}
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	service, _ := newIssueNoteService(repo, publisher)

	note, err := service.PlaceIssueNote(context.Background(), IssueNoteRequest{
		MemberID: "ABCDEF01-2345-6789-ABCD-EF0123456789",
		Books:    []string{"1-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "ABCDEF01-2345-6789-ABCD-EF0123456789", note.MemberID)
	require.Len(t, repo.inserted, 1)
	assert.Equal(t, "abcdef01-2345-6789-abcd-ef0123456789", repo.inserted[0].MemberID)
}

func TestPlaceIssueNoteTwiceCreatesTwoNotes(t *testing.T) {
	repo := seededRepo()
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	service, _ := newIssueNoteService(repo, publisher)
	ctx := context.Background()

	first, err := service.PlaceIssueNote(ctx, IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-1"}})
	require.NoError(t, err)
	second, err := service.PlaceIssueNote(ctx, IssueNoteRequest{MemberID: otherMemberID, Books: []string{"978-0-13-1"}})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// Both copies are now out
	_, err = service.PlaceIssueNote(ctx, IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-1"}})
	require.Error(t, err)
	assert.Equal(t, "978-0-13-1 book is not available at the moment", err.Error())
}

func TestPlaceIssueNoteStoreFailure(t *testing.T) {
	tests := []struct {
		name    string
		arrange func(repo *fakeIssueNoteRepo)
	}{
		{"insert fails", func(repo *fakeIssueNoteRepo) { repo.insertErr = errors.New("connection reset") }},
		{"lookup fails", func(repo *fakeIssueNoteRepo) { repo.findErr = errors.New("connection reset") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := seededRepo()
			tt.arrange(repo)
			publisher := new(MockPublisher)
			service, m := newIssueNoteService(repo, publisher)

			note, err := service.PlaceIssueNote(context.Background(), IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-1"}})

			require.Error(t, err)
			assert.Nil(t, note)
			assert.True(t, IsPersistence(err))

			var svcErr *Error
			require.True(t, errors.As(err, &svcErr))
			assert.Equal(t, "Failed to place the issue note", svcErr.Message)
			assert.Equal(t, int64(1), m.GetErrorRates()[metrics.ErrorRatePlaceIssueNote].Errors)
			publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
		})
	}
}

func TestPlaceIssueNotePublishFailureIsNotFatal(t *testing.T) {
	repo := seededRepo()
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("bus down"))
	service, m := newIssueNoteService(repo, publisher)

	note, err := service.PlaceIssueNote(context.Background(), IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-1"}})

	require.NoError(t, err)
	assert.NotZero(t, note.ID)
	assert.Zero(t, m.GetCounters()[metrics.CounterEventsPublished])
	publisher.AssertExpectations(t)
}

func TestCalendarDate(t *testing.T) {
	local := time.FixedZone("UTC+10", 10*60*60)

	// 05:00 on 1 March in UTC+10 is still 29 February in UTC
	assert.Equal(t,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		calendarDate(time.Date(2024, 3, 1, 5, 0, 0, 0, local)))
	assert.Equal(t,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		calendarDate(time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)))
}

func TestPlaceIssueNoteUsesLocalDay(t *testing.T) {
	repo := seededRepo()
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	service, _ := newIssueNoteService(repo, publisher)
	service.now = fixedClock(time.Date(2024, 3, 2, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*60*60)))

	note, err := service.PlaceIssueNote(context.Background(), IssueNoteRequest{MemberID: memberID, Books: []string{"978-0-13-1"}})

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), note.Date)
}
