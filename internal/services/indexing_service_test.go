package services

import (
	"context"
	"testing"
	"time"

	"example.com/backstage/services/library/internal/messaging"
	"example.com/backstage/services/library/internal/metrics"
	"example.com/backstage/services/library/internal/models"
	"example.com/backstage/services/library/internal/search"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func issueNote(id int64, date time.Time, isbns ...string) models.IssueNote {
	note := models.IssueNote{ID: id, Date: date, MemberID: memberID}
	for _, isbn := range isbns {
		note.Items = append(note.Items, models.IssueItem{IssueNoteID: id, ISBN: isbn})
	}
	return note
}

func newIndexingService(reader *fakeReader, index *MockIndex) (*IndexingService, *metrics.Metrics) {
	m := metrics.NewMetrics()
	service := NewIndexingService(reader, index, m, newTestTracer(), 48*time.Hour)
	service.now = fixedClock(now)
	return service, m
}

func TestProcessEvent(t *testing.T) {
	note := issueNote(7, now, "2-2", "1-1")
	note.Returns = []models.Return{{IssueNoteID: 7, ISBN: "2-2", Date: now}}
	reader := &fakeReader{notes: map[int64]models.IssueNote{7: note}}

	index := new(MockIndex)
	index.On("IndexIssueNote", mock.Anything, search.IssueNoteDocument{
		ID:          7,
		Date:        "2024-03-01",
		MemberID:    memberID,
		Books:       []string{"1-1", "2-2"},
		Outstanding: []string{"1-1"},
		Returned:    []string{"2-2"},
	}).Return(nil).Once()

	service, m := newIndexingService(reader, index)

	err := service.ProcessEvent(context.Background(), messaging.NewLibraryEvent(messaging.EventItemsReturned, 7))
	require.NoError(t, err)
	index.AssertExpectations(t)
	assert.Equal(t, int64(1), m.GetCounters()[metrics.CounterEventsProcessed])
	assert.Equal(t, int64(1), m.GetCounters()[metrics.CounterDocumentsIndexed])
}

func TestProcessEventIndexFailure(t *testing.T) {
	reader := &fakeReader{notes: map[int64]models.IssueNote{
		1: issueNote(1, now, "1-1"),
		2: issueNote(2, now, "2-2"),
	}}

	index := new(MockIndex)
	index.On("IndexIssueNote", mock.Anything, mock.MatchedBy(func(d search.IssueNoteDocument) bool { return d.ID == 1 })).
		Return(errors.New("cluster red"))
	index.On("IndexIssueNote", mock.Anything, mock.MatchedBy(func(d search.IssueNoteDocument) bool { return d.ID == 2 })).
		Return(nil)

	service, m := newIndexingService(reader, index)

	err := service.ProcessEvent(context.Background(), messaging.NewLibraryEvent(messaging.EventIssueNotePlaced, 1, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster red")
	index.AssertNumberOfCalls(t, "IndexIssueNote", 2)
	assert.Zero(t, m.GetCounters()[metrics.CounterEventsProcessed])
	assert.Equal(t, int64(1), m.GetErrorRates()[metrics.ErrorRateIndexing].Errors)
}

func TestReconcile(t *testing.T) {
	reader := &fakeReader{notes: map[int64]models.IssueNote{
		1: issueNote(1, now.AddDate(0, 0, -10), "1-1"),
		2: issueNote(2, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), "2-2"),
		3: issueNote(3, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "3-3"),
	}}

	index := new(MockIndex)
	index.On("IndexIssueNote", mock.Anything, mock.Anything).Return(nil)

	service, _ := newIndexingService(reader, index)

	indexed, err := service.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)
	assert.Equal(t, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), reader.since)
}

func TestSearchIssueNotes(t *testing.T) {
	t.Run("normalizes member id", func(t *testing.T) {
		index := new(MockIndex)
		docs := []search.IssueNoteDocument{{ID: 3}}
		index.On("SearchIssueNotes", mock.Anything, search.IssueNoteQuery{
			MemberID:        "abcdef01-2345-6789-abcd-ef0123456789",
			OutstandingOnly: true,
		}).Return(docs, nil)

		service, _ := newIndexingService(&fakeReader{}, index)
		got, err := service.SearchIssueNotes(context.Background(), SearchQuery{
			MemberID:        "ABCDEF01-2345-6789-ABCD-EF0123456789",
			OutstandingOnly: true,
		})
		require.NoError(t, err)
		assert.Equal(t, docs, got)
	})

	t.Run("invalid filters", func(t *testing.T) {
		index := new(MockIndex)
		service, _ := newIndexingService(&fakeReader{}, index)

		_, err := service.SearchIssueNotes(context.Background(), SearchQuery{MemberID: "x"})
		assert.True(t, IsValidation(err))
		_, err = service.SearchIssueNotes(context.Background(), SearchQuery{ISBN: "abc"})
		assert.True(t, IsValidation(err))
		index.AssertNotCalled(t, "SearchIssueNotes", mock.Anything, mock.Anything)
	})

	t.Run("disabled", func(t *testing.T) {
		index := new(MockIndex)
		index.On("SearchIssueNotes", mock.Anything, mock.Anything).Return(nil, search.ErrSearchDisabled)

		service, _ := newIndexingService(&fakeReader{}, index)
		_, err := service.SearchIssueNotes(context.Background(), SearchQuery{})
		require.Error(t, err)
		assert.Equal(t, KindUnavailable, KindOf(err))
	})
}
