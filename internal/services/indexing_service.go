package services

import (
	"context"
	"strings"
	"time"

	"example.com/backstage/services/library/internal/messaging"
	"example.com/backstage/services/library/internal/metrics"
	"example.com/backstage/services/library/internal/repositories"
	"example.com/backstage/services/library/internal/search"
	"example.com/backstage/services/library/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// IssueNoteIndex is the search projection of issue notes
type IssueNoteIndex interface {
	IndexIssueNote(ctx context.Context, doc search.IssueNoteDocument) error
	SearchIssueNotes(ctx context.Context, q search.IssueNoteQuery) ([]search.IssueNoteDocument, error)
}

// SearchQuery filters issue notes by member, book and loan state
type SearchQuery struct {
	MemberID        string
	ISBN            string
	OutstandingOnly bool
}

// IndexingService keeps the search projection in step with the store and
// answers searches against it
type IndexingService struct {
	reader  repositories.IssueNoteReader
	index   IssueNoteIndex
	metrics *metrics.Metrics
	tracer  tracing.Tracer
	window  time.Duration
	now     func() time.Time
}

// NewIndexingService creates a new indexing service. Reconcile reindexes
// notes dated within window.
func NewIndexingService(
	reader repositories.IssueNoteReader,
	index IssueNoteIndex,
	m *metrics.Metrics,
	tracer tracing.Tracer,
	window time.Duration,
) *IndexingService {
	return &IndexingService{
		reader:  reader,
		index:   index,
		metrics: m,
		tracer:  tracer,
		window:  window,
		now:     time.Now,
	}
}

// ProcessEvent reindexes the issue notes an event refers to
func (s *IndexingService) ProcessEvent(ctx context.Context, event messaging.LibraryEvent) error {
	txn, end := s.tracer.Transaction(ctx, "process-library-event")
	defer end()
	s.tracer.AddAttribute(txn, "event_type", string(event.Type))

	indexed, err := s.reindex(ctx, event.IssueNoteIDs)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return errors.Wrapf(err, "failed to process %s event", event.Type)
	}

	s.metrics.IncrementCounter(metrics.CounterEventsProcessed)
	log.Info().
		Str("type", string(event.Type)).
		Int("indexed", indexed).
		Msg("Library event processed")
	return nil
}

// Reconcile reindexes every issue note dated within the window. It repairs
// documents whose event was never published or processed.
func (s *IndexingService) Reconcile(ctx context.Context) (int, error) {
	txn, end := s.tracer.Transaction(ctx, "reconcile-issue-notes")
	defer end()

	since := calendarDate(s.now().Add(-s.window))

	span := s.tracer.StartSpan("find-recent-issue-notes", txn)
	ids, err := s.reader.FindIssueNoteIDsSince(ctx, since)
	span.End()
	if err != nil {
		s.tracer.RecordError(txn, err)
		return 0, err
	}

	log.Info().Int("issue_notes", len(ids)).Time("since", since).Msg("Reconciling issue note index")

	indexed, err := s.reindex(ctx, ids)
	if err != nil {
		s.tracer.RecordError(txn, err)
	}
	return indexed, err
}

// reindex loads and indexes the notes, carrying on past individual
// failures. It returns the number indexed and the first error.
func (s *IndexingService) reindex(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	notes, err := s.reader.FindIssueNotes(ctx, ids)
	if err != nil {
		s.metrics.RecordError(metrics.ErrorRateIndexing)
		return 0, err
	}

	if len(notes) != len(ids) {
		log.Warn().
			Int("requested", len(ids)).
			Int("found", len(notes)).
			Msg("Some issue notes to index no longer exist")
	}

	var firstErr error
	indexed := 0
	for _, note := range notes {
		err := s.index.IndexIssueNote(ctx, search.BuildIssueNoteDocument(note))
		s.metrics.RecordOutcome(metrics.ErrorRateIndexing, err)
		if err != nil {
			log.Error().Err(err).Int64("issue_note_id", note.ID).Msg("Failed to index issue note")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		indexed++
	}

	s.metrics.IncrementCounterBy(metrics.CounterDocumentsIndexed, int64(indexed))
	return indexed, firstErr
}

// SearchIssueNotes queries the projection
func (s *IndexingService) SearchIssueNotes(ctx context.Context, q SearchQuery) ([]search.IssueNoteDocument, error) {
	if q.MemberID != "" && !IsValidMemberID(q.MemberID) {
		return nil, NewValidationError("The member id is empty or invalid")
	}
	if q.ISBN != "" && !IsValidISBN(q.ISBN) {
		return nil, NewValidationError("Invalid isbn has been found")
	}

	docs, err := s.index.SearchIssueNotes(ctx, search.IssueNoteQuery{
		MemberID:        strings.ToLower(q.MemberID),
		ISBN:            q.ISBN,
		OutstandingOnly: q.OutstandingOnly,
	})
	if err != nil {
		if errors.Is(err, search.ErrSearchDisabled) {
			return nil, NewUnavailableError("Issue note search is not enabled", err)
		}
		log.Error().Err(err).Msg("Issue note search failed")
		return nil, NewUnavailableError("Issue note search is unavailable", err)
	}
	return docs, nil
}
