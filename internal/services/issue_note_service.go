package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"example.com/backstage/services/library/internal/messaging"
	"example.com/backstage/services/library/internal/metrics"
	"example.com/backstage/services/library/internal/models"
	"example.com/backstage/services/library/internal/repositories"
	"example.com/backstage/services/library/internal/tracing"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// IssueNoteRequest asks for books to be lent to a member
type IssueNoteRequest struct {
	MemberID string   `json:"memberId"`
	Books    []string `json:"books"`
}

// IssueNoteService places issue notes
type IssueNoteService struct {
	repo      repositories.IssueNoteRepository
	publisher messaging.Publisher
	metrics   *metrics.Metrics
	tracer    tracing.Tracer
	now       func() time.Time
}

// NewIssueNoteService creates a new issue note service
func NewIssueNoteService(
	repo repositories.IssueNoteRepository,
	publisher messaging.Publisher,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *IssueNoteService {
	return &IssueNoteService{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		tracer:    tracer,
		now:       time.Now,
	}
}

// ValidateIssueNoteRequest checks the request shape without touching the store
func ValidateIssueNoteRequest(req IssueNoteRequest) error {
	return firstViolation([]rule{
		{req.MemberID, "required,member_id", "The member id is empty or invalid"},
		{req.Books, "min=1", "An issue note requires at least one book"},
		{req.Books, fmt.Sprintf("max=%d", models.MaxOutstandingItems), "A member can't borrow more than 3 books"},
		{req.Books, "dive,isbn", "Invalid isbn has been found"},
		{req.Books, "unique", "Duplicate isbn has been found"},
	})
}

// PlaceIssueNote validates the request, checks availability and limits under
// row locks and stores the note with its items in one transaction.
func (s *IssueNoteService) PlaceIssueNote(ctx context.Context, req IssueNoteRequest) (*models.IssueNote, error) {
	txn, end := s.tracer.Transaction(ctx, "place-issue-note")
	defer end()

	note, err := s.placeIssueNote(ctx, txn, req)
	if err != nil {
		if !IsPersistence(err) {
			s.metrics.IncrementCounter(metrics.CounterIssueNotesRejected)
		}
		s.metrics.RecordOutcome(metrics.ErrorRatePlaceIssueNote, persistenceOnly(err))
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.CounterIssueNotesPlaced)
	s.metrics.RecordSuccess(metrics.ErrorRatePlaceIssueNote)

	log.Info().
		Int64("issue_note_id", note.ID).
		Str("member_id", note.MemberID).
		Strs("books", note.ISBNs()).
		Msg("Issue note placed")

	span := s.tracer.StartSpan("publish-event", txn)
	publish(ctx, s.publisher, s.metrics, messaging.NewLibraryEvent(messaging.EventIssueNotePlaced, note.ID))
	span.End()

	return note, nil
}

func (s *IssueNoteService) placeIssueNote(ctx context.Context, txn *newrelic.Transaction, req IssueNoteRequest) (*models.IssueNote, error) {
	span := s.tracer.StartSpan("validate-request", txn)
	err := ValidateIssueNoteRequest(req)
	span.End()
	if err != nil {
		return nil, err
	}

	note := &models.IssueNote{
		Date:     calendarDate(s.now()),
		MemberID: strings.ToLower(req.MemberID),
		Items:    make([]models.IssueItem, 0, len(req.Books)),
	}
	for _, isbn := range req.Books {
		note.Items = append(note.Items, models.IssueItem{ISBN: isbn})
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repositories.IssueNoteRepository) error {
		checkSpan := s.tracer.StartSpan("check-availability", txn)
		err := checkAvailability(ctx, txRepo, note.MemberID, req.Books)
		checkSpan.End()
		if err != nil {
			return err
		}

		insertSpan := s.tracer.StartSpan("insert-issue-note", txn)
		defer insertSpan.End()
		return txRepo.InsertIssueNote(ctx, note)
	})
	if err != nil {
		var svcErr *Error
		if errors.As(err, &svcErr) {
			return nil, svcErr
		}

		log.Error().
			Err(err).
			Str("member_id", note.MemberID).
			Strs("books", req.Books).
			Msg("Failed to place the issue note")
		return nil, NewPersistenceError("Failed to place the issue note", err)
	}

	// The member id is stored lowercased but echoed as submitted
	placed := *note
	placed.MemberID = req.MemberID
	return &placed, nil
}

// checkAvailability applies the business rules in order. It locks the member
// row and then the book rows, so it must run inside the write transaction.
func checkAvailability(ctx context.Context, repo repositories.IssueNoteRepository, memberID string, isbns []string) error {
	exists, err := repo.MemberExists(ctx, memberID)
	if err != nil {
		return err
	}
	if !exists {
		return NewNotFoundError("Member does not exist within the database")
	}

	books, err := repo.FindBooks(ctx, isbns)
	if err != nil {
		return err
	}

	held, err := repo.FindMemberOutstandingISBNs(ctx, memberID)
	if err != nil {
		return err
	}
	holding := make(map[string]bool, len(held))
	for _, isbn := range held {
		holding[isbn] = true
	}

	for _, isbn := range isbns {
		book, ok := books[isbn]
		if !ok {
			return NewNotFoundError(fmt.Sprintf("%s book doesn't exist within the database", isbn))
		}

		outstanding, err := repo.FindOutstandingCount(ctx, isbn)
		if err != nil {
			return err
		}
		if int64(book.Copies)-outstanding <= 0 {
			return NewConflictError(fmt.Sprintf("%s book is not available at the moment", isbn))
		}

		if holding[isbn] {
			return NewConflictError(fmt.Sprintf("%s book has been already issued to the same member", isbn))
		}
	}

	available := models.MaxOutstandingItems - len(held)
	if available < len(isbns) {
		return NewConflictError(fmt.Sprintf("Issue limit is exceeded, only %d books are available", available))
	}

	return nil
}

// calendarDate returns the calendar day of t in its own location, which is
// the server's local zone for time.Now, as midnight UTC
func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// persistenceOnly keeps store failures for error rates; rejections are not failures
func persistenceOnly(err error) error {
	if IsPersistence(err) {
		return err
	}
	return nil
}

// publish sends an event after commit. Failures are logged and never
// reach the caller.
func publish(ctx context.Context, publisher messaging.Publisher, m *metrics.Metrics, event messaging.LibraryEvent) {
	if publisher == nil {
		return
	}

	if err := publisher.Publish(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("type", string(event.Type)).
			Interface("issue_note_ids", event.IssueNoteIDs).
			Msg("Failed to publish event, reconciliation will pick it up")
		return
	}
	m.IncrementCounter(metrics.CounterEventsPublished)
}
