package services

import (
	"context"
	"fmt"
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

// ReturnItem identifies one lent book
type ReturnItem struct {
	IssueNoteID int64  `json:"issueNoteId"`
	ISBN        string `json:"isbn"`
}

// ReturnRequest hands back one or more lent books
type ReturnRequest struct {
	ReturnItems []ReturnItem `json:"returnItems"`
}

// ReturnService records returns of issued books
type ReturnService struct {
	repo      repositories.ReturnRepository
	publisher messaging.Publisher
	metrics   *metrics.Metrics
	tracer    tracing.Tracer
	now       func() time.Time
}

// NewReturnService creates a new return service
func NewReturnService(
	repo repositories.ReturnRepository,
	publisher messaging.Publisher,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *ReturnService {
	return &ReturnService{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		tracer:    tracer,
		now:       time.Now,
	}
}

// ValidateReturnRequest checks the request shape without touching the store
func ValidateReturnRequest(req ReturnRequest) error {
	rules := []rule{{req.ReturnItems, "min=1", "A return requires at least one item"}}
	for _, item := range req.ReturnItems {
		rules = append(rules, rule{item.IssueNoteID, "gt=0", "Invalid issue note id has been found"})
	}
	for _, item := range req.ReturnItems {
		rules = append(rules, rule{item.ISBN, "required,isbn", "Invalid isbn has been found"})
	}
	rules = append(rules, rule{req.ReturnItems, "unique", "Duplicate return item has been found"})

	return firstViolation(rules)
}

// PlaceReturn records a return row for every requested item in one
// transaction. Every item must be issued and still outstanding.
func (s *ReturnService) PlaceReturn(ctx context.Context, req ReturnRequest) ([]models.Return, error) {
	txn, end := s.tracer.Transaction(ctx, "place-return")
	defer end()

	returns, err := s.placeReturn(ctx, txn, req)
	s.metrics.RecordOutcome(metrics.ErrorRatePlaceReturn, persistenceOnly(err))
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounterBy(metrics.CounterReturnsPlaced, int64(len(returns)))
	log.Info().Int("items", len(returns)).Msg("Return placed")

	span := s.tracer.StartSpan("publish-event", txn)
	publish(ctx, s.publisher, s.metrics, messaging.NewLibraryEvent(messaging.EventItemsReturned, issueNoteIDs(returns)...))
	span.End()

	return returns, nil
}

func (s *ReturnService) placeReturn(ctx context.Context, txn *newrelic.Transaction, req ReturnRequest) ([]models.Return, error) {
	if err := ValidateReturnRequest(req); err != nil {
		return nil, err
	}

	date := calendarDate(s.now())
	returns := make([]models.Return, 0, len(req.ReturnItems))
	for _, item := range req.ReturnItems {
		returns = append(returns, models.Return{IssueNoteID: item.IssueNoteID, ISBN: item.ISBN, Date: date})
	}

	err := s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repositories.ReturnRepository) error {
		span := s.tracer.StartSpan("check-outstanding", txn)
		for _, ret := range returns {
			if err := checkOutstanding(ctx, txRepo, ret); err != nil {
				span.End()
				return err
			}
		}
		span.End()

		insertSpan := s.tracer.StartSpan("insert-returns", txn)
		defer insertSpan.End()
		for i := range returns {
			if err := txRepo.InsertReturn(ctx, &returns[i]); err != nil {
				// Lost a race with a concurrent return of the same item
				if errors.Is(err, repositories.ErrDuplicateKey) {
					return alreadyReturned(returns[i])
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		var svcErr *Error
		if errors.As(err, &svcErr) {
			return nil, svcErr
		}

		log.Error().Err(err).Interface("items", req.ReturnItems).Msg("Failed to place the return")
		return nil, NewPersistenceError("Failed to place the return", err)
	}

	return returns, nil
}

func checkOutstanding(ctx context.Context, repo repositories.ReturnRepository, ret models.Return) error {
	issued, err := repo.IssueItemExists(ctx, ret.IssueNoteID, ret.ISBN)
	if err != nil {
		return err
	}
	if !issued {
		return NewNotFoundError(fmt.Sprintf("%s book was not issued under issue note %d", ret.ISBN, ret.IssueNoteID))
	}

	returned, err := repo.IsReturned(ctx, ret.IssueNoteID, ret.ISBN)
	if err != nil {
		return err
	}
	if returned {
		return alreadyReturned(ret)
	}
	return nil
}

func alreadyReturned(ret models.Return) *Error {
	return NewConflictError(fmt.Sprintf("%s book of issue note %d has been already returned", ret.ISBN, ret.IssueNoteID))
}

// issueNoteIDs lists the distinct issue note ids in first-seen order
func issueNoteIDs(returns []models.Return) []int64 {
	seen := make(map[int64]bool, len(returns))
	ids := make([]int64, 0, len(returns))
	for _, ret := range returns {
		if !seen[ret.IssueNoteID] {
			seen[ret.IssueNoteID] = true
			ids = append(ids, ret.IssueNoteID)
		}
	}
	return ids
}
