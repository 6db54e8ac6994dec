package services

import (
	"context"
	"strings"

	"example.com/backstage/services/library/internal/cache"
	"example.com/backstage/services/library/internal/metrics"
	"example.com/backstage/services/library/internal/models"
	"example.com/backstage/services/library/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MemberRequest carries the editable member fields
type MemberRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Contact string `json:"contact"`
}

// MemberCache is the read-through cache used for member lookups
type MemberCache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

// MemberService manages the member directory
type MemberService struct {
	repo    repositories.MemberRepository
	cache   MemberCache
	metrics *metrics.Metrics
}

// NewMemberService creates a new member service
func NewMemberService(repo repositories.MemberRepository, c MemberCache, m *metrics.Metrics) *MemberService {
	return &MemberService{repo: repo, cache: c, metrics: m}
}

// ValidateMemberRequest checks the member fields, first failure wins
func ValidateMemberRequest(req MemberRequest) error {
	return firstViolation([]rule{
		{req.Name, "required,member_name", "Name is empty or invalid"},
		{req.Contact, "required,member_contact", "Contact is empty or invalid"},
		{req.Address, "required,member_address", "Address is empty or invalid"},
	})
}

// ListMembers returns all members, or those matching query
func (s *MemberService) ListMembers(ctx context.Context, query string) ([]models.Member, error) {
	members, err := s.repo.List(ctx, strings.TrimSpace(query))
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("Failed to list members")
		return nil, NewPersistenceError("Failed to load members", err)
	}
	return members, nil
}

// GetMember loads a member, going to the cache first
func (s *MemberService) GetMember(ctx context.Context, id string) (*models.Member, error) {
	if !IsValidMemberID(id) {
		return nil, NewValidationError("Invalid member id")
	}
	id = strings.ToLower(id)
	key := cache.MemberKey(id)

	var cached models.Member
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) && !errors.Is(err, cache.ErrCacheDisabled) {
		log.Warn().Err(err).Str("key", key).Msg("Member cache read failed")
	}

	member, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, NewNotFoundError("Invalid member id")
		}
		log.Error().Err(err).Str("member_id", id).Msg("Failed to load member")
		return nil, NewPersistenceError("Failed to load the member", err)
	}

	if err := s.cache.Set(ctx, key, member); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		log.Warn().Err(err).Str("key", key).Msg("Member cache write failed")
	}

	return member, nil
}

// CreateMember validates and stores a new member with a generated id
func (s *MemberService) CreateMember(ctx context.Context, req MemberRequest) (*models.Member, error) {
	if err := ValidateMemberRequest(req); err != nil {
		return nil, err
	}

	member := &models.Member{
		ID:      uuid.NewString(),
		Name:    req.Name,
		Address: req.Address,
		Contact: req.Contact,
	}

	if err := s.repo.Create(ctx, member); err != nil {
		log.Error().Err(err).Msg("Failed to save member")
		return nil, NewPersistenceError("Failed to save the member", err)
	}

	s.metrics.IncrementCounter(metrics.CounterMembersCreated)
	log.Info().Str("member_id", member.ID).Msg("Member created")

	return member, nil
}

// UpdateMember replaces the fields of an existing member. The body id must
// match the path id.
func (s *MemberService) UpdateMember(ctx context.Context, id string, req MemberRequest) error {
	if req.ID == "" || !strings.EqualFold(req.ID, id) || !IsValidMemberID(id) {
		return NewValidationError("Id is empty or invalid")
	}
	if err := ValidateMemberRequest(req); err != nil {
		return err
	}

	id = strings.ToLower(id)
	err := s.repo.Update(ctx, &models.Member{
		ID:      id,
		Name:    req.Name,
		Address: req.Address,
		Contact: req.Contact,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return NewNotFoundError("Member does not exist")
		}
		log.Error().Err(err).Str("member_id", id).Msg("Failed to update member")
		return NewPersistenceError("Failed to update the member", err)
	}

	s.invalidate(ctx, id)
	return nil
}

// DeleteMember removes a member that has no issue notes
func (s *MemberService) DeleteMember(ctx context.Context, id string) error {
	if !IsValidMemberID(id) {
		return NewNotFoundError("Invalid member id")
	}

	id = strings.ToLower(id)
	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return NewNotFoundError("Invalid member id")
		case errors.Is(err, repositories.ErrForeignKeyViolation):
			return NewConflictError("Member has issue notes and cannot be deleted")
		}
		log.Error().Err(err).Str("member_id", id).Msg("Failed to delete member")
		return NewPersistenceError("Failed to delete the member", err)
	}

	s.invalidate(ctx, id)
	log.Info().Str("member_id", id).Msg("Member deleted")
	return nil
}

func (s *MemberService) invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, cache.MemberKey(id)); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		log.Warn().Err(err).Str("member_id", id).Msg("Member cache invalidation failed")
	}
}
