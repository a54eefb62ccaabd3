package links

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"klips/internal/engine/events"
	"klips/internal/pkg/validator"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// CacheInvalidator drops a cached short code after its link changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, shortCode string) error
}

type Service struct {
	repo      *Repository
	publisher events.Publisher
	cache     CacheInvalidator
	now       func() time.Time
}

// NewService wires the link lifecycle. publisher and cache may be nil.
func NewService(repo *Repository, publisher events.Publisher, cache CacheInvalidator) *Service {
	return &Service{repo: repo, publisher: publisher, cache: cache, now: time.Now}
}

func (s *Service) CreateLink(ctx context.Context, tenantID, userID string, in CreateInput) (*Link, error) {
	if err := validator.Struct(in); err != nil {
		return nil, err
	}

	shortCode, err := GenerateShortCode(ctx, in.ShortCode, s.repo)
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	link := &Link{
		ID:             "lnk_" + uuid.New().String(),
		TenantID:       tenantID,
		ShortCode:      shortCode,
		DestinationURL: in.DestinationURL,
		Title:          in.Title,
		CreatedBy:      userID,
		RedirectType:   in.RedirectType,
		Status:         StatusActive,
		ExpiresAt:      in.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if link.RedirectType == "" {
		link.RedirectType = RedirectTemporary
	}

	if err := s.repo.Create(ctx, link); err != nil {
		return nil, err
	}

	events.Emit(ctx, s.publisher, tenantID, events.LinkCreated, link.eventData())
	return link, nil
}

func (s *Service) GetLink(ctx context.Context, tenantID, id string) (*Link, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

func (s *Service) UpdateLink(ctx context.Context, tenantID, id string, patch Patch) (*Link, error) {
	existing, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if patch.DestinationURL != nil {
		existing.DestinationURL = *patch.DestinationURL
	}
	if patch.Title != nil {
		existing.Title = *patch.Title
	}
	if patch.RedirectType != nil {
		existing.RedirectType = *patch.RedirectType
	}
	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.ExpiresAt != nil {
		existing.ExpiresAt = patch.ExpiresAt
	}

	if err := ValidateLink(existing); err != nil {
		return nil, err
	}

	existing.UpdatedAt = s.now().Unix()
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	s.invalidate(ctx, existing.ShortCode)

	events.Emit(ctx, s.publisher, tenantID, events.LinkUpdated, existing.eventData())
	return existing, nil
}

// ArchiveLink stops a link from resolving and raises link.deleted.
func (s *Service) ArchiveLink(ctx context.Context, tenantID, id string) error {
	link, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Archive(ctx, tenantID, id, s.now().Unix()); err != nil {
		return err
	}
	s.invalidate(ctx, link.ShortCode)

	link.Status = StatusArchived
	events.Emit(ctx, s.publisher, tenantID, events.LinkDeleted, link.eventData())
	return nil
}

func (s *Service) ListLinks(ctx context.Context, tenantID string, limit, offset int) ([]*Link, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, tenantID, limit, offset)
}

func (s *Service) invalidate(ctx context.Context, shortCode string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, shortCode); err != nil {
		log.Warn().Err(err).Str("short_code", shortCode).Msg("failed to invalidate link cache")
	}
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	var fe *validator.FieldError
	return errors.As(err, &fe) || errors.Is(err, ErrInvalidShortCode)
}
