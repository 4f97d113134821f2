// Package campaign manages the search keywords and message templates a
// principal's bot works with.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/settings"
)

// Template body limits by kind, in characters
const (
	MaxConnectionNoteLength = 300
	MaxFollowUpLength       = 2000
)

// CodeKeywordLimitReached is reported when the tier's keyword allowance is used up
const CodeKeywordLimitReached = "KEYWORD_LIMIT_REACHED"

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateKeyword = errors.New("keyword already exists")
	ErrNoLicense        = errors.New("principal has no license")
)

// LimitError is returned when adding a keyword would exceed the tier allowance
type LimitError struct {
	Code  string
	Tier  license.Tier
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s tier allows %d search keywords", e.Code, e.Tier, e.Limit)
}

// Store persists keywords and templates
type Store interface {
	ListKeywords(ctx context.Context, userID string) ([]models.Keyword, error)
	CountKeywords(ctx context.Context, userID string) (int, error)
	CreateKeyword(ctx context.Context, k *models.Keyword) error
	DeleteKeyword(ctx context.Context, userID, id string) (bool, error)
	ListTemplates(ctx context.Context, userID string) ([]models.MessageTemplate, error)
	GetTemplate(ctx context.Context, userID, id string) (*models.MessageTemplate, error)
	CreateTemplate(ctx context.Context, t *models.MessageTemplate) error
	UpdateTemplate(ctx context.Context, t *models.MessageTemplate) (bool, error)
	DeleteTemplate(ctx context.Context, userID, id string) (bool, error)
}

// LicenseReader provides the principal's tier
type LicenseReader interface {
	GetLicense(ctx context.Context, userID string) (*models.License, error)
}

// KeywordRequest adds one keyword
type KeywordRequest struct {
	Term string `json:"term" validate:"required,min=2,max=100"`
}

// TemplateRequest creates or replaces a template
type TemplateRequest struct {
	Name string              `json:"name" validate:"required,max=100"`
	Kind models.TemplateKind `json:"kind" validate:"required,oneof=connection_note follow_up"`
	Body string              `json:"body" validate:"required"`
}

// Service manages campaign configuration
type Service struct {
	store    Store
	licenses LicenseReader
	isDup    func(error) bool
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService creates a campaign service. isDuplicate recognises the store's
// unique-violation error; nil means no duplicate detection.
func NewService(store Store, licenses LicenseReader, isDuplicate func(error) bool, logger zerolog.Logger) *Service {
	if isDuplicate == nil {
		isDuplicate = func(error) bool { return false }
	}
	return &Service{
		store:    store,
		licenses: licenses,
		isDup:    isDuplicate,
		now:      time.Now,
		logger:   logger.With().Str("component", "CampaignService").Logger(),
	}
}

// ListKeywords returns the principal's keywords
func (s *Service) ListKeywords(ctx context.Context, userID string) ([]models.Keyword, error) {
	keywords, err := s.store.ListKeywords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	return keywords, nil
}

// AddKeyword adds a keyword unless the tier's MaxSearchKeywords is reached
func (s *Service) AddKeyword(ctx context.Context, userID string, req KeywordRequest) (*models.Keyword, error) {
	req.Term = strings.TrimSpace(req.Term)
	if err := settings.Validate(req); err != nil {
		return nil, err
	}

	lic, err := s.licenses.GetLicense(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	if lic == nil {
		return nil, ErrNoLicense
	}
	limit := license.LimitsFor(lic.Tier).MaxSearchKeywords

	count, err := s.store.CountKeywords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count keywords: %w", err)
	}
	if count >= limit {
		return nil, &LimitError{Code: CodeKeywordLimitReached, Tier: lic.Tier, Limit: limit}
	}

	kw := &models.Keyword{
		ID:        uuid.New().String(),
		UserID:    userID,
		Term:      req.Term,
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateKeyword(ctx, kw); err != nil {
		if s.isDup(err) {
			return nil, ErrDuplicateKeyword
		}
		return nil, fmt.Errorf("failed to create keyword: %w", err)
	}
	s.logger.Debug().Str("user_id", userID).Str("term", kw.Term).Msg("Keyword added")
	return kw, nil
}

// RemoveKeyword deletes a keyword
func (s *Service) RemoveKeyword(ctx context.Context, userID, id string) error {
	deleted, err := s.store.DeleteKeyword(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete keyword: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// ListTemplates returns the principal's templates
func (s *Service) ListTemplates(ctx context.Context, userID string) ([]models.MessageTemplate, error) {
	templates, err := s.store.ListTemplates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// CreateTemplate stores a new template
func (s *Service) CreateTemplate(ctx context.Context, userID string, req TemplateRequest) (*models.MessageTemplate, error) {
	if err := validateTemplate(req); err != nil {
		return nil, err
	}
	now := s.now()
	t := &models.MessageTemplate{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      strings.TrimSpace(req.Name),
		Kind:      req.Kind,
		Body:      req.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return t, nil
}

// UpdateTemplate replaces name, kind and body of a template
func (s *Service) UpdateTemplate(ctx context.Context, userID, id string, req TemplateRequest) (*models.MessageTemplate, error) {
	if err := validateTemplate(req); err != nil {
		return nil, err
	}
	existing, err := s.store.GetTemplate(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	existing.Name = strings.TrimSpace(req.Name)
	existing.Kind = req.Kind
	existing.Body = req.Body
	existing.UpdatedAt = s.now()

	updated, err := s.store.UpdateTemplate(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	if !updated {
		return nil, ErrNotFound
	}
	return existing, nil
}

// DeleteTemplate removes a template
func (s *Service) DeleteTemplate(ctx context.Context, userID, id string) error {
	deleted, err := s.store.DeleteTemplate(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func validateTemplate(req TemplateRequest) error {
	if err := settings.Validate(req); err != nil {
		return err
	}
	limit := MaxFollowUpLength
	if req.Kind == models.TemplateConnectionNote {
		limit = MaxConnectionNoteLength
	}
	if n := utf8.RuneCountInString(req.Body); n > limit {
		return &settings.ValidationError{Fields: map[string]string{
			"body": fmt.Sprintf("must be at most %d characters for %s templates (got %d)", limit, req.Kind, n),
		}}
	}
	return nil
}
