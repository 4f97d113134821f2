// Package settings owns the per-principal daily limits and warm-up records.
// Records are materialized lazily with tier-derived defaults; writes are
// validated here and clamped to the tier ceiling.
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/usage"
	"social-automation-dashboard/internal/warmup"
)

// Store persists settings records. The *IfAbsent methods report whether
// they inserted.
type Store interface {
	GetDailyLimits(ctx context.Context, userID string) (*models.DailyLimits, error)
	CreateDailyLimitsIfAbsent(ctx context.Context, dl *models.DailyLimits) (bool, error)
	SaveDailyLimits(ctx context.Context, dl *models.DailyLimits) error
	GetWarmupState(ctx context.Context, userID string) (*models.WarmupState, error)
	CreateWarmupStateIfAbsent(ctx context.Context, ws *models.WarmupState) (bool, error)
	SaveWarmupState(ctx context.Context, ws *models.WarmupState) error
}

// LicenseReader provides the principal's tier and account age
type LicenseReader interface {
	GetLicense(ctx context.Context, userID string) (*models.License, error)
}

// Cache is an optional read-through cache in front of the store.
// Get methods return (nil, nil) on a miss.
type Cache interface {
	GetDailyLimits(ctx context.Context, userID string) (*models.DailyLimits, error)
	SetDailyLimits(ctx context.Context, dl *models.DailyLimits) error
	GetWarmupState(ctx context.Context, userID string) (*models.WarmupState, error)
	SetWarmupState(ctx context.Context, ws *models.WarmupState) error
	InvalidateSettings(ctx context.Context, userID string) error
}

// Materialized tags a record with whether defaults were just created for it
type Materialized[T any] struct {
	Record  T    `json:"record"`
	Created bool `json:"created"`
}

// LimitsUpdate is a partial update of DailyLimits. Nil fields are unchanged.
type LimitsUpdate struct {
	MaxConnections  *int  `json:"max_connections" validate:"omitempty,min=0,max=10000"`
	MaxMessages     *int  `json:"max_messages" validate:"omitempty,min=0,max=10000"`
	MaxProfileViews *int  `json:"max_profile_views" validate:"omitempty,min=0,max=10000"`
	MaxSearches     *int  `json:"max_searches" validate:"omitempty,min=0,max=10000"`
	OverrideWarmup  *bool `json:"override_warmup"`
}

// WarmupUpdate is a partial update of WarmupState
type WarmupUpdate struct {
	Enabled   *bool                                    `json:"enabled"`
	Phase     *string                                  `json:"phase" validate:"omitempty,oneof=auto week1 week2 week3 week4plus"`
	StartDate *time.Time                               `json:"start_date"`
	Schedule  map[models.WarmupPhase]models.WarmupCaps `json:"schedule"`
}

// WarmupView is the warm-up state with the derived values filled in
type WarmupView struct {
	models.WarmupState
	EffectivePhase   models.WarmupPhase `json:"effective_phase"`
	Caps             models.WarmupCaps  `json:"caps"`
	DaysSinceStart   int                `json:"days_since_start"`
	TotalConnections int                `json:"total_connections"`
	Respected        bool               `json:"respected"`
}

// Service manages settings records
type Service struct {
	store     Store
	licenses  LicenseReader
	cache     Cache
	resetHour int
	now       func() time.Time
	logger    zerolog.Logger
}

// NewService creates a settings service. cache may be nil.
func NewService(store Store, licenses LicenseReader, cache Cache, resetHour int, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		licenses:  licenses,
		cache:     cache,
		resetHour: resetHour,
		now:       time.Now,
		logger:    logger.With().Str("component", "SettingsService").Logger(),
	}
}

// SetClock replaces the wall clock
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// DefaultLimits returns the limits a principal of the tier starts with
func DefaultLimits(userID string, tier license.Tier, dailyReset time.Time) models.DailyLimits {
	e := license.LimitsFor(tier)
	return models.DailyLimits{
		UserID:          userID,
		MaxConnections:  e.MaxDailyConnections,
		MaxMessages:     e.MaxDailyMessages,
		MaxProfileViews: e.MaxDailyProfileViews,
		MaxSearches:     e.MaxDailySearches,
		DailyReset:      dailyReset,
		OverrideWarmup:  false,
	}
}

// Clamp lowers every cap of dl to the tier ceiling. It reports whether
// anything changed.
func Clamp(dl *models.DailyLimits, tier license.Tier) bool {
	e := license.LimitsFor(tier)
	changed := false
	clamp := func(v *int, ceiling int) {
		if *v > ceiling {
			*v = ceiling
			changed = true
		}
	}
	clamp(&dl.MaxConnections, e.MaxDailyConnections)
	clamp(&dl.MaxMessages, e.MaxDailyMessages)
	clamp(&dl.MaxProfileViews, e.MaxDailyProfileViews)
	clamp(&dl.MaxSearches, e.MaxDailySearches)
	return changed
}

// GetDailyLimits returns the stored record, or nil when none exists. Reads
// go through the cache when one is configured.
func (s *Service) GetDailyLimits(ctx context.Context, userID string) (*models.DailyLimits, error) {
	if s.cache != nil {
		dl, err := s.cache.GetDailyLimits(ctx, userID)
		if err == nil && dl != nil {
			return dl, nil
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Limits cache read failed, using database")
		}
	}
	dl, err := s.store.GetDailyLimits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily limits: %w", err)
	}
	if dl != nil {
		s.fillLimits(ctx, dl)
	}
	return dl, nil
}

// GetWarmupState returns the stored record, or nil when none exists
func (s *Service) GetWarmupState(ctx context.Context, userID string) (*models.WarmupState, error) {
	if s.cache != nil {
		ws, err := s.cache.GetWarmupState(ctx, userID)
		if err == nil && ws != nil {
			return ws, nil
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Warm-up cache read failed, using database")
		}
	}
	ws, err := s.store.GetWarmupState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get warm-up state: %w", err)
	}
	if ws != nil {
		s.fillWarmup(ctx, ws)
	}
	return ws, nil
}

// GetOrCreateLimits returns the principal's limits, creating tier defaults
// on first access. Created is true only for the call that inserted them.
func (s *Service) GetOrCreateLimits(ctx context.Context, userID string) (Materialized[models.DailyLimits], error) {
	var out Materialized[models.DailyLimits]

	dl, err := s.GetDailyLimits(ctx, userID)
	if err != nil {
		return out, err
	}
	if dl != nil {
		out.Record = *dl
		return out, nil
	}

	lic, err := s.license(ctx, userID)
	if err != nil {
		return out, err
	}
	defaults := DefaultLimits(userID, lic.Tier, usage.NextReset(s.now(), s.resetHour))
	defaults.UpdatedAt = s.now()

	created, err := s.store.CreateDailyLimitsIfAbsent(ctx, &defaults)
	if err != nil {
		return out, fmt.Errorf("failed to create default limits: %w", err)
	}
	if !created {
		// Lost a race with another first access; read what won.
		existing, err := s.store.GetDailyLimits(ctx, userID)
		if err != nil {
			return out, fmt.Errorf("failed to get daily limits: %w", err)
		}
		if existing != nil {
			out.Record = *existing
			return out, nil
		}
	}
	s.logger.Info().Str("user_id", userID).Str("tier", string(lic.Tier)).Msg("Created default daily limits")
	out.Record = defaults
	out.Created = created
	return out, nil
}

// UpdateLimits applies a validated partial update. Caps above the tier
// ceiling are clamped down without error.
func (s *Service) UpdateLimits(ctx context.Context, userID string, req LimitsUpdate) (*models.DailyLimits, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	current, err := s.GetOrCreateLimits(ctx, userID)
	if err != nil {
		return nil, err
	}
	lic, err := s.license(ctx, userID)
	if err != nil {
		return nil, err
	}

	dl := current.Record
	if req.MaxConnections != nil {
		dl.MaxConnections = *req.MaxConnections
	}
	if req.MaxMessages != nil {
		dl.MaxMessages = *req.MaxMessages
	}
	if req.MaxProfileViews != nil {
		dl.MaxProfileViews = *req.MaxProfileViews
	}
	if req.MaxSearches != nil {
		dl.MaxSearches = *req.MaxSearches
	}
	if req.OverrideWarmup != nil {
		dl.OverrideWarmup = *req.OverrideWarmup
	}
	if Clamp(&dl, lic.Tier) {
		s.logger.Debug().Str("user_id", userID).Str("tier", string(lic.Tier)).Msg("Clamped limits to tier ceiling")
	}
	dl.UpdatedAt = s.now()

	if err := s.store.SaveDailyLimits(ctx, &dl); err != nil {
		return nil, fmt.Errorf("failed to save daily limits: %w", err)
	}
	s.invalidate(ctx, userID)
	return &dl, nil
}

// Reclamp re-applies the ceiling after a tier change. Downgrades lower the
// caps; upgrades leave them as they are.
func (s *Service) Reclamp(ctx context.Context, userID string, tier license.Tier) error {
	dl, err := s.store.GetDailyLimits(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get daily limits: %w", err)
	}
	if dl == nil {
		s.invalidate(ctx, userID)
		return nil
	}
	if Clamp(dl, tier) {
		dl.UpdatedAt = s.now()
		if err := s.store.SaveDailyLimits(ctx, dl); err != nil {
			return fmt.Errorf("failed to save daily limits: %w", err)
		}
	}
	s.invalidate(ctx, userID)
	return nil
}

// GetOrCreateWarmup returns the warm-up state, creating the default (enabled,
// auto phase, starting at account creation) on first access.
func (s *Service) GetOrCreateWarmup(ctx context.Context, userID string) (Materialized[models.WarmupState], error) {
	var out Materialized[models.WarmupState]

	ws, err := s.GetWarmupState(ctx, userID)
	if err != nil {
		return out, err
	}
	if ws != nil {
		out.Record = *ws
		return out, nil
	}

	lic, err := s.license(ctx, userID)
	if err != nil {
		return out, err
	}
	start := lic.CreatedAt
	if start.IsZero() {
		start = lic.ActivatedAt
	}
	defaults := warmup.DefaultState(userID, start)
	defaults.UpdatedAt = s.now()

	created, err := s.store.CreateWarmupStateIfAbsent(ctx, &defaults)
	if err != nil {
		return out, fmt.Errorf("failed to create default warm-up state: %w", err)
	}
	if !created {
		existing, err := s.store.GetWarmupState(ctx, userID)
		if err != nil {
			return out, fmt.Errorf("failed to get warm-up state: %w", err)
		}
		if existing != nil {
			out.Record = *existing
			return out, nil
		}
	}
	out.Record = defaults
	out.Created = created
	return out, nil
}

// UpdateWarmup applies a validated partial update to the warm-up state
func (s *Service) UpdateWarmup(ctx context.Context, userID string, req WarmupUpdate) (*models.WarmupState, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if err := s.validateWarmup(req); err != nil {
		return nil, err
	}

	current, err := s.GetOrCreateWarmup(ctx, userID)
	if err != nil {
		return nil, err
	}
	ws := current.Record
	if req.Enabled != nil {
		ws.Enabled = *req.Enabled
	}
	if req.Phase != nil {
		ws.Phase = models.WarmupPhase(*req.Phase)
	}
	if req.StartDate != nil {
		ws.StartDate = req.StartDate.UTC()
	}
	if req.Schedule != nil {
		ws.Schedule = req.Schedule
	}
	ws.UpdatedAt = s.now()

	if err := s.store.SaveWarmupState(ctx, &ws); err != nil {
		return nil, fmt.Errorf("failed to save warm-up state: %w", err)
	}
	s.invalidate(ctx, userID)
	return &ws, nil
}

func (s *Service) validateWarmup(req WarmupUpdate) error {
	fields := make(map[string]string)
	if req.StartDate != nil && req.StartDate.After(s.now()) {
		fields["start_date"] = "must not be in the future"
	}
	for phase, caps := range req.Schedule {
		if phase == models.WarmupAuto || !warmup.ValidPhase(phase) {
			fields["schedule."+string(phase)] = "unknown phase"
			continue
		}
		if caps.DailyConnections < 0 || caps.WeeklyConnections < 0 || caps.DailyMessages < 0 {
			fields["schedule."+string(phase)] = "caps must not be negative"
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// WarmupStatus returns the warm-up state with its derived phase and caps
func (s *Service) WarmupStatus(ctx context.Context, userID string) (*WarmupView, error) {
	ws, err := s.GetOrCreateWarmup(ctx, userID)
	if err != nil {
		return nil, err
	}
	lic, err := s.license(ctx, userID)
	if err != nil {
		return nil, err
	}
	dl, err := s.GetOrCreateLimits(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	phase, caps := warmup.LimitsFor(ws.Record, now)
	days := int(now.Sub(ws.Record.StartDate) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	return &WarmupView{
		WarmupState:      ws.Record,
		EffectivePhase:   phase,
		Caps:             caps,
		DaysSinceStart:   days,
		TotalConnections: lic.Usage.TotalConnections,
		Respected:        warmup.ShouldRespectWarmup(ws.Record, dl.Record.OverrideWarmup),
	}, nil
}

func (s *Service) license(ctx context.Context, userID string) (*models.License, error) {
	lic, err := s.licenses.GetLicense(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get license: %w", err)
	}
	if lic == nil {
		return nil, ErrNoLicense
	}
	return lic, nil
}

func (s *Service) fillLimits(ctx context.Context, dl *models.DailyLimits) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetDailyLimits(ctx, dl); err != nil {
		s.logger.Debug().Err(err).Str("user_id", dl.UserID).Msg("Failed to populate limits cache")
	}
}

func (s *Service) fillWarmup(ctx context.Context, ws *models.WarmupState) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetWarmupState(ctx, ws); err != nil {
		s.logger.Debug().Err(err).Str("user_id", ws.UserID).Msg("Failed to populate warm-up cache")
	}
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSettings(ctx, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to invalidate settings cache")
	}
}
