// Package accounts manages the license lifecycle of a principal: trial on
// registration, upgrades, extensions and (de)activation.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
)

// TrialPeriod is the lifetime of the license created on registration
const TrialPeriod = 30 * 24 * time.Hour

// License change kinds carried by LICENSE_CHANGED events
const (
	ChangeCreated     = "created"
	ChangeUpgraded    = "upgraded"
	ChangeExtended    = "extended"
	ChangeDeactivated = "deactivated"
	ChangeReactivated = "reactivated"
)

var (
	ErrLicenseNotFound = errors.New("license not found")
	ErrInvalidTier     = errors.New("invalid license tier")
	ErrInvalidDays     = errors.New("days must be positive")
)

// Store is the license persistence the manager needs
type Store interface {
	CreateLicense(ctx context.Context, l *models.License) error
	GetLicense(ctx context.Context, userID string) (*models.License, error)
	UpdateLicenseTerms(ctx context.Context, userID string, tier license.Tier, perms license.Entitlements, expiresAt time.Time, active bool) error
	SetLicenseActive(ctx context.Context, userID string, active bool) error
	RecordLogin(ctx context.Context, userID string, at time.Time, ip string) error
}

// Reclamper lowers stored daily limits to a new tier ceiling
type Reclamper interface {
	Reclamp(ctx context.Context, userID string, tier license.Tier) error
}

// Publisher announces license changes
type Publisher interface {
	PublishLicenseChanged(userID, change string, details map[string]interface{})
}

// Manager handles license lifecycle operations
type Manager struct {
	store     Store
	reclamper Reclamper
	publisher Publisher
	now       func() time.Time
	logger    zerolog.Logger
}

// NewManager creates a manager. reclamper and publisher may be nil.
func NewManager(store Store, reclamper Reclamper, publisher Publisher, logger zerolog.Logger) *Manager {
	return &Manager{
		store:     store,
		reclamper: reclamper,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With().Str("component", "AccountManager").Logger(),
	}
}

// SetClock replaces the wall clock
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateTrial gives a new principal a 30-day trial license
func (m *Manager) CreateTrial(ctx context.Context, userID string) (*models.License, error) {
	now := m.now()
	lic := &models.License{
		UserID:      userID,
		Tier:        license.TierTrial,
		IsActive:    true,
		ActivatedAt: now,
		ExpiresAt:   now.Add(TrialPeriod),
		Permissions: license.LimitsFor(license.TierTrial),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateLicense(ctx, lic); err != nil {
		return nil, fmt.Errorf("failed to create trial license: %w", err)
	}
	m.logger.Info().Str("user_id", userID).Time("expires_at", lic.ExpiresAt).Msg("Trial license created")
	m.publish(userID, ChangeCreated, map[string]interface{}{"tier": lic.Tier, "expires_at": lic.ExpiresAt})
	return lic, nil
}

// Get returns the license of a principal
func (m *Manager) Get(ctx context.Context, userID string) (*models.License, error) {
	lic, err := m.store.GetLicense(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	if lic == nil {
		return nil, ErrLicenseNotFound
	}
	return lic, nil
}

// Upgrade moves the principal to tier, refreshes the permission snapshot and
// activates the license. With days > 0 the license runs for days from now;
// otherwise the current expiry is kept. Stored daily limits are lowered when
// the new ceiling is below them.
func (m *Manager) Upgrade(ctx context.Context, userID string, tier license.Tier, days int) (*models.License, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if days < 0 {
		return nil, ErrInvalidDays
	}
	lic, err := m.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	expiresAt := lic.ExpiresAt
	if days > 0 {
		expiresAt = m.now().AddDate(0, 0, days)
	}
	if err := m.store.UpdateLicenseTerms(ctx, userID, tier, license.LimitsFor(tier), expiresAt, true); err != nil {
		return nil, fmt.Errorf("failed to update license: %w", err)
	}
	if m.reclamper != nil {
		if err := m.reclamper.Reclamp(ctx, userID, tier); err != nil {
			return nil, fmt.Errorf("failed to apply tier ceiling: %w", err)
		}
	}

	m.logger.Info().
		Str("user_id", userID).
		Str("from", string(lic.Tier)).
		Str("to", string(tier)).
		Time("expires_at", expiresAt).
		Msg("License tier changed")
	m.publish(userID, ChangeUpgraded, map[string]interface{}{"from": lic.Tier, "tier": tier, "expires_at": expiresAt})
	return m.Get(ctx, userID)
}

// Extend adds days to the license. An expired license is extended from now
// and switched back on, since the expiry sweep is what turned it off.
func (m *Manager) Extend(ctx context.Context, userID string, days int) (*models.License, error) {
	if days <= 0 {
		return nil, ErrInvalidDays
	}
	lic, err := m.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	base := lic.ExpiresAt
	active := lic.IsActive
	if lic.IsExpired(now) {
		base = now
		active = true
	}
	expiresAt := base.AddDate(0, 0, days)
	if err := m.store.UpdateLicenseTerms(ctx, userID, lic.Tier, lic.Permissions, expiresAt, active); err != nil {
		return nil, fmt.Errorf("failed to extend license: %w", err)
	}

	m.logger.Info().Str("user_id", userID).Int("days", days).Time("expires_at", expiresAt).Msg("License extended")
	m.publish(userID, ChangeExtended, map[string]interface{}{"days": days, "expires_at": expiresAt})
	return m.Get(ctx, userID)
}

// Deactivate switches the license off; the record is kept
func (m *Manager) Deactivate(ctx context.Context, userID string) (*models.License, error) {
	return m.setActive(ctx, userID, false, ChangeDeactivated)
}

// Reactivate switches a deactivated license back on. It does not touch the
// expiry, so an expired license stays unusable until extended.
func (m *Manager) Reactivate(ctx context.Context, userID string) (*models.License, error) {
	return m.setActive(ctx, userID, true, ChangeReactivated)
}

func (m *Manager) setActive(ctx context.Context, userID string, active bool, change string) (*models.License, error) {
	if _, err := m.Get(ctx, userID); err != nil {
		return nil, err
	}
	if err := m.store.SetLicenseActive(ctx, userID, active); err != nil {
		return nil, fmt.Errorf("failed to update license: %w", err)
	}
	m.logger.Info().Str("user_id", userID).Bool("active", active).Msg("License state changed")
	m.publish(userID, change, nil)
	return m.Get(ctx, userID)
}

// RecordLogin stamps the login time and address and counts the session
func (m *Manager) RecordLogin(ctx context.Context, userID, ip string) error {
	if err := m.store.RecordLogin(ctx, userID, m.now(), ip); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

func (m *Manager) publish(userID, change string, details map[string]interface{}) {
	if m.publisher != nil {
		m.publisher.PublishLicenseChanged(userID, change, details)
	}
}
