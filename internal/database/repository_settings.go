package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/warmup"
)

// ==================== DAILY LIMITS ====================

func validateLimits(dl *models.DailyLimits) error {
	if !validID(dl.UserID) {
		return invalid("daily limits user id must be a UUID")
	}
	if dl.MaxConnections < 0 || dl.MaxMessages < 0 || dl.MaxProfileViews < 0 || dl.MaxSearches < 0 {
		return invalid("daily limits must not be negative")
	}
	if dl.DailyReset.IsZero() {
		return invalid("daily reset is required")
	}
	return nil
}

// GetDailyLimits returns the stored limits, or nil when none exist
func (r *Repository) GetDailyLimits(ctx context.Context, userID string) (*models.DailyLimits, error) {
	if !validID(userID) {
		return nil, nil
	}
	query := `
	SELECT user_id, max_connections, max_messages, max_profile_views, max_searches,
		daily_reset, override_warmup, updated_at
	FROM daily_limits WHERE user_id = $1
	`
	dl := &models.DailyLimits{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&dl.UserID, &dl.MaxConnections, &dl.MaxMessages, &dl.MaxProfileViews, &dl.MaxSearches,
		&dl.DailyReset, &dl.OverrideWarmup, &dl.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily limits: %w", err)
	}
	return dl, nil
}

// CreateDailyLimitsIfAbsent inserts dl unless a row exists. The boolean
// reports whether this call created it.
func (r *Repository) CreateDailyLimitsIfAbsent(ctx context.Context, dl *models.DailyLimits) (bool, error) {
	if err := validateLimits(dl); err != nil {
		return false, err
	}
	query := `
	INSERT INTO daily_limits (user_id, max_connections, max_messages, max_profile_views, max_searches,
		daily_reset, override_warmup, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (user_id) DO NOTHING
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		dl.UserID, dl.MaxConnections, dl.MaxMessages, dl.MaxProfileViews, dl.MaxSearches,
		dl.DailyReset, dl.OverrideWarmup, dl.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create daily limits: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveDailyLimits upserts dl; the last writer wins
func (r *Repository) SaveDailyLimits(ctx context.Context, dl *models.DailyLimits) error {
	if err := validateLimits(dl); err != nil {
		return err
	}
	query := `
	INSERT INTO daily_limits (user_id, max_connections, max_messages, max_profile_views, max_searches,
		daily_reset, override_warmup, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (user_id) DO UPDATE SET
		max_connections = EXCLUDED.max_connections,
		max_messages = EXCLUDED.max_messages,
		max_profile_views = EXCLUDED.max_profile_views,
		max_searches = EXCLUDED.max_searches,
		daily_reset = EXCLUDED.daily_reset,
		override_warmup = EXCLUDED.override_warmup,
		updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Pool.Exec(ctx, query,
		dl.UserID, dl.MaxConnections, dl.MaxMessages, dl.MaxProfileViews, dl.MaxSearches,
		dl.DailyReset, dl.OverrideWarmup, dl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save daily limits: %w", err)
	}
	return nil
}

// ==================== WARM-UP ====================

func validateWarmup(ws *models.WarmupState) error {
	if !validID(ws.UserID) {
		return invalid("warm-up user id must be a UUID")
	}
	if !warmup.ValidPhase(ws.Phase) {
		return invalid(fmt.Sprintf("unknown warm-up phase %q", ws.Phase))
	}
	if ws.StartDate.IsZero() {
		return invalid("warm-up start date is required")
	}
	return nil
}

func encodeSchedule(ws *models.WarmupState) ([]byte, error) {
	if len(ws.Schedule) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ws.Schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to encode warm-up schedule: %w", err)
	}
	return b, nil
}

// GetWarmupState returns the stored warm-up state, or nil when none exists
func (r *Repository) GetWarmupState(ctx context.Context, userID string) (*models.WarmupState, error) {
	if !validID(userID) {
		return nil, nil
	}
	query := `SELECT user_id, enabled, phase, start_date, schedule, updated_at FROM warmup_states WHERE user_id = $1`

	ws := &models.WarmupState{}
	var (
		phase    string
		schedule []byte
	)
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&ws.UserID, &ws.Enabled, &phase, &ws.StartDate, &schedule, &ws.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get warm-up state: %w", err)
	}
	ws.Phase = models.WarmupPhase(phase)
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &ws.Schedule); err != nil {
			return nil, fmt.Errorf("failed to decode warm-up schedule: %w", err)
		}
	}
	return ws, nil
}

// CreateWarmupStateIfAbsent inserts ws unless a row exists
func (r *Repository) CreateWarmupStateIfAbsent(ctx context.Context, ws *models.WarmupState) (bool, error) {
	if err := validateWarmup(ws); err != nil {
		return false, err
	}
	schedule, err := encodeSchedule(ws)
	if err != nil {
		return false, err
	}
	query := `
	INSERT INTO warmup_states (user_id, enabled, phase, start_date, schedule, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (user_id) DO NOTHING
	`
	tag, err := r.db.Pool.Exec(ctx, query, ws.UserID, ws.Enabled, string(ws.Phase), ws.StartDate, schedule, ws.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create warm-up state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveWarmupState upserts ws; the last writer wins
func (r *Repository) SaveWarmupState(ctx context.Context, ws *models.WarmupState) error {
	if err := validateWarmup(ws); err != nil {
		return err
	}
	schedule, err := encodeSchedule(ws)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO warmup_states (user_id, enabled, phase, start_date, schedule, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (user_id) DO UPDATE SET
		enabled = EXCLUDED.enabled,
		phase = EXCLUDED.phase,
		start_date = EXCLUDED.start_date,
		schedule = EXCLUDED.schedule,
		updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Pool.Exec(ctx, query, ws.UserID, ws.Enabled, string(ws.Phase), ws.StartDate, schedule, ws.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save warm-up state: %w", err)
	}
	return nil
}
