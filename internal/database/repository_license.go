package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/usage"
)

const licenseColumns = `user_id, tier, is_active, activated_at, expires_at, permissions,
	connections_today, messages_today, searches_today, profile_views_today,
	total_connections, total_sessions, last_reset_at, last_login_at, last_login_ip,
	created_at, updated_at`

// CreateLicense inserts the license of a principal
func (r *Repository) CreateLicense(ctx context.Context, l *models.License) error {
	if !validID(l.UserID) {
		return invalid("license user id must be a UUID")
	}
	if l.ExpiresAt.IsZero() {
		return invalid("license expiry is required")
	}
	if !l.Tier.Valid() {
		return invalid(fmt.Sprintf("unknown tier %q", l.Tier))
	}
	perms, err := json.Marshal(l.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	now := time.Now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.ActivatedAt.IsZero() {
		l.ActivatedAt = l.CreatedAt
	}
	l.UpdatedAt = now

	query := `
	INSERT INTO licenses (user_id, tier, is_active, activated_at, expires_at, permissions, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		l.UserID, string(l.Tier), l.IsActive, l.ActivatedAt, l.ExpiresAt, perms, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create license: %w", err)
	}
	return nil
}

// GetLicense returns the license of a principal, or nil when there is none
func (r *Repository) GetLicense(ctx context.Context, userID string) (*models.License, error) {
	if !validID(userID) {
		return nil, nil
	}
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE user_id = $1`

	l := &models.License{}
	var (
		tier  string
		perms []byte
	)
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&l.UserID, &tier, &l.IsActive, &l.ActivatedAt, &l.ExpiresAt, &perms,
		&l.Usage.ConnectionsToday, &l.Usage.MessagesToday, &l.Usage.SearchesToday, &l.Usage.ProfileViewsToday,
		&l.Usage.TotalConnections, &l.Usage.TotalSessions, &l.Usage.LastResetAt, &l.LastLoginAt, &l.LastLoginIP,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license: %w", err)
	}
	l.Tier = license.Tier(tier)
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &l.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions: %w", err)
		}
	}
	return l, nil
}

// UpdateLicenseTerms replaces tier, permissions, expiry and the active flag.
// ActivatedAt moves only when the license is switched back on.
func (r *Repository) UpdateLicenseTerms(ctx context.Context, userID string, tier license.Tier, perms license.Entitlements, expiresAt time.Time, active bool) error {
	if !tier.Valid() {
		return invalid(fmt.Sprintf("unknown tier %q", tier))
	}
	if expiresAt.IsZero() {
		return invalid("license expiry is required")
	}
	encoded, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	query := `
	UPDATE licenses SET
		tier = $2,
		permissions = $3,
		expires_at = $4,
		activated_at = CASE WHEN $5 AND NOT is_active THEN NOW() ELSE activated_at END,
		is_active = $5,
		updated_at = NOW()
	WHERE user_id = $1
	`
	return r.execOne(ctx, "update license", query, userID, string(tier), encoded, expiresAt, active)
}

// SetLicenseActive flips the active flag
func (r *Repository) SetLicenseActive(ctx context.Context, userID string, active bool) error {
	query := `UPDATE licenses SET is_active = $2, updated_at = NOW() WHERE user_id = $1`
	return r.execOne(ctx, "set license active", query, userID, active)
}

// RecordLogin stamps the login and counts the session in one statement
func (r *Repository) RecordLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	query := `
	UPDATE licenses SET
		last_login_at = $2,
		last_login_ip = $3,
		total_sessions = total_sessions + 1,
		updated_at = NOW()
	WHERE user_id = $1
	`
	return r.execOne(ctx, "record login", query, userID, at, ip)
}

// DeactivateExpiredLicenses switches off every active license whose expiry
// is before now and returns the affected principals
func (r *Repository) DeactivateExpiredLicenses(ctx context.Context, now time.Time) ([]string, error) {
	query := `
	UPDATE licenses SET is_active = FALSE, updated_at = $1
	WHERE is_active AND expires_at < $1
	RETURNING user_id
	`
	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate expired licenses: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read deactivated licenses: %w", err)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		r.logger.Info().Int("count", len(ids)).Msg("Deactivated expired licenses")
	}
	return ids, nil
}

// HasStaleUsage reports whether any license still carries counters from
// before boundary. A never-reset license counts from its creation.
func (r *Repository) HasStaleUsage(ctx context.Context, boundary time.Time) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM licenses WHERE COALESCE(last_reset_at, created_at) < $1::timestamptz)`
	var stale bool
	if err := r.db.Pool.QueryRow(ctx, query, boundary).Scan(&stale); err != nil {
		return false, fmt.Errorf("failed to check usage reset: %w", err)
	}
	return stale, nil
}

// GetLicenseStats counts licenses by tier and state. Expired wins over
// inactive.
func (r *Repository) GetLicenseStats(ctx context.Context, now time.Time) (*models.LicenseStats, error) {
	query := `
	SELECT tier,
		COUNT(*),
		COUNT(*) FILTER (WHERE expires_at <= $1),
		COUNT(*) FILTER (WHERE expires_at > $1 AND NOT is_active)
	FROM licenses
	GROUP BY tier
	`
	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get license stats: %w", err)
	}
	defer rows.Close()

	stats := &models.LicenseStats{ByTier: make(map[license.Tier]int)}
	for rows.Next() {
		var (
			tier                     string
			total, expired, inactive int
		)
		if err := rows.Scan(&tier, &total, &expired, &inactive); err != nil {
			return nil, fmt.Errorf("failed to scan license stats: %w", err)
		}
		stats.ByTier[license.Tier(tier)] = total
		stats.Total += total
		stats.Expired += expired
		stats.Inactive += inactive
		stats.Active += total - expired - inactive
	}
	return stats, rows.Err()
}

// ==================== USAGE ====================

// usageColumns maps a counter to the daily column it increments. The
// statement text is built only from this table.
var usageColumns = map[usage.Counter]string{
	usage.CounterConnections:  "connections_today",
	usage.CounterMessages:     "messages_today",
	usage.CounterSearches:     "searches_today",
	usage.CounterProfileViews: "profile_views_today",
}

func incrementStatement(counter usage.Counter) (string, error) {
	column, ok := usageColumns[counter]
	if !ok {
		return "", fmt.Errorf("%w: %q", usage.ErrUnknownCounter, counter)
	}
	set := column + " = " + column + " + 1"
	if counter == usage.CounterConnections {
		set += ", total_connections = total_connections + 1"
	}
	return `UPDATE licenses SET ` + set + `, updated_at = NOW() WHERE user_id = $1`, nil
}

// IncrementUsage bumps one daily counter atomically
func (r *Repository) IncrementUsage(ctx context.Context, userID string, counter usage.Counter) error {
	query, err := incrementStatement(counter)
	if err != nil {
		return err
	}
	return r.execOne(ctx, "increment usage", query, userID)
}

// GetUsage returns the counters of a principal, or nil without a license
func (r *Repository) GetUsage(ctx context.Context, userID string) (*models.UsageCounters, error) {
	if !validID(userID) {
		return nil, nil
	}
	query := `
	SELECT connections_today, messages_today, searches_today, profile_views_today,
		total_connections, total_sessions, last_reset_at
	FROM licenses WHERE user_id = $1
	`
	c := &models.UsageCounters{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&c.ConnectionsToday, &c.MessagesToday, &c.SearchesToday, &c.ProfileViewsToday,
		&c.TotalConnections, &c.TotalSessions, &c.LastResetAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return c, nil
}

// ResetDailyUsage zeroes the daily counters and moves every DailyReset to
// nextReset in one transaction
func (r *Repository) ResetDailyUsage(ctx context.Context, now, nextReset time.Time) (int64, error) {
	var touched int64
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
		UPDATE licenses SET
			connections_today = 0,
			messages_today = 0,
			searches_today = 0,
			profile_views_today = 0,
			last_reset_at = $1
		`, now)
		if err != nil {
			return fmt.Errorf("failed to reset counters: %w", err)
		}
		touched = tag.RowsAffected()

		if _, err := tx.Exec(ctx, `UPDATE daily_limits SET daily_reset = $1`, nextReset); err != nil {
			return fmt.Errorf("failed to advance daily reset: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Debug().Int64("licenses", touched).Time("next_reset", nextReset).Msg("Daily usage reset")
	return touched, nil
}

// execOne runs a keyed update and maps zero affected rows to ErrNotFound
func (r *Repository) execOne(ctx context.Context, op, query string, userID string, args ...interface{}) error {
	if !validID(userID) {
		return ErrNotFound
	}
	tag, err := r.db.Pool.Exec(ctx, query, append([]interface{}{userID}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
