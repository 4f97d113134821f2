package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"social-automation-dashboard/internal/models"
)

// AppendActivity inserts one immutable activity event
func (r *Repository) AppendActivity(ctx context.Context, e *models.ActivityEvent) error {
	if e.ID == "" {
		return invalid("activity id is required")
	}
	if !validID(e.UserID) {
		return invalid("activity user id must be a UUID")
	}
	if !e.Kind.Valid() {
		return invalid(fmt.Sprintf("unknown activity kind %q", e.Kind))
	}
	query := `
	INSERT INTO activity_events (id, user_id, kind, success, target, context, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Pool.Exec(ctx, query, e.ID, e.UserID, string(e.Kind), e.Success, e.Target, e.Context, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// ListActivity returns events in [from, to), newest first. limit <= 0 means
// no limit.
func (r *Repository) ListActivity(ctx context.Context, userID string, from, to time.Time, limit int) ([]models.ActivityEvent, error) {
	if !validID(userID) {
		return nil, nil
	}
	query := `
	SELECT id, user_id, kind, success, target, context, created_at
	FROM activity_events
	WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
	ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{userID, from, to}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ActivityEvent, error) {
		var (
			e    models.ActivityEvent
			kind string
		)
		err := row.Scan(&e.ID, &e.UserID, &kind, &e.Success, &e.Target, &e.Context, &e.CreatedAt)
		e.Kind = models.ActivityKind(kind)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan activity: %w", err)
	}
	return events, nil
}

// SummarizeActivity counts a principal's events in [from, to) by kind
func (r *Repository) SummarizeActivity(ctx context.Context, userID string, from, to time.Time) ([]models.ActivityCount, error) {
	if !validID(userID) {
		return []models.ActivityCount{}, nil
	}
	query := `
	SELECT kind, COUNT(*), COUNT(*) FILTER (WHERE success)
	FROM activity_events
	WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
	GROUP BY kind ORDER BY kind
	`
	return r.countActivity(ctx, query, userID, from, to)
}

// CountActivitySince counts every principal's events since the given time
func (r *Repository) CountActivitySince(ctx context.Context, since time.Time) ([]models.ActivityCount, error) {
	query := `
	SELECT kind, COUNT(*), COUNT(*) FILTER (WHERE success)
	FROM activity_events
	WHERE created_at >= $1
	GROUP BY kind ORDER BY kind
	`
	return r.countActivity(ctx, query, since)
}

func (r *Repository) countActivity(ctx context.Context, query string, args ...interface{}) ([]models.ActivityCount, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count activity: %w", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ActivityCount, error) {
		var (
			c    models.ActivityCount
			kind string
		)
		err := row.Scan(&kind, &c.Total, &c.Succeeded)
		c.Kind = models.ActivityKind(kind)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan activity counts: %w", err)
	}
	return counts, nil
}
