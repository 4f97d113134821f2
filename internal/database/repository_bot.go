package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"social-automation-dashboard/internal/models"
)

func validBotState(s models.BotState) bool {
	switch s {
	case models.BotStopped, models.BotRunning, models.BotPaused:
		return true
	}
	return false
}

// GetBotStatus returns the durable bot status, or nil when the bot has never
// been started
func (r *Repository) GetBotStatus(ctx context.Context, userID string) (*models.BotStatus, error) {
	if !validID(userID) {
		return nil, nil
	}
	query := `
	SELECT user_id, status, last_start_time, last_stop_time, current_task, error_message, updated_at
	FROM bot_status WHERE user_id = $1
	`
	b := &models.BotStatus{}
	var status string
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&b.UserID, &status, &b.LastStartTime, &b.LastStopTime, &b.CurrentTask, &b.ErrorMessage, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot status: %w", err)
	}
	b.Status = models.BotState(status)
	return b, nil
}

// CompareAndSwapBotStatus writes next only if the stored state equals
// expected. A missing row counts as stopped. The boolean reports whether the
// write happened.
func (r *Repository) CompareAndSwapBotStatus(ctx context.Context, next *models.BotStatus, expected models.BotState) (bool, error) {
	if !validID(next.UserID) {
		return false, invalid("bot status user id must be a UUID")
	}
	if !validBotState(next.Status) || !validBotState(expected) {
		return false, invalid(fmt.Sprintf("unknown bot state %q -> %q", expected, next.Status))
	}

	// The insert branch only applies when no row exists, which is the stopped
	// state; for any other expectation a missing row must not match. The
	// parameters sit in a bare SELECT list, so each needs an explicit type.
	query := `
	INSERT INTO bot_status (user_id, status, last_start_time, last_stop_time, current_task, error_message, updated_at)
	SELECT $1::uuid, $2::varchar, $3::timestamptz, $4::timestamptz, $5::text, $6::text, $7::timestamptz
	WHERE $8::varchar = 'stopped' OR EXISTS (SELECT 1 FROM bot_status WHERE user_id = $1::uuid)
	ON CONFLICT (user_id) DO UPDATE SET
		status = EXCLUDED.status,
		last_start_time = EXCLUDED.last_start_time,
		last_stop_time = EXCLUDED.last_stop_time,
		current_task = EXCLUDED.current_task,
		error_message = EXCLUDED.error_message,
		updated_at = EXCLUDED.updated_at
	WHERE bot_status.status = $8::varchar
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		next.UserID, string(next.Status), next.LastStartTime, next.LastStopTime,
		next.CurrentTask, next.ErrorMessage, next.UpdatedAt, string(expected),
	)
	if err != nil {
		if IsDuplicate(err) {
			// a concurrent first insert won the race
			return false, nil
		}
		return false, fmt.Errorf("failed to swap bot status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
