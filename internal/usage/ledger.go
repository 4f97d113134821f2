// Package usage tracks how much of each daily quota a principal has consumed.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"social-automation-dashboard/internal/models"
)

// Counter names one daily quota counter
type Counter string

const (
	CounterConnections  Counter = "connections"
	CounterMessages     Counter = "messages"
	CounterSearches     Counter = "searches"
	CounterProfileViews Counter = "profile_views"
)

// Counters lists every quota counter
func Counters() []Counter {
	return []Counter{CounterConnections, CounterMessages, CounterSearches, CounterProfileViews}
}

// Valid reports whether c is a known counter
func (c Counter) Valid() bool {
	switch c {
	case CounterConnections, CounterMessages, CounterSearches, CounterProfileViews:
		return true
	}
	return false
}

var (
	ErrUnknownCounter = errors.New("unknown usage counter")
	ErrNoLicense      = errors.New("no license record for principal")
)

// Store is the persistence the ledger needs. IncrementUsage must be a single
// atomic read-modify-write per principal and counter; a connection increment
// also bumps the lifetime connection total in the same operation.
type Store interface {
	IncrementUsage(ctx context.Context, userID string, counter Counter) error
	GetUsage(ctx context.Context, userID string) (*models.UsageCounters, error)
	// ResetDailyUsage zeroes every principal's daily counters, leaves lifetime
	// counters alone and moves DailyLimits.DailyReset to nextReset. It returns
	// the number of license rows touched.
	ResetDailyUsage(ctx context.Context, now, nextReset time.Time) (int64, error)
}

// Ledger is the usage ledger
type Ledger struct {
	store  Store
	logger zerolog.Logger
}

// NewLedger creates a ledger over the given store
func NewLedger(store Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With().Str("component", "UsageLedger").Logger(),
	}
}

// RecordUsage increments the counter for the principal. It never rejects;
// quota enforcement happens before this call.
func (l *Ledger) RecordUsage(ctx context.Context, userID string, counter Counter) error {
	if !counter.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCounter, counter)
	}
	if err := l.store.IncrementUsage(ctx, userID, counter); err != nil {
		l.logger.Error().Err(err).Str("user_id", userID).Str("counter", string(counter)).Msg("Failed to record usage")
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Usage returns the current counters of a principal
func (l *Ledger) Usage(ctx context.Context, userID string) (*models.UsageCounters, error) {
	counters, err := l.store.GetUsage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	if counters == nil {
		return nil, ErrNoLicense
	}
	return counters, nil
}

// Remaining returns max(0, limit - used) for the counter
func (l *Ledger) Remaining(ctx context.Context, userID string, counter Counter, limit int) (int, error) {
	counters, err := l.Usage(ctx, userID)
	if err != nil {
		return 0, err
	}
	return RemainingFrom(*counters, counter, limit), nil
}

// IsExhausted reports whether no unit of the counter is left
func (l *Ledger) IsExhausted(ctx context.Context, userID string, counter Counter, limit int) (bool, error) {
	remaining, err := l.Remaining(ctx, userID, counter, limit)
	if err != nil {
		return false, err
	}
	return remaining <= 0, nil
}

// ResetAll zeroes every principal's daily counters. Calling it again right
// away changes nothing; lifetime counters are never touched.
func (l *Ledger) ResetAll(ctx context.Context, now, nextReset time.Time) (int64, error) {
	n, err := l.store.ResetDailyUsage(ctx, now, nextReset)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily usage: %w", err)
	}
	l.logger.Info().Int64("licenses", n).Time("next_reset", nextReset).Msg("Daily usage reset")
	return n, nil
}

// Used returns the daily value of a counter
func Used(c models.UsageCounters, counter Counter) int {
	switch counter {
	case CounterConnections:
		return c.ConnectionsToday
	case CounterMessages:
		return c.MessagesToday
	case CounterSearches:
		return c.SearchesToday
	case CounterProfileViews:
		return c.ProfileViewsToday
	}
	return 0
}

// RemainingFrom computes max(0, limit - used) from a counters snapshot
func RemainingFrom(c models.UsageCounters, counter Counter, limit int) int {
	remaining := limit - Used(c, counter)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Apply increments a counter on an in-memory snapshot. Stores that keep
// counters in process use it under their own lock.
func Apply(c *models.UsageCounters, counter Counter) {
	switch counter {
	case CounterConnections:
		c.ConnectionsToday++
		c.TotalConnections++
	case CounterMessages:
		c.MessagesToday++
	case CounterSearches:
		c.SearchesToday++
	case CounterProfileViews:
		c.ProfileViewsToday++
	}
}

// ResetDaily zeroes the daily counters of a snapshot
func ResetDaily(c *models.UsageCounters, now time.Time) {
	c.ConnectionsToday = 0
	c.MessagesToday = 0
	c.SearchesToday = 0
	c.ProfileViewsToday = 0
	c.LastResetAt = &now
}

// NextReset returns the next daily boundary strictly after now, at hour:00 UTC
func NextReset(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
