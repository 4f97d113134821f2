// Package activity keeps the append-only log of what the bot did on behalf
// of a principal.
package activity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"social-automation-dashboard/internal/authz"
	"social-automation-dashboard/internal/models"
)

// MaxListLimit caps the number of events returned by one List call
const MaxListLimit = 1000

// ErrInvalidKind is returned for an unknown activity kind
var ErrInvalidKind = errors.New("invalid activity kind")

// Store persists activity events
type Store interface {
	AppendActivity(ctx context.Context, e *models.ActivityEvent) error
	ListActivity(ctx context.Context, userID string, from, to time.Time, limit int) ([]models.ActivityEvent, error)
	SummarizeActivity(ctx context.Context, userID string, from, to time.Time) ([]models.ActivityCount, error)
}

// UsageRecorder charges a quota unit; implemented by authz.Engine
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID string, action authz.Action) error
}

// Report is what the bot sends after performing an action
type Report struct {
	Kind    models.ActivityKind `json:"kind" binding:"required"`
	Success bool                `json:"success"`
	Target  string              `json:"target,omitempty"`
	Context string              `json:"context,omitempty"`
}

// Summary is the per-kind breakdown over a time window
type Summary struct {
	From   time.Time              `json:"from"`
	To     time.Time              `json:"to"`
	Counts []models.ActivityCount `json:"counts"`
	Total  int                    `json:"total"`
}

// Service records and queries activity
type Service struct {
	store   Store
	usage   UsageRecorder
	now     func() time.Time
	logger  zerolog.Logger
	entropy *ulid.MonotonicEntropy
	mu      sync.Mutex
}

// NewService creates an activity service
func NewService(store Store, usage UsageRecorder, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		usage:   usage,
		now:     time.Now,
		logger:  logger.With().Str("component", "ActivityService").Logger(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// SetClock replaces the wall clock
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Record appends an event. A successful event of a quota kind also charges
// one unit of the matching daily counter.
func (s *Service) Record(ctx context.Context, userID string, r Report) (*models.ActivityEvent, error) {
	if !r.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, r.Kind)
	}
	now := s.now()
	event := &models.ActivityEvent{
		ID:        s.newID(now),
		UserID:    userID,
		Kind:      r.Kind,
		Success:   r.Success,
		Target:    r.Target,
		Context:   r.Context,
		CreatedAt: now,
	}
	if err := s.store.AppendActivity(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to append activity: %w", err)
	}

	if action, ok := authz.ActionForActivity(r.Kind); ok && r.Success {
		if err := s.usage.RecordUsage(ctx, userID, action); err != nil {
			return event, fmt.Errorf("failed to charge usage: %w", err)
		}
	}
	return event, nil
}

// List returns events in [from, to), newest first. limit <= 0 or above
// MaxListLimit is treated as MaxListLimit.
func (s *Service) List(ctx context.Context, userID string, from, to time.Time, limit int) ([]models.ActivityEvent, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	events, err := s.store.ListActivity(ctx, userID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return events, nil
}

// Export returns the newest MaxListLimit events in [from, to) and whether
// older events in the window were left out
func (s *Service) Export(ctx context.Context, userID string, from, to time.Time) ([]models.ActivityEvent, bool, error) {
	events, err := s.store.ListActivity(ctx, userID, from, to, MaxListLimit+1)
	if err != nil {
		return nil, false, fmt.Errorf("failed to export activity: %w", err)
	}
	if len(events) > MaxListLimit {
		return events[:MaxListLimit], true, nil
	}
	return events, false, nil
}

// Summary counts events by kind in [from, to)
func (s *Service) Summary(ctx context.Context, userID string, from, to time.Time) (*Summary, error) {
	counts, err := s.store.SummarizeActivity(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize activity: %w", err)
	}
	out := &Summary{From: from, To: to, Counts: counts}
	for _, c := range counts {
		out.Total += c.Total
	}
	return out, nil
}

// Window resolves an optional [from, to) window; the default is the last days
func (s *Service) Window(from, to *time.Time, days int) (time.Time, time.Time) {
	end := s.now()
	if to != nil {
		end = *to
	}
	start := end.AddDate(0, 0, -days)
	if from != nil {
		start = *from
	}
	return start, end
}

func (s *Service) newID(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}
