// Package maintenance runs the nightly usage reset and license expiry sweep
// and the weekly license/activity report.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"social-automation-dashboard/internal/botcontrol"
	"social-automation-dashboard/internal/cache"
	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/metrics"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/usage"
)

const (
	JobDaily  = "daily"
	JobWeekly = "weekly"
)

// ExpiredStopReason is recorded on bots stopped by the expiry sweep
const ExpiredStopReason = "license expired"

// Config holds scheduler configuration
type Config struct {
	// DailyHourUTC is the hour of the usage reset and expiry sweep
	DailyHourUTC int

	// Weekly report timing
	WeeklyDay     time.Weekday
	WeeklyHourUTC int

	// CheckInterval is how often the loop looks at the clock
	CheckInterval time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() *Config {
	return &Config{
		DailyHourUTC:  0,
		WeeklyDay:     time.Monday,
		WeeklyHourUTC: 6,
		CheckInterval: time.Minute,
	}
}

// UsageResetter zeroes daily counters; implemented by usage.Ledger
type UsageResetter interface {
	ResetAll(ctx context.Context, now, nextReset time.Time) (int64, error)
}

// LicenseStore is the license surface maintenance works on
type LicenseStore interface {
	DeactivateExpiredLicenses(ctx context.Context, now time.Time) ([]string, error)
	GetLicenseStats(ctx context.Context, now time.Time) (*models.LicenseStats, error)
	// HasStaleUsage reports whether any license was last reset (or, never
	// reset, created) before boundary
	HasStaleUsage(ctx context.Context, boundary time.Time) (bool, error)
}

// SettingsPurger drops cached settings; implemented by cache.CacheService
type SettingsPurger interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// ActivityCounter aggregates activity over all principals
type ActivityCounter interface {
	CountActivitySince(ctx context.Context, since time.Time) ([]models.ActivityCount, error)
}

// BotStopper halts the bots of deactivated principals
type BotStopper interface {
	EmergencyStop(ctx context.Context, userID, reason string) (botcontrol.Snapshot, error)
}

// Publisher announces finished runs
type Publisher interface {
	PublishMaintenance(job string, data map[string]interface{})
}

// DailyReport is the outcome of one daily run
type DailyReport struct {
	StartedAt     time.Time `json:"started_at"`
	Duration      string    `json:"duration"`
	CountersReset int64     `json:"counters_reset"`
	NextReset     time.Time `json:"next_reset"`
	CachePurged   int       `json:"cache_purged"`
	Deactivated   []string  `json:"deactivated"`
	BotsStopped   int       `json:"bots_stopped"`
	Errors        []string  `json:"errors,omitempty"`
}

// WeeklyReport is the outcome of one weekly run
type WeeklyReport struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Licenses    *models.LicenseStats   `json:"licenses"`
	Activity    []models.ActivityCount `json:"activity"`
}

// JobStatus tracks the last and next run of a job
type JobStatus struct {
	LastRun   time.Time `json:"last_run"`
	NextRun   time.Time `json:"next_run"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
}

// Status is the scheduler status reported to operators
type Status struct {
	Running bool      `json:"running"`
	Daily   JobStatus `json:"daily"`
	Weekly  JobStatus `json:"weekly"`
}

// Scheduler handles scheduled maintenance operations
type Scheduler struct {
	ledger    UsageResetter
	licenses  LicenseStore
	activity  ActivityCounter
	bots      BotStopper
	publisher Publisher
	purger    SettingsPurger
	config    *Config
	now       func() time.Time
	logger    zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	daily    JobStatus
	weekly   JobStatus
}

// NewScheduler creates a maintenance scheduler. publisher may be nil.
func NewScheduler(
	ledger UsageResetter,
	licenses LicenseStore,
	activity ActivityCounter,
	bots BotStopper,
	publisher Publisher,
	config *Config,
	logger zerolog.Logger,
) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	return &Scheduler{
		ledger:    ledger,
		licenses:  licenses,
		activity:  activity,
		bots:      bots,
		publisher: publisher,
		config:    config,
		now:       time.Now,
		logger:    logger.With().Str("component", "MaintenanceScheduler").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// SetClock replaces the wall clock; used by tests
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetSettingsCache makes the daily run purge cached daily limits, whose
// DailyReset the reset moves
func (s *Scheduler) SetSettingsCache(p SettingsPurger) {
	s.purger = p
}

// Start starts the scheduler loop. It stops on Stop or when ctx is done.
// When the last daily boundary passed without a reset (the process was down
// at the time) the daily job runs right away.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	now := s.now()
	nextDaily := NextDaily(now, s.config.DailyHourUTC)
	boundary := nextDaily.Add(-24 * time.Hour)
	missed, err := s.licenses.HasStaleUsage(ctx, boundary)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to check for a missed daily reset")
	}
	if missed {
		nextDaily = boundary
	}

	s.mu.Lock()
	s.daily.NextRun = nextDaily
	s.weekly.NextRun = NextWeekly(now, s.config.WeeklyDay, s.config.WeeklyHourUTC)
	s.mu.Unlock()

	s.logger.Info().
		Time("next_daily", nextDaily).
		Time("next_weekly", s.weekly.NextRun).
		Bool("catch_up", missed).
		Msg("Starting maintenance scheduler")

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop stops the scheduler and waits for an in-flight run to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info().Msg("Maintenance scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetStatus returns the scheduler status
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, Daily: s.daily, Weekly: s.weekly}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs whatever job is due. A failed run is not retried until its next slot.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	dailyDue := !now.Before(s.daily.NextRun)
	weeklyDue := !now.Before(s.weekly.NextRun)
	s.mu.Unlock()

	if dailyDue {
		if _, err := s.RunDaily(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Daily maintenance failed")
		}
		s.mu.Lock()
		s.daily.NextRun = NextDaily(now, s.config.DailyHourUTC)
		s.mu.Unlock()
	}
	if weeklyDue {
		if _, err := s.RunWeekly(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Weekly maintenance failed")
		}
		s.mu.Lock()
		s.weekly.NextRun = NextWeekly(now, s.config.WeeklyDay, s.config.WeeklyHourUTC)
		s.mu.Unlock()
	}
}

// RunDaily resets every daily counter, deactivates licenses whose expiry has
// passed and emergency-stops their bots. Every step runs even when an
// earlier one failed; the joined error lists all failures.
func (s *Scheduler) RunDaily(ctx context.Context) (*DailyReport, error) {
	start := s.now()
	report := &DailyReport{
		StartedAt: start,
		NextReset: NextDaily(start, s.config.DailyHourUTC),
	}
	var errs []error

	n, err := s.ledger.ResetAll(ctx, start, report.NextReset)
	if err != nil {
		errs = append(errs, err)
	}
	report.CountersReset = n

	if s.purger != nil {
		purged, err := s.purger.DeletePattern(ctx, cache.DailyLimitsKey("*"))
		if err != nil {
			// entries expire on their own; only the DailyReset shown is stale until then
			s.logger.Warn().Err(err).Msg("Failed to purge cached daily limits")
		}
		report.CachePurged = purged
	}

	ids, err := s.licenses.DeactivateExpiredLicenses(ctx, start)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to deactivate expired licenses: %w", err))
	}
	report.Deactivated = ids
	metrics.LicensesDeactivated.Add(float64(len(ids)))

	for _, id := range ids {
		if _, err := s.bots.EmergencyStop(ctx, id, ExpiredStopReason); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop bot of %s: %w", id, err))
			continue
		}
		report.BotsStopped++
	}
	if pruner, ok := s.bots.(interface{ PruneCache() int }); ok {
		pruner.PruneCache()
	}

	for _, e := range errs {
		report.Errors = append(report.Errors, e.Error())
	}
	report.Duration = s.now().Sub(start).String()
	joined := errors.Join(errs...)
	s.finish(JobDaily, &s.daily, start, joined)

	s.logger.Info().
		Int64("counters_reset", report.CountersReset).
		Int("deactivated", len(report.Deactivated)).
		Int("bots_stopped", report.BotsStopped).
		Int("errors", len(report.Errors)).
		Msg("Daily maintenance complete")

	if s.publisher != nil {
		s.publisher.PublishMaintenance(JobDaily, map[string]interface{}{
			"counters_reset": report.CountersReset,
			"deactivated":    len(report.Deactivated),
			"bots_stopped":   report.BotsStopped,
		})
	}
	return report, joined
}

// RunWeekly gathers license and activity statistics for the trailing week
// and exports them as gauges
func (s *Scheduler) RunWeekly(ctx context.Context) (*WeeklyReport, error) {
	start := s.now()
	report := &WeeklyReport{GeneratedAt: start}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := s.licenses.GetLicenseStats(gctx, start)
		if err != nil {
			return fmt.Errorf("failed to load license stats: %w", err)
		}
		report.Licenses = stats
		return nil
	})
	g.Go(func() error {
		counts, err := s.activity.CountActivitySince(gctx, start.Add(-7*24*time.Hour))
		if err != nil {
			return fmt.Errorf("failed to count activity: %w", err)
		}
		report.Activity = counts
		return nil
	})
	err := g.Wait()
	s.finish(JobWeekly, &s.weekly, start, err)
	if err != nil {
		return nil, err
	}

	exportGauges(report)

	s.logger.Info().
		Int("licenses", report.Licenses.Total).
		Int("active", report.Licenses.Active).
		Int("expired", report.Licenses.Expired).
		Int("inactive", report.Licenses.Inactive).
		Interface("by_tier", report.Licenses.ByTier).
		Interface("activity", report.Activity).
		Msg("Weekly report")

	if s.publisher != nil {
		s.publisher.PublishMaintenance(JobWeekly, map[string]interface{}{
			"licenses": report.Licenses,
			"activity": report.Activity,
		})
	}
	return report, nil
}

func (s *Scheduler) finish(job string, status *JobStatus, at time.Time, err error) {
	result := "ok"
	s.mu.Lock()
	status.LastRun = at
	status.Runs++
	status.LastError = ""
	if err != nil {
		status.LastError = err.Error()
		result = "error"
	}
	s.mu.Unlock()
	metrics.MaintenanceRuns.WithLabelValues(job, result).Inc()
}

func exportGauges(report *WeeklyReport) {
	for _, tier := range license.Tiers() {
		metrics.LicensesByTier.WithLabelValues(string(tier)).Set(float64(report.Licenses.ByTier[tier]))
	}
	metrics.LicensesByState.WithLabelValues("active").Set(float64(report.Licenses.Active))
	metrics.LicensesByState.WithLabelValues("expired").Set(float64(report.Licenses.Expired))
	metrics.LicensesByState.WithLabelValues("inactive").Set(float64(report.Licenses.Inactive))

	metrics.WeeklyActivity.Reset()
	for _, c := range report.Activity {
		metrics.WeeklyActivity.WithLabelValues(string(c.Kind), "succeeded").Set(float64(c.Succeeded))
		metrics.WeeklyActivity.WithLabelValues(string(c.Kind), "failed").Set(float64(c.Total - c.Succeeded))
	}
}

// NextDaily returns the next hour:00 UTC strictly after now
func NextDaily(now time.Time, hour int) time.Time {
	return usage.NextReset(now, hour)
}

// NextWeekly returns the next weekday at hour:00 UTC strictly after now
func NextWeekly(now time.Time, day time.Weekday, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	days := (int(day) - int(now.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
