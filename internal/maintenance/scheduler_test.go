package maintenance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-automation-dashboard/internal/authz"
	"social-automation-dashboard/internal/botcontrol"
	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/maintenance"
	"social-automation-dashboard/internal/metrics"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/store/memory"
	"social-automation-dashboard/internal/usage"
)

const day = 24 * time.Hour

var now = time.Date(2025, 6, 10, 0, 0, 30, 0, time.UTC) // a Tuesday

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []string
}

func (p *recordingPublisher) PublishMaintenance(job string, data map[string]interface{}) {
	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
}

type fixture struct {
	store     *memory.Store
	ledger    *usage.Ledger
	engine    *authz.Engine
	ctrl      *botcontrol.Controller
	publisher *recordingPublisher
	sched     *maintenance.Scheduler
	clock     *clock
}

func newFixture(t *testing.T, cfg *maintenance.Config) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), publisher: &recordingPublisher{}, clock: &clock{t: now}}
	f.ledger = usage.NewLedger(f.store, zerolog.Nop())
	f.engine = authz.NewEngine(f.store, f.store, f.store, f.ledger, zerolog.Nop(), authz.WithClock(f.clock.Now))
	f.ctrl = botcontrol.NewController(f.engine, f.store, f.store, botcontrol.NewLogDispatcher(zerolog.Nop()), zerolog.Nop(),
		botcontrol.WithClock(f.clock.Now))
	f.sched = maintenance.NewScheduler(f.ledger, f.store, f.store, f.ctrl, f.publisher, cfg, zerolog.Nop())
	f.sched.SetClock(f.clock.Now)
	return f
}

// lastMidnight is the reset every fixture license has seen unless told otherwise
var lastMidnight = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

func (f *fixture) addLicense(t *testing.T, id string, tier license.Tier, expiresAt time.Time) {
	t.Helper()
	f.addLicenseResetAt(t, id, tier, expiresAt, lastMidnight)
}

func (f *fixture) addLicenseResetAt(t *testing.T, id string, tier license.Tier, expiresAt, lastReset time.Time) {
	t.Helper()
	require.NoError(t, f.store.CreateLicense(context.Background(), &models.License{
		Usage:       models.UsageCounters{LastResetAt: &lastReset},
		UserID:      id,
		Tier:        tier,
		IsActive:    true,
		ActivatedAt: now.Add(-40 * day),
		ExpiresAt:   expiresAt,
		Permissions: license.LimitsFor(tier),
		CreatedAt:   now.Add(-40 * day),
	}))
}

func TestRunDaily_ResetsCountersAndDeactivatesExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addLicense(t, "expired", license.TierTrial, now.Add(-time.Hour))
	f.addLicense(t, "current", license.TierPremium, now.Add(10*day))
	require.NoError(t, f.store.SaveDailyLimits(ctx, &models.DailyLimits{UserID: "current", MaxConnections: 10}))

	for i := 0; i < 3; i++ {
		require.NoError(t, f.ledger.RecordUsage(ctx, "current", usage.CounterConnections))
	}
	require.NoError(t, f.ledger.RecordUsage(ctx, "current", usage.CounterMessages))

	// the expired principal's bot is still running
	_, err := f.store.CompareAndSwapBotStatus(ctx, &models.BotStatus{UserID: "expired", Status: models.BotRunning}, models.BotStopped)
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.LicensesDeactivated)

	report, err := f.sched.RunDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.CountersReset)
	assert.Equal(t, []string{"expired"}, report.Deactivated)
	assert.Equal(t, 1, report.BotsStopped)
	assert.True(t, report.NextReset.Equal(time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LicensesDeactivated)-before)

	counters, err := f.store.GetUsage(ctx, "current")
	require.NoError(t, err)
	assert.Equal(t, 0, counters.ConnectionsToday)
	assert.Equal(t, 0, counters.MessagesToday)
	assert.Equal(t, 3, counters.TotalConnections, "lifetime counter survives the reset")
	require.NotNil(t, counters.LastResetAt)

	dl, err := f.store.GetDailyLimits(ctx, "current")
	require.NoError(t, err)
	assert.True(t, dl.DailyReset.Equal(report.NextReset))

	lic, err := f.store.GetLicense(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, lic.IsActive)

	bot, err := f.store.GetBotStatus(ctx, "expired")
	require.NoError(t, err)
	assert.Equal(t, models.BotStopped, bot.Status)
	assert.Equal(t, maintenance.ExpiredStopReason, bot.ErrorMessage)

	assert.Equal(t, []string{maintenance.JobDaily}, f.publisher.jobs)
	status := f.sched.GetStatus()
	assert.Equal(t, 1, status.Daily.Runs)
	assert.Empty(t, status.Daily.LastError)
}

func TestRunDaily_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addLicense(t, "expired", license.TierTrial, now.Add(-time.Hour))

	_, err := f.sched.RunDaily(ctx)
	require.NoError(t, err)
	report, err := f.sched.RunDaily(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Deactivated)
	assert.Zero(t, report.BotsStopped)
}

func TestRunDaily_FailureIsRecordedNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	outage := errors.New("database unavailable")
	f.store.Fail = outage

	before := testutil.ToFloat64(metrics.MaintenanceRuns.WithLabelValues(maintenance.JobDaily, "error"))

	report, err := f.sched.RunDaily(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, outage)
	assert.Len(t, report.Errors, 2)

	status := f.sched.GetStatus()
	assert.Equal(t, 1, status.Daily.Runs)
	assert.Contains(t, status.Daily.LastError, "database unavailable")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MaintenanceRuns.WithLabelValues(maintenance.JobDaily, "error"))-before)
}

func TestRunWeekly_ExportsGauges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addLicense(t, "a", license.TierTrial, now.Add(10*day))
	f.addLicense(t, "b", license.TierPremium, now.Add(10*day))
	f.addLicense(t, "c", license.TierPremium, now.Add(-day))
	require.NoError(t, f.store.SetLicenseActive(ctx, "a", false))

	events := []models.ActivityEvent{
		{ID: "1", UserID: "b", Kind: models.ActivityConnectionSent, Success: true, CreatedAt: now.Add(-day)},
		{ID: "2", UserID: "b", Kind: models.ActivityConnectionSent, Success: false, CreatedAt: now.Add(-2 * day)},
		{ID: "3", UserID: "b", Kind: models.ActivityMessageSent, Success: true, CreatedAt: now.Add(-10 * day)},
	}
	for i := range events {
		require.NoError(t, f.store.AppendActivity(ctx, &events[i]))
	}

	report, err := f.sched.RunWeekly(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Licenses.Total)
	assert.Equal(t, 1, report.Licenses.Active)
	assert.Equal(t, 1, report.Licenses.Expired)
	assert.Equal(t, 1, report.Licenses.Inactive)
	require.Len(t, report.Activity, 1, "events older than a week are excluded")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LicensesByTier.WithLabelValues("premium")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.LicensesByTier.WithLabelValues("enterprise")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LicensesByState.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WeeklyActivity.WithLabelValues("connection_sent", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WeeklyActivity.WithLabelValues("connection_sent", "failed")))
	assert.Equal(t, []string{maintenance.JobWeekly}, f.publisher.jobs)
}

func TestRunWeekly_StorageFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Fail = errors.New("timeout")

	_, err := f.sched.RunWeekly(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, f.sched.GetStatus().Weekly.LastError)
	assert.Empty(t, f.publisher.jobs)
}

func TestNextDailyAndWeekly(t *testing.T) {
	tue := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC), maintenance.NextDaily(tue, 0))
	assert.Equal(t, time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC), maintenance.NextDaily(tue, 18))
	assert.Equal(t, time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC), maintenance.NextDaily(tue, 12))

	assert.Equal(t, time.Date(2025, 6, 16, 6, 0, 0, 0, time.UTC), maintenance.NextWeekly(tue, time.Monday, 6))
	assert.Equal(t, time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC), maintenance.NextWeekly(tue, time.Tuesday, 18))
	assert.Equal(t, time.Date(2025, 6, 17, 12, 0, 0, 0, time.UTC), maintenance.NextWeekly(tue, time.Tuesday, 12))
}

func TestStartStop_RunsDueJobs(t *testing.T) {
	f := newFixture(t, &maintenance.Config{
		DailyHourUTC:  1,
		WeeklyDay:     time.Monday,
		WeeklyHourUTC: 6,
		CheckInterval: 5 * time.Millisecond,
	})
	f.addLicense(t, "expired", license.TierTrial, now.Add(-time.Hour))

	require.NoError(t, f.sched.Start(context.Background()))
	assert.True(t, f.sched.IsRunning())
	assert.Error(t, f.sched.Start(context.Background()), "second start is rejected")

	status := f.sched.GetStatus()
	assert.True(t, status.Daily.NextRun.Equal(time.Date(2025, 6, 10, 1, 0, 0, 0, time.UTC)))
	assert.True(t, status.Weekly.NextRun.Equal(time.Date(2025, 6, 16, 6, 0, 0, 0, time.UTC)))

	f.clock.Set(now.Add(2 * time.Hour))
	require.Eventually(t, func() bool {
		return f.sched.GetStatus().Daily.Runs == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.sched.Stop())
	assert.False(t, f.sched.IsRunning())

	status = f.sched.GetStatus()
	assert.Equal(t, 0, status.Weekly.Runs)
	assert.True(t, status.Daily.NextRun.Equal(time.Date(2025, 6, 11, 1, 0, 0, 0, time.UTC)))
}

func TestStart_StopsWithContext(t *testing.T) {
	f := newFixture(t, &maintenance.Config{CheckInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.sched.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !f.sched.IsRunning() }, time.Second, 5*time.Millisecond)
}

func TestStart_RunsMissedDailyReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &maintenance.Config{DailyHourUTC: 0, WeeklyDay: time.Monday, WeeklyHourUTC: 6, CheckInterval: time.Hour})
	// the process was down across midnight: the last reset is a day old
	f.addLicenseResetAt(t, "u1", license.TierTrial, now.Add(10*day), lastMidnight.Add(-day))
	for i := 0; i < 5; i++ {
		require.NoError(t, f.ledger.RecordUsage(ctx, "u1", usage.CounterConnections))
	}
	decision, err := f.engine.Authorize(ctx, "u1", authz.ActionConnection)
	require.NoError(t, err)
	require.Equal(t, authz.ReasonDailyLimitExceeded, decision.Reason)

	require.NoError(t, f.sched.Start(ctx))
	require.NoError(t, f.sched.Stop())

	status := f.sched.GetStatus()
	assert.Equal(t, 1, status.Daily.Runs)
	assert.True(t, status.Daily.NextRun.Equal(time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)))
	assert.Zero(t, status.Weekly.Runs)

	counters, err := f.store.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, counters.ConnectionsToday)

	f.clock.Set(now.Add(20 * time.Hour))
	decision, err = f.engine.Authorize(ctx, "u1", authz.ActionConnection)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestStart_NoCatchUpWhenResetIsCurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &maintenance.Config{CheckInterval: time.Hour})
	f.addLicense(t, "u1", license.TierTrial, now.Add(10*day))
	// created after midnight and never reset
	require.NoError(t, f.store.CreateLicense(ctx, &models.License{
		UserID: "fresh", Tier: license.TierTrial, IsActive: true,
		ExpiresAt: now.Add(30 * day), CreatedAt: now,
	}))
	require.NoError(t, f.ledger.RecordUsage(ctx, "u1", usage.CounterConnections))

	require.NoError(t, f.sched.Start(ctx))
	require.NoError(t, f.sched.Stop())

	assert.Zero(t, f.sched.GetStatus().Daily.Runs)
	counters, err := f.store.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, counters.ConnectionsToday)
}

func TestStart_NeverResetLicenseFromBeforeMidnight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &maintenance.Config{CheckInterval: time.Hour})
	require.NoError(t, f.store.CreateLicense(ctx, &models.License{
		UserID: "old", Tier: license.TierTrial, IsActive: true,
		ExpiresAt: now.Add(30 * day), CreatedAt: now.Add(-2 * time.Hour),
	}))

	require.NoError(t, f.sched.Start(ctx))
	require.NoError(t, f.sched.Stop())
	assert.Equal(t, 1, f.sched.GetStatus().Daily.Runs)
}

type recordingPurger struct {
	patterns []string
}

func (p *recordingPurger) DeletePattern(ctx context.Context, pattern string) (int, error) {
	p.patterns = append(p.patterns, pattern)
	return 3, nil
}

func TestRunDaily_PurgesCachedLimits(t *testing.T) {
	f := newFixture(t, nil)
	purger := &recordingPurger{}
	f.sched.SetSettingsCache(purger)

	report, err := f.sched.RunDaily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"user:*:limits"}, purger.patterns)
	assert.Equal(t, 3, report.CachePurged)
}
