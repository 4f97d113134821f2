package database

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/usage"
)

// getTestRepo connects to TEST_DATABASE_URL and migrates it. The reset and
// expiry sweeps touch every row, so point it at a scratch database.
func getTestRepo(t *testing.T) *Repository {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Failed to connect to database: %v", err)
	}
	t.Cleanup(pool.Close)

	db := &DB{Pool: pool, logger: zerolog.Nop()}
	require.NoError(t, db.RunMigrations(ctx))
	return NewRepository(db)
}

// seedLicense creates a user with a license; both go away with the test
func seedLicense(t *testing.T, repo *Repository, expiresAt, createdAt time.Time) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.New().String()

	require.NoError(t, repo.CreateUser(ctx, &models.User{
		ID: id, Email: id + "@integration.test", PasswordHash: "x",
	}))
	t.Cleanup(func() {
		_, _ = repo.db.Pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	})
	require.NoError(t, repo.CreateLicense(ctx, &models.License{
		UserID:      id,
		Tier:        license.TierBasic,
		IsActive:    true,
		ExpiresAt:   expiresAt,
		Permissions: license.LimitsFor(license.TierBasic),
		CreatedAt:   createdAt,
	}))
	return id
}

func TestIntegration_IncrementUsageConcurrent(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()
	id := seedLicense(t, repo, time.Now().Add(24*time.Hour), time.Now())

	const workers = 25
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.IncrementUsage(ctx, id, usage.CounterConnections)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	counters, err := repo.GetUsage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, counters)
	assert.Equal(t, workers, counters.ConnectionsToday, "no increment may be lost")
	assert.Equal(t, workers, counters.TotalConnections)

	assert.ErrorIs(t, repo.IncrementUsage(ctx, uuid.New().String(), usage.CounterMessages), ErrNotFound)
}

func TestIntegration_ResetDailyUsage(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()
	id := seedLicense(t, repo, time.Now().Add(24*time.Hour), time.Now())

	require.NoError(t, repo.IncrementUsage(ctx, id, usage.CounterConnections))
	require.NoError(t, repo.IncrementUsage(ctx, id, usage.CounterMessages))
	require.NoError(t, repo.IncrementUsage(ctx, id, usage.CounterSearches))

	now := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 2; i++ {
		touched, err := repo.ResetDailyUsage(ctx, now, now.Add(24*time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, touched, int64(1))

		counters, err := repo.GetUsage(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, counters.ConnectionsToday)
		assert.Zero(t, counters.MessagesToday)
		assert.Zero(t, counters.SearchesToday)
		assert.Equal(t, 1, counters.TotalConnections, "lifetime total survives the reset")
		require.NotNil(t, counters.LastResetAt)
		assert.True(t, counters.LastResetAt.Equal(now))
	}
}

func TestIntegration_HasStaleUsage(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()
	seedLicense(t, repo, time.Now().Add(24*time.Hour), time.Now())

	now := time.Now().UTC()
	_, err := repo.ResetDailyUsage(ctx, now, now.Add(24*time.Hour))
	require.NoError(t, err)

	stale, err := repo.HasStaleUsage(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, stale)

	// never reset, created two days ago
	seedLicense(t, repo, time.Now().Add(24*time.Hour), now.Add(-48*time.Hour))
	stale, err = repo.HasStaleUsage(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestIntegration_DeactivateExpiredLicenses(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()
	now := time.Now()
	expired := seedLicense(t, repo, now.Add(-time.Hour), now.Add(-48*time.Hour))
	current := seedLicense(t, repo, now.Add(time.Hour), now)

	ids, err := repo.DeactivateExpiredLicenses(ctx, now)
	require.NoError(t, err)
	assert.Contains(t, ids, expired)
	assert.NotContains(t, ids, current)

	l, err := repo.GetLicense(ctx, expired)
	require.NoError(t, err)
	assert.False(t, l.IsActive)
	l, err = repo.GetLicense(ctx, current)
	require.NoError(t, err)
	assert.True(t, l.IsActive)

	ids, err = repo.DeactivateExpiredLicenses(ctx, now)
	require.NoError(t, err)
	assert.NotContains(t, ids, expired, "an inactive license is not reported twice")
}

func TestIntegration_CompareAndSwapBotStatus(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()
	id := seedLicense(t, repo, time.Now().Add(24*time.Hour), time.Now())

	started := time.Now().UTC().Truncate(time.Microsecond)
	running := &models.BotStatus{
		UserID: id, Status: models.BotRunning, LastStartTime: &started,
		CurrentTask: "searching", UpdatedAt: started,
	}

	// a missing row only matches stopped
	ok, err := repo.CompareAndSwapBotStatus(ctx, running, models.BotPaused)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.CompareAndSwapBotStatus(ctx, running, models.BotStopped)
	require.NoError(t, err)
	require.True(t, ok)

	// a second start from the stale stopped state loses
	ok, err = repo.CompareAndSwapBotStatus(ctx, running, models.BotStopped)
	require.NoError(t, err)
	assert.False(t, ok)

	stopped := &models.BotStatus{
		UserID: id, Status: models.BotStopped, LastStartTime: &started,
		LastStopTime: &started, UpdatedAt: started,
	}
	ok, err = repo.CompareAndSwapBotStatus(ctx, stopped, models.BotRunning)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetBotStatus(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.BotStopped, got.Status)
	require.NotNil(t, got.LastStartTime)
	assert.True(t, got.LastStartTime.Equal(started))
	assert.Empty(t, got.CurrentTask)
}
