package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/store/memory"
)

func seedLicense(t *testing.T, s *memory.Store, userID string, tier license.Tier, expiresAt time.Time) {
	t.Helper()
	now := time.Now()
	require.NoError(t, s.CreateLicense(context.Background(), &models.License{
		UserID:      userID,
		Tier:        tier,
		IsActive:    true,
		ActivatedAt: now,
		ExpiresAt:   expiresAt,
		Permissions: license.LimitsFor(tier),
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
}

// execute runs the tool against s and returns its output
func execute(t *testing.T, s *memory.Store, args ...string) (string, error) {
	t.Helper()
	opened := 0
	root := newRootCmd(func(ctx context.Context) (*toolkit, func(), error) {
		opened++
		return newToolkit(s, zerolog.Nop()), func() {}, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	assert.LessOrEqual(t, opened, 1)
	return out.String(), err
}

func TestTiers_RunsWithoutDatabase(t *testing.T) {
	root := newRootCmd(func(ctx context.Context) (*toolkit, func(), error) {
		return nil, nil, errors.New("no database")
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"tiers"})

	require.NoError(t, root.Execute())
	for _, tier := range license.Tiers() {
		assert.Contains(t, out.String(), string(tier))
	}
	assert.Contains(t, out.String(), "api_access")
}

func TestShow(t *testing.T) {
	s := memory.New()
	seedLicense(t, s, "u1", license.TierBasic, time.Now().Add(10*24*time.Hour))

	out, err := execute(t, s, "show", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "basic")
	assert.Contains(t, out, "active")

	_, err = execute(t, s, "show", "missing")
	assert.Error(t, err)
}

func TestUpgrade(t *testing.T) {
	s := memory.New()
	seedLicense(t, s, "u1", license.TierTrial, time.Now().Add(24*time.Hour))

	_, err := execute(t, s, "upgrade", "u1", "platinum")
	assert.ErrorContains(t, err, "unknown tier")

	out, err := execute(t, s, "upgrade", "u1", "Premium", "--days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "Upgraded u1 to premium")

	lic, err := s.GetLicense(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, license.TierPremium, lic.Tier)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), lic.ExpiresAt, 2*time.Hour)
}

func TestExtend(t *testing.T) {
	s := memory.New()
	expires := time.Now().Add(5 * 24 * time.Hour)
	seedLicense(t, s, "u1", license.TierBasic, expires)

	_, err := execute(t, s, "extend", "u1", "--days", "10")
	require.NoError(t, err)

	lic, err := s.GetLicense(context.Background(), "u1")
	require.NoError(t, err)
	assert.WithinDuration(t, expires.Add(10*24*time.Hour), lic.ExpiresAt, 2*time.Hour)

	_, err = execute(t, s, "extend", "u1", "--days", "0")
	assert.Error(t, err)
}

func TestDeactivate_StopsBot(t *testing.T) {
	s := memory.New()
	seedLicense(t, s, "u1", license.TierBasic, time.Now().Add(24*time.Hour))
	ctx := context.Background()
	swapped, err := s.CompareAndSwapBotStatus(ctx, &models.BotStatus{UserID: "u1", Status: models.BotRunning}, models.BotStopped)
	require.NoError(t, err)
	require.True(t, swapped)

	out, err := execute(t, s, "deactivate", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deactivated u1")

	lic, err := s.GetLicense(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, lic.IsActive)

	status, err := s.GetBotStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.BotStopped, status.Status)
	assert.Equal(t, DeactivatedStopReason, status.ErrorMessage)
}

func TestStatsAndMaintenance(t *testing.T) {
	s := memory.New()
	seedLicense(t, s, "active", license.TierPremium, time.Now().Add(24*time.Hour))
	seedLicense(t, s, "lapsed", license.TierTrial, time.Now().Add(-time.Hour))

	out, err := execute(t, s, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Total:")
	assert.Contains(t, out, "premium")

	out, err = execute(t, s, "maintenance", "daily")
	require.NoError(t, err)
	assert.Contains(t, out, "Deactivated: 1")
	assert.Contains(t, out, "lapsed")

	lic, err := s.GetLicense(context.Background(), "lapsed")
	require.NoError(t, err)
	assert.False(t, lic.IsActive)

	out, err = execute(t, s, "maintenance", "weekly")
	require.NoError(t, err)
	assert.Contains(t, out, "Activity (7 days):")
}
