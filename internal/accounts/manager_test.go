package accounts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-automation-dashboard/internal/accounts"
	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/settings"
	"social-automation-dashboard/internal/store/memory"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type change struct {
	userID string
	kind   string
}

type recordingPublisher struct {
	changes []change
}

func (p *recordingPublisher) PublishLicenseChanged(userID, kind string, details map[string]interface{}) {
	p.changes = append(p.changes, change{userID, kind})
}

func newManager(t *testing.T) (*accounts.Manager, *memory.Store, *recordingPublisher) {
	t.Helper()
	store := memory.New()
	svc := settings.NewService(store, store, nil, 0, zerolog.Nop())
	svc.SetClock(func() time.Time { return now })
	pub := &recordingPublisher{}
	m := accounts.NewManager(store, svc, pub, zerolog.Nop())
	m.SetClock(func() time.Time { return now })
	return m, store, pub
}

func TestCreateTrial(t *testing.T) {
	m, _, pub := newManager(t)

	lic, err := m.CreateTrial(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, license.TierTrial, lic.Tier)
	assert.True(t, lic.IsActive)
	assert.True(t, lic.ExpiresAt.Equal(now.Add(30*24*time.Hour)))
	assert.Equal(t, license.LimitsFor(license.TierTrial), lic.Permissions)
	assert.Equal(t, []change{{"u1", accounts.ChangeCreated}}, pub.changes)

	_, err = m.CreateTrial(context.Background(), "u1")
	assert.ErrorIs(t, err, memory.ErrDuplicate)
}

func TestGet_Missing(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, accounts.ErrLicenseNotFound)
}

func TestUpgrade_RefreshesSnapshotAndExpiry(t *testing.T) {
	ctx := context.Background()
	m, _, pub := newManager(t)
	_, err := m.CreateTrial(ctx, "u1")
	require.NoError(t, err)

	lic, err := m.Upgrade(ctx, "u1", license.TierPremium, 90)
	require.NoError(t, err)
	assert.Equal(t, license.TierPremium, lic.Tier)
	assert.True(t, lic.Permissions.CanUseAdvancedFeatures)
	assert.True(t, lic.ExpiresAt.Equal(now.AddDate(0, 0, 90)))
	assert.Equal(t, accounts.ChangeUpgraded, pub.changes[len(pub.changes)-1].kind)

	// zero days keeps the expiry
	lic, err = m.Upgrade(ctx, "u1", license.TierBasic, 0)
	require.NoError(t, err)
	assert.True(t, lic.ExpiresAt.Equal(now.AddDate(0, 0, 90)))
}

func TestUpgrade_DowngradeReclampsLimits(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager(t)
	_, err := m.CreateTrial(ctx, "u1")
	require.NoError(t, err)
	_, err = m.Upgrade(ctx, "u1", license.TierEnterprise, 30)
	require.NoError(t, err)
	require.NoError(t, store.SaveDailyLimits(ctx, &models.DailyLimits{
		UserID: "u1", MaxConnections: 80, MaxMessages: 200, MaxProfileViews: 500, MaxSearches: 100,
	}))

	_, err = m.Upgrade(ctx, "u1", license.TierBasic, 0)
	require.NoError(t, err)

	dl, err := store.GetDailyLimits(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 25, dl.MaxConnections)
	assert.Equal(t, 25, dl.MaxMessages)
	assert.Equal(t, 100, dl.MaxProfileViews)
	assert.Equal(t, 20, dl.MaxSearches)
}

func TestUpgrade_Rejections(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)
	_, err := m.CreateTrial(ctx, "u1")
	require.NoError(t, err)

	_, err = m.Upgrade(ctx, "u1", license.Tier("platinum"), 30)
	assert.ErrorIs(t, err, accounts.ErrInvalidTier)
	_, err = m.Upgrade(ctx, "u1", license.TierBasic, -1)
	assert.ErrorIs(t, err, accounts.ErrInvalidDays)
	_, err = m.Upgrade(ctx, "nobody", license.TierBasic, 30)
	assert.ErrorIs(t, err, accounts.ErrLicenseNotFound)
}

func TestExtend(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager(t)
	_, err := m.CreateTrial(ctx, "u1")
	require.NoError(t, err)

	lic, err := m.Extend(ctx, "u1", 10)
	require.NoError(t, err)
	assert.True(t, lic.ExpiresAt.Equal(now.Add(30*24*time.Hour).AddDate(0, 0, 10)))

	_, err = m.Extend(ctx, "u1", 0)
	assert.ErrorIs(t, err, accounts.ErrInvalidDays)

	// an expired license swept off by maintenance is extended from now and reactivated
	require.NoError(t, store.UpdateLicenseTerms(ctx, "u1", license.TierTrial, license.LimitsFor(license.TierTrial), now.Add(-time.Hour), false))
	lic, err = m.Extend(ctx, "u1", 7)
	require.NoError(t, err)
	assert.True(t, lic.IsActive)
	assert.True(t, lic.ExpiresAt.Equal(now.AddDate(0, 0, 7)))
}

func TestDeactivateReactivate(t *testing.T) {
	ctx := context.Background()
	m, _, pub := newManager(t)
	_, err := m.CreateTrial(ctx, "u1")
	require.NoError(t, err)

	lic, err := m.Deactivate(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, lic.IsActive)

	lic, err = m.Reactivate(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, lic.IsActive)

	kinds := make([]string, 0, len(pub.changes))
	for _, c := range pub.changes {
		kinds = append(kinds, c.kind)
	}
	assert.Equal(t, []string{accounts.ChangeCreated, accounts.ChangeDeactivated, accounts.ChangeReactivated}, kinds)
}

func TestRecordLogin(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)
	_, err := m.CreateTrial(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, m.RecordLogin(ctx, "u1", "10.0.0.1"))
	require.NoError(t, m.RecordLogin(ctx, "u1", "10.0.0.2"))

	lic, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, lic.Usage.TotalSessions)
	assert.Equal(t, "10.0.0.2", lic.LastLoginIP)
	require.NotNil(t, lic.LastLoginAt)
	assert.True(t, lic.LastLoginAt.Equal(now))
}

func TestStorageFailure(t *testing.T) {
	m, store, _ := newManager(t)
	outage := errors.New("down")
	store.Fail = outage

	_, err := m.CreateTrial(context.Background(), "u1")
	assert.ErrorIs(t, err, outage)
	assert.ErrorIs(t, m.RecordLogin(context.Background(), "u1", ""), outage)
}
