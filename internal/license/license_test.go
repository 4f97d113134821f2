package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitsFor_KnownTiers(t *testing.T) {
	tests := []struct {
		tier        Tier
		connections int
		keywords    int
		export      bool
		api         bool
	}{
		{TierTrial, 5, 3, false, false},
		{TierBasic, 25, 10, true, false},
		{TierPremium, 50, 50, true, false},
		{TierEnterprise, 100, 200, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			e := LimitsFor(tt.tier)
			assert.Equal(t, tt.connections, e.MaxDailyConnections)
			assert.Equal(t, tt.keywords, e.MaxSearchKeywords)
			assert.Equal(t, tt.export, e.CanExportData)
			assert.Equal(t, tt.api, e.CanUseAPI)
		})
	}
}

func TestLimitsFor_UnknownTierFallsBackToTrial(t *testing.T) {
	trial := LimitsFor(TierTrial)
	for _, raw := range []string{"", "gold", "ENTERPRISE ", "premium-plus"} {
		assert.Equal(t, trial, LimitsFor(Tier(raw)), "tier %q", raw)
	}
}

func TestCeilingsGrowWithTier(t *testing.T) {
	tiers := Tiers()
	for i := 1; i < len(tiers); i++ {
		lower, higher := LimitsFor(tiers[i-1]), LimitsFor(tiers[i])
		assert.GreaterOrEqual(t, higher.MaxDailyConnections, lower.MaxDailyConnections)
		assert.GreaterOrEqual(t, higher.MaxDailyMessages, lower.MaxDailyMessages)
		assert.GreaterOrEqual(t, higher.MaxDailyProfileViews, lower.MaxDailyProfileViews)
		assert.GreaterOrEqual(t, higher.MaxDailySearches, lower.MaxDailySearches)
	}
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier(" Premium ")
	assert.True(t, ok)
	assert.Equal(t, TierPremium, tier)

	tier, ok = ParseTier("platinum")
	assert.False(t, ok)
	assert.Equal(t, TierTrial, tier)
}

func TestHasFeature(t *testing.T) {
	assert.False(t, LimitsFor(TierTrial).HasFeature(FeatureExport))
	assert.True(t, LimitsFor(TierBasic).HasFeature(FeatureExport))
	assert.False(t, LimitsFor(TierPremium).HasFeature(FeatureAPI))
	assert.True(t, LimitsFor(TierEnterprise).HasFeature(FeatureAPI))
	assert.False(t, LimitsFor(TierEnterprise).HasFeature(Feature("teleport")))
	assert.Equal(t, []Feature{FeatureAdvanced, FeatureExport, FeatureAPI}, LimitsFor(TierEnterprise).Features())
	assert.Empty(t, LimitsFor(TierTrial).Features())
}
