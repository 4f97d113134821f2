package license

import (
	"strings"
)

// Tier defines the class of license a principal holds
type Tier string

const (
	TierTrial      Tier = "trial"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Feature is a boolean entitlement gated by tier
type Feature string

const (
	FeatureAdvanced Feature = "advanced_features"
	FeatureExport   Feature = "export_data"
	FeatureAPI      Feature = "api_access"
)

// Entitlements is the permission and limit set associated with a tier.
type Entitlements struct {
	MaxDailyConnections    int  `json:"max_daily_connections"`
	MaxDailyMessages       int  `json:"max_daily_messages"`
	MaxSearchKeywords      int  `json:"max_search_keywords"`
	MaxDailyProfileViews   int  `json:"max_daily_profile_views"`
	MaxDailySearches       int  `json:"max_daily_searches"`
	CanUseAdvancedFeatures bool `json:"can_use_advanced_features"`
	CanExportData          bool `json:"can_export_data"`
	CanUseAPI              bool `json:"can_use_api"`
}

// HasFeature reports whether the entitlement set grants the feature.
// Unknown features are never granted.
func (e Entitlements) HasFeature(f Feature) bool {
	switch f {
	case FeatureAdvanced:
		return e.CanUseAdvancedFeatures
	case FeatureExport:
		return e.CanExportData
	case FeatureAPI:
		return e.CanUseAPI
	default:
		return false
	}
}

// Features lists the granted features in a stable order
func (e Entitlements) Features() []Feature {
	features := make([]Feature, 0, 3)
	for _, f := range []Feature{FeatureAdvanced, FeatureExport, FeatureAPI} {
		if e.HasFeature(f) {
			features = append(features, f)
		}
	}
	return features
}

var catalog = map[Tier]Entitlements{
	TierTrial: {
		MaxDailyConnections:  5,
		MaxDailyMessages:     5,
		MaxSearchKeywords:    3,
		MaxDailyProfileViews: 25,
		MaxDailySearches:     5,
	},
	TierBasic: {
		MaxDailyConnections:  25,
		MaxDailyMessages:     25,
		MaxSearchKeywords:    10,
		MaxDailyProfileViews: 100,
		MaxDailySearches:     20,
		CanExportData:        true,
	},
	TierPremium: {
		MaxDailyConnections:    50,
		MaxDailyMessages:       100,
		MaxSearchKeywords:      50,
		MaxDailyProfileViews:   300,
		MaxDailySearches:       50,
		CanUseAdvancedFeatures: true,
		CanExportData:          true,
	},
	TierEnterprise: {
		MaxDailyConnections:    100,
		MaxDailyMessages:       250,
		MaxSearchKeywords:      200,
		MaxDailyProfileViews:   1000,
		MaxDailySearches:       200,
		CanUseAdvancedFeatures: true,
		CanExportData:          true,
		CanUseAPI:              true,
	},
}

// LimitsFor returns the entitlements for a tier. An unrecognized tier gets
// the trial entitlements so a bad record can never widen access.
func LimitsFor(tier Tier) Entitlements {
	if e, ok := catalog[tier]; ok {
		return e
	}
	return catalog[TierTrial]
}

// Tiers returns every known tier, cheapest first
func Tiers() []Tier {
	return []Tier{TierTrial, TierBasic, TierPremium, TierEnterprise}
}

// Valid reports whether t is a catalog tier
func (t Tier) Valid() bool {
	_, ok := catalog[t]
	return ok
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier normalizes a user-supplied tier name
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return TierTrial, false
	}
	return t, true
}
