// Package warmup computes account-age based pacing for new automation accounts.
// Every function here is pure: phase is derived from the account start date
// and the caller's clock on each call and is never cached.
package warmup

import (
	"math"
	"time"

	"social-automation-dashboard/internal/models"
)

const day = 24 * time.Hour

// Limits are the caps of one phase
type Limits = models.WarmupCaps

var defaultSchedule = map[models.WarmupPhase]Limits{
	models.WarmupWeek1:     {DailyConnections: 5, WeeklyConnections: 25, DailyMessages: 5},
	models.WarmupWeek2:     {DailyConnections: 10, WeeklyConnections: 50, DailyMessages: 15},
	models.WarmupWeek3:     {DailyConnections: 20, WeeklyConnections: 100, DailyMessages: 30},
	models.WarmupWeek4Plus: {DailyConnections: 40, WeeklyConnections: 200, DailyMessages: 60},
}

// Phases lists the concrete phases in order
func Phases() []models.WarmupPhase {
	return []models.WarmupPhase{
		models.WarmupWeek1,
		models.WarmupWeek2,
		models.WarmupWeek3,
		models.WarmupWeek4Plus,
	}
}

// ValidPhase accepts the concrete phases and auto
func ValidPhase(p models.WarmupPhase) bool {
	if p == models.WarmupAuto {
		return true
	}
	_, ok := defaultSchedule[p]
	return ok
}

// DefaultSchedule returns a copy of the built-in caps table
func DefaultSchedule() map[models.WarmupPhase]Limits {
	out := make(map[models.WarmupPhase]Limits, len(defaultSchedule))
	for p, l := range defaultSchedule {
		out[p] = l
	}
	return out
}

// CurrentPhase maps the whole days elapsed since start to a phase:
// days 0-7 are week1, 8-14 week2, 15-21 week3 and later week4plus.
// A start date in the future is treated as day 0.
func CurrentPhase(start, now time.Time) models.WarmupPhase {
	days := int(now.Sub(start) / day)
	if days < 0 {
		days = 0
	}
	week := int(math.Ceil(float64(days) / 7))
	switch {
	case week <= 1:
		return models.WarmupWeek1
	case week == 2:
		return models.WarmupWeek2
	case week == 3:
		return models.WarmupWeek3
	default:
		return models.WarmupWeek4Plus
	}
}

// CurrentLimits looks up the default caps for a phase. Unknown phases and
// auto resolve to week1, the most restrictive row.
func CurrentLimits(phase models.WarmupPhase) Limits {
	if l, ok := defaultSchedule[phase]; ok {
		return l
	}
	return defaultSchedule[models.WarmupWeek1]
}

// ShouldRespectWarmup reports whether warm-up pacing constrains the principal
func ShouldRespectWarmup(state models.WarmupState, overrideWarmup bool) bool {
	return state.Enabled && !overrideWarmup
}

// EffectivePhase returns the manually pinned phase, or the computed one
// when the state is on auto.
func EffectivePhase(state models.WarmupState, now time.Time) models.WarmupPhase {
	if state.Phase != models.WarmupAuto && ValidPhase(state.Phase) {
		return state.Phase
	}
	return CurrentPhase(state.StartDate, now)
}

// LimitsFor resolves the caps for the state's effective phase, preferring a
// per-principal schedule row over the default table.
func LimitsFor(state models.WarmupState, now time.Time) (models.WarmupPhase, Limits) {
	phase := EffectivePhase(state, now)
	if l, ok := state.Schedule[phase]; ok {
		return phase, l
	}
	return phase, CurrentLimits(phase)
}

// DefaultState is the state materialized for a principal with no record
func DefaultState(userID string, start time.Time) models.WarmupState {
	return models.WarmupState{
		UserID:    userID,
		Enabled:   true,
		Phase:     models.WarmupAuto,
		StartDate: start,
	}
}
