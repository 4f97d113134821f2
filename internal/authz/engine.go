// Package authz decides whether a principal may perform an action. It combines
// tier entitlements, the principal's daily limits, today's usage and the
// warm-up schedule. Checks never mutate state.
package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/metrics"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/usage"
	"social-automation-dashboard/internal/warmup"
)

// LicenseReader loads a principal's license record, usage counters included.
// A missing record is (nil, nil).
type LicenseReader interface {
	GetLicense(ctx context.Context, userID string) (*models.License, error)
}

// LimitsReader loads the daily limits record; (nil, nil) when none exists yet
type LimitsReader interface {
	GetDailyLimits(ctx context.Context, userID string) (*models.DailyLimits, error)
}

// WarmupReader loads the warm-up state; (nil, nil) when none exists yet
type WarmupReader interface {
	GetWarmupState(ctx context.Context, userID string) (*models.WarmupState, error)
}

// UsageObserver is told about every recorded usage unit
type UsageObserver func(userID string, action Action)

// Engine is the authorization decision engine
type Engine struct {
	licenses LicenseReader
	limits   LimitsReader
	warmups  WarmupReader
	ledger   *usage.Ledger
	now      func() time.Time
	observer UsageObserver
	logger   zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the wall clock used for expiry and warm-up math
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithUsageObserver registers a callback invoked after each recorded unit
func WithUsageObserver(fn UsageObserver) Option {
	return func(e *Engine) { e.observer = fn }
}

// NewEngine creates an engine
func NewEngine(licenses LicenseReader, limits LimitsReader, warmups WarmupReader, ledger *usage.Ledger, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		licenses: licenses,
		limits:   limits,
		warmups:  warmups,
		ledger:   ledger,
		now:      time.Now,
		logger:   logger.With().Str("component", "AuthzEngine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now exposes the engine clock so collaborators share one time source
func (e *Engine) Now() time.Time {
	return e.now()
}

// Authorize returns Allow or Deny(reason) for the action. The first failing
// check wins: license state, feature flag, daily cap, warm-up cap. Storage
// failures are returned as errors with a zero (denying) decision.
func (e *Engine) Authorize(ctx context.Context, userID string, action Action) (Decision, error) {
	if _, ok := ParseAction(string(action)); !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	decision, err := e.decide(ctx, userID, action)
	if err != nil {
		metrics.AuthorizationDecisions.WithLabelValues(string(action), "error").Inc()
		e.logger.Error().Err(err).Str("user_id", userID).Str("action", string(action)).Msg("Authorization check failed")
		return Decision{}, err
	}

	outcome := "allowed"
	if !decision.Allowed {
		outcome = string(decision.Reason)
		e.logger.Debug().
			Str("user_id", userID).
			Str("action", string(action)).
			Str("reason", outcome).
			Msg("Action denied")
	}
	metrics.AuthorizationDecisions.WithLabelValues(string(action), outcome).Inc()
	return decision, nil
}

func (e *Engine) decide(ctx context.Context, userID string, action Action) (Decision, error) {
	now := e.now()

	lic, err := e.licenses.GetLicense(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load license: %w", err)
	}
	if lic == nil {
		return deny(ReasonLicenseInactive, "no license found for this account"), nil
	}
	// Expiry wins over the active flag: the nightly sweep deactivates expired
	// licenses and the reason must stay LICENSE_EXPIRED after it
	if lic.IsExpired(now) {
		return deny(ReasonLicenseExpired, fmt.Sprintf("license expired on %s", lic.ExpiresAt.UTC().Format(time.RFC3339))), nil
	}
	if !lic.IsActive {
		return deny(ReasonLicenseInactive, "license is not active"), nil
	}

	entitlements := license.LimitsFor(lic.Tier)

	if feature, ok := action.Feature(); ok {
		if !entitlements.HasFeature(feature) {
			return deny(ReasonPermissionDenied, fmt.Sprintf("%s tier does not include %s", lic.Tier, feature)), nil
		}
		return allow(), nil
	}

	counter, ok := action.Counter()
	if !ok {
		// bot_control only needs a usable license
		return allow(), nil
	}

	limits, err := e.resolve(ctx, lic, now)
	if err != nil {
		return Decision{}, err
	}

	used := usage.Used(lic.Usage, counter)
	if used >= limits.dailyCap(action) {
		return deny(ReasonDailyLimitExceeded, fmt.Sprintf("daily %s limit of %d reached", counter, limits.dailyCap(action))), nil
	}
	if warmCap, ok := limits.warmupCap(action); ok && used >= warmCap {
		return deny(ReasonWarmupLimitExceeded, fmt.Sprintf("warm-up %s allows %d %s per day", limits.phase, warmCap, counter)), nil
	}
	return allow(), nil
}

// RecordUsage records one unit of a quota action. Non-quota actions are a
// no-op. Callers invoke it only after Authorize allowed the action.
func (e *Engine) RecordUsage(ctx context.Context, userID string, action Action) error {
	if _, ok := ParseAction(string(action)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	counter, ok := action.Counter()
	if !ok {
		return nil
	}
	if err := e.ledger.RecordUsage(ctx, userID, counter); err != nil {
		return err
	}
	metrics.UsageRecorded.WithLabelValues(string(counter)).Inc()
	if e.observer != nil {
		e.observer(userID, action)
	}
	return nil
}

// GetEffectiveLimits reports the caps in force for the principal right now
// together with what is left of each.
func (e *Engine) GetEffectiveLimits(ctx context.Context, userID string) (*EffectiveLimits, error) {
	now := e.now()
	lic, err := e.licenses.GetLicense(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	if lic == nil {
		return nil, ErrNoLicense
	}

	r, err := e.resolve(ctx, lic, now)
	if err != nil {
		return nil, err
	}

	out := &EffectiveLimits{
		Tier:                lic.Tier,
		MaxDailyConnections: r.connections,
		MaxDailyMessages:    r.messages,
		MaxProfileViews:     r.profileViews,
		MaxSearches:         r.searches,
		WarmupPhase:         r.phase,
		WarmupRespected:     r.respectWarmup,
		Caps:                make(map[Action]int, 4),
		Remaining:           make(map[Action]int, 4),
	}
	if r.respectWarmup {
		conn, msg, weekly := r.warm.DailyConnections, r.warm.DailyMessages, r.warm.WeeklyConnections
		out.WarmupCap = &conn
		out.WarmupMessageCap = &msg
		out.WarmupWeeklyCap = &weekly
	}
	for _, action := range QuotaActions() {
		limit := r.bindingCap(action)
		counter, _ := action.Counter()
		out.Caps[action] = limit
		out.Remaining[action] = usage.RemainingFrom(lic.Usage, counter, limit)
	}
	return out, nil
}

// resolved is the combined cap picture for one principal at one instant
type resolved struct {
	connections   int
	messages      int
	profileViews  int
	searches      int
	phase         models.WarmupPhase
	respectWarmup bool
	warm          warmup.Limits
}

// resolve applies the canonical precedence: the tier entitlement is the
// ceiling, the principal's daily limits may only lower it, and warm-up
// (when respected) may lower it further.
func (e *Engine) resolve(ctx context.Context, lic *models.License, now time.Time) (resolved, error) {
	ceiling := license.LimitsFor(lic.Tier)

	dl, err := e.limits.GetDailyLimits(ctx, lic.UserID)
	if err != nil {
		return resolved{}, fmt.Errorf("failed to load daily limits: %w", err)
	}
	override := false
	r := resolved{
		connections:  ceiling.MaxDailyConnections,
		messages:     ceiling.MaxDailyMessages,
		profileViews: ceiling.MaxDailyProfileViews,
		searches:     ceiling.MaxDailySearches,
	}
	if dl != nil {
		r.connections = minInt(r.connections, dl.MaxConnections)
		r.messages = minInt(r.messages, dl.MaxMessages)
		r.profileViews = minInt(r.profileViews, dl.MaxProfileViews)
		r.searches = minInt(r.searches, dl.MaxSearches)
		override = dl.OverrideWarmup
	}

	ws, err := e.warmups.GetWarmupState(ctx, lic.UserID)
	if err != nil {
		return resolved{}, fmt.Errorf("failed to load warm-up state: %w", err)
	}
	state := warmup.DefaultState(lic.UserID, AccountStart(lic))
	if ws != nil {
		state = *ws
	}
	r.phase, r.warm = warmup.LimitsFor(state, now)
	r.respectWarmup = warmup.ShouldRespectWarmup(state, override)
	return r, nil
}

func (r resolved) dailyCap(action Action) int {
	switch action {
	case ActionConnection:
		return r.connections
	case ActionMessage:
		return r.messages
	case ActionProfileView:
		return r.profileViews
	case ActionSearch:
		return r.searches
	}
	return 0
}

func (r resolved) warmupCap(action Action) (int, bool) {
	if !r.respectWarmup {
		return 0, false
	}
	switch action {
	case ActionConnection:
		return r.warm.DailyConnections, true
	case ActionMessage:
		return r.warm.DailyMessages, true
	}
	return 0, false
}

// bindingCap is min(daily cap, warm-up cap when respected)
func (r resolved) bindingCap(action Action) int {
	limit := r.dailyCap(action)
	if warmCap, ok := r.warmupCap(action); ok {
		limit = minInt(limit, warmCap)
	}
	return limit
}

// AccountStart is the date warm-up counts from when no warm-up record exists
func AccountStart(lic *models.License) time.Time {
	if !lic.CreatedAt.IsZero() {
		return lic.CreatedAt
	}
	return lic.ActivatedAt
}

func minInt(a, b int) int {
	if b < a {
		return b
	}
	return a
}
