package botcontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"social-automation-dashboard/internal/authz"
	"social-automation-dashboard/internal/metrics"
	"social-automation-dashboard/internal/models"
)

// DefaultStatusTTL is how long GetStatus may serve a cached snapshot
const DefaultStatusTTL = 5 * time.Second

// emergencyAttempts bounds the force-stop write loop when other writers race it
const emergencyAttempts = 5

// Controller owns the bot state machine of every principal. It holds no
// per-principal state apart from a short-lived snapshot cache; the durable
// status record is the source of truth.
type Controller struct {
	auth       Authorizer
	store      StatusStore
	usage      UsageReader
	dispatcher Dispatcher
	notifier   Notifier
	cache      *statusCache
	now        func() time.Time
	logger     zerolog.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithNotifier registers the status change hook
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithStatusTTL sets the snapshot cache TTL; zero disables caching
func WithStatusTTL(ttl time.Duration) Option {
	return func(c *Controller) { c.cache = newStatusCache(ttl) }
}

// NewController creates a controller
func NewController(auth Authorizer, store StatusStore, usage UsageReader, dispatcher Dispatcher, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		auth:       auth,
		store:      store,
		usage:      usage,
		dispatcher: dispatcher,
		cache:      newStatusCache(DefaultStatusTTL),
		now:        time.Now,
		logger:     logger.With().Str("component", "BotController").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start authorizes bot control and moves a stopped bot to running
func (c *Controller) Start(ctx context.Context, userID string, settings StartSettings) (Snapshot, error) {
	if err := c.authorize(ctx, userID, CommandStart); err != nil {
		return Snapshot{}, err
	}

	current, err := c.load(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	switch current.Status {
	case models.BotRunning:
		c.count(CommandStart, "rejected")
		return Snapshot{}, &ControlError{Code: CodeAlreadyRunning, Message: "bot is already running"}
	case models.BotPaused:
		c.count(CommandStart, "rejected")
		return Snapshot{}, &ControlError{Code: CodeAlreadyRunning, Message: "bot is paused; resume it instead"}
	}

	now := c.now()
	if err := c.dispatch(ctx, Command{Type: CommandStart, UserID: userID, Settings: &settings, IssuedAt: now}); err != nil {
		return Snapshot{}, err
	}

	task := settings.Task
	if task == "" {
		task = "starting"
	}
	next := *current
	next.Status = models.BotRunning
	next.LastStartTime = &now
	next.CurrentTask = task
	next.ErrorMessage = ""
	next.UpdatedAt = now

	return c.commit(ctx, CommandStart, &next, current.Status, models.BotRunning)
}

// Stop moves a running or paused bot to stopped. errorMessage is recorded
// when the stop was caused by a failure.
func (c *Controller) Stop(ctx context.Context, userID, errorMessage string) (Snapshot, error) {
	current, err := c.load(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if current.Status == models.BotStopped {
		return c.soft(ctx, CommandStop, current, CodeNotRunning, "bot is not running")
	}

	now := c.now()
	if err := c.dispatch(ctx, Command{Type: CommandStop, UserID: userID, Reason: errorMessage, IssuedAt: now}); err != nil {
		return Snapshot{}, err
	}

	next := *current
	next.Status = models.BotStopped
	next.LastStopTime = &now
	next.CurrentTask = ""
	next.ErrorMessage = errorMessage
	next.UpdatedAt = now

	return c.commit(ctx, CommandStop, &next, current.Status, models.BotStopped)
}

// Pause suspends a running bot. Pausing a paused bot is a no-op.
func (c *Controller) Pause(ctx context.Context, userID string) (Snapshot, error) {
	current, err := c.load(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	switch current.Status {
	case models.BotStopped:
		return c.soft(ctx, CommandPause, current, CodeNotRunning, "bot is not running")
	case models.BotPaused:
		return c.snapshot(ctx, current)
	}

	now := c.now()
	if err := c.dispatch(ctx, Command{Type: CommandPause, UserID: userID, IssuedAt: now}); err != nil {
		return Snapshot{}, err
	}

	next := *current
	next.Status = models.BotPaused
	next.UpdatedAt = now
	return c.commit(ctx, CommandPause, &next, models.BotRunning, models.BotPaused)
}

// Resume continues a paused bot. It is authorized like Start because the bot
// starts consuming quota again.
func (c *Controller) Resume(ctx context.Context, userID string) (Snapshot, error) {
	current, err := c.load(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if current.Status != models.BotPaused {
		return c.soft(ctx, CommandResume, current, CodeNotPaused, "bot is not paused")
	}
	if err := c.authorize(ctx, userID, CommandResume); err != nil {
		return Snapshot{}, err
	}

	now := c.now()
	if err := c.dispatch(ctx, Command{Type: CommandResume, UserID: userID, IssuedAt: now}); err != nil {
		return Snapshot{}, err
	}

	next := *current
	next.Status = models.BotRunning
	next.UpdatedAt = now
	return c.commit(ctx, CommandResume, &next, models.BotPaused, models.BotRunning)
}

// EmergencyStop forces the bot to stopped without consulting the
// authorization engine. The stop command is always dispatched, even when the
// record already says stopped, and a dispatch failure does not block the
// state change.
func (c *Controller) EmergencyStop(ctx context.Context, userID, reason string) (Snapshot, error) {
	now := c.now()
	if err := c.dispatcher.Dispatch(ctx, Command{Type: CommandEmergencyStop, UserID: userID, Reason: reason, IssuedAt: now}); err != nil {
		c.logger.Error().Err(err).Str("user_id", userID).Msg("Emergency stop dispatch failed, forcing stopped state anyway")
	}

	for attempt := 0; attempt < emergencyAttempts; attempt++ {
		current, err := c.load(ctx, userID)
		if err != nil {
			c.count(CommandEmergencyStop, "error")
			return Snapshot{}, err
		}
		next := *current
		next.Status = models.BotStopped
		next.LastStopTime = &now
		next.CurrentTask = ""
		next.ErrorMessage = reason
		next.UpdatedAt = now

		swapped, err := c.store.CompareAndSwapBotStatus(ctx, &next, current.Status)
		if err != nil {
			c.count(CommandEmergencyStop, "error")
			return Snapshot{}, fmt.Errorf("failed to save bot status: %w", err)
		}
		if swapped {
			c.count(CommandEmergencyStop, "ok")
			c.logger.Warn().Str("user_id", userID).Str("reason", reason).Msg("Bot emergency stopped")
			return c.changed(ctx, &next)
		}
	}
	c.count(CommandEmergencyStop, "conflict")
	return Snapshot{}, &ControlError{Code: CodeStateConflict, Message: "bot status kept changing during emergency stop"}
}

// GetStatus returns the current snapshot, served from the cache when fresh
func (c *Controller) GetStatus(ctx context.Context, userID string) (Snapshot, error) {
	if snap, ok := c.cache.get(userID, c.now()); ok {
		return snap, nil
	}
	current, err := c.load(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := c.snapshot(ctx, current)
	if err != nil {
		return Snapshot{}, err
	}
	c.cache.put(userID, snap, c.now())
	return snap, nil
}

// UpdateTask records what the bot is doing right now. The bot reports it
// as a heartbeat; a stopped bot has no task.
func (c *Controller) UpdateTask(ctx context.Context, userID, task string) (Snapshot, error) {
	current, err := c.load(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if current.Status == models.BotStopped {
		return c.soft(ctx, "task", current, CodeNotRunning, "bot is not running")
	}

	next := *current
	next.CurrentTask = task
	next.UpdatedAt = c.now()

	swapped, err := c.store.CompareAndSwapBotStatus(ctx, &next, current.Status)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to save bot status: %w", err)
	}
	if !swapped {
		// The state moved under us; the newer transition wins
		c.cache.invalidate(userID)
		return c.GetStatus(ctx, userID)
	}
	return c.changed(ctx, &next)
}

// PruneCache drops expired snapshots and returns how many were removed
func (c *Controller) PruneCache() int {
	return c.cache.sweep(c.now())
}

func (c *Controller) authorize(ctx context.Context, userID string, cmd CommandType) error {
	decision, err := c.auth.Authorize(ctx, userID, authz.ActionBotControl)
	if err != nil {
		c.count(cmd, "error")
		return fmt.Errorf("failed to authorize bot control: %w", err)
	}
	if !decision.Allowed {
		c.count(cmd, "denied")
		return &DeniedError{Decision: decision}
	}
	return nil
}

func (c *Controller) dispatch(ctx context.Context, cmd Command) error {
	if err := c.dispatcher.Dispatch(ctx, cmd); err != nil {
		c.count(cmd.Type, "error")
		c.logger.Error().Err(err).Str("user_id", cmd.UserID).Str("command", string(cmd.Type)).Msg("Failed to dispatch bot command")
		return fmt.Errorf("failed to dispatch %s command: %w", cmd.Type, err)
	}
	return nil
}

// commit writes next if the record is still in the expected state. When
// another writer got there first and the record already holds the target
// state, the lost race is a confirmation, not an error.
func (c *Controller) commit(ctx context.Context, cmd CommandType, next *models.BotStatus, expected, target models.BotState) (Snapshot, error) {
	swapped, err := c.store.CompareAndSwapBotStatus(ctx, next, expected)
	if err != nil {
		c.count(cmd, "error")
		return Snapshot{}, fmt.Errorf("failed to save bot status: %w", err)
	}
	if swapped {
		c.count(cmd, "ok")
		c.logger.Info().Str("user_id", next.UserID).Str("command", string(cmd)).Str("status", string(next.Status)).Msg("Bot status changed")
		return c.changed(ctx, next)
	}

	c.cache.invalidate(next.UserID)
	latest, err := c.load(ctx, next.UserID)
	if err != nil {
		return Snapshot{}, err
	}
	if latest.Status == target {
		c.count(cmd, "confirmed")
		return c.snapshot(ctx, latest)
	}
	c.count(cmd, "conflict")
	return Snapshot{}, &ControlError{
		Code:    CodeStateConflict,
		Message: fmt.Sprintf("bot moved to %s while handling %s", latest.Status, cmd),
	}
}

func (c *Controller) soft(ctx context.Context, cmd CommandType, current *models.BotStatus, code, message string) (Snapshot, error) {
	c.count(cmd, "noop")
	snap, err := c.snapshot(ctx, current)
	if err != nil {
		return Snapshot{}, err
	}
	return snap, &ControlError{Code: code, Message: message, soft: true}
}

// changed builds the snapshot of a freshly written record, refreshes the
// cache and tells the notifier
func (c *Controller) changed(ctx context.Context, status *models.BotStatus) (Snapshot, error) {
	c.cache.invalidate(status.UserID)
	snap, err := c.snapshot(ctx, status)
	if err != nil {
		return Snapshot{}, err
	}
	if c.notifier != nil {
		c.notifier.OnStatusChange(status.UserID, snap)
	}
	return snap, nil
}

// load reads the durable record; a missing one is a fresh stopped bot
func (c *Controller) load(ctx context.Context, userID string) (*models.BotStatus, error) {
	status, err := c.store.GetBotStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bot status: %w", err)
	}
	if status == nil {
		return &models.BotStatus{UserID: userID, Status: models.BotStopped}, nil
	}
	return status, nil
}

func (c *Controller) snapshot(ctx context.Context, status *models.BotStatus) (Snapshot, error) {
	snap := Snapshot{
		IsActive:      status.Status == models.BotRunning,
		Status:        status.Status,
		LastStartTime: status.LastStartTime,
		LastStopTime:  status.LastStopTime,
		CurrentTask:   status.CurrentTask,
		ErrorMessage:  status.ErrorMessage,
	}
	counters, err := c.usage.GetUsage(ctx, status.UserID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load usage: %w", err)
	}
	if counters != nil {
		snap.ConnectionsToday = counters.ConnectionsToday
		snap.TotalConnections = counters.TotalConnections
	}
	return snap, nil
}

func (c *Controller) count(cmd CommandType, result string) {
	metrics.BotTransitions.WithLabelValues(string(cmd), result).Inc()
}
