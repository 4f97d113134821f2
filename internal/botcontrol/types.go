// Package botcontrol drives the per-principal bot state machine:
// stopped -> running -> (paused <-> running) -> stopped.
package botcontrol

import (
	"context"
	"fmt"
	"time"

	"social-automation-dashboard/internal/authz"
	"social-automation-dashboard/internal/models"
)

// Error codes reported by ControlError
const (
	CodeAlreadyRunning = "ALREADY_RUNNING"
	CodeNotRunning     = "NOT_RUNNING"
	CodeNotPaused      = "NOT_PAUSED"
	CodeStateConflict  = "STATE_CONFLICT"
)

// ControlError is a refused transition. Soft errors come back together with
// the current snapshot and mean "nothing to do" rather than failure.
type ControlError struct {
	Code    string
	Message string
	soft    bool
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Soft reports whether the caller can treat the error as a no-op
func (e *ControlError) Soft() bool {
	return e.soft
}

// DeniedError is returned when the authorization engine refuses bot control
type DeniedError struct {
	Decision authz.Decision
}

func (e *DeniedError) Error() string {
	if e.Decision.Message != "" {
		return fmt.Sprintf("bot control denied (%s): %s", e.Decision.Reason, e.Decision.Message)
	}
	return fmt.Sprintf("bot control denied (%s)", e.Decision.Reason)
}

// Snapshot is the status view pushed to dashboards after each transition
type Snapshot struct {
	IsActive         bool            `json:"is_active"`
	Status           models.BotState `json:"status"`
	LastStartTime    *time.Time      `json:"last_start_time,omitempty"`
	LastStopTime     *time.Time      `json:"last_stop_time,omitempty"`
	CurrentTask      string          `json:"current_task,omitempty"`
	ConnectionsToday int             `json:"connections_today"`
	TotalConnections int             `json:"total_connections"`
	ErrorMessage     string          `json:"error_message,omitempty"`
}

// StartSettings is what the dashboard sends along with a start request
type StartSettings struct {
	Task       string   `json:"task,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	TemplateID string   `json:"template_id,omitempty"`
}

// CommandType names a signal sent to the bot process
type CommandType string

const (
	CommandStart         CommandType = "start"
	CommandStop          CommandType = "stop"
	CommandPause         CommandType = "pause"
	CommandResume        CommandType = "resume"
	CommandEmergencyStop CommandType = "emergency_stop"
)

// Command is the control message handed to the Dispatcher
type Command struct {
	Type     CommandType    `json:"type"`
	UserID   string         `json:"user_id"`
	Settings *StartSettings `json:"settings,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	IssuedAt time.Time      `json:"issued_at"`
}

// Authorizer is the slice of the authorization engine the controller needs
type Authorizer interface {
	Authorize(ctx context.Context, userID string, action authz.Action) (authz.Decision, error)
}

// StatusStore persists bot status. A missing record reads as (nil, nil) and
// counts as stopped for CompareAndSwapBotStatus.
type StatusStore interface {
	GetBotStatus(ctx context.Context, userID string) (*models.BotStatus, error)
	CompareAndSwapBotStatus(ctx context.Context, next *models.BotStatus, expected models.BotState) (bool, error)
}

// UsageReader supplies the counters shown in snapshots
type UsageReader interface {
	GetUsage(ctx context.Context, userID string) (*models.UsageCounters, error)
}

// Notifier receives every status change
type Notifier interface {
	OnStatusChange(userID string, snapshot Snapshot)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(userID string, snapshot Snapshot)

func (f NotifierFunc) OnStatusChange(userID string, snapshot Snapshot) {
	f(userID, snapshot)
}

// Dispatcher delivers commands to the bot process
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd Command) error
}
