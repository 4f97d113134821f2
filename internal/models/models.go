package models

import (
	"time"

	"social-automation-dashboard/internal/license"
)

// UsageCounters are the per-principal quota counters. The *Today fields are
// zeroed by the nightly reset; the Total* fields are lifetime counters and
// survive it.
type UsageCounters struct {
	ConnectionsToday  int        `json:"connections_today" db:"connections_today"`
	MessagesToday     int        `json:"messages_today" db:"messages_today"`
	SearchesToday     int        `json:"searches_today" db:"searches_today"`
	ProfileViewsToday int        `json:"profile_views_today" db:"profile_views_today"`
	TotalConnections  int        `json:"total_connections" db:"total_connections"`
	TotalSessions     int        `json:"total_sessions" db:"total_sessions"`
	LastResetAt       *time.Time `json:"last_reset_at,omitempty" db:"last_reset_at"`
}

// License is the license record of one principal
type License struct {
	UserID      string               `json:"user_id" db:"user_id"`
	Tier        license.Tier         `json:"tier" db:"tier"`
	IsActive    bool                 `json:"is_active" db:"is_active"`
	ActivatedAt time.Time            `json:"activated_at" db:"activated_at"`
	ExpiresAt   time.Time            `json:"expires_at" db:"expires_at"`
	Permissions license.Entitlements `json:"permissions" db:"permissions"`
	Usage       UsageCounters        `json:"usage"`
	LastLoginAt *time.Time           `json:"last_login_at,omitempty" db:"last_login_at"`
	LastLoginIP string               `json:"last_login_ip,omitempty" db:"last_login_ip"`
	CreatedAt   time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at" db:"updated_at"`
}

// IsExpired reports whether the license has passed its expiry at now.
// A license expiring exactly at now is expired.
func (l *License) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// IsUsable reports whether the principal may act at all
func (l *License) IsUsable(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now)
}

// DaysRemaining rounds down; expired licenses report 0
func (l *License) DaysRemaining(now time.Time) int {
	if l.IsExpired(now) {
		return 0
	}
	return int(l.ExpiresAt.Sub(now).Hours() / 24)
}

// DailyLimits holds the caps currently enforced for a principal
type DailyLimits struct {
	UserID          string    `json:"user_id" db:"user_id"`
	MaxConnections  int       `json:"max_connections" db:"max_connections"`
	MaxMessages     int       `json:"max_messages" db:"max_messages"`
	MaxProfileViews int       `json:"max_profile_views" db:"max_profile_views"`
	MaxSearches     int       `json:"max_searches" db:"max_searches"`
	DailyReset      time.Time `json:"daily_reset" db:"daily_reset"`
	OverrideWarmup  bool      `json:"override_warmup" db:"override_warmup"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// WarmupPhase names a warm-up pacing stage
type WarmupPhase string

const (
	WarmupAuto      WarmupPhase = "auto"
	WarmupWeek1     WarmupPhase = "week1"
	WarmupWeek2     WarmupPhase = "week2"
	WarmupWeek3     WarmupPhase = "week3"
	WarmupWeek4Plus WarmupPhase = "week4plus"
)

// WarmupCaps are the caps applied during one warm-up phase
type WarmupCaps struct {
	DailyConnections  int `json:"daily_connections"`
	WeeklyConnections int `json:"weekly_connections"`
	DailyMessages     int `json:"daily_messages"`
}

// WarmupState is the warm-up configuration of one principal. Phase is the
// configured phase; when it is WarmupAuto the effective phase is derived
// from StartDate on every read.
type WarmupState struct {
	UserID    string                     `json:"user_id" db:"user_id"`
	Enabled   bool                       `json:"enabled" db:"enabled"`
	Phase     WarmupPhase                `json:"phase" db:"phase"`
	StartDate time.Time                  `json:"start_date" db:"start_date"`
	Schedule  map[WarmupPhase]WarmupCaps `json:"schedule,omitempty" db:"schedule"`
	UpdatedAt time.Time                  `json:"updated_at" db:"updated_at"`
}

// ActivityKind is the kind of automation action recorded in the activity log
type ActivityKind string

const (
	ActivityConnectionSent      ActivityKind = "connection_sent"
	ActivityConnectionAttempted ActivityKind = "connection_attempted"
	ActivityMessageSent         ActivityKind = "direct_message_sent"
	ActivityProfileViewed       ActivityKind = "profile_viewed"
	ActivitySearchPerformed     ActivityKind = "search_performed"
)

// ActivityKinds lists every recognised activity kind
func ActivityKinds() []ActivityKind {
	return []ActivityKind{
		ActivityConnectionSent,
		ActivityConnectionAttempted,
		ActivityMessageSent,
		ActivityProfileViewed,
		ActivitySearchPerformed,
	}
}

// Valid reports whether k is a recognised kind
func (k ActivityKind) Valid() bool {
	for _, known := range ActivityKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// ActivityEvent is one immutable activity log entry
type ActivityEvent struct {
	ID        string       `json:"id" db:"id"`
	UserID    string       `json:"user_id" db:"user_id"`
	Kind      ActivityKind `json:"kind" db:"kind"`
	Success   bool         `json:"success" db:"success"`
	Target    string       `json:"target,omitempty" db:"target"`
	Context   string       `json:"context,omitempty" db:"context"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// ActivityCount aggregates events of one kind
type ActivityCount struct {
	Kind      ActivityKind `json:"kind"`
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
}

// BotState is the automation state of a principal's bot
type BotState string

const (
	BotStopped BotState = "stopped"
	BotRunning BotState = "running"
	BotPaused  BotState = "paused"
)

// BotStatus is the durable bot status record of a principal
type BotStatus struct {
	UserID        string     `json:"user_id" db:"user_id"`
	Status        BotState   `json:"status" db:"status"`
	LastStartTime *time.Time `json:"last_start_time,omitempty" db:"last_start_time"`
	LastStopTime  *time.Time `json:"last_stop_time,omitempty" db:"last_stop_time"`
	CurrentTask   string     `json:"current_task,omitempty" db:"current_task"`
	ErrorMessage  string     `json:"error_message,omitempty" db:"error_message"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// User is a registered dashboard account
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Keyword is a search keyword the bot uses to find profiles
type Keyword struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Term      string    `json:"term" db:"term"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TemplateKind is the purpose of a message template
type TemplateKind string

const (
	TemplateConnectionNote TemplateKind = "connection_note"
	TemplateFollowUp       TemplateKind = "follow_up"
)

// MessageTemplate is a reusable outreach message
type MessageTemplate struct {
	ID        string       `json:"id" db:"id"`
	UserID    string       `json:"user_id" db:"user_id"`
	Name      string       `json:"name" db:"name"`
	Kind      TemplateKind `json:"kind" db:"kind"`
	Body      string       `json:"body" db:"body"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// LicenseStats summarizes the license population
type LicenseStats struct {
	ByTier   map[license.Tier]int `json:"by_tier"`
	Active   int                  `json:"active"`
	Expired  int                  `json:"expired"`
	Inactive int                  `json:"inactive"`
	Total    int                  `json:"total"`
}
