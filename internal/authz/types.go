package authz

import (
	"errors"
	"strings"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/usage"
)

// Action is the kind of thing a principal asks to do
type Action string

const (
	ActionConnection  Action = "connection"
	ActionMessage     Action = "message"
	ActionSearch      Action = "search"
	ActionProfileView Action = "profile_view"
	ActionExport      Action = "export"
	ActionAPI         Action = "api"
	ActionAdvanced    Action = "advanced"
	ActionBotControl  Action = "bot_control"
)

// QuotaActions are the actions that consume a daily counter
func QuotaActions() []Action {
	return []Action{ActionConnection, ActionMessage, ActionSearch, ActionProfileView}
}

// ParseAction accepts the action names used on the wire
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionConnection, ActionMessage, ActionSearch, ActionProfileView,
		ActionExport, ActionAPI, ActionAdvanced, ActionBotControl:
		return a, true
	}
	return "", false
}

// Counter returns the usage counter a quota action consumes
func (a Action) Counter() (usage.Counter, bool) {
	switch a {
	case ActionConnection:
		return usage.CounterConnections, true
	case ActionMessage:
		return usage.CounterMessages, true
	case ActionSearch:
		return usage.CounterSearches, true
	case ActionProfileView:
		return usage.CounterProfileViews, true
	}
	return "", false
}

// Feature returns the catalog flag a feature-gated action requires
func (a Action) Feature() (license.Feature, bool) {
	switch a {
	case ActionExport:
		return license.FeatureExport, true
	case ActionAPI:
		return license.FeatureAPI, true
	case ActionAdvanced:
		return license.FeatureAdvanced, true
	}
	return "", false
}

// ActionForActivity maps a logged activity kind to the quota it consumed.
// Attempts that did not go through consume nothing.
func ActionForActivity(kind models.ActivityKind) (Action, bool) {
	switch kind {
	case models.ActivityConnectionSent:
		return ActionConnection, true
	case models.ActivityMessageSent:
		return ActionMessage, true
	case models.ActivityProfileViewed:
		return ActionProfileView, true
	case models.ActivitySearchPerformed:
		return ActionSearch, true
	}
	return "", false
}

// Reason is the machine readable cause of a denial
type Reason string

const (
	ReasonLicenseInactive     Reason = "LICENSE_INACTIVE"
	ReasonLicenseExpired      Reason = "LICENSE_EXPIRED"
	ReasonPermissionDenied    Reason = "PERMISSION_DENIED"
	ReasonDailyLimitExceeded  Reason = "DAILY_LIMIT_EXCEEDED"
	ReasonWarmupLimitExceeded Reason = "WARMUP_LIMIT_EXCEEDED"
)

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason Reason, message string) Decision {
	return Decision{Reason: reason, Message: message}
}

// EffectiveLimits are the caps actually enforced for a principal right now
type EffectiveLimits struct {
	Tier                license.Tier       `json:"tier"`
	MaxDailyConnections int                `json:"max_daily_connections"`
	MaxDailyMessages    int                `json:"max_daily_messages"`
	MaxProfileViews     int                `json:"max_profile_views"`
	MaxSearches         int                `json:"max_searches"`
	WarmupPhase         models.WarmupPhase `json:"warmup_phase"`
	WarmupRespected     bool               `json:"warmup_respected"`
	WarmupCap           *int               `json:"warmup_cap,omitempty"`
	WarmupMessageCap    *int               `json:"warmup_message_cap,omitempty"`
	WarmupWeeklyCap     *int               `json:"warmup_weekly_cap,omitempty"`
	Caps                map[Action]int     `json:"caps"`
	Remaining           map[Action]int     `json:"remaining"`
}

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrNoLicense     = errors.New("principal has no license")
)
