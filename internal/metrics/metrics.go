package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthorizationDecisions counts engine decisions by action and outcome.
	// Outcome is "allowed" or the denial reason code.
	AuthorizationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socialbot",
		Subsystem: "authz",
		Name:      "decisions_total",
		Help:      "Authorization decisions by action and outcome.",
	}, []string{"action", "outcome"})

	// UsageRecorded counts ledger increments by counter.
	UsageRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socialbot",
		Subsystem: "usage",
		Name:      "recorded_total",
		Help:      "Usage ledger increments by counter.",
	}, []string{"counter"})

	// BotTransitions counts bot control transitions by command and result.
	BotTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socialbot",
		Subsystem: "bot",
		Name:      "transitions_total",
		Help:      "Bot control commands by command and result.",
	}, []string{"command", "result"})

	// MaintenanceRuns counts scheduled maintenance runs by job and result.
	MaintenanceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socialbot",
		Subsystem: "maintenance",
		Name:      "runs_total",
		Help:      "Scheduled maintenance runs by job and result.",
	}, []string{"job", "result"})

	// LicensesDeactivated counts licenses switched off by the expiry sweep.
	LicensesDeactivated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "socialbot",
		Subsystem: "maintenance",
		Name:      "licenses_deactivated_total",
		Help:      "Licenses deactivated because they expired.",
	})

	// LicensesByTier tracks the license population per tier.
	LicensesByTier = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "socialbot",
		Subsystem: "licenses",
		Name:      "by_tier",
		Help:      "Number of licenses by tier.",
	}, []string{"tier"})

	// LicensesByState tracks active, expired and inactive licenses.
	LicensesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "socialbot",
		Subsystem: "licenses",
		Name:      "by_state",
		Help:      "Number of licenses by state.",
	}, []string{"state"})

	// WeeklyActivity tracks activity events over the trailing week by kind.
	WeeklyActivity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "socialbot",
		Subsystem: "activity",
		Name:      "weekly_events",
		Help:      "Activity events in the trailing seven days by kind and result.",
	}, []string{"kind", "result"})

	// WebSocketClients tracks connected dashboard sockets.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "socialbot",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected user WebSocket clients.",
	})
)
