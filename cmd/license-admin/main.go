// Command license-admin manages dashboard licenses directly against the
// database: inspecting, upgrading, extending and deactivating accounts and
// running the maintenance jobs by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"social-automation-dashboard/config"
	"social-automation-dashboard/internal/accounts"
	"social-automation-dashboard/internal/authz"
	"social-automation-dashboard/internal/botcontrol"
	"social-automation-dashboard/internal/database"
	"social-automation-dashboard/internal/logging"
	"social-automation-dashboard/internal/maintenance"
	"social-automation-dashboard/internal/settings"
	"social-automation-dashboard/internal/usage"
)

// store is the persistence the tool works through
type store interface {
	accounts.Store
	usage.Store
	settings.Store
	botcontrol.StatusStore
	maintenance.LicenseStore
	maintenance.ActivityCounter
}

// toolkit holds the services the commands drive
type toolkit struct {
	accounts  *accounts.Manager
	licenses  maintenance.LicenseStore
	bots      *botcontrol.Controller
	scheduler *maintenance.Scheduler
	now       func() time.Time
}

func newToolkit(s store, logger zerolog.Logger) *toolkit {
	limits := settings.NewService(s, s, nil, 0, logger)
	ledger := usage.NewLedger(s, logger)
	engine := authz.NewEngine(s, limits, limits, ledger, logger)
	bots := botcontrol.NewController(engine, s, s, botcontrol.NewLogDispatcher(logger), logger)
	return &toolkit{
		accounts:  accounts.NewManager(s, limits, nil, logger),
		licenses:  s,
		bots:      bots,
		scheduler: maintenance.NewScheduler(ledger, s, s, bots, nil, maintenance.DefaultConfig(), logger),
		now:       time.Now,
	}
}

// openDatabase connects to the configured postgres database
func openDatabase(ctx context.Context) (*toolkit, func(), error) {
	cfg, err := config.LoadForTools()
	if err != nil {
		return nil, nil, err
	}
	logger, closer := logging.New(&logging.Config{
		Level:     cfg.LoggingConfig.Level,
		Output:    "stderr",
		Component: "license-admin",
	})

	db, err := database.NewDB(ctx, cfg.DatabaseConfig, logger)
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup := func() {
		db.Close()
		closer.Close()
	}
	return newToolkit(database.NewRepository(db), logger), cleanup, nil
}

func main() {
	if err := newRootCmd(openDatabase).Execute(); err != nil {
		os.Exit(1)
	}
}
