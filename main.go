package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"social-automation-dashboard/config"
	"social-automation-dashboard/internal/accounts"
	"social-automation-dashboard/internal/activity"
	"social-automation-dashboard/internal/api"
	"social-automation-dashboard/internal/auth"
	"social-automation-dashboard/internal/authz"
	"social-automation-dashboard/internal/botcontrol"
	"social-automation-dashboard/internal/cache"
	"social-automation-dashboard/internal/campaign"
	"social-automation-dashboard/internal/database"
	"social-automation-dashboard/internal/events"
	"social-automation-dashboard/internal/logging"
	"social-automation-dashboard/internal/maintenance"
	"social-automation-dashboard/internal/settings"
	"social-automation-dashboard/internal/store/memory"
	"social-automation-dashboard/internal/usage"
	"social-automation-dashboard/internal/vault"
)

// backend is everything the services persist through. Both the postgres
// repository and the in-memory store satisfy it.
type backend interface {
	auth.UserStore
	accounts.Store
	usage.Store
	settings.Store
	botcontrol.StatusStore
	activity.Store
	campaign.Store
	maintenance.LicenseStore
	maintenance.ActivityCounter
	api.HealthChecker
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, closer := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	defer closer.Close()
	logger.Info().Str("storage", cfg.StorageConfig.Backend).Msg("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	store, isDuplicate, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis is optional: without it settings are read straight from storage
	// and control commands are only logged
	var (
		cacheSvc      *cache.CacheService
		settingsCache settings.Cache
		dispatcher    botcontrol.Dispatcher = botcontrol.NewLogDispatcher(logging.Component(logger, "BotDispatcher"))
	)
	if cfg.RedisConfig.Enabled {
		cacheSvc, err = cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, continuing without cache")
			cacheSvc = nil
		} else {
			defer cacheSvc.Close()
			settingsCache = cache.NewSettingsCache(cacheSvc, cfg.RedisConfig.CacheTTL)
			dispatcher = botcontrol.NewRedisDispatcher(cacheSvc, cfg.BotConfig.ControlChannelPrefix)
		}
	}

	eventBus := events.NewEventBus()

	// Core services
	settingsSvc := settings.NewService(store, store, settingsCache, cfg.MaintenanceConfig.DailyHourUTC, logger)
	manager := accounts.NewManager(store, settingsSvc, eventBus, logger)
	ledger := usage.NewLedger(store, logger)
	engine := authz.NewEngine(store, settingsSvc, settingsSvc, ledger, logger,
		authz.WithUsageObserver(func(userID string, action authz.Action) {
			eventBus.PublishUsage(userID, string(action))
		}))
	bots := botcontrol.NewController(engine, store, store, dispatcher, logger,
		botcontrol.WithStatusTTL(cfg.BotConfig.StatusCacheTTL),
		botcontrol.WithNotifier(botcontrol.NotifierFunc(func(userID string, snap botcontrol.Snapshot) {
			eventBus.PublishBotStatus(userID, snap)
		})))
	activitySvc := activity.NewService(store, engine, logger)
	campaignSvc := campaign.NewService(store, store, isDuplicate, logger)

	var vaultClient *vault.Client
	if cfg.VaultConfig.Enabled {
		vaultClient, err = vault.NewClient(cfg.VaultConfig)
		if err != nil {
			return fmt.Errorf("failed to create vault client: %w", err)
		}
		logger.Info().Str("address", cfg.VaultConfig.Address).Msg("Vault credential storage enabled")
	} else {
		vaultClient = vault.NewMockClient()
		logger.Warn().Msg("Vault disabled, bot credentials are kept in memory only")
	}

	authSvc, err := auth.NewService(store, manager, auth.Config{
		JWTSecret:           cfg.AuthConfig.JWTSecret,
		AccessTokenDuration: cfg.AuthConfig.AccessTokenDuration,
		Issuer:              cfg.AuthConfig.Issuer,
		MinPasswordLength:   cfg.AuthConfig.MinPasswordLength,
		BcryptCost:          cfg.AuthConfig.BcryptCost,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}
	if cfg.AuthConfig.AdminEmail != "" {
		if err := authSvc.SeedAdmin(ctx, cfg.AuthConfig.AdminEmail, cfg.AuthConfig.AdminPassword); err != nil {
			return fmt.Errorf("failed to seed admin: %w", err)
		}
	}

	scheduler := maintenance.NewScheduler(ledger, store, store, bots, eventBus, &maintenance.Config{
		DailyHourUTC:  cfg.MaintenanceConfig.DailyHourUTC,
		WeeklyDay:     cfg.MaintenanceConfig.WeeklyDay,
		WeeklyHourUTC: cfg.MaintenanceConfig.WeeklyHourUTC,
		CheckInterval: cfg.MaintenanceConfig.CheckInterval,
	}, logger)
	if cacheSvc != nil {
		scheduler.SetSettingsCache(cacheSvc)
	}

	server := api.NewServer(cfg.ServerConfig, api.Deps{
		Store:       store,
		Stats:       store,
		Auth:        authSvc,
		Accounts:    manager,
		Engine:      engine,
		Ledger:      ledger,
		Settings:    settingsSvc,
		Bots:        bots,
		Activity:    activitySvc,
		Campaign:    campaignSvc,
		Vault:       vaultClient,
		Cache:       cacheSvc,
		Maintenance: scheduler,
		Events:      eventBus,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MaintenanceConfig.Enabled {
		if err := scheduler.Start(gctx); err != nil {
			return fmt.Errorf("failed to start maintenance scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		timeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info().Int("port", cfg.ServerConfig.Port).Msg("Social automation dashboard started")

	err = g.Wait()
	eventBus.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

// openStore connects the configured storage backend
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (backend, func(error) bool, func(), error) {
	if cfg.StorageConfig.Backend == config.StorageMemory {
		logger.Warn().Msg("Using in-memory storage, data is lost on restart")
		isDup := func(err error) bool { return errors.Is(err, memory.ErrDuplicate) }
		return memory.New(), isDup, func() {}, nil
	}

	db, err := database.NewDB(ctx, cfg.DatabaseConfig, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database.NewRepository(db), database.IsDuplicate, db.Close, nil
}
