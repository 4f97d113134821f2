package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"social-automation-dashboard/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "Database").Logger()
	logger.Info().Str("database", cfg.Name).Str("host", cfg.Host).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations executes database migrations. Every statement is idempotent.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Int("statements", len(migrations)).Msg("Running database migrations")

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("Database migrations completed successfully")
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		password_hash VARCHAR(255) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_lower ON users(LOWER(email))`,

	`CREATE TABLE IF NOT EXISTS licenses (
		user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		tier VARCHAR(20) NOT NULL DEFAULT 'trial',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		activated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		permissions JSONB NOT NULL DEFAULT '{}',
		connections_today INTEGER NOT NULL DEFAULT 0,
		messages_today INTEGER NOT NULL DEFAULT 0,
		searches_today INTEGER NOT NULL DEFAULT 0,
		profile_views_today INTEGER NOT NULL DEFAULT 0,
		total_connections INTEGER NOT NULL DEFAULT 0,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		last_reset_at TIMESTAMPTZ,
		last_login_at TIMESTAMPTZ,
		last_login_ip VARCHAR(45) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_licenses_active_expiry ON licenses(is_active, expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_licenses_tier ON licenses(tier)`,

	`CREATE TABLE IF NOT EXISTS daily_limits (
		user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		max_connections INTEGER NOT NULL CHECK (max_connections >= 0),
		max_messages INTEGER NOT NULL CHECK (max_messages >= 0),
		max_profile_views INTEGER NOT NULL CHECK (max_profile_views >= 0),
		max_searches INTEGER NOT NULL CHECK (max_searches >= 0),
		daily_reset TIMESTAMPTZ NOT NULL,
		override_warmup BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS warmup_states (
		user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		phase VARCHAR(20) NOT NULL DEFAULT 'auto',
		start_date TIMESTAMPTZ NOT NULL,
		schedule JSONB,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS bot_status (
		user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		status VARCHAR(20) NOT NULL DEFAULT 'stopped',
		last_start_time TIMESTAMPTZ,
		last_stop_time TIMESTAMPTZ,
		current_task TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS activity_events (
		id CHAR(26) PRIMARY KEY,
		user_id UUID NOT NULL,
		kind VARCHAR(40) NOT NULL,
		success BOOLEAN NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_user_created ON activity_events(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_user_kind ON activity_events(user_id, kind)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_events(created_at)`,

	`CREATE TABLE IF NOT EXISTS keywords (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		term VARCHAR(100) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_keywords_user_term ON keywords(user_id, LOWER(term))`,

	`CREATE TABLE IF NOT EXISTS message_templates (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name VARCHAR(100) NOT NULL,
		kind VARCHAR(30) NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_templates_user ON message_templates(user_id)`,
}
