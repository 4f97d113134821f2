package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig      ServerConfig      `json:"server"`
	AuthConfig        AuthConfig        `json:"auth"`
	DatabaseConfig    DatabaseConfig    `json:"database"`
	RedisConfig       RedisConfig       `json:"redis"`
	VaultConfig       VaultConfig       `json:"vault"`
	LoggingConfig     LoggingConfig     `json:"logging"`
	MaintenanceConfig MaintenanceConfig `json:"maintenance"`
	BotConfig         BotConfig         `json:"bot"`
	StorageConfig     StorageConfig     `json:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins, comma separated
	ReadTimeout     int    `json:"read_timeout"`    // Seconds
	WriteTimeout    int    `json:"write_timeout"`   // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	Issuer              string        `json:"issuer"`
	MinPasswordLength   int           `json:"min_password_length"`
	BcryptCost          int           `json:"bcrypt_cost"`
	AdminEmail          string        `json:"admin_email"` // seeded on startup when set
	AdminPassword       string        `json:"admin_password"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	Name            string        `json:"name"`
	SSLMode         string        `json:"ssl_mode"`
	MaxConns        int32         `json:"max_conns"`
	MinConns        int32         `json:"min_conns"`
	MaxConnLifetime time.Duration `json:"max_conn_lifetime"`
}

// DSN builds the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// RedisConfig holds Redis configuration for caching and the control channel
type RedisConfig struct {
	Enabled  bool          `json:"enabled"`
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	CacheTTL time.Duration `json:"cache_ttl"` // settings read-through TTL
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV v2 mount
	SecretPath string `json:"secret_path"` // prefix for bot account credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// MaintenanceConfig schedules the daily and weekly jobs (UTC)
type MaintenanceConfig struct {
	Enabled       bool          `json:"enabled"`
	DailyHourUTC  int           `json:"daily_hour_utc"`
	WeeklyDay     time.Weekday  `json:"weekly_day"`
	WeeklyHourUTC int           `json:"weekly_hour_utc"`
	CheckInterval time.Duration `json:"check_interval"`
}

// BotConfig holds bot control settings
type BotConfig struct {
	ControlChannelPrefix string        `json:"control_channel_prefix"`
	StatusCacheTTL       time.Duration `json:"status_cache_ttl"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Backend string `json:"backend"` // "postgres" or "memory"
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Load reads config.json when present, then .env, then the environment.
// Environment values take precedence.
func Load() (*Config, error) {
	cfg := load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForTools reads the configuration like Load but only checks what
// offline tools need: the storage backend.
func LoadForTools() (*Config, error) {
	cfg := load()
	if cfg.StorageConfig.Backend != StoragePostgres {
		return nil, fmt.Errorf("storage backend %q is not usable offline, set STORAGE_BACKEND=postgres", cfg.StorageConfig.Backend)
	}
	return cfg, nil
}

func load() *Config {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	// A missing .env is normal outside development
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", orInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", orString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", orString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", orInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", orInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", orInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Auth config
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", orDuration(cfg.AuthConfig.AccessTokenDuration, 24*time.Hour))
	cfg.AuthConfig.Issuer = getEnvOrDefault("AUTH_ISSUER", orString(cfg.AuthConfig.Issuer, "social-automation-dashboard"))
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", orInt(cfg.AuthConfig.MinPasswordLength, 8))
	cfg.AuthConfig.BcryptCost = getEnvIntOrDefault("AUTH_BCRYPT_COST", orInt(cfg.AuthConfig.BcryptCost, 12))
	cfg.AuthConfig.AdminEmail = getEnvOrDefault("ADMIN_EMAIL", cfg.AuthConfig.AdminEmail)
	cfg.AuthConfig.AdminPassword = getEnvOrDefault("ADMIN_PASSWORD", cfg.AuthConfig.AdminPassword)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", orString(cfg.DatabaseConfig.User, "dashboard"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Name = getEnvOrDefault("DB_NAME", orString(cfg.DatabaseConfig.Name, "social_automation"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", orString(cfg.DatabaseConfig.SSLMode, "disable"))
	cfg.DatabaseConfig.MaxConns = int32(getEnvIntOrDefault("DB_MAX_CONNS", orInt(int(cfg.DatabaseConfig.MaxConns), 20)))
	cfg.DatabaseConfig.MinConns = int32(getEnvIntOrDefault("DB_MIN_CONNS", orInt(int(cfg.DatabaseConfig.MinConns), 2)))
	cfg.DatabaseConfig.MaxConnLifetime = getEnvDurationOrDefault("DB_MAX_CONN_LIFETIME", orDuration(cfg.DatabaseConfig.MaxConnLifetime, time.Hour))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", orString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orInt(cfg.RedisConfig.PoolSize, 10))
	cfg.RedisConfig.CacheTTL = getEnvDurationOrDefault("REDIS_CACHE_TTL", orDuration(cfg.RedisConfig.CacheTTL, 5*time.Minute))

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", orString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orString(cfg.VaultConfig.SecretPath, "social-bot/sessions"))
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", true)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Maintenance config
	cfg.MaintenanceConfig.Enabled = getEnvBoolOrDefault("MAINTENANCE_ENABLED", true)
	cfg.MaintenanceConfig.DailyHourUTC = getEnvIntOrDefault("MAINTENANCE_DAILY_HOUR", cfg.MaintenanceConfig.DailyHourUTC)
	cfg.MaintenanceConfig.WeeklyDay = time.Weekday(getEnvIntOrDefault("MAINTENANCE_WEEKLY_DAY", orInt(int(cfg.MaintenanceConfig.WeeklyDay), int(time.Monday))))
	cfg.MaintenanceConfig.WeeklyHourUTC = getEnvIntOrDefault("MAINTENANCE_WEEKLY_HOUR", orInt(cfg.MaintenanceConfig.WeeklyHourUTC, 6))
	cfg.MaintenanceConfig.CheckInterval = getEnvDurationOrDefault("MAINTENANCE_CHECK_INTERVAL", orDuration(cfg.MaintenanceConfig.CheckInterval, time.Minute))

	// Bot config
	cfg.BotConfig.ControlChannelPrefix = getEnvOrDefault("BOT_CONTROL_CHANNEL_PREFIX", orString(cfg.BotConfig.ControlChannelPrefix, "bot:control:"))
	cfg.BotConfig.StatusCacheTTL = getEnvDurationOrDefault("BOT_STATUS_CACHE_TTL", orDuration(cfg.BotConfig.StatusCacheTTL, 5*time.Second))

	// Storage config
	cfg.StorageConfig.Backend = strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", orString(cfg.StorageConfig.Backend, StoragePostgres)))
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.AuthConfig.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port %d", c.ServerConfig.Port))
	}
	if c.StorageConfig.Backend != StorageMemory && c.StorageConfig.Backend != StoragePostgres {
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageConfig.Backend))
	}
	if h := c.MaintenanceConfig.DailyHourUTC; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("maintenance daily hour %d out of range", h))
	}
	if h := c.MaintenanceConfig.WeeklyHourUTC; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("maintenance weekly hour %d out of range", h))
	}
	if d := c.MaintenanceConfig.WeeklyDay; d < time.Sunday || d > time.Saturday {
		errs = append(errs, fmt.Errorf("maintenance weekly day %d out of range", d))
	}
	if c.VaultConfig.Enabled && c.VaultConfig.Token == "" {
		errs = append(errs, errors.New("VAULT_TOKEN is required when vault is enabled"))
	}
	return errors.Join(errs...)
}

// AllowedOriginList splits the CORS origin list
func (s ServerConfig) AllowedOriginList() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
