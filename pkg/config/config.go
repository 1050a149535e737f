// Package config loads service configuration from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config groups all service settings.
type Config struct {
	App         AppConfig
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Stock       StockConfig
	Idempotency IdempotencyConfig
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
}

// IsDevelopment reports whether the service runs in development mode.
func (c AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string // websocket Origin allow-list; empty allows same-host only
}

// Addr returns the listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	Driver         string
	URL            string
	MaxConns       int32
	MigrateOnStart bool
}

// RedisConfig holds the item stock cache connection. An empty Addr keeps the
// cache in process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// StockConfig holds ledger settings.
type StockConfig struct {
	// DefaultWarehouse is the code or name offered to forms as the pre-selected warehouse.
	DefaultWarehouse string

	// SyncRefreshInterval is how often visible observers are asked to re-read.
	SyncRefreshInterval time.Duration

	// DriftCheckInterval is how often projections are compared with a ledger replay.
	DriftCheckInterval time.Duration
}

// IdempotencyConfig holds X-Idempotency-Key settings.
type IdempotencyConfig struct {
	Enabled bool
	TTL     time.Duration
}

// Load reads configuration from environment variables, falling back to a
// .env file and then to built-in defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("APP_ENV"),
			Name:     v.GetString("APP_NAME"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		HTTP: HTTPConfig{
			Port:           v.GetInt("HTTP_PORT"),
			ReadTimeout:    v.GetDuration("HTTP_READ_TIMEOUT"),
			WriteTimeout:   v.GetDuration("HTTP_WRITE_TIMEOUT"),
			IdleTimeout:    v.GetDuration("HTTP_IDLE_TIMEOUT"),
			AllowedOrigins: splitList(v.GetString("WS_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Driver:         strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_DRIVER"))),
			URL:            v.GetString("DATABASE_URL"),
			MaxConns:       v.GetInt32("DB_MAX_CONNS"),
			MigrateOnStart: v.GetBool("MIGRATE_ON_START"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			TTL:      v.GetDuration("REDIS_TTL"),
		},
		Stock: StockConfig{
			DefaultWarehouse:    strings.TrimSpace(v.GetString("DEFAULT_WAREHOUSE")),
			SyncRefreshInterval: v.GetDuration("SYNC_REFRESH_INTERVAL"),
			DriftCheckInterval:  v.GetDuration("DRIFT_CHECK_INTERVAL"),
		},
		Idempotency: IdempotencyConfig{
			Enabled: v.GetBool("IDEMPOTENCY_ENABLED"),
			TTL:     v.GetDuration("IDEMPOTENCY_TTL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "backoffice")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("WS_ALLOWED_ORIGINS", "")

	v.SetDefault("STORAGE_DRIVER", DriverPostgres)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("MIGRATE_ON_START", true)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_TTL", 5*time.Minute)

	v.SetDefault("DEFAULT_WAREHOUSE", "")
	v.SetDefault("SYNC_REFRESH_INTERVAL", 30*time.Second)
	v.SetDefault("DRIFT_CHECK_INTERVAL", 10*time.Minute)

	v.SetDefault("IDEMPOTENCY_ENABLED", true)
	v.SetDefault("IDEMPOTENCY_TTL", 10*time.Minute)
}

// Validate checks settings that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var problems []string

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres driver")
		}
	case DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("STORAGE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("HTTP_PORT out of range: %d", c.HTTP.Port))
	}
	if c.Database.MaxConns <= 0 {
		problems = append(problems, "DB_MAX_CONNS must be positive")
	}
	if c.Stock.SyncRefreshInterval <= 0 {
		problems = append(problems, "SYNC_REFRESH_INTERVAL must be positive")
	}
	if c.Stock.DriftCheckInterval < 0 {
		problems = append(problems, "DRIFT_CHECK_INTERVAL must not be negative")
	}
	if c.Idempotency.Enabled && c.Idempotency.TTL <= 0 {
		problems = append(problems, "IDEMPOTENCY_TTL must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
