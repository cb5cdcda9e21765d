// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPPort is the port the API server listens on.
	HTTPPort string `mapstructure:"HTTP_PORT"`
	// DatabaseURL is a Postgres DSN. When empty the SQLite file at DatabasePath is used.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DatabasePath is the SQLite database file.
	DatabasePath string `mapstructure:"DATABASE_PATH"`
	// AdminSessionID is the one session id with cross-tenant visibility.
	AdminSessionID string `mapstructure:"ADMIN_SESSION_ID"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	// CORSOrigins is a comma-separated allow-list; "*" allows any origin.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// ActivationBaseURL is the external activation endpoint base (POST {base}/infoInject).
	ActivationBaseURL string        `mapstructure:"ACTIVATION_BASE_URL"`
	ActivationTimeout time.Duration `mapstructure:"ACTIVATION_TIMEOUT"`
	// ActivationConcurrency caps the concurrent executor's worker pool.
	ActivationConcurrency int `mapstructure:"ACTIVATION_CONCURRENCY"`
	// ActivationRPS limits outbound activation calls per second; 0 disables the limit.
	ActivationRPS float64 `mapstructure:"ACTIVATION_RPS"`
	// ActivationBatchTimeout bounds a whole concurrent batch.
	ActivationBatchTimeout time.Duration `mapstructure:"ACTIVATION_BATCH_TIMEOUT"`
	MaxActivationCount     int           `mapstructure:"MAX_ACTIVATION_COUNT"`
	// UseProxyPool routes activation calls through a proxy picked from the pool.
	UseProxyPool bool `mapstructure:"USE_PROXY_POOL"`

	ProxyTestURL         string        `mapstructure:"PROXY_TEST_URL"`
	ProxyTestTimeout     time.Duration `mapstructure:"PROXY_TEST_TIMEOUT"`
	ProxyTestConcurrency int           `mapstructure:"PROXY_TEST_CONCURRENCY"`

	// Offline runner (cmd/activator).
	ActivationKey      string        `mapstructure:"ACTIVATION_KEY"`
	SchedulerSessionID string        `mapstructure:"SCHEDULER_SESSION_ID"`
	MaxRetries         int           `mapstructure:"MAX_RETRIES"`
	RetryDelay         time.Duration `mapstructure:"RETRY_DELAY"`
	MinSleep           time.Duration `mapstructure:"MIN_SLEEP"`
	MaxSleep           time.Duration `mapstructure:"MAX_SLEEP"`
	RunLogPath         string        `mapstructure:"RUN_LOG_PATH"`

	// MigrateDir holds legacy per-account JSON files for /api/migrate_data.
	MigrateDir       string `mapstructure:"MIGRATE_DIR"`
	MigrateSessionID string `mapstructure:"MIGRATE_SESSION_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_PATH", "accounts.db")
	v.SetDefault("ADMIN_SESSION_ID", "admin123456")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("ACTIVATION_BASE_URL", "https://inject.kiteyuan.info")
	v.SetDefault("ACTIVATION_TIMEOUT", "30s")
	v.SetDefault("ACTIVATION_CONCURRENCY", 5)
	v.SetDefault("ACTIVATION_RPS", 0)
	v.SetDefault("ACTIVATION_BATCH_TIMEOUT", "10m")
	v.SetDefault("MAX_ACTIVATION_COUNT", 3)
	v.SetDefault("USE_PROXY_POOL", false)
	v.SetDefault("PROXY_TEST_URL", "https://httpbin.org/ip")
	v.SetDefault("PROXY_TEST_TIMEOUT", "10s")
	v.SetDefault("PROXY_TEST_CONCURRENCY", 4)
	v.SetDefault("ACTIVATION_KEY", "")
	v.SetDefault("SCHEDULER_SESSION_ID", "autoactivator")
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("RETRY_DELAY", "5s")
	v.SetDefault("MIN_SLEEP", "10s")
	v.SetDefault("MAX_SLEEP", "30s")
	v.SetDefault("RUN_LOG_PATH", "activation_stats.log")
	v.SetDefault("MIGRATE_DIR", "account")
	v.SetDefault("MIGRATE_SESSION_ID", "migrateddata")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort == "" {
		return errors.New("config: HTTP_PORT must be set")
	}
	if c.AdminSessionID == "" {
		return errors.New("config: ADMIN_SESSION_ID must be set")
	}
	if c.ActivationConcurrency < 1 {
		return errors.New("config: ACTIVATION_CONCURRENCY must be at least 1")
	}
	if c.ActivationRPS < 0 {
		return errors.New("config: ACTIVATION_RPS must not be negative")
	}
	if c.MaxActivationCount < 1 {
		return errors.New("config: MAX_ACTIVATION_COUNT must be at least 1")
	}
	if c.ProxyTestConcurrency < 1 {
		c.ProxyTestConcurrency = 1
	}
	if c.MaxRetries < 1 {
		return errors.New("config: MAX_RETRIES must be at least 1")
	}
	if c.MinSleep < 0 || c.MaxSleep < c.MinSleep {
		return errors.New("config: MIN_SLEEP/MAX_SLEEP must satisfy 0 <= MIN_SLEEP <= MAX_SLEEP")
	}
	return nil
}

// CORSOriginList returns the allowed origins from the comma-separated config.
func (c *Config) CORSOriginList() []string {
	if c == nil || c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
