package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/qlaunch/pkg/db"
	"github.com/quatton/qlaunch/pkg/qapi/utils"
)

type EnvConfig struct {
	Port               string        `envconfig:"PORT" default:"3000"`
	BaseURL            string        `envconfig:"BASE_URL" default:"http://localhost:3000"`
	Environment        string        `envconfig:"ENVIRONMENT" default:"development"`
	LogFormat          string        `envconfig:"LOG_FORMAT" default:"text"`
	DBDriver           string        `envconfig:"DB_DRIVER" default:"sqlite"`
	DBHost             string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort             int           `envconfig:"DB_PORT" default:"5432"`
	DBUser             string        `envconfig:"DB_USER" default:"qlaunch"`
	DBPassword         string        `envconfig:"DB_PASSWORD" default:"password"`
	DBName             string        `envconfig:"DB_NAME" default:"qlaunch"`
	DBSSLMode          string        `envconfig:"DB_SSLMODE" default:"disable"`
	SQLitePath         string        `envconfig:"SQLITE_PATH" default:"qlaunch.db"`
	ValkeyAddr         string        `envconfig:"VALKEY_ADDR"`
	ValkeyPassword     string        `envconfig:"VALKEY_PASSWORD"`
	MonitorInterval    time.Duration `envconfig:"MONITOR_INTERVAL" default:"30s"`
	MonitorConcurrency int           `envconfig:"MONITOR_CONCURRENCY" default:"8"`
	MonitorEnabled     bool          `envconfig:"MONITOR_ENABLED" default:"true"`
}

func ValidateEnv() (*EnvConfig, error) {
	if utils.IsDev() {
		if err := godotenv.Load(); err != nil {
			log.Println("ℹ No .env file found")
		} else {
			log.Println("✓ Loaded .env file")
		}
	}

	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return &cfg, nil
}

func (c *EnvConfig) validate() []string {
	var errors []string

	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		errors = append(errors, "  ❌ BASE_URL must be a valid URL")
	}

	switch c.DBDriver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		errors = append(errors, fmt.Sprintf("  ❌ DB_DRIVER must be %q or %q", db.DriverPostgres, db.DriverSQLite))
	}

	if c.DBDriver == db.DriverSQLite && c.SQLitePath == "" {
		errors = append(errors, "  ❌ SQLITE_PATH is required when DB_DRIVER is sqlite")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errors = append(errors, "  ❌ LOG_FORMAT must be text or json")
	}

	if c.MonitorInterval <= 0 {
		errors = append(errors, "  ❌ MONITOR_INTERVAL must be positive")
	}

	if c.MonitorConcurrency < 1 {
		errors = append(errors, "  ❌ MONITOR_CONCURRENCY must be at least 1")
	}

	return errors
}

// DBConfig returns the Postgres connection settings.
func (c *EnvConfig) DBConfig() db.Config {
	return db.Config{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Database: c.DBName,
		SSLMode:  c.DBSSLMode,
	}
}

func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (c *EnvConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Configuration:\n")
	fmtr("  Environment: %s\n", c.Environment)
	fmtr("  Port: %s\n", c.Port)
	fmtr("  Base URL: %s\n", c.BaseURL)

	if c.DBDriver == db.DriverSQLite {
		fmtr("  Database: sqlite %s\n", c.SQLitePath)
	} else {
		fmtr("  Database: %s@%s:%d/%s (sslmode=%s, password=%s)\n",
			c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode, MaskSecret(c.DBPassword))
	}

	if c.ValkeyAddr != "" {
		fmtr("  Valkey: ✓ %s (password=%s)\n", c.ValkeyAddr, MaskSecret(c.ValkeyPassword))
	} else {
		fmtr("  Valkey: ✗ Disabled (monitor runs without a lease)\n")
	}

	if c.MonitorEnabled {
		fmtr("  Monitor: ✓ every %s, %d concurrent checks\n", c.MonitorInterval, c.MonitorConcurrency)
	} else {
		fmtr("  Monitor: ✗ Disabled\n")
	}
}
