/*
config.go - Environment-driven configuration

PURPOSE:
  Loads runtime configuration from environment variables, with an optional
  .env file for local development. Every knob has a default so the server
  starts with no configuration at all.

VARIABLES:
  PORT             HTTP listen port                 (default 8080)
  DATABASE_PATH    SQLite database file             (default ./data/ikimina.db)
  CIVIL_TIMEZONE   IANA zone for civil dates        (default Africa/Kigali)
  TICK_INTERVAL    Scheduler tick interval          (default 60s)
  TICK_WORKERS     Parallel groups per tick         (default 8)
  LOG_LEVEL        logrus level                     (default info)
  ENVIRONMENT      "production" switches JSON logs  (default development)

CIVIL TIMEZONE:
  All day-boundary decisions (round activation, slot windows, date-delay
  penalties) are made in this zone, not in server local time, so moving
  the deployment does not shift anyone's deadlines.

SEE ALSO:
  - cmd/server/main.go: The only consumer
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings.
type Config struct {
	Port          string
	DatabasePath  string
	CivilTimezone string
	TickInterval  time.Duration
	TickWorkers   int
	LogLevel      string
	Environment   string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present; real environment
// variables win over it.
func Load() (*Config, error) {
	// Missing .env is fine; it only exists in development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DatabasePath:  getEnv("DATABASE_PATH", "./data/ikimina.db"),
		CivilTimezone: getEnv("CIVIL_TIMEZONE", "Africa/Kigali"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Environment:   getEnv("ENVIRONMENT", "development"),
	}

	interval, err := time.ParseDuration(getEnv("TICK_INTERVAL", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
	}
	if interval < time.Second {
		return nil, fmt.Errorf("TICK_INTERVAL must be at least 1s, got %s", interval)
	}
	cfg.TickInterval = interval

	workers, err := strconv.Atoi(getEnv("TICK_WORKERS", "8"))
	if err != nil || workers < 1 {
		return nil, fmt.Errorf("TICK_WORKERS must be a positive integer")
	}
	cfg.TickWorkers = workers

	// Fail at startup, not at the first tick, on a bad zone name.
	if _, err := time.LoadLocation(cfg.CivilTimezone); err != nil {
		return nil, fmt.Errorf("invalid CIVIL_TIMEZONE %q: %w", cfg.CivilTimezone, err)
	}

	return cfg, nil
}

// Location returns the parsed civil timezone. Load already validated it.
func (c *Config) Location() *time.Location {
	loc, _ := time.LoadLocation(c.CivilTimezone)
	return loc
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
