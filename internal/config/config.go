// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every setting of the server. Command-line flags override the
// environment after Load.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"evidenca.sqlite3"`
	DatabaseURL string `env:"DATABASE_URL"`

	ReservationTTL time.Duration `env:"RESERVATION_TTL" envDefault:"20m"`
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"2m"`
	ReaperBatch    int           `env:"REAPER_BATCH" envDefault:"200"`

	WebhookSecret string `env:"WEBHOOK_SECRET"`
	JWTSecret     string `env:"JWT_SECRET"`

	CommerceURL     string        `env:"COMMERCE_URL"`
	CommerceToken   string        `env:"COMMERCE_TOKEN"`
	CommerceTimeout time.Duration `env:"COMMERCE_TIMEOUT" envDefault:"10s"`

	// ActivationRate is how many activation attempts one client may make
	// per minute, across all units.
	ActivationRate int `env:"ACTIVATION_RATE" envDefault:"20"`

	LogPath string `env:"LOG_PATH"`
}

// MaxReaperBatch is the most reservations one reaper sweep may expire.
const MaxReaperBatch = 200

// Prefix is prepended to every variable name.
const Prefix = "EVIDENCA_"

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that would only fail later at runtime.
func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("sqlite driver needs a database path"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres driver needs a database url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.DBDriver))
	}
	if c.ReservationTTL <= 0 {
		errs = append(errs, errors.New("reservation ttl must be positive"))
	}
	if c.ReaperInterval <= 0 {
		errs = append(errs, errors.New("reaper interval must be positive"))
	}
	if c.ReaperBatch <= 0 || c.ReaperBatch > MaxReaperBatch {
		errs = append(errs, fmt.Errorf("reaper batch must be between 1 and %d", MaxReaperBatch))
	}
	if c.CommerceURL != "" && c.CommerceTimeout <= 0 {
		errs = append(errs, errors.New("commerce timeout must be positive"))
	}
	if c.ActivationRate < 0 {
		errs = append(errs, errors.New("activation rate cannot be negative"))
	}
	return errors.Join(errs...)
}
