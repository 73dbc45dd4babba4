package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected addr :8080, got %q", cfg.Addr)
	}
	if cfg.DBDriver != DriverSQLite {
		t.Errorf("expected sqlite driver, got %q", cfg.DBDriver)
	}
	if cfg.ReservationTTL != 20*time.Minute {
		t.Errorf("expected 20m ttl, got %v", cfg.ReservationTTL)
	}
	if cfg.ReaperInterval != 2*time.Minute || cfg.ReaperBatch != 200 {
		t.Errorf("unexpected reaper defaults: %v / %d", cfg.ReaperInterval, cfg.ReaperBatch)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EVIDENCA_DB_DRIVER", "postgres")
	t.Setenv("EVIDENCA_DATABASE_URL", "postgres://localhost/evidenca")
	t.Setenv("EVIDENCA_RESERVATION_TTL", "5m")
	t.Setenv("EVIDENCA_WEBHOOK_SECRET", "shh")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBDriver != DriverPostgres || cfg.DatabaseURL != "postgres://localhost/evidenca" {
		t.Errorf("unexpected database settings: %+v", cfg)
	}
	if cfg.ReservationTTL != 5*time.Minute {
		t.Errorf("expected 5m ttl, got %v", cfg.ReservationTTL)
	}
	if cfg.WebhookSecret != "shh" {
		t.Errorf("expected webhook secret, got %q", cfg.WebhookSecret)
	}
}

func TestLoadError(t *testing.T) {
	t.Setenv("EVIDENCA_REAPER_BATCH", "lots")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, "unknown database driver"},
		{"postgres without url", func(c *Config) { c.DBDriver = DriverPostgres }, "needs a database url"},
		{"zero ttl", func(c *Config) { c.ReservationTTL = 0 }, "reservation ttl"},
		{"negative interval", func(c *Config) { c.ReaperInterval = -time.Second }, "reaper interval"},
		{"zero batch", func(c *Config) { c.ReaperBatch = 0 }, "reaper batch"},
		{"oversize batch", func(c *Config) { c.ReaperBatch = MaxReaperBatch + 1 }, "reaper batch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
