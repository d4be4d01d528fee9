package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"navfeed/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "navfeed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: "sqlite"
  data_dir: "/tmp/navfeed/data"
  sqlite_path: "/tmp/navfeed/navfeed.db"
  debug_dir: "/tmp/navfeed/debug"
source:
  archive_base: "https://archive.example/download"
  fallback_host: "10.0.0.1"
  timeout: "30s"
  retry_attempts: 5
  retry_base_delay: "500ms"
  min_delay: "0s"
  max_delay: "1s"
  rate_limit_per_min: 120
  insecure_fallback: true
backfill:
  concurrency: 3
  sample_size: 7
  sample_threshold: 0.5
  window_months: 24
logging:
  level: "debug"
  format: "text"
metrics:
  addr: ":9102"
`)

	// Clear any environment overrides that might interfere.
	for _, k := range []string{"DATA_DIR", "STORAGE_BACKEND", "SQLITE_PATH", "BACKFILL_CONCURRENCY", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, "sqlite")
	}
	if cfg.Storage.SQLitePath != "/tmp/navfeed/navfeed.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/navfeed/navfeed.db")
	}

	// -- Source --
	if cfg.Source.Timeout != 30*time.Second {
		t.Errorf("Source.Timeout = %v, want %v", cfg.Source.Timeout, 30*time.Second)
	}
	if cfg.Source.RetryBaseDelay != 500*time.Millisecond {
		t.Errorf("Source.RetryBaseDelay = %v, want %v", cfg.Source.RetryBaseDelay, 500*time.Millisecond)
	}
	if cfg.Source.RetryAttempts != 5 {
		t.Errorf("Source.RetryAttempts = %d, want %d", cfg.Source.RetryAttempts, 5)
	}
	if !cfg.Source.InsecureFallback {
		t.Error("Source.InsecureFallback = false, want true")
	}
	// Unset fields keep their defaults.
	if cfg.Source.ExportURL != Default().Source.ExportURL {
		t.Errorf("Source.ExportURL = %q, want default", cfg.Source.ExportURL)
	}
	if len(cfg.Source.UserAgents) != 4 {
		t.Errorf("len(Source.UserAgents) = %d, want 4", len(cfg.Source.UserAgents))
	}

	// -- Backfill --
	if cfg.Backfill.SampleSize != 7 {
		t.Errorf("Backfill.SampleSize = %d, want %d", cfg.Backfill.SampleSize, 7)
	}
	if cfg.Backfill.SampleThreshold != 0.5 {
		t.Errorf("Backfill.SampleThreshold = %f, want %f", cfg.Backfill.SampleThreshold, 0.5)
	}

	// -- Logging / Metrics --
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}
	if cfg.Metrics.Addr != ":9102" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9102")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "/original/data"
backfill:
  concurrency: 2
`)

	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("BACKFILL_CONCURRENCY", "6")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Backfill.Concurrency != 6 {
		t.Errorf("Backfill.Concurrency = %d, want %d (env override)", cfg.Backfill.Concurrency, 6)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q (env override)", cfg.Logging.Level, "warn")
	}
	// backend stays at its default since neither YAML nor env set it.
	if cfg.Storage.Backend != "json" {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, "json")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"zero concurrency", func(c *Config) { c.Backfill.Concurrency = 0 }, "backfill.concurrency"},
		{"threshold above one", func(c *Config) { c.Backfill.SampleThreshold = 1.5 }, "backfill.sample_threshold"},
		{"inverted delays", func(c *Config) { c.Source.MinDelay = time.Second; c.Source.MaxDelay = 0 }, "source.max_delay"},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mut(cfg)
		err := cfg.Validate()
		var ce *domain.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("%s: Validate() = %v, want *ConfigError", tt.name, err)
			continue
		}
		if ce.Field != tt.field {
			t.Errorf("%s: field = %q, want %q", tt.name, ce.Field, tt.field)
		}
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}

	cfg := Default()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLitePath = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("sqlite without path: Validate() = %v, want nil (store defaults the path)", err)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() returned error: %v", err)
	}
	if cfg.Storage.DataDir != "data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "data")
	}
}
