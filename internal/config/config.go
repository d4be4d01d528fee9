package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"navfeed/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the navfeed jobs.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Source   Source   `yaml:"source"`
	Backfill Backfill `yaml:"backfill"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Storage selects the persistence backend and its paths.
type Storage struct {
	Backend    string `yaml:"backend"` // json, sqlite or parquet
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"` // defaults to <data_dir>/navfeed.db
	DebugDir   string `yaml:"debug_dir"`
}

// Source holds upstream endpoints and request pacing.
type Source struct {
	ArchiveBase      string        `yaml:"archive_base"`
	ArchiveHost      string        `yaml:"archive_host"`
	FallbackHost     string        `yaml:"fallback_host"`
	ExportURL        string        `yaml:"export_url"`
	ListURL          string        `yaml:"list_url"`
	Referer          string        `yaml:"referer"`
	Timeout          time.Duration `yaml:"timeout"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	MinDelay         time.Duration `yaml:"min_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	RateLimitPerMin  int           `yaml:"rate_limit_per_min"`
	InsecureFallback bool          `yaml:"insecure_fallback"`
	UserAgents       []string      `yaml:"user_agents"`
}

// Backfill controls the backfill coordinator.
type Backfill struct {
	Concurrency     int     `yaml:"concurrency"`
	SampleSize      int     `yaml:"sample_size"`
	SampleThreshold float64 `yaml:"sample_threshold"`
	WindowMonths    int     `yaml:"window_months"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the configuration used when a field is left unset.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Backend:  "json",
			DataDir:  "data",
			DebugDir: "debug_files",
		},
		Source: Source{
			ArchiveBase:     "https://npscra.nsdl.co.in/download",
			ArchiveHost:     "npscra.nsdl.co.in",
			FallbackHost:    "144.126.254.118",
			ExportURL:       "https://npstrust.org.in/scheme-wise-nav-report-excel",
			ListURL:         "https://npstrust.org.in/nav-report-excel",
			Referer:         "https://npstrust.org.in/",
			Timeout:         45 * time.Second,
			RetryAttempts:   3,
			RetryBaseDelay:  2 * time.Second,
			MinDelay:        1500 * time.Millisecond,
			MaxDelay:        4500 * time.Millisecond,
			RateLimitPerMin: 30,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
				"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			},
		},
		Backfill: Backfill{
			Concurrency:     4,
			SampleSize:      5,
			SampleThreshold: 0.6,
			WindowMonths:    60,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of the
// defaults, applies environment variable overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the defaults plus
// environment overrides when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}
	return Load(path)
}

// Validate checks the configuration for values that would make every run
// fail.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "json", "parquet", "sqlite":
	default:
		return &domain.ConfigError{Field: "storage.backend", Reason: "must be json, sqlite or parquet, got " + strconv.Quote(c.Storage.Backend)}
	}
	if c.Storage.DataDir == "" {
		return &domain.ConfigError{Field: "storage.data_dir", Reason: "must not be empty"}
	}
	if c.Source.RetryAttempts < 1 {
		return &domain.ConfigError{Field: "source.retry_attempts", Reason: "must be at least 1"}
	}
	if c.Source.MaxDelay < c.Source.MinDelay {
		return &domain.ConfigError{Field: "source.max_delay", Reason: "must not be below min_delay"}
	}
	if c.Backfill.Concurrency < 1 {
		return &domain.ConfigError{Field: "backfill.concurrency", Reason: "must be at least 1"}
	}
	if c.Backfill.SampleSize < 1 {
		return &domain.ConfigError{Field: "backfill.sample_size", Reason: "must be at least 1"}
	}
	if c.Backfill.SampleThreshold <= 0 || c.Backfill.SampleThreshold > 1 {
		return &domain.ConfigError{Field: "backfill.sample_threshold", Reason: "must be in (0, 1]"}
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("DEBUG_DIR"); v != "" {
		cfg.Storage.DebugDir = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("SOURCE_ARCHIVE_BASE"); v != "" {
		cfg.Source.ArchiveBase = v
	}
	if v := os.Getenv("SOURCE_EXPORT_URL"); v != "" {
		cfg.Source.ExportURL = v
	}

	if v := os.Getenv("BACKFILL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backfill.Concurrency = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}
