// Package app wires configuration, logging, storage and the source client
// for the navfeed commands.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"navfeed/internal/config"
	"navfeed/internal/metrics"
	"navfeed/internal/source"
	"navfeed/internal/store"
	"navfeed/internal/util"
)

// Env is everything a command needs.
type Env struct {
	Config *config.Config
	Log    *slog.Logger
	Store  store.Backend
	Source *source.Client

	logFile *os.File
}

// ConfigPath returns the configuration file path from NAVFEED_CONFIG, or
// config/navfeed.yaml.
func ConfigPath() string {
	if p := os.Getenv("NAVFEED_CONFIG"); p != "" {
		return p
	}
	return "config/navfeed.yaml"
}

// Setup loads .env files and the configuration, builds the logger (stdout,
// plus logging.file when set), opens the store and starts the metrics
// endpoint when configured. The caller must Close the Env.
func Setup(ctx context.Context, name string) (*Env, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	env := &Env{Config: cfg}
	var w io.Writer = os.Stdout
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
			return nil, fmt.Errorf("creating log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		env.logFile = f
		w = io.MultiWriter(os.Stdout, f)
	}
	env.Log = util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format).With("cmd", name)
	util.SetDefault(env.Log)

	st, err := store.Open(cfg.Storage)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}
	env.Store = st
	env.Source = source.New(cfg.Source, source.WithLogger(env.Log))

	if cfg.Metrics.Addr != "" {
		metrics.Serve(ctx, cfg.Metrics.Addr, env.Log)
	}
	env.Log.Info("starting", "config", ConfigPath(), "backend", cfg.Storage.Backend, "data_dir", cfg.Storage.DataDir)
	return env, nil
}

// Close releases the store and the log file.
func (e *Env) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			e.Log.Warn("closing store", "error", err)
		}
	}
	if e.logFile != nil {
		e.logFile.Close()
	}
}
