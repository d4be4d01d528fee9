// Package store persists NAV histories and the latest-value snapshot.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"navfeed/internal/config"
	"navfeed/internal/domain"
)

var (
	// ErrNotFound is returned when an instrument has no stored history.
	ErrNotFound = errors.New("store: not found")

	// ErrCorrupt is returned when a stored file cannot be decoded or repaired.
	ErrCorrupt = errors.New("store: corrupt data")
)

// HistoryStore persists per-instrument NAV histories.
type HistoryStore interface {
	// ReadHistory returns the history of an instrument, or an empty history
	// when none is stored.
	ReadHistory(ctx context.Context, instrument string) (*domain.History, error)

	// WriteHistory replaces the stored history of an instrument.
	WriteHistory(ctx context.Context, instrument string, h *domain.History) error

	// ListInstruments returns every instrument with a stored history, sorted.
	ListInstruments(ctx context.Context) ([]string, error)
}

// SnapshotStore persists the latest-value snapshot.
type SnapshotStore interface {
	// ReadSnapshot returns the stored snapshot, or an empty one.
	ReadSnapshot(ctx context.Context) (*domain.Snapshot, error)

	// WriteSnapshot replaces the stored snapshot.
	WriteSnapshot(ctx context.Context, s *domain.Snapshot) error
}

// Backend is a complete storage backend.
type Backend interface {
	HistoryStore
	SnapshotStore
	io.Closer
}

// Open returns the backend selected by cfg.Backend.
func Open(cfg config.Storage) (Backend, error) {
	switch cfg.Backend {
	case "", "json":
		return NewJSONStore(cfg.DataDir), nil
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "navfeed.db")
		}
		return NewSQLiteStore(path)
	case "parquet":
		return NewParquetStore(cfg.DataDir), nil
	default:
		return nil, &domain.ConfigError{Field: "storage.backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

// checkInstrument rejects codes that cannot be used as a file name.
func checkInstrument(instrument string) error {
	if instrument == "" || instrument == "." || instrument == ".." ||
		strings.ContainsAny(instrument, `/\`) {
		return fmt.Errorf("store: invalid instrument code %q", instrument)
	}
	return nil
}
