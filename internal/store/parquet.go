package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"navfeed/internal/domain"
)

// Compile-time interface checks.
var _ Backend = (*ParquetStore)(nil)

// ParquetStore keeps each history in <DataDir>/history/<instrument>.parquet.
// The snapshot stays in the JSON data.json file.
type ParquetStore struct {
	DataDir string
	snap    *JSONStore
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, snap: NewJSONStore(dataDir)}
}

// Close is a no-op.
func (s *ParquetStore) Close() error { return nil }

// ReadSnapshot reads the JSON snapshot file.
func (s *ParquetStore) ReadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	return s.snap.ReadSnapshot(ctx)
}

// WriteSnapshot writes the JSON snapshot file.
func (s *ParquetStore) WriteSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return s.snap.WriteSnapshot(ctx, snap)
}

// HistoryRecord is the Parquet schema of one history entry.
type HistoryRecord struct {
	Date  int64  `parquet:"date,timestamp(millisecond)"` // Unix ms, UTC midnight
	Value string `parquet:"value"`
}

// ---------------------------------------------------------------------------
// HistoryStore implementation
// ---------------------------------------------------------------------------

// ReadHistory reads <instrument>.parquet.
func (s *ParquetStore) ReadHistory(_ context.Context, instrument string) (*domain.History, error) {
	if err := checkInstrument(instrument); err != nil {
		return nil, err
	}
	path := s.historyPath(instrument)
	records, err := readParquetFile[HistoryRecord](path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewHistory(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrCorrupt, err)
	}

	h := domain.NewHistory()
	for _, r := range records {
		v, err := decimal.NewFromString(r.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", path, ErrCorrupt, err)
		}
		h.Set(domain.DateOf(time.UnixMilli(r.Date).UTC()), v)
	}
	return h, nil
}

// WriteHistory replaces <instrument>.parquet with h, newest first.
func (s *ParquetStore) WriteHistory(_ context.Context, instrument string, h *domain.History) error {
	if err := checkInstrument(instrument); err != nil {
		return err
	}
	entries := h.Entries()
	records := make([]HistoryRecord, len(entries))
	for i, e := range entries {
		records[i] = HistoryRecord{Date: e.Date.Time().UnixMilli(), Value: e.Value.String()}
	}
	if err := writeParquetFile(s.historyPath(instrument), records); err != nil {
		return fmt.Errorf("writing history for %s: %w", instrument, err)
	}
	return nil
}

// ListInstruments lists every instrument with a Parquet history file.
func (s *ParquetStore) ListInstruments(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "history"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var codes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		codes = append(codes, strings.TrimSuffix(name, ".parquet"))
	}
	sort.Strings(codes)
	return codes, nil
}

// historyPath returns the filesystem path for a history Parquet file.
// Layout: <dataDir>/history/<instrument>.parquet
func (s *ParquetStore) historyPath(instrument string) string {
	return filepath.Join(s.DataDir, "history", instrument+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// writeParquetFile writes records to a temporary file and renames it over path.
func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
