package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/shopspring/decimal"

	"navfeed/internal/datefmt"
	"navfeed/internal/domain"
)

// Compile-time interface checks.
var _ Backend = (*JSONStore)(nil)

const snapshotFile = "data.json"

// reservedFiles are JSON files in the data directory that never hold an
// instrument history.
var reservedFiles = map[string]struct{}{
	"data.json":      {},
	"summary.json":   {},
	"index.json":     {},
	"nifty.json":     {},
	"sensex.json":    {},
	"banknifty.json": {},
}

// JSONStore keeps the snapshot in <DataDir>/data.json and each history in
// <DataDir>/<instrument>.json as a {date: value} object, newest first.
type JSONStore struct {
	DataDir string
	log     *slog.Logger
}

// NewJSONStore creates a JSONStore rooted at dataDir.
func NewJSONStore(dataDir string) *JSONStore {
	return &JSONStore{
		DataDir: dataDir,
		log:     slog.Default().With("component", "store", "backend", "json"),
	}
}

// Close is a no-op.
func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) historyPath(instrument string) string {
	return filepath.Join(s.DataDir, instrument+".json")
}

// ---------------------------------------------------------------------------
// HistoryStore implementation
// ---------------------------------------------------------------------------

// ReadHistory loads <instrument>.json. Malformed files are repaired in memory
// and logged; files that cannot be repaired return ErrCorrupt.
func (s *JSONStore) ReadHistory(_ context.Context, instrument string) (*domain.History, error) {
	h, _, err := s.loadHistory(instrument)
	return h, err
}

// CheckHistory reports whether the stored history needed repair to load.
func (s *JSONStore) CheckHistory(_ context.Context, instrument string) (bool, error) {
	_, repaired, err := s.loadHistory(instrument)
	return repaired, err
}

func (s *JSONStore) loadHistory(instrument string) (*domain.History, bool, error) {
	if err := checkInstrument(instrument); err != nil {
		return nil, false, err
	}
	path := s.historyPath(instrument)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewHistory(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.NewHistory(), false, nil
	}

	var raw map[string]decimal.Decimal
	repaired, err := decodeJSON(data, &raw)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w: %v", path, ErrCorrupt, err)
	}
	if repaired {
		s.log.Warn("repaired malformed history file", "instrument", instrument, "path", path)
	}

	h := domain.NewHistory()
	for k, v := range raw {
		d, err := datefmt.ParseStored(k)
		if err != nil {
			s.log.Warn("skipping stored entry with bad date", "instrument", instrument, "date", k)
			continue
		}
		h.Set(d, v)
	}
	return h, repaired, nil
}

// WriteHistory atomically replaces <instrument>.json.
func (s *JSONStore) WriteHistory(_ context.Context, instrument string, h *domain.History) error {
	if err := checkInstrument(instrument); err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, e := range h.Entries() {
		if i > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(&buf, "\n  %q: %q", e.Date.String(), e.Value.String())
	}
	if h.Len() > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return writeAtomic(s.historyPath(instrument), buf.Bytes())
}

// ListInstruments returns the instrument codes of every history file.
func (s *JSONStore) ListInstruments(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var codes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := reservedFiles[strings.ToLower(name)]; ok {
			continue
		}
		codes = append(codes, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(codes)
	return codes, nil
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// ReadSnapshot loads data.json.
func (s *JSONStore) ReadSnapshot(_ context.Context) (*domain.Snapshot, error) {
	path := filepath.Join(s.DataDir, snapshotFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.NewSnapshot(), nil
	}

	var rows []domain.SnapshotRow
	repaired, err := decodeJSON(data, &rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrCorrupt, err)
	}
	if repaired {
		s.log.Warn("repaired malformed snapshot file", "path", path)
	}
	return domain.NewSnapshot(rows...), nil
}

// WriteSnapshot atomically replaces data.json with the rows in key order.
func (s *JSONStore) WriteSnapshot(_ context.Context, snap *domain.Snapshot) error {
	rows := snap.Rows()
	if rows == nil {
		rows = []domain.SnapshotRow{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return writeAtomic(filepath.Join(s.DataDir, snapshotFile), append(data, '\n'))
}

// ---------------------------------------------------------------------------
// File helpers
// ---------------------------------------------------------------------------

// decodeJSON unmarshals data into v, falling back to a repaired copy of the
// document. It reports whether the repair was needed.
func decodeJSON(data []byte, v any) (bool, error) {
	err := json.Unmarshal(data, v)
	if err == nil {
		return false, nil
	}
	fixed, rerr := jsonrepair.RepairJSON(string(data))
	if rerr != nil {
		return false, errors.Join(err, rerr)
	}
	if err := json.Unmarshal([]byte(fixed), v); err != nil {
		return false, err
	}
	return true, nil
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
