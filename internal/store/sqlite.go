package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"navfeed/internal/datefmt"
	"navfeed/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ Backend = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history (
	instrument TEXT NOT NULL,
	date       TEXT NOT NULL,
	value      TEXT NOT NULL,
	PRIMARY KEY (instrument, date)
);
CREATE TABLE IF NOT EXISTS snapshot (
	manager_code    TEXT NOT NULL,
	instrument_code TEXT NOT NULL,
	manager_name    TEXT NOT NULL,
	instrument_name TEXT NOT NULL,
	date            TEXT NOT NULL,
	nav             TEXT NOT NULL,
	r_1d TEXT, r_7d TEXT, r_1m TEXT, r_3m TEXT,
	r_6m TEXT, r_1y TEXT, r_3y TEXT, r_5y TEXT,
	PRIMARY KEY (manager_code, instrument_code)
);`

// returnColumns are the snapshot columns of each horizon, in domain.Horizons
// order.
var returnColumns = []string{"r_1d", "r_7d", "r_1m", "r_3m", "r_6m", "r_1y", "r_3y", "r_5y"}

// SQLiteStore implements Backend in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// HistoryStore implementation
// ---------------------------------------------------------------------------

// ReadHistory selects every row of one instrument.
func (s *SQLiteStore) ReadHistory(ctx context.Context, instrument string) (*domain.History, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, value FROM history WHERE instrument = ?`, instrument)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	h := domain.NewHistory()
	for rows.Next() {
		var ds, vs string
		if err := rows.Scan(&ds, &vs); err != nil {
			return nil, err
		}
		d, err := datefmt.ParseStored(ds)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w: %v", instrument, ds, ErrCorrupt, err)
		}
		v, err := decimal.NewFromString(vs)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w: %v", instrument, ds, ErrCorrupt, err)
		}
		h.Set(d, v)
	}
	return h, rows.Err()
}

// WriteHistory replaces an instrument's rows inside one transaction.
func (s *SQLiteStore) WriteHistory(ctx context.Context, instrument string, h *domain.History) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE instrument = ?`, instrument); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO history (instrument, date, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range h.Entries() {
		if _, err := stmt.ExecContext(ctx, instrument, e.Date.String(), e.Value.String()); err != nil {
			return fmt.Errorf("inserting %s %s: %w", instrument, e.Date, err)
		}
	}
	return tx.Commit()
}

// ListInstruments returns the distinct instruments with history rows.
func (s *SQLiteStore) ListInstruments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT instrument FROM history ORDER BY instrument`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// ReadSnapshot selects every snapshot row.
func (s *SQLiteStore) ReadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	q := `SELECT manager_code, instrument_code, manager_name, instrument_name, date, nav, ` +
		strings.Join(returnColumns, ", ") + ` FROM snapshot`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := domain.NewSnapshot()
	for rows.Next() {
		var (
			r       domain.SnapshotRow
			ds, nav string
		)
		ret := make([]sql.NullString, len(returnColumns))
		dest := []any{&r.ManagerCode, &r.InstrumentCode, &r.ManagerName, &r.InstrumentName, &ds, &nav}
		for i := range ret {
			dest = append(dest, &ret[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if r.Date, err = datefmt.ParseStored(ds); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w: %v", r.Key(), ErrCorrupt, err)
		}
		if r.Value, err = decimal.NewFromString(nav); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w: %v", r.Key(), ErrCorrupt, err)
		}
		for i, ns := range ret {
			if !ns.Valid {
				continue
			}
			v, err := decimal.NewFromString(ns.String)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s %s: %w: %v", r.Key(), domain.Horizon(i), ErrCorrupt, err)
			}
			r.Returns.Set(domain.Horizon(i), v)
		}
		snap.Put(r)
	}
	return snap, rows.Err()
}

// WriteSnapshot replaces the snapshot table inside one transaction.
func (s *SQLiteStore) WriteSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot`); err != nil {
		return err
	}
	q := `INSERT INTO snapshot (manager_code, instrument_code, manager_name, instrument_name, date, nav, ` +
		strings.Join(returnColumns, ", ") + `) VALUES (?, ?, ?, ?, ?, ?` +
		strings.Repeat(", ?", len(returnColumns)) + `)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range snap.Rows() {
		args := []any{r.ManagerCode, r.InstrumentCode, r.ManagerName, r.InstrumentName, r.Date.String(), r.Value.String()}
		for _, h := range domain.Horizons {
			var ns sql.NullString
			if f := r.Returns.Format(h); f != "" {
				ns = sql.NullString{String: f, Valid: true}
			}
			args = append(args, ns)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting snapshot %s: %w", r.Key(), err)
		}
	}
	return tx.Commit()
}
