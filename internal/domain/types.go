package domain

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Observations
// ---------------------------------------------------------------------------

// Key identifies one snapshot row: a scheme under its fund manager.
type Key struct {
	Manager    string
	Instrument string
}

func (k Key) String() string { return k.Manager + "/" + k.Instrument }

// Observation is one parsed NAV record. It is never mutated after parsing;
// a later observation for the same (instrument, date) supersedes it.
type Observation struct {
	Date           Date
	ManagerCode    string
	ManagerName    string
	InstrumentCode string
	InstrumentName string
	Value          decimal.Decimal
}

// Key returns the snapshot key of the observation.
func (o Observation) Key() Key { return Key{Manager: o.ManagerCode, Instrument: o.InstrumentCode} }

// ---------------------------------------------------------------------------
// Horizons and metrics
// ---------------------------------------------------------------------------

// Horizon is a lookback period for return calculations.
type Horizon int

const (
	Horizon1D Horizon = iota
	Horizon7D
	Horizon1M
	Horizon3M
	Horizon6M
	Horizon1Y
	Horizon3Y
	Horizon5Y
	horizonCount
)

// Horizons lists every horizon in display order.
var Horizons = []Horizon{Horizon1D, Horizon7D, Horizon1M, Horizon3M, Horizon6M, Horizon1Y, Horizon3Y, Horizon5Y}

var horizonNames = [horizonCount]string{"1D", "7D", "1M", "3M", "6M", "1Y", "3Y", "5Y"}

// staleDays is the maximum age in days of a snapshot row, relative to the
// newest row, for which the horizon is still reported. Zero means never stale.
var staleDays = [horizonCount]int{2, 9, 35, 100, 190, 380, 0, 0}

func (h Horizon) String() string {
	if h < 0 || h >= horizonCount {
		return fmt.Sprintf("Horizon(%d)", int(h))
	}
	return horizonNames[h]
}

// Target returns the date the horizon looks back to from d.
func (h Horizon) Target(d Date) Date {
	switch h {
	case Horizon1D:
		return d.Add(-1)
	case Horizon7D:
		return d.Add(-7)
	case Horizon1M:
		return d.AddMonths(-1)
	case Horizon3M:
		return d.AddMonths(-3)
	case Horizon6M:
		return d.AddMonths(-6)
	case Horizon1Y:
		return d.AddYears(-1)
	case Horizon3Y:
		return d.AddYears(-3)
	case Horizon5Y:
		return d.AddYears(-5)
	}
	return d
}

// Annualized reports whether returns for h are expressed as CAGR.
func (h Horizon) Annualized() bool { return h == Horizon3Y || h == Horizon5Y }

// Years returns the length of an annualized horizon in years.
func (h Horizon) Years() int {
	switch h {
	case Horizon3Y:
		return 3
	case Horizon5Y:
		return 5
	}
	return 0
}

// StaleAfter returns the staleness threshold in days. ok is false for
// horizons that are never suppressed for staleness.
func (h Horizon) StaleAfter() (days int, ok bool) {
	if h < 0 || h >= horizonCount || staleDays[h] == 0 {
		return 0, false
	}
	return staleDays[h], true
}

// Metrics holds one nullable percentage per horizon.
type Metrics [horizonCount]decimal.NullDecimal

// Get returns the value for h.
func (m Metrics) Get(h Horizon) (decimal.Decimal, bool) {
	v := m[h]
	return v.Decimal, v.Valid
}

// Set stores v for h, rounded to two decimals.
func (m *Metrics) Set(h Horizon, v decimal.Decimal) {
	m[h] = decimal.NullDecimal{Decimal: v.Round(2), Valid: true}
}

// Clear nulls the value for h.
func (m *Metrics) Clear(h Horizon) { m[h] = decimal.NullDecimal{} }

// Format renders the value for h with two decimals, or "" when null.
func (m Metrics) Format(h Horizon) string {
	if !m[h].Valid {
		return ""
	}
	return m[h].Decimal.StringFixed(2)
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// SnapshotRow is the latest known value and derived metrics for one key.
type SnapshotRow struct {
	Date           Date
	ManagerCode    string
	ManagerName    string
	InstrumentCode string
	InstrumentName string
	Value          decimal.Decimal
	Returns        Metrics
}

// Key returns the snapshot key of the row.
func (r SnapshotRow) Key() Key { return Key{Manager: r.ManagerCode, Instrument: r.InstrumentCode} }

// snapshotRowJSON is the persisted shape of a SnapshotRow.
type snapshotRowJSON struct {
	Date           string          `json:"Date"`
	ManagerCode    string          `json:"PFM Code"`
	ManagerName    string          `json:"PFM Name"`
	InstrumentCode string          `json:"Scheme Code"`
	InstrumentName string          `json:"Scheme Name"`
	Value          decimal.Decimal `json:"NAV"`
	R1D            *string         `json:"1D"`
	R7D            *string         `json:"7D"`
	R1M            *string         `json:"1M"`
	R3M            *string         `json:"3M"`
	R6M            *string         `json:"6M"`
	R1Y            *string         `json:"1Y"`
	R3Y            *string         `json:"3Y"`
	R5Y            *string         `json:"5Y"`
}

func (j *snapshotRowJSON) returns() []**string {
	return []**string{&j.R1D, &j.R7D, &j.R1M, &j.R3M, &j.R6M, &j.R1Y, &j.R3Y, &j.R5Y}
}

func (r SnapshotRow) MarshalJSON() ([]byte, error) {
	j := snapshotRowJSON{
		Date:           r.Date.String(),
		ManagerCode:    r.ManagerCode,
		ManagerName:    r.ManagerName,
		InstrumentCode: r.InstrumentCode,
		InstrumentName: r.InstrumentName,
		Value:          r.Value,
	}
	for i, p := range j.returns() {
		if s := r.Returns.Format(Horizon(i)); s != "" {
			*p = &s
		}
	}
	return json.Marshal(j)
}

func (r *SnapshotRow) UnmarshalJSON(b []byte) error {
	var j snapshotRowJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	d, err := ParseStored(j.Date)
	if err != nil {
		return err
	}
	*r = SnapshotRow{
		Date:           d,
		ManagerCode:    j.ManagerCode,
		ManagerName:    j.ManagerName,
		InstrumentCode: j.InstrumentCode,
		InstrumentName: j.InstrumentName,
		Value:          j.Value,
	}
	for i, p := range j.returns() {
		if *p == nil || **p == "" {
			continue
		}
		v, err := decimal.NewFromString(**p)
		if err != nil {
			return fmt.Errorf("%s return %q: %w", Horizon(i), **p, err)
		}
		r.Returns.Set(Horizon(i), v)
	}
	return nil
}

// Snapshot holds one row per (manager, instrument) key.
type Snapshot struct {
	rows map[Key]SnapshotRow
}

// NewSnapshot builds a snapshot from rows, keeping the newest row per key.
func NewSnapshot(rows ...SnapshotRow) *Snapshot {
	s := &Snapshot{rows: make(map[Key]SnapshotRow, len(rows))}
	for _, r := range rows {
		if cur, ok := s.rows[r.Key()]; ok && !r.Date.After(cur.Date) {
			continue
		}
		s.rows[r.Key()] = r
	}
	return s
}

// Len returns the number of rows.
func (s *Snapshot) Len() int { return len(s.rows) }

// Get returns the row for k.
func (s *Snapshot) Get(k Key) (SnapshotRow, bool) {
	r, ok := s.rows[k]
	return r, ok
}

// Put stores r unconditionally.
func (s *Snapshot) Put(r SnapshotRow) {
	if s.rows == nil {
		s.rows = make(map[Key]SnapshotRow)
	}
	s.rows[r.Key()] = r
}

// Upsert replaces the row for o's key when no row exists, when o is newer
// than the stored row, or when o carries a different value for the stored
// row's date. Returns are cleared on replacement. It reports whether the
// snapshot changed.
func (s *Snapshot) Upsert(o Observation) bool {
	if cur, ok := s.rows[o.Key()]; ok {
		switch c := o.Date.Compare(cur.Date); {
		case c < 0:
			return false
		case c == 0 && o.Value.Equal(cur.Value):
			return false
		}
	}
	s.Put(SnapshotRow{
		Date:           o.Date,
		ManagerCode:    o.ManagerCode,
		ManagerName:    o.ManagerName,
		InstrumentCode: o.InstrumentCode,
		InstrumentName: o.InstrumentName,
		Value:          o.Value,
	})
	return true
}

// LatestDate returns the newest row date across all keys.
func (s *Snapshot) LatestDate() Date {
	var latest Date
	for _, r := range s.rows {
		latest = MaxDate(latest, r.Date)
	}
	return latest
}

// Keys returns every key sorted by manager then instrument.
func (s *Snapshot) Keys() []Key {
	keys := make([]Key, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Manager != keys[j].Manager {
			return keys[i].Manager < keys[j].Manager
		}
		return keys[i].Instrument < keys[j].Instrument
	})
	return keys
}

// Rows returns every row in Keys order.
func (s *Snapshot) Rows() []SnapshotRow {
	keys := s.Keys()
	rows := make([]SnapshotRow, len(keys))
	for i, k := range keys {
		rows[i] = s.rows[k]
	}
	return rows
}

// Clone returns a copy of s that can be modified independently.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{rows: make(map[Key]SnapshotRow, len(s.rows))}
	for k, r := range s.rows {
		c.rows[k] = r
	}
	return c
}
