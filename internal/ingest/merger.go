// Package ingest merges parsed observations into the stored histories and
// the latest-value snapshot.
package ingest

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"navfeed/internal/domain"
	"navfeed/internal/metrics"
	"navfeed/internal/store"
)

// Report summarizes one Upsert.
type Report struct {
	Updated    []string
	Unchanged  []string
	Failed     map[string]error
	NewEntries int
}

// Merger applies observations to a history store and a snapshot store.
// Concurrent calls are safe; writes to one instrument are serialized.
type Merger struct {
	histories store.HistoryStore
	snapshots store.SnapshotStore
	log       *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	snap  sync.Mutex
}

// NewMerger creates a Merger.
func NewMerger(histories store.HistoryStore, snapshots store.SnapshotStore, log *slog.Logger) *Merger {
	if log == nil {
		log = slog.Default()
	}
	return &Merger{
		histories: histories,
		snapshots: snapshots,
		log:       log.With("component", "ingest"),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (m *Merger) lock(instrument string) func() {
	m.mu.Lock()
	l, ok := m.locks[instrument]
	if !ok {
		l = &sync.Mutex{}
		m.locks[instrument] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Upsert merges records into each instrument's history, overwriting values
// for existing dates, and then updates the snapshot with the records whose
// history persisted. One instrument failing does not stop the others.
//
// The backfill coordinator batches its snapshot writes, so it calls
// MergeHistory and ApplySnapshot directly instead.
func (m *Merger) Upsert(ctx context.Context, records []domain.Observation) Report {
	rep := Report{Failed: make(map[string]error)}
	groups := groupByInstrument(records)

	var persisted []domain.Observation
	for _, code := range sortedKeys(groups) {
		res, err := m.MergeHistory(ctx, code, groups[code], true)
		switch {
		case err != nil:
			rep.Failed[code] = err
			continue
		case res.Changed:
			rep.Updated = append(rep.Updated, code)
			rep.NewEntries += res.Added
		default:
			rep.Unchanged = append(rep.Unchanged, code)
		}
		persisted = append(persisted, res.Stored...)
	}

	if len(persisted) == 0 {
		return rep
	}
	m.snap.Lock()
	defer m.snap.Unlock()
	snap, err := m.snapshots.ReadSnapshot(ctx)
	if err != nil {
		m.log.Error("reading snapshot", "error", err)
		rep.Failed[snapshotKey] = err
		return rep
	}
	if ApplySnapshot(snap, persisted) > 0 {
		if err := m.snapshots.WriteSnapshot(ctx, snap); err != nil {
			m.log.Error("writing snapshot", "error", err)
			rep.Failed[snapshotKey] = err
		}
	}
	return rep
}

// snapshotKey is the Report.Failed key of a snapshot persistence failure.
const snapshotKey = "snapshot"

// HistoryMerge is the outcome of one MergeHistory call.
type HistoryMerge struct {
	Added   int
	Changed bool
	// Stored holds one observation per merged date carrying the value the
	// history holds after the merge.
	Stored []domain.Observation
}

// MergeHistory applies records to one instrument's history under the
// instrument's lock. With overwrite unset, dates already present keep their
// stored value. When records carry several values for one date the largest
// wins. Unchanged histories are not rewritten.
func (m *Merger) MergeHistory(ctx context.Context, instrument string, records []domain.Observation, overwrite bool) (HistoryMerge, error) {
	unlock := m.lock(instrument)
	defer unlock()

	h, err := m.histories.ReadHistory(ctx, instrument)
	if err != nil {
		metrics.MergeResults.WithLabelValues("failed").Inc()
		return HistoryMerge{}, &domain.MergeError{Instrument: instrument, Err: err}
	}

	records = resolveConflicts(records)
	var res HistoryMerge
	for _, r := range records {
		exists := h.Has(r.Date)
		if exists && !overwrite {
			continue
		}
		if h.Set(r.Date, r.Value) {
			res.Changed = true
			if !exists {
				res.Added++
			}
		}
	}
	if res.Changed {
		if err := m.histories.WriteHistory(ctx, instrument, h); err != nil {
			metrics.MergeResults.WithLabelValues("failed").Inc()
			return HistoryMerge{}, &domain.MergeError{Instrument: instrument, Err: err}
		}
		metrics.MergeResults.WithLabelValues("updated").Inc()
		m.log.Debug("history merged", "instrument", instrument, "records", len(records), "new", res.Added)
	} else {
		metrics.MergeResults.WithLabelValues("unchanged").Inc()
	}

	res.Stored = records
	for i := range res.Stored {
		if v, ok := h.Get(res.Stored[i].Date); ok {
			res.Stored[i].Value = v
		}
	}
	return res, nil
}

// resolveConflicts returns a copy of records with one record per date,
// ordered by date. Conflicting records are ordered by value then names and
// the last one is kept, so the outcome does not depend on input order.
func resolveConflicts(records []domain.Observation) []domain.Observation {
	out := slices.Clone(records)
	slices.SortFunc(out, func(a, b domain.Observation) int {
		return cmp.Or(
			a.Date.Compare(b.Date),
			a.Value.Cmp(b.Value),
			cmp.Compare(a.ManagerCode, b.ManagerCode),
			cmp.Compare(a.ManagerName, b.ManagerName),
			cmp.Compare(a.InstrumentName, b.InstrumentName),
		)
	})
	n := 0
	for i, r := range out {
		if i+1 < len(out) && out[i+1].Date == r.Date {
			continue
		}
		out[n] = r
		n++
	}
	return out[:n]
}

// ApplySnapshot upserts records into snap, keeping the newest row per key,
// and returns the number of rows replaced. Records should carry stored
// history values (HistoryMerge.Stored) so the snapshot agrees with the
// histories.
func ApplySnapshot(snap *domain.Snapshot, records []domain.Observation) int {
	n := 0
	for _, r := range records {
		if snap.Upsert(r) {
			n++
		}
	}
	return n
}

func groupByInstrument(records []domain.Observation) map[string][]domain.Observation {
	groups := make(map[string][]domain.Observation)
	for _, r := range records {
		groups[r.InstrumentCode] = append(groups[r.InstrumentCode], r)
	}
	return groups
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
