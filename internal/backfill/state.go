package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"navfeed/internal/domain"
)

// State is what a run knows about the stores before it starts. It is loaded
// once and never modified, so workers can share it freely.
type State struct {
	snapshot *domain.Snapshot
	sampled  []string
	sampler  Sampler
}

// LoadState reads the snapshot and the date sets of the first sampleSize
// non-empty histories, in instrument code order.
func LoadState(ctx context.Context, st Store, sampleSize int, threshold float64, log *slog.Logger) (*State, error) {
	snap, err := st.ReadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	codes, err := st.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing instruments: %w", err)
	}

	var (
		sampled []string
		sets    []map[domain.Date]struct{}
	)
	for _, code := range codes {
		if len(sets) == sampleSize {
			break
		}
		h, err := st.ReadHistory(ctx, code)
		if err != nil {
			log.Warn("skipping unreadable history in sample", "instrument", code, "error", err)
			continue
		}
		if h.Len() == 0 {
			continue
		}
		sampled = append(sampled, code)
		sets = append(sets, h.Dates())
	}
	return &State{snapshot: snap, sampled: sampled, sampler: NewSampler(sets, threshold)}, nil
}

// Keys returns the snapshot keys in sorted order.
func (s *State) Keys() []domain.Key { return s.snapshot.Keys() }

// Row returns the snapshot row of k.
func (s *State) Row(k domain.Key) (domain.SnapshotRow, bool) { return s.snapshot.Get(k) }

// Snapshot returns a copy of the snapshot the run started from.
func (s *State) Snapshot() *domain.Snapshot { return s.snapshot.Clone() }

// Sampled returns the instruments whose histories feed the sampler.
func (s *State) Sampled() []string { return append([]string(nil), s.sampled...) }

// Sampler returns the missing-date sampler.
func (s *State) Sampler() Sampler { return s.sampler }

// Sampler classifies a calendar date as already ingested when enough of a
// small sample of histories contain it. It is an approximation: a date only
// some instruments publish can be classified either way.
type Sampler struct {
	sets      []map[domain.Date]struct{}
	threshold float64
}

// NewSampler creates a Sampler over the date sets of the sampled histories.
func NewSampler(sets []map[domain.Date]struct{}, threshold float64) Sampler {
	return Sampler{sets: sets, threshold: threshold}
}

// Size returns the number of sampled histories.
func (s Sampler) Size() int { return len(s.sets) }

// Required returns how many sampled histories must contain a date for it to
// count as present.
func (s Sampler) Required() int {
	return int(math.Ceil(s.threshold*float64(len(s.sets)) - 1e-9))
}

// Present reports whether d is classified as already ingested. With an empty
// sample every date is missing.
func (s Sampler) Present(d domain.Date) bool {
	if len(s.sets) == 0 {
		return false
	}
	n := 0
	for _, set := range s.sets {
		if _, ok := set[d]; ok {
			n++
		}
	}
	return n >= max(s.Required(), 1)
}
