package backfill

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"navfeed/internal/metrics"
)

// Task outcomes.
const (
	outcomeUpdated = "updated"
	outcomeNoData  = "no_data"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// Report is the result of one run. Updated, NoData, Failed and Skipped hold
// dates in the archive modes and instrument codes in the history mode.
type Report struct {
	RunID      string
	Mode       string
	Updated    []string
	NoData     []string
	Failed     map[string]error
	Skipped    []string
	NewEntries int
	Started    time.Time
	Finished   time.Time

	mu sync.Mutex
}

func newReport(runID, mode string) *Report {
	return &Report{RunID: runID, Mode: mode, Failed: make(map[string]error), Started: time.Now()}
}

func (r *Report) record(outcome, label string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case outcomeUpdated:
		r.Updated = append(r.Updated, label)
	case outcomeNoData:
		r.NoData = append(r.NoData, label)
	case outcomeFailed:
		r.Failed[label] = err
	case outcomeSkipped:
		r.Skipped = append(r.Skipped, label)
	}
	metrics.BackfillTasks.WithLabelValues(r.Mode, outcome).Inc()
}

func (r *Report) addEntries(n int) {
	r.mu.Lock()
	r.NewEntries += n
	r.mu.Unlock()
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.Strings(r.Updated)
	sort.Strings(r.NoData)
	sort.Strings(r.Skipped)
	r.Finished = time.Now()
	if len(r.Failed) == 0 {
		metrics.LastSuccessfulRun.WithLabelValues(r.Mode).Set(float64(r.Finished.Unix()))
	}
}

// OK reports whether nothing failed.
func (r *Report) OK() bool { return len(r.Failed) == 0 }

// Summary returns human-readable report lines.
func (r *Report) Summary() []string {
	lines := []string{
		fmt.Sprintf("run %s (%s) finished in %s", r.RunID, r.Mode, r.Finished.Sub(r.Started).Round(time.Millisecond)),
		fmt.Sprintf("updated: %d, new entries: %d", len(r.Updated), r.NewEntries),
		fmt.Sprintf("no upstream data: %d", len(r.NoData)),
		fmt.Sprintf("skipped: %d", len(r.Skipped)),
		fmt.Sprintf("failed: %d", len(r.Failed)),
	}
	labels := make([]string, 0, len(r.Failed))
	for l := range r.Failed {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		lines = append(lines, fmt.Sprintf("  %s: %v", l, r.Failed[l]))
	}
	return lines
}

// debugWriter keeps problem payloads for inspection.
type debugWriter struct {
	dir string
}

// write stores data as <dir>/debug_<label>_<name>. A blank dir disables it.
func (w debugWriter) write(label, name string, data []byte) (string, error) {
	if w.dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("debug_%s_%s", label, filepath.Base(name)))
	return path, os.WriteFile(path, data, 0o644)
}
