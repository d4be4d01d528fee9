// Package backfill fills gaps in the stored NAV histories from the daily
// archives and the per-instrument exports, under bounded concurrency.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"navfeed/internal/config"
	"navfeed/internal/domain"
	"navfeed/internal/ingest"
	"navfeed/internal/metrics"
	"navfeed/internal/parse"
	"navfeed/internal/returns"
	"navfeed/internal/source"
	"navfeed/internal/store"
	"navfeed/internal/util"
)

// Run modes.
const (
	ModeRange   = "range"
	ModeDates   = "dates"
	ModeHistory = "history"
	ModeDaily   = "daily"
)

// Fetcher is the part of source.Client the coordinator needs.
type Fetcher interface {
	FetchDailyArchive(ctx context.Context, d domain.Date) ([]byte, error)
	FetchInstrumentHistory(ctx context.Context, key domain.Key, w source.Window) ([]byte, error)
}

// Store is a history and snapshot store.
type Store interface {
	store.HistoryStore
	store.SnapshotStore
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Source Fetcher
	Store  Store
	Log    *slog.Logger
}

// Options tune a Coordinator.
type Options struct {
	Concurrency     int
	SampleSize      int
	SampleThreshold float64
	// Overwrite replaces stored values for dates that already exist.
	Overwrite bool
	// Retry refetches dates previously recorded as unpublished.
	Retry bool
	// ProgressDir holds the .tried-empty and .last-completed files.
	ProgressDir string
	DebugDir    string
	Calendar    *util.Calendar
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:     cfg.Backfill.Concurrency,
		SampleSize:      cfg.Backfill.SampleSize,
		SampleThreshold: cfg.Backfill.SampleThreshold,
		ProgressDir:     cfg.Storage.DataDir,
		DebugDir:        cfg.Storage.DebugDir,
	}
}

// Coordinator schedules backfill tasks. Each task owns one date (archive
// modes) or one key (history mode); the snapshot is rebuilt by a single
// writer after every task has finished.
type Coordinator struct {
	src    Fetcher
	st     Store
	merger *ingest.Merger
	opts   Options
	cal    *util.Calendar
	debug  debugWriter
	log    *slog.Logger
}

// New creates a Coordinator.
func New(deps Deps, opts Options) *Coordinator {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "backfill")
	cal := opts.Calendar
	if cal == nil {
		cal = util.NewCalendar()
	}
	return &Coordinator{
		src:    deps.Source,
		st:     deps.Store,
		merger: ingest.NewMerger(deps.Store, deps.Store, log),
		opts:   opts,
		cal:    cal,
		debug:  debugWriter{dir: opts.DebugDir},
		log:    log,
	}
}

func (c *Coordinator) validate() error {
	switch {
	case c.opts.Concurrency <= 0:
		return &domain.ConfigError{Field: "concurrency", Reason: "must be positive"}
	case c.opts.SampleSize <= 0:
		return &domain.ConfigError{Field: "sample_size", Reason: "must be positive"}
	case c.opts.SampleThreshold <= 0 || c.opts.SampleThreshold > 1:
		return &domain.ConfigError{Field: "sample_threshold", Reason: "must be in (0, 1]"}
	case c.src == nil || c.st == nil:
		return &domain.ConfigError{Field: "deps", Reason: "source and store are required"}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Modes
// ---------------------------------------------------------------------------

// BackfillRange fetches the archives of every weekday in [start, end] that
// the sampled histories do not already contain, newest first.
func (c *Coordinator) BackfillRange(ctx context.Context, start, end domain.Date) (*Report, error) {
	if start.IsZero() || end.IsZero() {
		return nil, &domain.ConfigError{Field: "range", Reason: "start and end are required"}
	}
	if start.After(end) {
		return nil, &domain.ConfigError{Field: "range", Reason: fmt.Sprintf("start %s is after end %s", start, end)}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	r, err := c.begin(ctx, ModeRange)
	if err != nil {
		return nil, err
	}
	defer r.close()

	sampler := r.state.Sampler()
	var todo []domain.Date
	for _, d := range c.cal.BusinessDaysDesc(start, end) {
		switch {
		case sampler.Present(d):
			r.rep.record(outcomeSkipped, d.String(), nil)
		case !c.opts.Retry && r.progress.IsTriedEmpty(d):
			r.rep.record(outcomeSkipped, d.String(), nil)
		default:
			todo = append(todo, d)
		}
	}
	r.log.Info("range planned", "start", start, "end", end, "missing", len(todo),
		"skipped", len(r.rep.Skipped), "sample", sampler.Size(), "required", sampler.Required())

	return c.finish(ctx, r, c.runArchives(ctx, r, todo, c.opts.Overwrite))
}

// BackfillDates fetches the archives of the given dates. Weekends are skipped;
// no sampling is done.
func (c *Coordinator) BackfillDates(ctx context.Context, dates []domain.Date) (*Report, error) {
	if len(dates) == 0 {
		return nil, &domain.ConfigError{Field: "dates", Reason: "no dates given"}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	r, err := c.begin(ctx, ModeDates)
	if err != nil {
		return nil, err
	}
	defer r.close()

	kept, dropped := c.cal.Filter(dedupe(dates))
	for _, d := range dropped {
		r.rep.record(outcomeSkipped, d.String(), nil)
	}
	return c.finish(ctx, r, c.runArchives(ctx, r, kept, c.opts.Overwrite))
}

// BackfillHistory fetches the export of every snapshot key and merges the
// dates missing from its history.
func (c *Coordinator) BackfillHistory(ctx context.Context, window source.Window) (*Report, error) {
	if window.Months <= 0 {
		return nil, &domain.ConfigError{Field: "window", Reason: "months must be positive"}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	r, err := c.begin(ctx, ModeHistory)
	if err != nil {
		return nil, err
	}
	defer r.close()

	keys := r.state.Keys()
	r.log.Info("history backfill planned", "keys", len(keys), "months", window.Months)

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, c.opts.Concurrency)
	for _, k := range keys {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			if gctx.Err() != nil {
				return gctx.Err()
			}
			c.historyTask(gctx, r, k, window)
			return nil
		})
	}
	return c.finish(ctx, r, g.Wait())
}

// Daily ingests the archive of one date, overwriting stored values. A date
// already recorded as completed is skipped unless Options.Retry is set.
func (c *Coordinator) Daily(ctx context.Context, d domain.Date) (*Report, error) {
	if d.IsZero() {
		return nil, &domain.ConfigError{Field: "date", Reason: "date is required"}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	r, err := c.begin(ctx, ModeDaily)
	if err != nil {
		return nil, err
	}
	defer r.close()

	var todo []domain.Date
	switch {
	case !c.cal.IsBusinessDay(d):
		r.log.Info("not a business day", "date", d)
		r.rep.record(outcomeSkipped, d.String(), nil)
	case !c.opts.Retry && r.progress.IsCompleted(d):
		r.log.Info("already completed", "date", d)
		r.rep.record(outcomeSkipped, d.String(), nil)
	default:
		todo = []domain.Date{d}
	}

	rep, err := c.finish(ctx, r, c.runArchives(ctx, r, todo, true))
	if err == nil && rep.OK() && len(rep.Updated) == 1 {
		if err := r.progress.MarkCompleted(d); err != nil {
			r.log.Warn("recording completion", "error", err)
		}
	}
	return rep, err
}

// ---------------------------------------------------------------------------
// Run lifecycle
// ---------------------------------------------------------------------------

// run carries the per-run state shared by the tasks.
type run struct {
	rep      *Report
	state    *State
	progress *progressTracker
	log      *slog.Logger

	collected chan []domain.Observation
	obs       []domain.Observation
	done      chan struct{}
}

func (c *Coordinator) begin(ctx context.Context, mode string) (*run, error) {
	id := uuid.NewString()
	log := c.log.With("run_id", id, "mode", mode)

	state, err := LoadState(ctx, c.st, c.opts.SampleSize, c.opts.SampleThreshold, log)
	if err != nil {
		return nil, err
	}
	dir := c.opts.ProgressDir
	if dir == "" {
		dir = "."
	}
	progress, err := newProgressTracker(dir)
	if err != nil {
		return nil, err
	}

	r := &run{
		rep:       newReport(id, mode),
		state:     state,
		progress:  progress,
		log:       log,
		collected: make(chan []domain.Observation),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for batch := range r.collected {
			r.obs = append(r.obs, batch...)
		}
	}()
	log.Info("run started", "snapshot_rows", len(state.Keys()), "sampled", state.Sampled())
	return r, nil
}

func (r *run) collect(obs []domain.Observation) {
	if len(obs) > 0 {
		r.collected <- obs
	}
}

func (r *run) close() {
	if err := r.progress.Close(); err != nil {
		r.log.Warn("closing progress tracker", "error", err)
	}
}

// finish rebuilds the snapshot from the collected observations, recomputes
// returns and writes the snapshot once.
func (c *Coordinator) finish(ctx context.Context, r *run, taskErr error) (*Report, error) {
	close(r.collected)
	<-r.done
	defer r.rep.finish()

	if taskErr != nil {
		return r.rep, taskErr
	}
	if err := ctx.Err(); err != nil {
		return r.rep, err
	}

	if len(r.obs) > 0 {
		snap := r.state.Snapshot()
		changed := ingest.ApplySnapshot(snap, r.obs)
		if err := returns.Recompute(ctx, snap, c.st); err != nil {
			return r.rep, err
		}
		if err := c.st.WriteSnapshot(ctx, snap); err != nil {
			return r.rep, fmt.Errorf("writing snapshot: %w", err)
		}
		r.log.Info("snapshot rebuilt", "rows", snap.Len(), "changed", changed)
	}

	r.log.Info("run finished", "updated", len(r.rep.Updated), "no_data", len(r.rep.NoData),
		"failed", len(r.rep.Failed), "skipped", len(r.rep.Skipped), "new_entries", r.rep.NewEntries)
	return r.rep, nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

func (c *Coordinator) runArchives(ctx context.Context, r *run, dates []domain.Date, overwrite bool) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, c.opts.Concurrency)
	for _, d := range dates {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			if gctx.Err() != nil {
				return gctx.Err()
			}
			c.archiveTask(gctx, r, d, overwrite)
			return nil
		})
	}
	return g.Wait()
}

// archiveTask fetches, parses and merges the archive of one date.
func (c *Coordinator) archiveTask(ctx context.Context, r *run, d domain.Date, overwrite bool) {
	label := d.String()
	log := r.log.With("date", label)

	body, err := c.src.FetchDailyArchive(ctx, d)
	if errors.Is(err, domain.ErrUnavailable) {
		log.Info("no archive published")
		r.rep.record(outcomeNoData, label, nil)
		if err := r.progress.MarkEmpty(d); err != nil {
			log.Warn("recording empty date", "error", err)
		}
		return
	}
	if err != nil {
		log.Warn("archive fetch failed", "error", err)
		r.rep.record(outcomeFailed, label, err)
		return
	}

	name, data, err := parse.ExtractArchive(body)
	if err != nil {
		c.dump(log, label, "archive.zip", body)
		r.rep.record(outcomeFailed, label, err)
		return
	}
	res, err := parse.ParseDaily(data)
	observeParse(res)
	if err != nil {
		c.dump(log, label, name, data)
		r.rep.record(outcomeFailed, label, err)
		return
	}
	if len(res.Problems) > 0 {
		log.Info("rows rejected", "format", res.Format, "skipped", res.Skipped)
		c.dump(log, label, name+".problems", problemText(res.Problems))
	}
	if len(res.Records) == 0 {
		r.rep.record(outcomeNoData, label, nil)
		return
	}

	added, persisted, err := c.mergeAll(ctx, res.Records, overwrite)
	r.rep.addEntries(added)
	r.collect(persisted)
	if err != nil {
		c.dump(log, label, name+".failed", []byte(err.Error()))
		r.rep.record(outcomeFailed, label, err)
		return
	}
	log.Info("archive merged", "format", res.Format, "records", len(res.Records), "new_entries", added)
	r.rep.record(outcomeUpdated, label, nil)
}

// historyTask fetches, parses and merges the export of one key.
func (c *Coordinator) historyTask(ctx context.Context, r *run, k domain.Key, w source.Window) {
	label := k.Instrument
	log := r.log.With("instrument", k.Instrument, "manager", k.Manager)

	body, err := c.src.FetchInstrumentHistory(ctx, k, w)
	if errors.Is(err, domain.ErrUnavailable) {
		r.rep.record(outcomeNoData, label, nil)
		return
	}
	if err != nil {
		log.Warn("export fetch failed", "error", err)
		r.rep.record(outcomeFailed, label, err)
		return
	}

	res, err := parse.ParseHistoryExport(body, k)
	observeParse(res)
	if err != nil {
		c.dump(log, label, "export", body)
		r.rep.record(outcomeFailed, label, err)
		return
	}
	if res.Degraded {
		log.Warn("export columns resolved positionally", "format", res.Format)
	}
	if len(res.Problems) > 0 {
		c.dump(log, label, "export.problems", problemText(res.Problems))
	}
	if len(res.Records) == 0 {
		r.rep.record(outcomeNoData, label, nil)
		return
	}

	row, _ := r.state.Row(k)
	for i := range res.Records {
		if res.Records[i].ManagerName == "" {
			res.Records[i].ManagerName = row.ManagerName
		}
		if res.Records[i].InstrumentName == "" {
			res.Records[i].InstrumentName = row.InstrumentName
		}
	}

	merged, err := c.merger.MergeHistory(ctx, k.Instrument, res.Records, c.opts.Overwrite)
	if err != nil {
		c.dump(log, label, "export.failed", body)
		r.rep.record(outcomeFailed, label, err)
		return
	}
	added := merged.Added
	r.rep.addEntries(added)
	r.collect(merged.Stored)
	if added == 0 && !c.opts.Overwrite {
		r.rep.record(outcomeSkipped, label, nil)
		return
	}
	log.Info("export merged", "format", res.Format, "records", len(res.Records), "new_entries", added)
	r.rep.record(outcomeUpdated, label, nil)
}

// mergeAll merges records per instrument and returns the stored
// observations of the histories that persisted.
func (c *Coordinator) mergeAll(ctx context.Context, records []domain.Observation, overwrite bool) (int, []domain.Observation, error) {
	groups := make(map[string][]domain.Observation)
	var order []string
	for _, rec := range records {
		if _, ok := groups[rec.InstrumentCode]; !ok {
			order = append(order, rec.InstrumentCode)
		}
		groups[rec.InstrumentCode] = append(groups[rec.InstrumentCode], rec)
	}

	added := 0
	var persisted []domain.Observation
	var errs []error
	for _, code := range order {
		merged, err := c.merger.MergeHistory(ctx, code, groups[code], overwrite)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		added += merged.Added
		persisted = append(persisted, merged.Stored...)
	}
	return added, persisted, errors.Join(errs...)
}

func (c *Coordinator) dump(log *slog.Logger, label, name string, data []byte) {
	path, err := c.debug.write(label, name, data)
	if err != nil {
		log.Warn("writing debug file", "error", err)
		return
	}
	if path != "" {
		log.Info("problem payload kept", "path", path)
	}
}

func observeParse(res parse.Result) {
	if res.Format == "" {
		return
	}
	metrics.RecordsParsed.WithLabelValues(res.Format).Add(float64(len(res.Records)))
	metrics.RecordsSkipped.WithLabelValues(res.Format).Add(float64(res.Skipped))
}

func problemText(problems []error) []byte {
	var b strings.Builder
	for _, p := range problems {
		b.WriteString(p.Error())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func dedupe(dates []domain.Date) []domain.Date {
	seen := make(map[domain.Date]struct{}, len(dates))
	out := make([]domain.Date, 0, len(dates))
	for _, d := range dates {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
