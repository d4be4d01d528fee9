package backfill

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navfeed/internal/domain"
	"navfeed/internal/source"
	"navfeed/internal/store"
)

func d(s string) domain.Date { return domain.MustParseISO(s) }

type fakeSource struct {
	mu           sync.Mutex
	archives     map[domain.Date][]byte
	errs         map[domain.Date]error
	exports      map[string][]byte
	archiveCalls []domain.Date
	exportCalls  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		archives: make(map[domain.Date][]byte),
		errs:     make(map[domain.Date]error),
		exports:  make(map[string][]byte),
	}
}

func (f *fakeSource) FetchDailyArchive(_ context.Context, day domain.Date) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archiveCalls = append(f.archiveCalls, day)
	if err, ok := f.errs[day]; ok {
		return nil, err
	}
	if b, ok := f.archives[day]; ok {
		return b, nil
	}
	return nil, domain.ErrUnavailable
}

func (f *fakeSource) FetchInstrumentHistory(_ context.Context, k domain.Key, _ source.Window) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportCalls = append(f.exportCalls, k.Instrument)
	if b, ok := f.exports[k.Instrument]; ok {
		return b, nil
	}
	return nil, domain.ErrUnavailable
}

func (f *fakeSource) calls() []domain.Date {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Date(nil), f.archiveCalls...)
}

// archive builds a daily zip with one tab-layout row per instrument.
func archive(t *testing.T, day domain.Date, value string, codes ...string) []byte {
	t.Helper()
	var rows strings.Builder
	for _, c := range codes {
		fmt.Fprintf(&rows, "0\t%s\tPFM001\tSBI PENSION FUNDS\t%s\tSCHEME %s\t%s\tx\t%s\tY\n",
			day.Format("02/01/2006"), c, c, value, day.Format("02/01/2006"))
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("NAV_File_" + day.Format("02012006") + ".out")
	require.NoError(t, err)
	_, err = w.Write([]byte(rows.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func seed(t *testing.T, st store.HistoryStore, code string, dates ...string) {
	t.Helper()
	h := domain.NewHistory()
	for _, s := range dates {
		h.Set(d(s), decimal.NewFromInt(10))
	}
	require.NoError(t, st.WriteHistory(context.Background(), code, h))
}

func testOptions(dir string) Options {
	return Options{
		Concurrency:     2,
		SampleSize:      5,
		SampleThreshold: 0.6,
		ProgressDir:     dir,
		DebugDir:        filepath.Join(dir, "debug"),
	}
}

var codes = []string{"SM001001", "SM001002", "SM001003", "SM001004", "SM001005"}

func TestSamplerMajority(t *testing.T) {
	day := d("2025-07-04")
	sets := make([]map[domain.Date]struct{}, 5)
	for i := range sets {
		sets[i] = map[domain.Date]struct{}{}
	}
	for i := range 3 {
		sets[i][day] = struct{}{}
	}
	s := NewSampler(sets, 0.6)
	assert.Equal(t, 3, s.Required())
	assert.True(t, s.Present(day), "3 of 5 is present")

	delete(sets[2], day)
	assert.False(t, s.Present(day), "2 of 5 is missing")

	assert.False(t, NewSampler(nil, 0.6).Present(day), "an empty sample treats every date as missing")
}

func TestValidationFailsBeforeFetching(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource()
	st := store.NewJSONStore(dir)
	ctx := context.Background()

	c := New(Deps{Source: src, Store: st}, testOptions(dir))
	_, err := c.BackfillRange(ctx, d("2025-07-07"), d("2025-07-01"))
	var ce *domain.ConfigError
	require.ErrorAs(t, err, &ce)

	_, err = c.BackfillDates(ctx, nil)
	require.ErrorAs(t, err, &ce)

	_, err = c.BackfillHistory(ctx, source.Window{})
	require.ErrorAs(t, err, &ce)

	opts := testOptions(dir)
	opts.Concurrency = 0
	_, err = New(Deps{Source: src, Store: st}, opts).BackfillRange(ctx, d("2025-07-01"), d("2025-07-07"))
	require.ErrorAs(t, err, &ce)

	assert.Empty(t, src.calls())
}

func TestBackfillRange(t *testing.T) {
	dir := t.TempDir()
	st := store.NewJSONStore(dir)
	for i, c := range codes {
		if i < 3 {
			seed(t, st, c, "2025-07-03")
		} else {
			seed(t, st, c, "2025-07-04")
		}
	}
	src := newFakeSource()
	src.archives[d("2025-07-04")] = archive(t, d("2025-07-04"), "11", codes...)
	ctx := context.Background()

	c := New(Deps{Source: src, Store: st}, testOptions(dir))
	rep, err := c.BackfillRange(ctx, d("2025-07-03"), d("2025-07-07"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []domain.Date{d("2025-07-04"), d("2025-07-07")}, src.calls(), "weekend and present dates are not fetched")
	assert.Equal(t, []string{"2025-07-04"}, rep.Updated)
	assert.Equal(t, []string{"2025-07-07"}, rep.NoData)
	assert.Equal(t, []string{"2025-07-03"}, rep.Skipped)
	assert.Empty(t, rep.Failed)
	assert.Equal(t, 3, rep.NewEntries, "existing dates are kept")
	assert.NotEmpty(t, rep.RunID)

	h, err := st.ReadHistory(ctx, "SM001004")
	require.NoError(t, err)
	v, _ := h.Get(d("2025-07-04"))
	assert.Equal(t, "10", v.String())

	snap, err := st.ReadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Len())
	assert.Equal(t, d("2025-07-04"), snap.LatestDate())

	// The second run finds nothing to do: 07-04 is now in every sampled
	// history and 07-07 is recorded as unpublished.
	src2 := newFakeSource()
	rep, err = New(Deps{Source: src2, Store: st}, testOptions(dir)).BackfillRange(ctx, d("2025-07-03"), d("2025-07-07"))
	require.NoError(t, err)
	assert.Empty(t, src2.calls())
	assert.Len(t, rep.Skipped, 3)

	// Retry refetches the unpublished date.
	opts := testOptions(dir)
	opts.Retry = true
	_, err = New(Deps{Source: src2, Store: st}, opts).BackfillRange(ctx, d("2025-07-03"), d("2025-07-07"))
	require.NoError(t, err)
	assert.Equal(t, []domain.Date{d("2025-07-07")}, src2.calls())
}

func TestBackfillDatesIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	st := store.NewJSONStore(dir)
	src := newFakeSource()
	src.archives[d("2025-07-01")] = archive(t, d("2025-07-01"), "12.5", "SM001001")
	src.archives[d("2025-07-02")] = []byte("this is not a zip")
	src.errs[d("2025-07-03")] = &domain.NetworkError{URL: "https://archive.example", Err: fmt.Errorf("timeout")}
	ctx := context.Background()

	rep, err := New(Deps{Source: src, Store: st}, testOptions(dir)).BackfillDates(ctx, []domain.Date{
		d("2025-07-01"), d("2025-07-02"), d("2025-07-03"), d("2025-07-05"), d("2025-07-01"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"2025-07-01"}, rep.Updated)
	assert.Equal(t, []string{"2025-07-05"}, rep.Skipped)
	require.Len(t, rep.Failed, 2)
	var pe *domain.ParseError
	assert.ErrorAs(t, rep.Failed["2025-07-02"], &pe)
	var ne *domain.NetworkError
	assert.ErrorAs(t, rep.Failed["2025-07-03"], &ne)
	assert.False(t, rep.OK())

	_, err = os.Stat(filepath.Join(dir, "debug", "debug_2025-07-02_archive.zip"))
	assert.NoError(t, err, "problem payload is kept")

	h, err := st.ReadHistory(ctx, "SM001001")
	require.NoError(t, err)
	assert.Equal(t, 1, h.Len())
}

func TestBackfillHistoryNoOp(t *testing.T) {
	dir := t.TempDir()
	st := store.NewJSONStore(dir)
	ctx := context.Background()

	key := domain.Key{Manager: "PFM001", Instrument: "SM001001"}
	require.NoError(t, st.WriteSnapshot(ctx, domain.NewSnapshot(domain.SnapshotRow{
		Date:           d("1900-01-01"),
		ManagerCode:    key.Manager,
		ManagerName:    "SBI PENSION FUNDS",
		InstrumentCode: key.Instrument,
		InstrumentName: "SCHEME CG",
	})))

	src := newFakeSource()
	src.exports[key.Instrument] = []byte("ID\tDATE OF NAV\tNAV VALUE\n" +
		"1\t01/07/2025\t10.5\n" +
		"2\t02/07/2025\t10.6\n" +
		"3\t03/07/2025\t10.7\n")

	c := New(Deps{Source: src, Store: st}, testOptions(dir))
	rep, err := c.BackfillHistory(ctx, source.Window{Months: 60})
	require.NoError(t, err)
	assert.Equal(t, []string{"SM001001"}, rep.Updated)
	assert.Equal(t, 3, rep.NewEntries)

	before, err := st.ReadHistory(ctx, key.Instrument)
	require.NoError(t, err)

	rep, err = c.BackfillHistory(ctx, source.Window{Months: 60})
	require.NoError(t, err)
	assert.Zero(t, rep.NewEntries)
	assert.Equal(t, []string{"SM001001"}, rep.Skipped)

	after, err := st.ReadHistory(ctx, key.Instrument)
	require.NoError(t, err)
	assert.True(t, before.Equal(after))

	snap, err := st.ReadSnapshot(ctx)
	require.NoError(t, err)
	row, ok := snap.Get(key)
	require.True(t, ok)
	assert.Equal(t, d("2025-07-03"), row.Date, "the placeholder row is replaced")
	assert.Equal(t, "SCHEME CG", row.InstrumentName)
}

func TestDailyIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	st := store.NewJSONStore(dir)
	seed(t, st, "SM001001", "2025-07-04")
	ctx := context.Background()

	src := newFakeSource()
	src.archives[d("2025-07-04")] = archive(t, d("2025-07-04"), "12", "SM001001")

	c := New(Deps{Source: src, Store: st}, testOptions(dir))
	rep, err := c.Daily(ctx, d("2025-07-04"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-07-04"}, rep.Updated)

	h, _ := st.ReadHistory(ctx, "SM001001")
	v, _ := h.Get(d("2025-07-04"))
	assert.Equal(t, "12", v.String(), "daily ingestion overwrites")

	rep, err = c.Daily(ctx, d("2025-07-04"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-07-04"}, rep.Skipped)
	assert.Len(t, src.calls(), 1)

	rep, err = c.Daily(ctx, d("2025-07-05"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-07-05"}, rep.Skipped, "weekends are skipped")
}

func TestDailyCorrectsSnapshotValue(t *testing.T) {
	dir := t.TempDir()
	st := store.NewJSONStore(dir)
	seed(t, st, "SM001001", "2025-07-03", "2025-07-04")
	ctx := context.Background()
	key := domain.Key{Manager: "PFM001", Instrument: "SM001001"}
	require.NoError(t, st.WriteSnapshot(ctx, domain.NewSnapshot(domain.SnapshotRow{
		Date:           d("2025-07-04"),
		ManagerCode:    "PFM001",
		InstrumentCode: "SM001001",
		Value:          decimal.NewFromInt(10),
	})))

	src := newFakeSource()
	src.archives[d("2025-07-04")] = archive(t, d("2025-07-04"), "12", "SM001001")
	_, err := New(Deps{Source: src, Store: st}, testOptions(dir)).Daily(ctx, d("2025-07-04"))
	require.NoError(t, err)

	snap, err := st.ReadSnapshot(ctx)
	require.NoError(t, err)
	row, ok := snap.Get(key)
	require.True(t, ok)
	assert.Equal(t, "12", row.Value.String())
	assert.Equal(t, "SCHEME SM001001", row.InstrumentName)
}

func TestReportSummary(t *testing.T) {
	rep := newReport("run-1", ModeDates)
	rep.record(outcomeUpdated, "2025-07-01", nil)
	rep.record(outcomeFailed, "2025-07-02", fmt.Errorf("boom"))
	rep.finish()

	lines := rep.Summary()
	assert.Contains(t, lines[0], "run-1")
	assert.Contains(t, lines[1], "updated: 1")
	assert.Contains(t, strings.Join(lines, "\n"), "2025-07-02: boom")
}
