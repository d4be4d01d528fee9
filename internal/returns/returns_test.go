package returns

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navfeed/internal/domain"
	"navfeed/internal/store"
)

func d(s string) domain.Date { return domain.MustParseISO(s) }

func entry(date, value string) domain.Entry {
	return domain.Entry{Date: d(date), Value: decimal.RequireFromString(value)}
}

func row(date, value string) domain.SnapshotRow {
	return domain.SnapshotRow{
		Date:           d(date),
		ManagerCode:    "PFM001",
		InstrumentCode: "SM001001",
		Value:          decimal.RequireFromString(value),
	}
}

func TestComputeOneYear(t *testing.T) {
	h := domain.NewHistory(entry("2024-01-01", "100"), entry("2023-01-01", "80"))
	m := Compute(row("2024-01-01", "100"), h, d("2024-01-01"))

	assert.Equal(t, "25.00", m.Format(domain.Horizon1Y))
	_, ok := m.Get(domain.Horizon3Y)
	assert.False(t, ok, "no history three years back")
}

func TestComputeAnnualized(t *testing.T) {
	h := domain.NewHistory(entry("2024-06-28", "150"), entry("2021-06-28", "100"))
	m := Compute(row("2024-06-28", "150"), h, d("2024-06-28"))

	assert.Equal(t, "14.47", m.Format(domain.Horizon3Y))
	assert.Equal(t, "50.00", m.Format(domain.Horizon1Y), "as-of lookup falls back to the older entry")
}

func TestComputeUsesLatestOnOrBeforeTarget(t *testing.T) {
	// The 1D target 2024-03-31 is a Sunday.
	h := domain.NewHistory(
		entry("2024-04-01", "110"),
		entry("2024-03-29", "100"),
		entry("2024-03-01", "50"),
	)
	m := Compute(row("2024-04-01", "110"), h, d("2024-04-01"))
	assert.Equal(t, "10.00", m.Format(domain.Horizon1D))
	assert.Equal(t, "120.00", m.Format(domain.Horizon1M))
}

func TestComputeStaleness(t *testing.T) {
	h := domain.NewHistory(
		entry("2024-01-01", "100"),
		entry("2023-09-29", "90"),
		entry("2022-12-01", "80"),
		entry("2020-12-01", "50"),
	)
	m := Compute(row("2024-01-01", "100"), h, d("2024-02-10"))

	for _, hz := range []domain.Horizon{domain.Horizon1D, domain.Horizon7D, domain.Horizon1M} {
		_, ok := m.Get(hz)
		assert.False(t, ok, "%s should be suppressed at 40 days behind", hz)
	}
	assert.Equal(t, "25.00", m.Format(domain.Horizon1Y))
	assert.Equal(t, "11.11", m.Format(domain.Horizon3M))
	_, ok := m.Get(domain.Horizon3Y)
	assert.True(t, ok, "3Y is never suppressed by staleness")
}

func TestComputeGuardsZeroPast(t *testing.T) {
	h := domain.NewHistory(entry("2024-01-01", "100"), entry("2023-01-01", "0"))
	m := Compute(row("2024-01-01", "100"), h, d("2024-01-01"))
	for _, hz := range domain.Horizons {
		_, ok := m.Get(hz)
		assert.False(t, ok, hz.String())
	}
}

func TestComputeDoesNotMutateHistory(t *testing.T) {
	h := domain.NewHistory(entry("2024-01-01", "100"), entry("2023-01-01", "80"))
	before := h.Clone()
	Compute(row("2024-01-01", "100"), h, d("2024-01-01"))
	assert.True(t, before.Equal(h))
}

func TestRecompute(t *testing.T) {
	st := store.NewJSONStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, st.WriteHistory(ctx, "SM001001",
		domain.NewHistory(entry("2024-01-01", "100"), entry("2023-01-01", "80"))))

	stale := row("2023-11-20", "90")
	stale.InstrumentCode = "SM001002"
	stale.Returns.Set(domain.Horizon1D, decimal.NewFromInt(5))

	snap := domain.NewSnapshot(row("2024-01-01", "100"), stale)
	require.NoError(t, Recompute(ctx, snap, st))

	r, _ := snap.Get(domain.Key{Manager: "PFM001", Instrument: "SM001001"})
	assert.Equal(t, "25.00", r.Returns.Format(domain.Horizon1Y))

	r, _ = snap.Get(domain.Key{Manager: "PFM001", Instrument: "SM001002"})
	_, ok := r.Returns.Get(domain.Horizon1D)
	assert.False(t, ok, "rows without history lose stale metrics")
}
