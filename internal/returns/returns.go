// Package returns derives trailing and annualized return metrics from the
// stored NAV histories.
package returns

import (
	"context"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"navfeed/internal/domain"
	"navfeed/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Compute returns the metrics of one snapshot row. The past value of each
// horizon is the history entry on or before row.Date minus the horizon.
// Horizons up to one year are null when the row lags globalLatest by more
// than the horizon's staleness threshold.
func Compute(row domain.SnapshotRow, h *domain.History, globalLatest domain.Date) domain.Metrics {
	var m domain.Metrics
	if h == nil {
		return m
	}
	behind := globalLatest.Sub(row.Date)
	for _, hz := range domain.Horizons {
		if limit, ok := hz.StaleAfter(); ok && behind > limit {
			continue
		}
		past, ok := h.ValueAsOf(hz.Target(row.Date))
		if !ok || !past.Value.IsPositive() {
			continue
		}
		if v, ok := change(hz, row.Value, past.Value); ok {
			m.Set(hz, v)
		}
	}
	return m
}

// change is the simple percent change, or the compound annual growth rate for
// multi-year horizons.
func change(hz domain.Horizon, current, past decimal.Decimal) (decimal.Decimal, bool) {
	if !hz.Annualized() {
		return current.Sub(past).Div(past).Mul(hundred), true
	}
	ratio := current.Div(past).InexactFloat64()
	if ratio <= 0 {
		return decimal.Decimal{}, false
	}
	cagr := (math.Pow(ratio, 1/float64(hz.Years())) - 1) * 100
	if math.IsNaN(cagr) || math.IsInf(cagr, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(cagr), true
}

// Recompute refreshes the metrics of every row of snap in place, using the
// newest snapshot date as the global latest date. Rows whose history cannot
// be read get null metrics.
func Recompute(ctx context.Context, snap *domain.Snapshot, histories store.HistoryStore) error {
	log := slog.Default().With("component", "returns")
	latest := snap.LatestDate()

	failed := 0
	for _, row := range snap.Rows() {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, err := histories.ReadHistory(ctx, row.InstrumentCode)
		if err != nil {
			log.Warn("history unreadable, clearing returns", "instrument", row.InstrumentCode, "error", err)
			failed++
			h = nil
		}
		row.Returns = Compute(row, h, latest)
		snap.Put(row)
	}
	log.Info("returns recomputed", "rows", snap.Len(), "unreadable", failed, "latest", latest)
	return nil
}
