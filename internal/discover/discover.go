// Package discover finds schemes published upstream that the snapshot does
// not know yet and seeds placeholder rows for them.
package discover

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"navfeed/internal/domain"
	"navfeed/internal/parse"
)

// SeedDate is the date of placeholder rows. Any real observation is newer.
var SeedDate = domain.NewDate(1900, 1, 1)

// Lister fetches the full upstream scheme list.
type Lister interface {
	FetchInstrumentList(ctx context.Context) ([]byte, error)
}

// Upstream fetches and parses the scheme list.
func Upstream(ctx context.Context, l Lister) ([]domain.Observation, error) {
	body, err := l.FetchInstrumentList(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching scheme list: %w", err)
	}
	res, err := parse.ParseHistoryExport(body, domain.Key{})
	if err != nil {
		return nil, err
	}
	var out []domain.Observation
	for _, o := range res.Records {
		if o.InstrumentCode == "" {
			continue
		}
		if o.ManagerCode == "" {
			o.ManagerCode = ManagerFromInstrument(o.InstrumentCode)
		}
		out = append(out, o)
	}
	return out, nil
}

// ManagerFromInstrument derives the manager code from a scheme code:
// SM001001 belongs to PFM001.
func ManagerFromInstrument(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !strings.HasPrefix(code, "SM") || len(code) < 5 {
		return ""
	}
	return "PFM" + code[2:5]
}

// Diff returns one observation per upstream key missing from snap, sorted by
// manager then instrument.
func Diff(upstream []domain.Observation, snap *domain.Snapshot) []domain.Observation {
	seen := make(map[domain.Key]struct{})
	var missing []domain.Observation
	for _, o := range upstream {
		k := o.Key()
		if _, ok := snap.Get(k); ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		missing = append(missing, o)
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].ManagerCode != missing[j].ManagerCode {
			return missing[i].ManagerCode < missing[j].ManagerCode
		}
		return missing[i].InstrumentCode < missing[j].InstrumentCode
	})
	return missing
}

// Seed adds a placeholder row for each missing key so the history backfill
// picks it up. It returns the number of rows added.
func Seed(snap *domain.Snapshot, missing []domain.Observation) int {
	n := 0
	for _, o := range missing {
		if _, ok := snap.Get(o.Key()); ok {
			continue
		}
		snap.Put(domain.SnapshotRow{
			Date:           SeedDate,
			ManagerCode:    o.ManagerCode,
			ManagerName:    o.ManagerName,
			InstrumentCode: o.InstrumentCode,
			InstrumentName: o.InstrumentName,
			Value:          decimal.Zero,
		})
		n++
	}
	return n
}
