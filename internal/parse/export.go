package parse

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"navfeed/internal/datefmt"
	"navfeed/internal/domain"
)

// Result is the outcome of parsing one payload.
type Result struct {
	Records  []domain.Observation
	Skipped  int
	Problems []error
	Format   string
	Degraded bool
}

func (r *Result) drop(line int, reason, raw string) {
	r.Skipped++
	r.Problems = append(r.Problems, &domain.RecordError{Line: line, Reason: reason, Raw: raw})
}

// ParseValue parses a NAV cell. Thousands separators are ignored.
func ParseValue(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(cleanCell(s), ",", "")
	if s == "" {
		return decimal.Decimal{}, errors.New("blank value")
	}
	return decimal.NewFromString(s)
}

// ParseHistoryExport parses a per-instrument or full-list export. Codes come
// from the row when the export carries them and from key otherwise.
func ParseHistoryExport(payload []byte, key domain.Key) (Result, error) {
	t, format, err := ParseTable(payload)
	if err != nil {
		return Result{}, err
	}
	cm, start := findHeader(t)
	res := Result{Format: format, Degraded: cm.Degraded}

	for i := start; i < len(t); i++ {
		row := t[i]
		line := i + 1
		if isBlankRow(row) {
			continue
		}

		d, err := datefmt.Normalize(cell(row, cm.Date))
		if errors.Is(err, datefmt.ErrHeaderToken) {
			continue
		}
		if err != nil {
			res.drop(line, "bad date", strings.Join(row, "|"))
			continue
		}
		v, err := ParseValue(cell(row, cm.Value))
		if err != nil {
			res.drop(line, "bad value", strings.Join(row, "|"))
			continue
		}

		obs := domain.Observation{
			Date:           d,
			ManagerCode:    firstNonEmpty(cell(row, cm.ManagerCode), key.Manager),
			ManagerName:    cell(row, cm.ManagerName),
			InstrumentCode: firstNonEmpty(cell(row, cm.InstrumentCode), key.Instrument),
			InstrumentName: cell(row, cm.InstrumentName),
			Value:          v,
		}
		if obs.InstrumentCode == "" {
			res.drop(line, "missing instrument code", strings.Join(row, "|"))
			continue
		}
		res.Records = append(res.Records, obs)
	}
	return res, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
