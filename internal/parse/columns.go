package parse

import "strings"

// ColumnMap gives the index of each field in a table row. Unknown columns
// are -1.
type ColumnMap struct {
	Date           int
	Value          int
	ManagerCode    int
	ManagerName    int
	InstrumentCode int
	InstrumentName int

	// Degraded is set when the header could not be recognised and the
	// positional defaults were used instead.
	Degraded bool
}

// Positional defaults for exports whose header is missing or unrecognised.
const (
	fallbackDateCol  = 1
	fallbackValueCol = 6
)

func unresolved() ColumnMap {
	return ColumnMap{Date: -1, Value: -1, ManagerCode: -1, ManagerName: -1, InstrumentCode: -1, InstrumentName: -1}
}

// matchHeader resolves columns from header text alone. ok is false unless
// both the date and the value column were recognised.
func matchHeader(header []string) (cm ColumnMap, ok bool) {
	cm = unresolved()
	for i, raw := range header {
		h := strings.ToLower(strings.Join(strings.Fields(raw), " "))
		switch {
		case cm.Date < 0 && isDateHeader(h):
			cm.Date = i
		case cm.Value < 0 && isValueHeader(h):
			cm.Value = i
		case cm.ManagerCode < 0 && strings.Contains(h, "pfm") && (strings.Contains(h, "code") || strings.Contains(h, "id")):
			cm.ManagerCode = i
		case cm.ManagerName < 0 && strings.Contains(h, "pfm") && strings.Contains(h, "name"):
			cm.ManagerName = i
		case cm.InstrumentCode < 0 && strings.Contains(h, "scheme") && (strings.Contains(h, "code") || strings.Contains(h, "id")):
			cm.InstrumentCode = i
		case cm.InstrumentName < 0 && strings.Contains(h, "scheme") && strings.Contains(h, "name"):
			cm.InstrumentName = i
		}
	}
	return cm, cm.Date >= 0 && cm.Value >= 0
}

func isDateHeader(h string) bool {
	return h == "date" || h == "date of nav" || (strings.Contains(h, "date") && strings.Contains(h, "nav"))
}

func isValueHeader(h string) bool {
	return h == "nav" || (strings.Contains(h, "nav") && strings.Contains(h, "value"))
}

// positional returns the degraded column map for a table of width columns.
func positional(width int) ColumnMap {
	cm := unresolved()
	cm.Degraded = true
	switch {
	case width <= 1:
		cm.Date = 0
		cm.Value = 0
	default:
		cm.Date = fallbackDateCol
		cm.Value = min(fallbackValueCol, width-1)
	}
	return cm
}

// ResolveColumns runs the two-stage resolver on a header row: header text
// first, positional defaults second.
func ResolveColumns(header []string) ColumnMap {
	if cm, ok := matchHeader(header); ok {
		return cm
	}
	return positional(len(header))
}

// findHeader scans the first rows of t for a recognisable header. It returns
// the column map and the index of the first data row.
func findHeader(t Table) (ColumnMap, int) {
	const scan = 10
	for i := 0; i < min(scan, len(t)); i++ {
		if cm, ok := matchHeader(t[i]); ok {
			return cm, i + 1
		}
	}
	return positional(tableWidth(t)), 0
}

func tableWidth(t Table) int {
	w := 0
	for _, row := range t {
		w = max(w, len(row))
	}
	return w
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
