package domain

import (
	"slices"
	"sort"

	"github.com/shopspring/decimal"
)

// Entry is one dated value in a History.
type Entry struct {
	Date  Date
	Value decimal.Decimal
}

// History is the NAV series of one instrument. Dates are unique and entries
// are kept sorted newest first.
type History struct {
	entries []Entry
}

// NewHistory builds a History from entries in any order. Later entries for the
// same date win.
func NewHistory(entries ...Entry) *History {
	h := &History{}
	for _, e := range entries {
		h.Set(e.Date, e.Value)
	}
	return h
}

// Len returns the number of dates in the history.
func (h *History) Len() int { return len(h.entries) }

// search returns the index of the first entry whose date is on or before d.
func (h *History) search(d Date) int {
	return sort.Search(len(h.entries), func(i int) bool {
		return !h.entries[i].Date.After(d)
	})
}

// Set stores value at date d, overwriting any existing value for that date.
// It reports whether the history changed.
func (h *History) Set(d Date, value decimal.Decimal) bool {
	i := h.search(d)
	if i < len(h.entries) && h.entries[i].Date == d {
		if h.entries[i].Value.Equal(value) {
			return false
		}
		h.entries[i].Value = value
		return true
	}
	h.entries = slices.Insert(h.entries, i, Entry{Date: d, Value: value})
	return true
}

// Has reports whether the history holds a value for d.
func (h *History) Has(d Date) bool {
	_, ok := h.Get(d)
	return ok
}

// Get returns the value stored for exactly d.
func (h *History) Get(d Date) (decimal.Decimal, bool) {
	i := h.search(d)
	if i < len(h.entries) && h.entries[i].Date == d {
		return h.entries[i].Value, true
	}
	return decimal.Decimal{}, false
}

// ValueAsOf returns the entry at the latest date on or before d.
func (h *History) ValueAsOf(d Date) (Entry, bool) {
	i := h.search(d)
	if i < len(h.entries) {
		return h.entries[i], true
	}
	return Entry{}, false
}

// Latest returns the newest entry.
func (h *History) Latest() (Entry, bool) {
	if len(h.entries) == 0 {
		return Entry{}, false
	}
	return h.entries[0], true
}

// Entries returns a copy of the entries, newest first.
func (h *History) Entries() []Entry { return slices.Clone(h.entries) }

// Dates returns the set of dates held by the history.
func (h *History) Dates() map[Date]struct{} {
	set := make(map[Date]struct{}, len(h.entries))
	for _, e := range h.entries {
		set[e.Date] = struct{}{}
	}
	return set
}

// Merge copies every entry of other into h, overwriting shared dates, and
// returns the number of entries that changed.
func (h *History) Merge(other *History) int {
	n := 0
	for _, e := range other.entries {
		if h.Set(e.Date, e.Value) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of h.
func (h *History) Clone() *History { return &History{entries: slices.Clone(h.entries)} }

// Equal reports whether both histories hold the same dates and values.
func (h *History) Equal(o *History) bool {
	return slices.EqualFunc(h.entries, o.entries, func(a, b Entry) bool {
		return a.Date == b.Date && a.Value.Equal(b.Value)
	})
}
