// Package domain defines the core types shared by the ingestion pipeline:
// calendar dates, NAV observations, per-instrument histories, the latest
// snapshot, and return metrics.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateFormat is the canonical on-disk representation of a Date.
const DateFormat = "2006-01-02"

// Date is a calendar date with day granularity. It carries no time-of-day or
// time zone, so two Dates for the same day always compare equal with ==.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalized Date. Out-of-range days roll over the same way
// time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	y, m, d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Date()
	return Date{y, m, d}
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date { return NewDate(t.Date()) }

// Today returns the current local date.
func Today() Date { return DateOf(time.Now()) }

// ParseISO parses a YYYY-MM-DD string.
func ParseISO(s string) (Date, error) {
	t, err := time.Parse("2006-1-2", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// LegacyDateFormat is the MM/DD/YYYY layout found in files written by older
// tooling.
const LegacyDateFormat = "01/02/2006"

// ParseStored parses a persisted date: ISO first, then LegacyDateFormat.
func ParseStored(s string) (Date, error) {
	if d, err := ParseISO(s); err == nil {
		return d, nil
	}
	t, err := time.Parse(LegacyDateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseISO is like ParseISO but panics on error. Intended for tests and
// constants.
func MustParseISO(s string) Date {
	d, err := ParseISO(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time { return d.time() }

// Year returns the year of d.
func (d Date) Year() int { return d.y }

// Month returns the month of d.
func (d Date) Month() time.Month { return d.m }

// Day returns the day of the month of d.
func (d Date) Day() int { return d.d }

// Weekday returns the day of the week of d.
func (d Date) Weekday() time.Weekday { return d.time().Weekday() }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d == Date{} }

// IsWeekend reports whether d falls on a Saturday or Sunday.
func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Add returns d shifted by n days.
func (d Date) Add(n int) Date { return NewDate(d.y, d.m, d.d+n) }

// AddMonths returns d shifted by n months. The day is clamped to the last day
// of the resulting month, so 31 March minus one month is the end of February.
func (d Date) AddMonths(n int) Date {
	first := NewDate(d.y, d.m+time.Month(n), 1)
	last := daysIn(first.y, first.m)
	day := d.d
	if day > last {
		day = last
	}
	return Date{first.y, first.m, day}
}

// AddYears returns d shifted by n years, clamping 29 February.
func (d Date) AddYears(n int) Date { return d.AddMonths(12 * n) }

// Before reports whether d is strictly before x.
func (d Date) Before(x Date) bool { return d.Compare(x) < 0 }

// After reports whether d is strictly after x.
func (d Date) After(x Date) bool { return d.Compare(x) > 0 }

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or
// after x.
func (d Date) Compare(x Date) int {
	switch {
	case d.y != x.y:
		return cmpInt(d.y, x.y)
	case d.m != x.m:
		return cmpInt(int(d.m), int(x.m))
	default:
		return cmpInt(d.d, x.d)
	}
}

// Sub returns the number of days from x to d.
func (d Date) Sub(x Date) int {
	return int(d.time().Sub(x.time()).Hours() / 24)
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string { return d.time().Format(DateFormat) }

// Format formats the date with a time layout.
func (d Date) Format(layout string) string { return d.time().Format(layout) }

func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseISO(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

var _ json.Marshaler = Date{}
var _ json.Unmarshaler = (*Date)(nil)

// MaxDate returns the later of a and b.
func MaxDate(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
