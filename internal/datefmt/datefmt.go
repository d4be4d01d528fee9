// Package datefmt normalizes the date tokens found in upstream NAV payloads
// into domain.Date values.
package datefmt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"navfeed/internal/domain"
)

var (
	// ErrUnparseable is returned when no known layout matches a token.
	ErrUnparseable = errors.New("unparseable date")

	// ErrHeaderToken is returned for blank cells and column captions that
	// sometimes appear in the date column.
	ErrHeaderToken = errors.New("header token")
)

// Layouts lists the accepted layouts in priority order. The first layout that
// parses a token wins, so an ambiguous token such as 04/07/2025 is read as
// day/month/year.
var Layouts = []string{
	"2006-1-2", // YYYY-MM-DD
	"2-1-2006", // DD-MM-YYYY
	"2/1/2006", // DD/MM/YYYY
	"1/2/2006", // MM/DD/YYYY
	"2006/1/2", // YYYY/MM/DD
	"20060102", // YYYYMMDD
}

var headerTokens = map[string]struct{}{
	"":            {},
	"date":        {},
	"date of nav": {},
	"nan":         {},
}

// clean trims whitespace, quotes, and a trailing time-of-day component.
func clean(token string) string {
	s := strings.TrimSpace(token)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " T"); i > 0 && strings.Contains(s[i:], ":") {
		s = s[:i]
	}
	return s
}

// Normalize parses token with the first matching layout in Layouts.
func Normalize(token string) (domain.Date, error) {
	s := clean(token)
	if _, ok := headerTokens[strings.ToLower(s)]; ok {
		return domain.Date{}, ErrHeaderToken
	}
	for _, layout := range Layouts {
		if layout == "20060102" && (len(s) != 8 || !isDigits(s)) {
			continue
		}
		if t, err := time.Parse(layout, s); err == nil {
			return domain.DateOf(t), nil
		}
	}
	return domain.Date{}, fmt.Errorf("%w: %q", ErrUnparseable, token)
}

// NormalizeAs parses token with exactly one layout.
func NormalizeAs(token, layout string) (domain.Date, error) {
	s := clean(token)
	t, err := time.Parse(layout, s)
	if err != nil {
		return domain.Date{}, fmt.Errorf("%w: %q as %q", ErrUnparseable, token, layout)
	}
	return domain.DateOf(t), nil
}

// ParseStored parses a date read back from a persisted store: ISO first, then
// the legacy MM/DD/YYYY layout.
func ParseStored(token string) (domain.Date, error) {
	d, err := domain.ParseStored(clean(token))
	if err != nil {
		return domain.Date{}, fmt.Errorf("%w: %q", ErrUnparseable, token)
	}
	return d, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
