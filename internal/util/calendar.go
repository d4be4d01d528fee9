package util

import "navfeed/internal/domain"

// Calendar decides which dates can carry a published NAV. Weekends never do;
// extra holidays can be registered.
type Calendar struct {
	holidays map[domain.Date]struct{}
}

// NewCalendar creates a Calendar with the given holidays.
func NewCalendar(holidays ...domain.Date) *Calendar {
	c := &Calendar{holidays: make(map[domain.Date]struct{}, len(holidays))}
	for _, h := range holidays {
		c.holidays[h] = struct{}{}
	}
	return c
}

// IsBusinessDay reports whether d is a weekday and not a registered holiday.
func (c *Calendar) IsBusinessDay(d domain.Date) bool {
	if d.IsWeekend() {
		return false
	}
	_, holiday := c.holidays[d]
	return !holiday
}

// BusinessDaysDesc returns the business days in [start, end], newest first.
func (c *Calendar) BusinessDaysDesc(start, end domain.Date) []domain.Date {
	var days []domain.Date
	for d := end; !d.Before(start); d = d.Add(-1) {
		if c.IsBusinessDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// Filter returns the business days among dates, keeping their order, and the
// dates that were dropped.
func (c *Calendar) Filter(dates []domain.Date) (kept, dropped []domain.Date) {
	for _, d := range dates {
		if c.IsBusinessDay(d) {
			kept = append(kept, d)
		} else {
			dropped = append(dropped, d)
		}
	}
	return kept, dropped
}
