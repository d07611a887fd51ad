package market

import (
	"time"
	_ "time/tzdata"

	"github.com/scmhub/calendar"
)

// ExchangeTimezone is the wall-clock zone all session and expiry math runs in.
const ExchangeTimezone = "America/New_York"

const dateLayout = "2006-01-02"

// Calendar answers exchange-day questions for the NYSE.
type Calendar struct {
	location *time.Location
	nyse     *calendar.Calendar
}

// NewCalendar creates a calendar in exchange time. Falls back to UTC if the
// zone database is unavailable.
func NewCalendar() *Calendar {
	return &Calendar{
		location: Location(),
		nyse:     calendar.XNYS(),
	}
}

// Location returns the exchange time zone.
func Location() *time.Location {
	loc, err := time.LoadLocation(ExchangeTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location {
	return c.location
}

// IsMarketDay reports whether t falls on a trading day (not weekend/holiday).
func (c *Calendar) IsMarketDay(t time.Time) bool {
	// Noon avoids DST edges when the calendar maps to a date
	local := t.In(c.location)
	noon := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, c.location)
	return c.nyse.IsBusinessDay(noon)
}

// IsMarketDate checks a YYYY-MM-DD date string.
func (c *Calendar) IsMarketDate(dateStr string) bool {
	t, err := time.ParseInLocation(dateLayout, dateStr, c.location)
	if err != nil {
		return false
	}
	return c.IsMarketDay(t)
}

// Today returns today's date in exchange time as YYYY-MM-DD.
func (c *Calendar) Today() string {
	return time.Now().In(c.location).Format(dateLayout)
}

// DateOf truncates t to midnight of its exchange-local calendar date.
func DateOf(t time.Time) time.Time {
	loc := Location()
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// FormatDate renders the exchange-local date of t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.In(Location()).Format(dateLayout)
}

// ParseDate parses YYYY-MM-DD as midnight exchange time.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, Location())
}
