package market

import "time"

// Session is the trading phase derived from exchange-local wall time.
type Session string

const (
	SessionPreMarket  Session = "pre-market"
	SessionRegular    Session = "regular"
	SessionAfterHours Session = "after-hours"
	SessionClosed     Session = "closed"
)

// Session boundaries in minutes after midnight, exchange time.
const (
	preMarketOpen  = 4 * 60
	regularOpen    = 9*60 + 30
	regularClose   = 16 * 60
	afterHoursEnd  = 20 * 60
	minutesPerHour = 60
)

// SessionAt classifies t. Weekends are closed; when cal is non-nil,
// exchange holidays are closed as well.
func SessionAt(t time.Time, cal *Calendar) Session {
	local := t.In(Location())

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return SessionClosed
	}
	if cal != nil && !cal.IsMarketDay(local) {
		return SessionClosed
	}

	m := local.Hour()*minutesPerHour + local.Minute()
	switch {
	case m < preMarketOpen:
		return SessionClosed
	case m < regularOpen:
		return SessionPreMarket
	case m < regularClose:
		return SessionRegular
	case m < afterHoursEnd:
		return SessionAfterHours
	default:
		return SessionClosed
	}
}

// IsExtended reports pre-market or after-hours.
func (s Session) IsExtended() bool {
	return s == SessionPreMarket || s == SessionAfterHours
}

// PollIntervals maps sessions to acquisition cadence.
type PollIntervals struct {
	Regular  time.Duration
	Extended time.Duration
	Closed   time.Duration
}

// For returns the poll interval for s.
func (p PollIntervals) For(s Session) time.Duration {
	switch {
	case s == SessionRegular:
		return p.Regular
	case s.IsExtended():
		return p.Extended
	default:
		return p.Closed
	}
}

// FloorToBucket truncates t to the start of its fixed-width bucket.
// Bucket edges are absolute, so they do not depend on t's zone.
func FloorToBucket(t time.Time, width time.Duration) time.Time {
	if width <= 0 {
		return t
	}
	return t.Truncate(width)
}

// MarketMinutesBetween counts minutes in [start, end) that fall inside the
// 04:00-20:00 exchange-time window on weekdays. Used for backfill progress.
func MarketMinutesBetween(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	loc := Location()
	total := 0
	day := DateOf(start)
	last := DateOf(end)
	for !day.After(last) {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			open := time.Date(day.Year(), day.Month(), day.Day(), preMarketOpen/minutesPerHour, 0, 0, 0, loc)
			closeT := time.Date(day.Year(), day.Month(), day.Day(), afterHoursEnd/minutesPerHour, 0, 0, 0, loc)
			lo := maxTime(open, start.In(loc))
			hi := minTime(closeT, end.In(loc))
			if hi.After(lo) {
				total += int(hi.Sub(lo) / time.Minute)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
