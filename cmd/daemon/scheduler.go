package main

import (
	"time"

	"github.com/dgnsrekt/zerogex/internal/market"
)

// Scheduler decides when the daily prune is due. Times are exchange-local.
type Scheduler struct {
	hour     int
	minute   int
	calendar *market.Calendar
	now      func() time.Time
}

// NewScheduler creates a scheduler firing at hour:minute on market days.
func NewScheduler(hour, minute int, cal *market.Calendar) *Scheduler {
	return &Scheduler{
		hour:     hour,
		minute:   minute,
		calendar: cal,
		now:      time.Now,
	}
}

// IsDue reports whether today's scheduled time has been reached.
func (s *Scheduler) IsDue() bool {
	now := s.now().In(s.calendar.Location())
	scheduled := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	return !now.Before(scheduled)
}

// TodayDate returns today's date in YYYY-MM-DD format in exchange time
func (s *Scheduler) TodayDate() string {
	return market.FormatDate(s.now())
}

// IsMarketDay checks if the given date is a trading day (not weekend/holiday)
func (s *Scheduler) IsMarketDay(dateStr string) bool {
	return s.calendar.IsMarketDate(dateStr)
}

// Now returns the scheduler's clock reading.
func (s *Scheduler) Now() time.Time {
	return s.now()
}
