package ingest

import (
	"sync/atomic"
	"time"
)

// Stats counts loop activity. It is safe for concurrent use.
type Stats struct {
	iterations  atomic.Int64
	failures    atomic.Int64
	emitted     atomic.Int64
	dropped     atomic.Int64
	lastSuccess atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Iterations  int64     `json:"iterations"`
	Failures    int64     `json:"failures"`
	Emitted     int64     `json:"emitted"`
	Dropped     int64     `json:"dropped"`
	LastSuccess time.Time `json:"last_success,omitzero"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Iterations: s.iterations.Load(),
		Failures:   s.failures.Load(),
		Emitted:    s.emitted.Load(),
		Dropped:    s.dropped.Load(),
	}
	if ns := s.lastSuccess.Load(); ns > 0 {
		snap.LastSuccess = time.Unix(0, ns)
	}
	return snap
}

func (s *Stats) markSuccess(t time.Time) {
	s.lastSuccess.Store(t.UnixNano())
}
