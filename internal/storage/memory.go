package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dgnsrekt/zerogex/internal/data"
)

type barKey struct {
	symbol string
	ts     int64
}

type optionKey struct {
	symbol string
	ts     int64
}

type strikeKey struct {
	underlying string
	ts         int64
	strike     float64
	expiration string
}

type summaryKey struct {
	underlying string
	ts         int64
}

// Memory is a process-local Backend with the same upsert semantics as
// the postgres store.
type Memory struct {
	mu        sync.RWMutex
	bars      map[barKey]data.UnderlyingBar
	options   map[optionKey]data.OptionRecord
	strikes   map[strikeKey]data.GexByStrike
	summaries map[summaryKey]data.GexSummary
}

func NewMemory() *Memory {
	return &Memory{
		bars:      make(map[barKey]data.UnderlyingBar),
		options:   make(map[optionKey]data.OptionRecord),
		strikes:   make(map[strikeKey]data.GexByStrike),
		summaries: make(map[summaryKey]data.GexSummary),
	}
}

func (m *Memory) UpsertUnderlyingBars(_ context.Context, bars []data.UnderlyingBar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bars {
		m.bars[barKey{b.Symbol, b.Timestamp.UnixNano()}] = b
	}
	return nil
}

func (m *Memory) UpsertOptionRecords(_ context.Context, records []data.OptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		// transient enrichment inputs are not persisted
		r.UnderlyingPrice = 0
		r.IVSource = data.IVSourceNone
		m.options[optionKey{r.OptionSymbol, r.Timestamp.UnixNano()}] = r
	}
	return nil
}

func (m *Memory) LatestOptionTimestamp(_ context.Context, underlying string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	for _, r := range m.options {
		if r.Underlying == underlying && r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest, !latest.IsZero(), nil
}

func (m *Memory) UnderlyingPriceAt(_ context.Context, symbol string, at time.Time) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  data.UnderlyingBar
		found bool
	)
	for _, b := range m.bars {
		if b.Symbol != symbol || b.Timestamp.After(at) {
			continue
		}
		if !found || b.Timestamp.After(best.Timestamp) {
			best, found = b, true
		}
	}
	return best.Close, found, nil
}

func (m *Memory) OptionsAt(_ context.Context, underlying string, at time.Time) ([]data.OptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []data.OptionRecord
	for _, r := range m.options {
		if r.Underlying == underlying && r.Timestamp.Equal(at) && r.Gamma != nil {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b data.OptionRecord) int {
		if c := a.Expiration.Compare(b.Expiration); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Strike, b.Strike); c != 0 {
			return c
		}
		return cmp.Compare(a.OptionSymbol, b.OptionSymbol)
	})
	return out, nil
}

func (m *Memory) UpsertGexByStrike(_ context.Context, rows []data.GexByStrike) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range rows {
		k := strikeKey{g.Underlying, g.Timestamp.UnixNano(), g.Strike, g.Expiration.Format(time.DateOnly)}
		m.strikes[k] = g
	}
	return nil
}

func (m *Memory) UpsertGexSummary(_ context.Context, s data.GexSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[summaryKey{s.Underlying, s.Timestamp.UnixNano()}] = s
	return nil
}

func (m *Memory) Prune(_ context.Context, before time.Time) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := before.UnixNano()
	return map[string]int64{
		"gex_by_strike":     pruneMap(m.strikes, func(k strikeKey) bool { return k.ts < cutoff }),
		"gex_summary":       pruneMap(m.summaries, func(k summaryKey) bool { return k.ts < cutoff }),
		"option_chains":     pruneMap(m.options, func(k optionKey) bool { return k.ts < cutoff }),
		"underlying_quotes": pruneMap(m.bars, func(k barKey) bool { return k.ts < cutoff }),
	}, nil
}

func (m *Memory) Close() {}

// Summaries returns stored summaries for underlying, oldest first.
func (m *Memory) Summaries(underlying string) []data.GexSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []data.GexSummary
	for _, s := range m.summaries {
		if s.Underlying == underlying {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b data.GexSummary) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

// Counts reports the number of rows held per table.
func (m *Memory) Counts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"gex_by_strike":     len(m.strikes),
		"gex_summary":       len(m.summaries),
		"option_chains":     len(m.options),
		"underlying_quotes": len(m.bars),
	}
}

func pruneMap[K comparable, V any](m map[K]V, expired func(K) bool) int64 {
	var n int64
	for k := range m {
		if expired(k) {
			delete(m, k)
			n++
		}
	}
	return n
}
