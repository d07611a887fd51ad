package universe

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/market"
)

// Manager owns the live contract universe for one underlying.
type Manager struct {
	src    ChainSource
	params Params
	now    func() time.Time
	logger *zap.Logger

	mu      sync.RWMutex
	current Universe
	// every strike tracked per expiration date since start; pruned by Cleanup
	tracked map[string]map[float64]struct{}
}

func NewManager(src ChainSource, params Params, logger *zap.Logger) *Manager {
	return &Manager{
		src:     src,
		params:  params,
		now:     time.Now,
		logger:  logger,
		tracked: make(map[string]map[float64]struct{}),
	}
}

// Initialize builds the first universe around price.
func (m *Manager) Initialize(ctx context.Context, price float64) error {
	u, err := Build(ctx, m.src, m.params, price, m.now())
	if err != nil {
		return err
	}
	m.replace(u)

	m.logger.Info("contract universe initialized",
		zap.String("underlying", m.params.Underlying),
		zap.Float64("price", price),
		zap.Int("expirations", len(u.Expirations)),
		zap.Int("symbols", len(u.Symbols)),
	)
	return nil
}

// MaybeRebuild rebuilds when price has moved at least the configured
// threshold from the current reference. The previous set is discarded.
// On a failed rebuild the previous set stays in place.
func (m *Manager) MaybeRebuild(ctx context.Context, price float64) (bool, error) {
	m.mu.RLock()
	ref := m.current.ReferencePrice
	m.mu.RUnlock()

	move := math.Abs(price - ref)
	if move < m.params.PriceMoveThreshold {
		return false, nil
	}

	u, err := Build(ctx, m.src, m.params, price, m.now())
	if err != nil {
		return false, err
	}
	m.replace(u)

	m.logger.Info("contract universe rebuilt",
		zap.Float64("from", ref),
		zap.Float64("to", price),
		zap.Float64("move", move),
		zap.Int("symbols", len(u.Symbols)),
	)
	return true, nil
}

// Cleanup drops bookkeeping and symbols for expirations before today and
// returns how many expiration dates were removed.
func (m *Manager) Cleanup(today time.Time) int {
	cutoff := market.FormatDate(today)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for date := range m.tracked {
		if date < cutoff {
			delete(m.tracked, date)
			removed++
		}
	}

	var keptExps []time.Time
	for _, exp := range m.current.Expirations {
		date := market.FormatDate(exp)
		if date < cutoff {
			delete(m.current.Strikes, date)
			continue
		}
		keptExps = append(keptExps, exp)
	}
	if len(keptExps) != len(m.current.Expirations) {
		m.current.Expirations = keptExps
		m.current.Symbols = m.current.symbolsFor(m.params.Underlying)
	}

	if removed > 0 {
		m.logger.Info("pruned expired contracts",
			zap.Int("expirations", removed),
			zap.Int("symbols", len(m.current.Symbols)),
		)
	}
	return removed
}

// Symbols returns a copy of the tracked option symbols.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.current.Symbols...)
}

// ReferencePrice returns the price the current set was built around.
func (m *Manager) ReferencePrice() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.ReferencePrice
}

// TrackedDates lists expiration dates present in the bookkeeping map.
func (m *Manager) TrackedDates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dates := make([]string, 0, len(m.tracked))
	for d := range m.tracked {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func (m *Manager) replace(u Universe) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = u
	for date, strikes := range u.Strikes {
		set, ok := m.tracked[date]
		if !ok {
			set = make(map[float64]struct{}, len(strikes))
			m.tracked[date] = set
		}
		for _, k := range strikes {
			set[k] = struct{}{}
		}
	}
}
