package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/data"
	"github.com/dgnsrekt/zerogex/internal/notify"
)

// ErrNoData means the store has nothing to analyze yet.
var ErrNoData = errors.New("no option data to analyze")

// Store is the persisted data the engine reads and writes.
type Store interface {
	LatestOptionTimestamp(ctx context.Context, underlying string) (time.Time, bool, error)
	UnderlyingPriceAt(ctx context.Context, underlying string, at time.Time) (float64, bool, error)
	// OptionsAt returns records at exactly at that carry a gamma value.
	OptionsAt(ctx context.Context, underlying string, at time.Time) ([]data.OptionRecord, error)
	UpsertGexByStrike(ctx context.Context, rows []data.GexByStrike) error
	UpsertGexSummary(ctx context.Context, summary data.GexSummary) error
}

// Publisher receives every completed cycle.
type Publisher interface {
	Publish(ctx context.Context, cycle *Cycle) error
}

// Cycle is the output of one analytics run.
type Cycle struct {
	ID         string             `json:"cycle_id"`
	Underlying string             `json:"underlying"`
	Timestamp  time.Time          `json:"timestamp"`
	Summary    data.GexSummary    `json:"summary"`
	Strikes    []data.GexByStrike `json:"strikes"`
	Duration   time.Duration      `json:"-"`
}

type Config struct {
	Underlying   string
	Interval     time.Duration
	RiskFreeRate float64
	// Volatility for vanna and charm on records without an IV.
	DefaultVolatility float64
	// Alert after this many consecutive failed cycles; 0 disables.
	FailureAlertThreshold int
}

// EngineStats is a snapshot of engine counters.
type EngineStats struct {
	Cycles              int64     `json:"cycles"`
	Failures            int64     `json:"failures"`
	Empty               int64     `json:"empty"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastCycleID         string    `json:"last_cycle_id,omitempty"`
}

// Engine runs analytics cycles on a fixed interval against the store.
type Engine struct {
	store      Store
	publishers []Publisher
	notifier   notify.Notifier
	cfg        Config
	logger     *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	cycles      atomic.Int64
	failures    atomic.Int64
	empty       atomic.Int64
	consecutive atomic.Int64
	lastSuccess atomic.Int64
	lastCycleID atomic.Value
}

func NewEngine(store Store, notifier notify.Notifier, cfg Config, logger *zap.Logger, publishers ...Publisher) *Engine {
	if notifier == nil {
		notifier = &notify.NoopNotifier{}
	}
	return &Engine{
		store:      store,
		publishers: publishers,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// RunOnce computes and persists one cycle from the latest snapshot.
func (e *Engine) RunOnce(ctx context.Context) (*Cycle, error) {
	started := e.now()
	id := uuid.NewString()
	log := e.logger.With(zap.String("cycle_id", id), zap.String("underlying", e.cfg.Underlying))

	ts, ok, err := e.store.LatestOptionTimestamp(ctx, e.cfg.Underlying)
	if err != nil {
		return nil, fmt.Errorf("latest option timestamp: %w", err)
	}
	if !ok {
		return nil, ErrNoData
	}

	spot, ok, err := e.store.UnderlyingPriceAt(ctx, e.cfg.Underlying, ts)
	if err != nil {
		return nil, fmt.Errorf("underlying price: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no underlying price at or before %s", ErrNoData, ts.Format(time.RFC3339))
	}

	records, err := e.store.OptionsAt(ctx, e.cfg.Underlying, ts)
	if err != nil {
		return nil, fmt.Errorf("option snapshot: %w", err)
	}

	rows := ComputeGexByStrike(records, spot, ts, e.cfg.RiskFreeRate, e.cfg.DefaultVolatility)
	summary, ok := Summarize(e.cfg.Underlying, ts, spot, rows, records)
	if !ok {
		return nil, fmt.Errorf("%w: no priced options at %s", ErrNoData, ts.Format(time.RFC3339))
	}

	if err := e.store.UpsertGexByStrike(ctx, rows); err != nil {
		return nil, fmt.Errorf("writing gex by strike: %w", err)
	}
	if err := e.store.UpsertGexSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("writing gex summary: %w", err)
	}

	cycle := &Cycle{
		ID:         id,
		Underlying: e.cfg.Underlying,
		Timestamp:  ts,
		Summary:    summary,
		Strikes:    rows,
		Duration:   e.now().Sub(started),
	}

	for _, p := range e.publishers {
		if err := p.Publish(ctx, cycle); err != nil {
			log.Warn("publishing cycle failed", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.Time("timestamp", ts),
		zap.Float64("spot", spot),
		zap.Int("options", len(records)),
		zap.Int("strikes", len(rows)),
		zap.Float64("total_net_gex", summary.TotalNetGex),
		zap.Float64("max_gamma_strike", summary.MaxGammaStrike),
		zap.Float64("max_pain", summary.MaxPain),
		zap.Float64("put_call_ratio", summary.PutCallRatio),
		zap.Duration("duration", cycle.Duration),
	}
	if summary.GammaFlipPoint != nil {
		fields = append(fields, zap.Float64("gamma_flip", *summary.GammaFlipPoint))
	}
	log.Info("analytics cycle complete", fields...)

	return cycle, nil
}

// Run executes cycles until ctx is done, sleeping whatever is left of the
// interval after each cycle.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("analytics engine starting",
		zap.String("underlying", e.cfg.Underlying),
		zap.Duration("interval", e.cfg.Interval),
	)

	for ctx.Err() == nil {
		started := e.now()
		cycle, err := e.RunOnce(ctx)
		e.record(ctx, cycle, err)

		elapsed := e.now().Sub(started)
		wait := e.cfg.Interval - elapsed
		if wait < 0 {
			e.logger.Warn("analytics cycle overran interval",
				zap.Duration("elapsed", elapsed),
				zap.Duration("interval", e.cfg.Interval),
			)
			wait = 0
		}
		if err := e.sleep(ctx, wait); err != nil {
			break
		}
	}

	e.logger.Info("analytics engine stopped", zap.Int64("cycles", e.cycles.Load()))
	return nil
}

func (e *Engine) record(ctx context.Context, cycle *Cycle, err error) {
	e.cycles.Add(1)

	switch {
	case err == nil:
		e.consecutive.Store(0)
		e.lastSuccess.Store(e.now().UnixNano())
		e.lastCycleID.Store(cycle.ID)

	case errors.Is(err, ErrNoData):
		e.empty.Add(1)
		e.logger.Warn("analytics cycle skipped", zap.Error(err))

	case ctx.Err() != nil:
		// shutting down

	default:
		e.failures.Add(1)
		n := e.consecutive.Add(1)
		e.logger.Error("analytics cycle failed", zap.Int64("consecutive_failures", n), zap.Error(err))

		if e.cfg.FailureAlertThreshold > 0 && n == int64(e.cfg.FailureAlertThreshold) {
			title := fmt.Sprintf("ZeroGEX analytics failing: %s", e.cfg.Underlying)
			msg := fmt.Sprintf("%d consecutive cycles failed.\n\nLast error: %v", n, err)
			if nerr := e.notifier.SendAlert(ctx, title, msg); nerr != nil {
				e.logger.Warn("failed to send alert", zap.Error(nerr))
			}
		}
	}
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() EngineStats {
	s := EngineStats{
		Cycles:              e.cycles.Load(),
		Failures:            e.failures.Load(),
		Empty:               e.empty.Load(),
		ConsecutiveFailures: e.consecutive.Load(),
	}
	if ns := e.lastSuccess.Load(); ns > 0 {
		s.LastSuccess = time.Unix(0, ns)
	}
	if id, ok := e.lastCycleID.Load().(string); ok {
		s.LastCycleID = id
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
