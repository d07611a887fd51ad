// Package ingest runs the acquisition loops that pull underlying bars and
// option quotes from upstream and emit them to a Sink.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/api"
	"github.com/dgnsrekt/zerogex/internal/data"
	"github.com/dgnsrekt/zerogex/internal/market"
	"github.com/dgnsrekt/zerogex/internal/universe"
)

var (
	ErrInitFailed = errors.New("stream initialization failed")
	errNoBars     = errors.New("no bars returned")
)

// BarSource fetches underlying bars.
type BarSource interface {
	GetBars(ctx context.Context, req api.BarsRequest) ([]api.Bar, error)
}

// MarketData is the upstream surface the loops need.
type MarketData interface {
	BarSource
	QuoteSource
}

type StreamConfig struct {
	Underlying     string
	PollIntervals  market.PollIntervals
	BatchSize      int
	BatchDelay     time.Duration
	BatchWorkers   int
	RecalcEvery    int
	CleanupEvery   int
	InitAttempts   int
	InitRetryDelay time.Duration
}

// Streamer polls upstream forever with a session-dependent interval.
// Iterations never overlap.
type Streamer struct {
	src      MarketData
	universe *universe.Manager
	sink     Sink
	cal      *market.Calendar
	fetcher  *BatchFetcher
	cfg      StreamConfig
	logger   *zap.Logger
	stats    Stats

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	lastPrice float64
}

func NewStreamer(src MarketData, mgr *universe.Manager, sink Sink, cal *market.Calendar, cfg StreamConfig, logger *zap.Logger) *Streamer {
	if cfg.InitAttempts <= 0 {
		cfg.InitAttempts = 1
	}
	return &Streamer{
		src:      src,
		universe: mgr,
		sink:     sink,
		cal:      cal,
		fetcher:  NewBatchFetcher(src, cfg.BatchSize, cfg.BatchDelay, cfg.BatchWorkers, logger),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Stats returns the loop counters.
func (s *Streamer) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// Run resolves the initial universe and then loops until ctx is done.
// Only initialization failure is returned; iteration errors are logged.
func (s *Streamer) Run(ctx context.Context) error {
	if err := s.initialize(ctx); err != nil {
		return err
	}

	for iteration := 1; ; iteration++ {
		if ctx.Err() != nil {
			s.logger.Info("stream stopped", zap.Int("iterations", iteration-1))
			return nil
		}

		session := market.SessionAt(s.now(), s.cal)
		if err := s.iterate(ctx, iteration); err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.stats.failures.Add(1)
			s.logger.Error("stream iteration failed",
				zap.Int("iteration", iteration),
				zap.String("session", string(session)),
				zap.Error(err),
			)
		}

		interval := s.cfg.PollIntervals.For(session)
		s.logger.Debug("sleeping", zap.String("session", string(session)), zap.Duration("interval", interval))
		if err := s.sleep(ctx, interval); err != nil {
			continue
		}
	}
}

func (s *Streamer) initialize(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.InitAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, s.cfg.InitRetryDelay); err != nil {
				return err
			}
		}

		bar, err := s.latestBar(ctx)
		if err == nil {
			err = s.universe.Initialize(ctx, bar.Close)
		}
		if err == nil {
			s.lastPrice = bar.Close
			return nil
		}

		lastErr = err
		s.logger.Warn("stream initialization attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.InitAttempts),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrInitFailed, s.cfg.InitAttempts, lastErr)
}

// iterate runs one poll: the underlying bar, the universe maintenance
// ticks, then every option batch.
func (s *Streamer) iterate(ctx context.Context, iteration int) error {
	s.stats.iterations.Add(1)
	now := s.now()

	var errs []error
	bar, err := s.latestBar(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("underlying: %w", err))
	} else {
		s.lastPrice = bar.Close
		s.emit(ctx, &bar)
	}

	if s.cfg.RecalcEvery > 0 && iteration%s.cfg.RecalcEvery == 0 && s.lastPrice > 0 {
		if _, err := s.universe.MaybeRebuild(ctx, s.lastPrice); err != nil {
			s.logger.Warn("universe rebuild failed, keeping current set", zap.Error(err))
		}
	}
	if s.cfg.CleanupEvery > 0 && iteration%s.cfg.CleanupEvery == 0 {
		s.universe.Cleanup(market.DateOf(now))
	}

	if s.lastPrice > 0 {
		if err := s.emitOptions(ctx, s.universe.Symbols(), s.lastPrice, now); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		s.stats.markSuccess(now)
	}
	return errors.Join(errs...)
}

func (s *Streamer) latestBar(ctx context.Context) (data.UnderlyingBar, error) {
	bars, err := s.src.GetBars(ctx, api.BarsRequest{
		Symbol:          s.cfg.Underlying,
		Interval:        1,
		Unit:            "Minute",
		BarsBack:        1,
		SessionTemplate: api.SessionTemplatePre,
	})
	if err != nil {
		return data.UnderlyingBar{}, err
	}
	if len(bars) == 0 {
		return data.UnderlyingBar{}, errNoBars
	}
	return barFromAPI(s.cfg.Underlying, bars[len(bars)-1], s.now())
}

func (s *Streamer) emitOptions(ctx context.Context, symbols []string, spot float64, fallback time.Time) error {
	res, err := s.fetcher.Fetch(ctx, symbols)
	if err != nil {
		return err
	}

	for _, q := range res.Quotes {
		rec, err := recordFromQuote(s.cfg.Underlying, q, spot, fallback)
		if err != nil {
			s.stats.dropped.Add(1)
			s.logger.Warn("dropping option quote", zap.String("symbol", q.Symbol), zap.Error(err))
			continue
		}
		s.emit(ctx, rec)
	}

	if res.Total > 0 && res.Failed == res.Total {
		return fmt.Errorf("all %d option batches failed: %s", res.Total, res.Errors[0])
	}
	return nil
}

func (s *Streamer) emit(ctx context.Context, item data.Item) {
	s.stats.emitted.Add(1)
	if err := s.sink.Accept(ctx, item); err != nil {
		s.logger.Warn("sink rejected item", zap.Time("timestamp", item.ItemTime()), zap.Error(err))
	}
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
