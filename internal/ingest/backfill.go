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

type BackfillConfig struct {
	Universe     universe.Params
	LookbackDays int
	Interval     int
	Unit         string
	SampleEvery  int
	ChunkDays    int
	BatchSize    int
	BatchDelay   time.Duration
	BarDelay     time.Duration
}

// BackfillResult summarizes one backfill run.
type BackfillResult struct {
	Start          time.Time
	End            time.Time
	Bars           int
	DroppedBars    int
	Samples        int
	FailedSamples  int
	Options        int
	DroppedOptions int
	Duration       time.Duration
}

// Backfiller replays a historical window once, oldest bar first, sampling
// the option chain at each sampled bar's close.
type Backfiller struct {
	src     MarketData
	chain   universe.ChainSource
	sink    Sink
	fetcher *BatchFetcher
	cfg     BackfillConfig
	logger  *zap.Logger
	stats   Stats

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBackfiller wraps chain in a per-run cache so replayed bars share one
// expiration and strike listing.
func NewBackfiller(src MarketData, chain universe.ChainSource, sink Sink, cfg BackfillConfig, logger *zap.Logger) *Backfiller {
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = 1
	}
	if cfg.ChunkDays <= 0 {
		cfg.ChunkDays = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1
	}
	if cfg.Unit == "" {
		cfg.Unit = "Minute"
	}
	return &Backfiller{
		src:     src,
		chain:   universe.NewCachedChain(chain),
		sink:    sink,
		fetcher: NewBatchFetcher(src, cfg.BatchSize, cfg.BatchDelay, 1, logger),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Stats returns the loop counters.
func (b *Backfiller) Stats() StatsSnapshot {
	return b.stats.Snapshot()
}

// Run fetches the lookback window and replays it. Cancellation stops the
// replay early and returns the partial result with ctx's error.
func (b *Backfiller) Run(ctx context.Context) (BackfillResult, error) {
	started := b.now()
	end := started
	start := end.AddDate(0, 0, -b.cfg.LookbackDays)
	res := BackfillResult{Start: start, End: end}

	b.logger.Info("backfill starting",
		zap.String("underlying", b.cfg.Universe.Underlying),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("interval", b.cfg.Interval),
		zap.String("unit", b.cfg.Unit),
		zap.Int("sample_every", b.cfg.SampleEvery),
	)

	bars, dropped, err := b.fetchBars(ctx, start, end)
	res.DroppedBars = dropped
	if err != nil {
		return res, err
	}
	b.logger.Info("bars fetched", zap.Int("bars", bars.Len()), zap.Int("dropped", dropped))

	progress := newProgressLogger(start, end, b.logger)
	for i, bar := range bars.All() {
		if err := ctx.Err(); err != nil {
			res.Duration = b.now().Sub(started)
			return res, err
		}

		b.stats.iterations.Add(1)
		b.emit(ctx, &bar)
		res.Bars++

		if i%b.cfg.SampleEvery == 0 {
			res.Samples++
			opts, dropped, err := b.sampleChain(ctx, bar)
			res.Options += opts
			res.DroppedOptions += dropped
			if err != nil {
				res.FailedSamples++
				b.stats.failures.Add(1)
				if ctx.Err() == nil {
					b.logger.Warn("option sample failed", zap.Time("bar", bar.Timestamp), zap.Error(err))
				}
			} else {
				b.stats.markSuccess(b.now())
			}
		}

		progress.update(bar.Timestamp)

		if i < bars.Len()-1 {
			if err := b.sleep(ctx, b.cfg.BarDelay); err != nil {
				res.Duration = b.now().Sub(started)
				return res, err
			}
		}
	}

	res.Duration = b.now().Sub(started)
	b.logger.Info("backfill complete",
		zap.Int("bars", res.Bars),
		zap.Int("samples", res.Samples),
		zap.Int("options", res.Options),
		zap.Int("failed_samples", res.FailedSamples),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// fetchBars pulls [start, end] in ChunkDays slices and returns the valid
// bars in chronological order along with the number dropped.
func (b *Backfiller) fetchBars(ctx context.Context, start, end time.Time) (data.SortedBars, int, error) {
	var all []data.UnderlyingBar
	dropped := 0

	for chunkStart := start; chunkStart.Before(end); {
		chunkEnd := chunkStart.AddDate(0, 0, b.cfg.ChunkDays)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		raw, err := b.src.GetBars(ctx, api.BarsRequest{
			Symbol:          b.cfg.Universe.Underlying,
			Interval:        b.cfg.Interval,
			Unit:            b.cfg.Unit,
			FirstDate:       chunkStart,
			LastDate:        chunkEnd,
			SessionTemplate: api.SessionTemplate24Hour,
		})
		if err != nil {
			return data.SortedBars{}, dropped, fmt.Errorf("fetching bars %s to %s: %w",
				chunkStart.Format(time.RFC3339), chunkEnd.Format(time.RFC3339), err)
		}

		for _, r := range raw {
			if r.TimeStamp.IsZero() {
				dropped++
				continue
			}
			bar, err := barFromAPI(b.cfg.Universe.Underlying, r, time.Time{})
			if err != nil {
				dropped++
				b.stats.dropped.Add(1)
				b.logger.Warn("dropping bar", zap.Time("timestamp", r.TimeStamp), zap.Error(err))
				continue
			}
			all = append(all, bar)
		}
		b.logger.Debug("bar chunk fetched", zap.Time("from", chunkStart), zap.Time("to", chunkEnd), zap.Int("bars", len(raw)))

		chunkStart = chunkEnd
	}

	return data.NewSortedBars(all), dropped, nil
}

// sampleChain resolves the universe at the bar's close and emits one
// option record per returned quote, stamped with the bar time.
func (b *Backfiller) sampleChain(ctx context.Context, bar data.UnderlyingBar) (int, int, error) {
	u, err := universe.Build(ctx, b.chain, b.cfg.Universe, bar.Close, bar.Timestamp)
	if err != nil {
		return 0, 0, err
	}

	res, err := b.fetcher.Fetch(ctx, u.Symbols)
	if err != nil {
		return 0, 0, err
	}

	emitted, dropped := 0, 0
	for _, q := range res.Quotes {
		q.TimeStamp = bar.Timestamp
		rec, err := recordFromQuote(b.cfg.Universe.Underlying, q, bar.Close, bar.Timestamp)
		if err != nil {
			dropped++
			b.stats.dropped.Add(1)
			b.logger.Warn("dropping option quote", zap.String("symbol", q.Symbol), zap.Error(err))
			continue
		}
		b.emit(ctx, rec)
		emitted++
	}

	if res.Total > 0 && res.Failed == res.Total {
		return emitted, dropped, errors.New("all option batches failed")
	}
	return emitted, dropped, nil
}

func (b *Backfiller) emit(ctx context.Context, item data.Item) {
	b.stats.emitted.Add(1)
	if err := b.sink.Accept(ctx, item); err != nil {
		b.logger.Warn("sink rejected item", zap.Time("timestamp", item.ItemTime()), zap.Error(err))
	}
}

// progressLogger reports replay progress in 5% steps of market minutes.
type progressLogger struct {
	start    time.Time
	total    int
	nextStep int
	logger   *zap.Logger
}

func newProgressLogger(start, end time.Time, logger *zap.Logger) *progressLogger {
	return &progressLogger{
		start:    start,
		total:    market.MarketMinutesBetween(start, end),
		nextStep: 5,
		logger:   logger,
	}
}

func (p *progressLogger) update(at time.Time) {
	if p.total <= 0 {
		return
	}
	pct := market.MarketMinutesBetween(p.start, at) * 100 / p.total
	if pct < p.nextStep {
		return
	}
	p.logger.Info("backfill progress", zap.Int("percent", pct), zap.Time("at", at))
	for p.nextStep <= pct {
		p.nextStep += 5
	}
}
