// Package aggregate buckets acquisition output by time and writes
// aggregated bars and last-value option records to storage.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/data"
	"github.com/dgnsrekt/zerogex/internal/market"
)

// Store receives flushed aggregates. Writes must be idempotent upserts on
// (symbol, timestamp) and (option_symbol, timestamp).
type Store interface {
	UpsertUnderlyingBars(ctx context.Context, bars []data.UnderlyingBar) error
	UpsertOptionRecords(ctx context.Context, records []data.OptionRecord) error
}

// FlushReason names what triggered a flush.
type FlushReason string

const (
	FlushRollover FlushReason = "rollover"
	FlushSize     FlushReason = "size"
	FlushTimeout  FlushReason = "timeout"
	FlushShutdown FlushReason = "shutdown"
)

type Config struct {
	BucketWidth   time.Duration
	MaxBufferSize int
	FlushInterval time.Duration
}

// Stats is a snapshot of buffer activity.
type Stats struct {
	Accepted       int64     `json:"accepted"`
	Buffered       int       `json:"buffered"`
	Flushes        int64     `json:"flushes"`
	BarsWritten    int64     `json:"bars_written"`
	OptionsWritten int64     `json:"options_written"`
	FlushErrors    int64     `json:"flush_errors"`
	LastFlush      time.Time `json:"last_flush,omitzero"`
}

type underlyingBucket struct {
	key  time.Time
	bars []data.UnderlyingBar
	// items accepted since the bucket was last written
	dirty int
}

type optionKey struct {
	symbol string
	bucket time.Time
}

// Buffer holds at most one underlying bucket plus the latest record per
// (option symbol, bucket). A single mutex covers accept and flush, so a
// flush drains and clears atomically with respect to new items.
type Buffer struct {
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	// how often Run checks the flush interval
	checkEvery time.Duration

	mu         sync.Mutex
	underlying *underlyingBucket
	options    map[optionKey]data.OptionRecord
	pending    int
	lastFlush  time.Time
	stats      Stats
}

func NewBuffer(store Store, cfg Config, logger *zap.Logger) *Buffer {
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = time.Minute
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	check := cfg.FlushInterval / 4
	if check > time.Second {
		check = time.Second
	}
	return &Buffer{
		store:      store,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		checkEvery: check,
		options:    make(map[optionKey]data.OptionRecord),
		lastFlush:  time.Now(),
	}
}

// Accept buffers one item. It flushes inline on underlying rollover and
// when the buffered count exceeds MaxBufferSize. Inline flushes ignore
// cancellation of ctx so items accepted during shutdown still reach the
// store. Storage errors are logged and counted; the returned error reports
// them to the caller.
func (b *Buffer) Accept(ctx context.Context, item data.Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	var errs []error
	switch v := item.(type) {
	case *data.UnderlyingBar:
		key := market.FloorToBucket(v.Timestamp, b.cfg.BucketWidth)
		if u := b.underlying; u != nil && (!u.key.Equal(key) || u.bars[0].Symbol != v.Symbol) {
			if err := b.flushUnderlyingLocked(ctx, FlushRollover, false); err != nil {
				errs = append(errs, err)
			}
		}
		if b.underlying == nil {
			b.underlying = &underlyingBucket{key: key}
		}
		b.underlying.bars = mergeBar(b.underlying.bars, *v)
		b.underlying.dirty++

	case *data.OptionRecord:
		key := optionKey{symbol: v.OptionSymbol, bucket: market.FloorToBucket(v.Timestamp, b.cfg.BucketWidth)}
		if prev, ok := b.options[key]; !ok || !prev.Timestamp.After(v.Timestamp) {
			b.options[key] = *v
		}

	default:
		return fmt.Errorf("unsupported item %T", item)
	}

	b.pending++
	b.stats.Accepted++

	if b.pending > b.cfg.MaxBufferSize {
		if err := b.flushLocked(ctx, FlushSize); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush writes everything buffered. The in-flight underlying bucket is
// written but kept open unless reason is FlushShutdown.
func (b *Buffer) Flush(ctx context.Context, reason FlushReason) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx, reason)
}

// Close flushes and clears every buffer.
func (b *Buffer) Close(ctx context.Context) error {
	return b.Flush(ctx, FlushShutdown)
}

// Run flushes when FlushInterval passes without a flush, and flushes
// everything once more when ctx is done.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := b.Close(context.WithoutCancel(ctx)); err != nil {
				b.logger.Error("final flush failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			b.flushIfStale(ctx)
		}
	}
}

func (b *Buffer) flushIfStale(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending == 0 || b.now().Sub(b.lastFlush) < b.cfg.FlushInterval {
		return
	}
	_ = b.flushLocked(ctx, FlushTimeout)
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Buffered = b.pending
	return s
}

func (b *Buffer) flushLocked(ctx context.Context, reason FlushReason) error {
	var errs []error
	if b.underlying != nil {
		if err := b.flushUnderlyingLocked(ctx, reason, reason != FlushShutdown); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.flushOptionsLocked(ctx, reason); err != nil {
		errs = append(errs, err)
	}
	b.pending = 0
	b.lastFlush = b.now()
	b.stats.Flushes++
	b.stats.LastFlush = b.lastFlush
	return errors.Join(errs...)
}

// flushUnderlyingLocked writes the current underlying aggregate. With keep
// set the bucket stays open so later bars in the same bucket rewrite a
// complete aggregate. A failed write drops the bucket either way.
func (b *Buffer) flushUnderlyingLocked(ctx context.Context, reason FlushReason, keep bool) error {
	u := b.underlying
	b.pending = max(b.pending-u.dirty, 0)
	if !keep {
		b.underlying = nil
	}
	if u.dirty == 0 {
		return nil
	}
	u.dirty = 0

	agg := AggregateBars(u.key, u.bars)
	if err := b.store.UpsertUnderlyingBars(ctx, []data.UnderlyingBar{agg}); err != nil {
		b.underlying = nil
		b.stats.FlushErrors++
		b.logger.Error("underlying flush failed, dropping bucket",
			zap.String("reason", string(reason)),
			zap.String("symbol", agg.Symbol),
			zap.Time("bucket", agg.Timestamp),
			zap.Error(err),
		)
		return fmt.Errorf("writing underlying bucket: %w", err)
	}

	b.stats.BarsWritten++
	b.logger.Debug("underlying bucket flushed",
		zap.String("reason", string(reason)),
		zap.Time("bucket", agg.Timestamp),
		zap.Float64("close", agg.Close),
	)
	return nil
}

func (b *Buffer) flushOptionsLocked(ctx context.Context, reason FlushReason) error {
	if len(b.options) == 0 {
		return nil
	}

	records := make([]data.OptionRecord, 0, len(b.options))
	for k, rec := range b.options {
		rec.Timestamp = k.bucket
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].OptionSymbol < records[j].OptionSymbol
	})
	clear(b.options)

	if err := b.store.UpsertOptionRecords(ctx, records); err != nil {
		b.stats.FlushErrors++
		b.logger.Error("option flush failed, dropping records",
			zap.String("reason", string(reason)),
			zap.Int("records", len(records)),
			zap.Error(err),
		)
		return fmt.Errorf("writing option records: %w", err)
	}

	b.stats.OptionsWritten += int64(len(records))
	b.logger.Debug("option buckets flushed",
		zap.String("reason", string(reason)),
		zap.Int("records", len(records)),
	)
	return nil
}

// mergeBar inserts bar in timestamp order. Polling refetches the
// in-progress bar with cumulative volumes, so a bar with the same source
// timestamp replaces the earlier snapshot.
func mergeBar(bars []data.UnderlyingBar, bar data.UnderlyingBar) []data.UnderlyingBar {
	i := sort.Search(len(bars), func(i int) bool { return !bars[i].Timestamp.Before(bar.Timestamp) })
	if i < len(bars) && bars[i].Timestamp.Equal(bar.Timestamp) {
		bars[i] = bar
		return bars
	}
	return slices.Insert(bars, i, bar)
}

// AggregateBars folds bars into one bar stamped with bucket: first open,
// max high, min low, last close, summed volumes. Repeated snapshots of one
// source bar count once, the latest winning.
func AggregateBars(bucket time.Time, bars []data.UnderlyingBar) data.UnderlyingBar {
	if len(bars) == 0 {
		return data.UnderlyingBar{Timestamp: bucket}
	}
	merged := make([]data.UnderlyingBar, 0, len(bars))
	for _, bar := range bars {
		merged = mergeBar(merged, bar)
	}
	bars = merged

	agg := data.UnderlyingBar{
		Symbol:    bars[0].Symbol,
		Timestamp: bucket,
		Open:      bars[0].Open,
		High:      bars[0].High,
		Low:       bars[0].Low,
		Close:     bars[len(bars)-1].Close,
	}
	for _, bar := range bars {
		agg.High = max(agg.High, bar.High)
		agg.Low = min(agg.Low, bar.Low)
		agg.UpVolume += bar.UpVolume
		agg.DownVolume += bar.DownVolume
	}
	return agg
}
