package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/data"
)

type fakeStore struct {
	mu       sync.Mutex
	bars     map[time.Time]data.UnderlyingBar
	options  map[string]data.OptionRecord
	barCalls int
	optCalls int
	fail     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bars:    make(map[time.Time]data.UnderlyingBar),
		options: make(map[string]data.OptionRecord),
	}
}

func (s *fakeStore) UpsertUnderlyingBars(ctx context.Context, bars []data.UnderlyingBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.fail != nil {
		return s.fail
	}
	for _, b := range bars {
		s.bars[b.Timestamp] = b
	}
	return nil
}

func (s *fakeStore) UpsertOptionRecords(ctx context.Context, records []data.OptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.fail != nil {
		return s.fail
	}
	for _, r := range records {
		s.options[r.OptionSymbol+"|"+r.Timestamp.String()] = r
	}
	return nil
}

var t0 = time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC)

func tick(at time.Time, price float64) *data.UnderlyingBar {
	return &data.UnderlyingBar{Symbol: "SPY", Timestamp: at, Open: price, High: price, Low: price, Close: price, UpVolume: 1, DownVolume: 2}
}

func option(symbol string, at time.Time, last float64) *data.OptionRecord {
	return &data.OptionRecord{OptionSymbol: symbol, Underlying: "SPY", Timestamp: at, Strike: 100, OptionType: data.Call, Last: last}
}

func newTestBuffer(store Store, maxSize int) *Buffer {
	return NewBuffer(store, Config{BucketWidth: time.Minute, MaxBufferSize: maxSize, FlushInterval: time.Minute}, zap.NewNop())
}

func TestBuffer_AggregatesWithinBucket(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 1000)
	ctx := context.Background()

	for i, p := range []float64{100, 102, 101} {
		if err := buf.Accept(ctx, tick(t0.Add(time.Duration(i)*10*time.Second), p)); err != nil {
			t.Fatal(err)
		}
	}
	if store.barCalls != 0 {
		t.Fatal("nothing should be written before a trigger")
	}

	if err := buf.Close(ctx); err != nil {
		t.Fatal(err)
	}
	got, ok := store.bars[t0]
	if !ok {
		t.Fatal("bucket not written")
	}
	if got.Open != 100 || got.High != 102 || got.Low != 100 || got.Close != 101 {
		t.Errorf("unexpected OHLC %+v", got)
	}
	if got.UpVolume != 3 || got.DownVolume != 6 {
		t.Errorf("volumes not summed: %+v", got)
	}
}

func TestBuffer_RolloverFlushesPreviousBucket(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 1000)
	ctx := context.Background()

	_ = buf.Accept(ctx, tick(t0, 100))
	_ = buf.Accept(ctx, tick(t0.Add(30*time.Second), 101))
	_ = buf.Accept(ctx, tick(t0.Add(65*time.Second), 103))

	if store.barCalls != 1 {
		t.Fatalf("expected rollover flush, got %d writes", store.barCalls)
	}
	if got := store.bars[t0]; got.Close != 101 {
		t.Errorf("first bucket = %+v", got)
	}
	if _, ok := store.bars[t0.Add(time.Minute)]; ok {
		t.Error("second bucket written before it closed")
	}
	if s := buf.Stats(); s.Buffered != 1 {
		t.Errorf("expected 1 buffered bar, got %d", s.Buffered)
	}
}

func TestBuffer_OptionsLastValueWins(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 1000)
	ctx := context.Background()

	_ = buf.Accept(ctx, option("SPY 250314C100", t0.Add(5*time.Second), 1.0))
	_ = buf.Accept(ctx, option("SPY 250314C100", t0.Add(40*time.Second), 1.5))
	_ = buf.Accept(ctx, option("SPY 250314C100", t0.Add(70*time.Second), 2.0))
	_ = buf.Accept(ctx, option("SPY 250314P100", t0.Add(10*time.Second), 0.8))

	if err := buf.Flush(ctx, FlushTimeout); err != nil {
		t.Fatal(err)
	}
	if len(store.options) != 3 {
		t.Fatalf("expected 3 (symbol, bucket) rows, got %d", len(store.options))
	}
	first := store.options["SPY 250314C100|"+t0.String()]
	if first.Last != 1.5 || !first.Timestamp.Equal(t0) {
		t.Errorf("expected last value in bucket stamped at bucket start, got %+v", first)
	}
	if s := buf.Stats(); s.Buffered != 0 || s.OptionsWritten != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestBuffer_OptionsKeepNewestObservation(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 1000)
	ctx := context.Background()

	_ = buf.Accept(ctx, option("SPY 250314C100", t0.Add(40*time.Second), 1.5))
	_ = buf.Accept(ctx, option("SPY 250314C100", t0.Add(5*time.Second), 1.0))

	if err := buf.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if got := store.options["SPY 250314C100|"+t0.String()]; got.Last != 1.5 {
		t.Errorf("late arrival overwrote a newer quote: %+v", got)
	}
}

func TestBuffer_SizeTriggerFlushesAllSymbols(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 3)
	ctx := context.Background()

	_ = buf.Accept(ctx, option("A", t0, 1))
	_ = buf.Accept(ctx, option("B", t0, 1))
	_ = buf.Accept(ctx, option("C", t0, 1))
	if store.optCalls != 0 {
		t.Fatal("flushed at the ceiling instead of above it")
	}

	_ = buf.Accept(ctx, option("D", t0, 1))
	if store.optCalls != 1 || len(store.options) != 4 {
		t.Errorf("expected one flush of all 4 symbols, got %d calls / %d rows", store.optCalls, len(store.options))
	}
}

func TestBuffer_SizeFlushKeepsUnderlyingBucketOpen(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 2)
	ctx := context.Background()

	_ = buf.Accept(ctx, tick(t0, 100))
	_ = buf.Accept(ctx, tick(t0.Add(10*time.Second), 105))
	_ = buf.Accept(ctx, option("A", t0, 1)) // crosses the ceiling

	if got := store.bars[t0]; got.High != 105 || got.Close != 105 {
		t.Fatalf("partial bucket = %+v", got)
	}

	_ = buf.Accept(ctx, tick(t0.Add(20*time.Second), 95))
	_ = buf.Close(ctx)

	got := store.bars[t0]
	if got.Open != 100 || got.High != 105 || got.Low != 95 || got.Close != 95 {
		t.Errorf("completed bucket lost earlier ticks: %+v", got)
	}
	if got.UpVolume != 3 {
		t.Errorf("volume double counted or lost: %d", got.UpVolume)
	}
}

func TestBuffer_RepeatedBarSnapshotsCountOnce(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 5)
	ctx := context.Background()

	// the same in-progress minute bar, refetched with cumulative volume
	for i := 1; i <= 12; i++ {
		bar := &data.UnderlyingBar{
			Symbol:     "SPY",
			Timestamp:  t0,
			Open:       100,
			High:       100 + float64(i)/10,
			Low:        99,
			Close:      100 + float64(i)/20,
			UpVolume:   int64(i * 100),
			DownVolume: int64(i * 50),
		}
		_ = buf.Accept(ctx, bar)
	}
	if err := buf.Close(ctx); err != nil {
		t.Fatal(err)
	}

	got := store.bars[t0]
	last := 12.0
	if got.UpVolume != 1200 || got.DownVolume != 600 {
		t.Errorf("volume = %d/%d, want 1200/600", got.UpVolume, got.DownVolume)
	}
	if got.Open != 100 || got.High != 100+last/10 || got.Low != 99 || got.Close != 100+last/20 {
		t.Errorf("unexpected OHLC %+v", got)
	}
}

func TestAggregateBars_CollapsesSameTimestamp(t *testing.T) {
	bars := []data.UnderlyingBar{
		{Symbol: "SPY", Timestamp: t0, Open: 1, High: 2, Low: 1, Close: 2, UpVolume: 10, DownVolume: 5},
		{Symbol: "SPY", Timestamp: t0, Open: 1, High: 3, Low: 1, Close: 3, UpVolume: 30, DownVolume: 15},
		{Symbol: "SPY", Timestamp: t0.Add(time.Minute), Open: 3, High: 4, Low: 3, Close: 4, UpVolume: 7, DownVolume: 1},
	}
	got := AggregateBars(t0, bars)
	if got.UpVolume != 37 || got.DownVolume != 16 || got.Close != 4 || got.High != 4 {
		t.Errorf("unexpected aggregate %+v", got)
	}
}

func TestBuffer_FlushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	items := []data.Item{tick(t0, 100), tick(t0.Add(time.Second), 101), option("A", t0, 2)}

	var results []data.UnderlyingBar
	store := newFakeStore()
	for range 2 {
		buf := newTestBuffer(store, 1000)
		for _, it := range items {
			_ = buf.Accept(ctx, it)
		}
		_ = buf.Close(ctx)
		results = append(results, store.bars[t0])
	}

	if results[0] != results[1] {
		t.Errorf("replay changed the stored aggregate: %+v vs %+v", results[0], results[1])
	}
	if len(store.bars) != 1 || len(store.options) != 1 {
		t.Errorf("replay duplicated rows: %d bars, %d options", len(store.bars), len(store.options))
	}
}

func TestBuffer_StorageErrorDropsData(t *testing.T) {
	store := newFakeStore()
	store.fail = errors.New("connection refused")
	buf := newTestBuffer(store, 1000)
	ctx := context.Background()

	_ = buf.Accept(ctx, option("A", t0, 1))
	_ = buf.Accept(ctx, tick(t0, 100))
	_ = buf.Accept(ctx, tick(t0.Add(time.Minute), 100))

	if err := buf.Close(ctx); err == nil {
		t.Error("expected flush error")
	}
	s := buf.Stats()
	if s.FlushErrors == 0 {
		t.Error("storage errors not counted")
	}
	if s.Buffered != 0 {
		t.Errorf("failed data should be dropped, %d still buffered", s.Buffered)
	}

	store.fail = nil
	_ = buf.Close(ctx)
	if len(store.options) != 0 || len(store.bars) != 0 {
		t.Error("dropped data was retried")
	}
}

func TestBuffer_FailedKeptBucketIsDropped(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 1)
	ctx := context.Background()

	store.fail = errors.New("connection refused")
	_ = buf.Accept(ctx, tick(t0, 100))
	if err := buf.Accept(ctx, tick(t0.Add(10*time.Second), 90)); err == nil {
		t.Fatal("expected size flush error")
	}

	store.fail = nil
	_ = buf.Accept(ctx, tick(t0.Add(20*time.Second), 95))
	_ = buf.Close(ctx)

	got := store.bars[t0]
	if got.Open != 95 || got.Low != 95 || got.UpVolume != 1 {
		t.Errorf("bucket that failed to write should not be rewritten later, got %+v", got)
	}
}

func TestBuffer_AcceptAfterCancelStillFlushes(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := range 10 {
		_ = buf.Accept(ctx, option(fmt.Sprintf("SPY 250314C%d", 100+i), t0, 1))
	}
	if err := buf.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	s := buf.Stats()
	if s.FlushErrors != 0 || s.OptionsWritten != 10 || s.Buffered != 0 {
		t.Errorf("items accepted after cancel were lost: %+v", s)
	}
}

func TestBuffer_TimeoutFlush(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 1000)
	ctx := context.Background()

	now := t0
	buf.now = func() time.Time { return now }
	buf.lastFlush = now

	_ = buf.Accept(ctx, option("A", t0, 1))

	now = now.Add(30 * time.Second)
	buf.flushIfStale(ctx)
	if store.optCalls != 0 {
		t.Fatal("flushed before the interval elapsed")
	}

	now = now.Add(31 * time.Second)
	buf.flushIfStale(ctx)
	if store.optCalls != 1 {
		t.Fatal("expected timeout flush")
	}
}

func TestBuffer_RunFlushesOnShutdown(t *testing.T) {
	store := newFakeStore()
	buf := newTestBuffer(store, 1000)
	ctx, cancel := context.WithCancel(context.Background())

	_ = buf.Accept(ctx, tick(t0, 100))
	_ = buf.Accept(ctx, option("A", t0, 1))

	done := make(chan struct{})
	go func() {
		buf.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.bars) != 1 || len(store.options) != 1 {
		t.Errorf("shutdown flush incomplete: %d bars, %d options", len(store.bars), len(store.options))
	}
}

func TestAggregateBars_Empty(t *testing.T) {
	got := AggregateBars(t0, nil)
	if !got.Timestamp.Equal(t0) || got.Close != 0 {
		t.Errorf("unexpected %+v", got)
	}
}
