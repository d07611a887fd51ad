package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/api"
	"github.com/dgnsrekt/zerogex/internal/data"
	"github.com/dgnsrekt/zerogex/internal/market"
	"github.com/dgnsrekt/zerogex/internal/pricing"
	"github.com/dgnsrekt/zerogex/internal/universe"
)

type fakeMarket struct {
	mu sync.Mutex

	bars     []api.Bar
	barsErr  error
	barCalls []api.BarsRequest

	quotes     map[string]api.Quote
	extra      []api.Quote
	quoteErr   error
	quoteCalls [][]string

	expirations []time.Time
	strikes     []float64
	chainCalls  int
}

func (f *fakeMarket) GetBars(ctx context.Context, req api.BarsRequest) ([]api.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.barCalls = append(f.barCalls, req)
	return f.bars, f.barsErr
}

func (f *fakeMarket) GetOptionQuotes(ctx context.Context, symbols []string) ([]api.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls = append(f.quoteCalls, append([]string(nil), symbols...))
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	var out []api.Quote
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out = append(out, q)
		}
	}
	return append(out, f.extra...), nil
}

func (f *fakeMarket) GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainCalls++
	return f.expirations, nil
}

func (f *fakeMarket) GetOptionStrikes(ctx context.Context, underlying string, expiration time.Time) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainCalls++
	return f.strikes, nil
}

type recordingSink struct {
	mu    sync.Mutex
	items []data.Item
}

func (s *recordingSink) Accept(ctx context.Context, item data.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *recordingSink) split() ([]*data.UnderlyingBar, []*data.OptionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bars []*data.UnderlyingBar
	var opts []*data.OptionRecord
	for _, it := range s.items {
		switch v := it.(type) {
		case *data.UnderlyingBar:
			bars = append(bars, v)
		case *data.OptionRecord:
			opts = append(opts, v)
		}
	}
	return bars, opts
}

func mkBar(ts time.Time, close float64) api.Bar {
	return api.Bar{TimeStamp: ts, Open: close, High: close + 1, Low: close - 1, Close: close, UpVolume: 10, DownVolume: 5}
}

// quotesFor answers every symbol with a plain two-sided quote.
func quotesFor(symbols []string) map[string]api.Quote {
	out := make(map[string]api.Quote, len(symbols))
	for _, s := range symbols {
		out[s] = api.Quote{Symbol: s, Bid: 1.0, Ask: 1.2, Last: 1.1, Volume: 10, OpenInterest: 100}
	}
	return out
}

func TestRecordFromQuote(t *testing.T) {
	exp := time.Date(2025, 3, 14, 0, 0, 0, 0, market.Location())
	fallback := time.Date(2025, 3, 12, 14, 31, 0, 0, time.UTC)
	sym := data.BuildOptionSymbol("SPY", exp, data.Put, 570.5)

	rec, err := recordFromQuote("SPY", api.Quote{Symbol: sym, Bid: 1, Ask: 1.1, OpenInterest: 42}, 571, fallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Strike != 570.5 || rec.OptionType != data.Put || !rec.Expiration.Equal(exp) {
		t.Errorf("contract terms not recovered: %+v", rec)
	}
	if rec.UnderlyingPrice != 571 || rec.OpenInterest != 42 {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.Timestamp.Equal(fallback) || rec.Timestamp.Location().String() != market.ExchangeTimezone {
		t.Errorf("timestamp = %v", rec.Timestamp)
	}

	bad := []api.Quote{
		{Symbol: "garbage"},
		{Symbol: "QQQ 250314C400", Bid: 1, Ask: 2},
		{Symbol: sym, Bid: 2, Ask: 1},
	}
	for _, q := range bad {
		if _, err := recordFromQuote("SPY", q, 571, fallback); err == nil {
			t.Errorf("expected %q to be rejected", q.Symbol)
		}
	}
}

func TestRecordFromQuote_IgnoresTradeTime(t *testing.T) {
	exp := time.Date(2026, 3, 20, 0, 0, 0, 0, market.Location())
	poll := time.Date(2026, 3, 18, 11, 30, 0, 0, market.Location())
	sym := data.BuildOptionSymbol("SPY", exp, data.Put, 450)

	q := api.Quote{
		Symbol:    sym,
		Bid:       1,
		Ask:       1.1,
		TradeTime: time.Date(2026, 3, 16, 19, 59, 0, 0, time.UTC),
	}
	rec, err := recordFromQuote("SPY", q, 560, poll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.Timestamp.Equal(poll) {
		t.Errorf("record stamped %v, want poll time %v", rec.Timestamp, poll)
	}
}

func TestBarFromAPI(t *testing.T) {
	now := time.Date(2025, 3, 12, 14, 31, 0, 0, time.UTC)

	b, err := barFromAPI("SPY", api.Bar{Open: 1, High: 2, Low: 0.5, Close: 1.5}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Timestamp.Equal(now) {
		t.Errorf("missing timestamp should fall back to now, got %v", b.Timestamp)
	}

	if _, err := barFromAPI("SPY", api.Bar{TimeStamp: now, Open: 1, High: 2, Low: 0.5}, now); !errors.Is(err, data.ErrInvalidBar) {
		t.Errorf("zero close should be rejected, got %v", err)
	}
	if _, err := barFromAPI("SPY", api.Bar{TimeStamp: now, Open: 3, High: 2, Low: 0.5, Close: 1}, now); !errors.Is(err, data.ErrInvalidBar) {
		t.Errorf("open above high should be rejected, got %v", err)
	}
}

func TestBatchFetcher(t *testing.T) {
	symbols := []string{"A", "B", "C", "D", "E"}
	src := &fakeMarket{quotes: quotesFor(symbols)}
	f := NewBatchFetcher(src, 2, 0, 2, zap.NewNop())

	if got := len(f.Split(symbols)); got != 3 {
		t.Fatalf("expected 3 batches, got %d", got)
	}

	res, err := f.Fetch(context.Background(), symbols)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 3 || res.Success != 3 || res.Failed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	var got []string
	for _, q := range res.Quotes {
		got = append(got, q.Symbol)
	}
	if strings.Join(got, "") != "ABCDE" {
		t.Errorf("quotes out of batch order: %v", got)
	}

	src.quoteErr = errors.New("boom")
	res, _ = f.Fetch(context.Background(), symbols)
	if res.Failed != 3 || len(res.Errors) != 3 || len(res.Quotes) != 0 {
		t.Errorf("expected every batch to fail, got %+v", res)
	}
}

func streamFixture(t *testing.T) (*fakeMarket, *recordingSink, *Streamer) {
	t.Helper()
	today := market.DateOf(time.Now())
	src := &fakeMarket{
		bars:        []api.Bar{mkBar(time.Now().UTC(), 100)},
		expirations: []time.Time{today.AddDate(0, 0, 7), today.AddDate(0, 0, 14)},
		strikes:     []float64{95, 100, 105, 120},
	}

	params := universe.Params{Underlying: "SPY", Expirations: 2, StrikeDistance: 5, PriceMoveThreshold: 1}
	mgr := universe.NewManager(src, params, zap.NewNop())
	sink := &recordingSink{}
	cfg := StreamConfig{
		Underlying:    "SPY",
		PollIntervals: market.PollIntervals{Regular: time.Millisecond, Extended: time.Millisecond, Closed: time.Millisecond},
		BatchSize:     4,
		RecalcEvery:   2,
		CleanupEvery:  3,
		InitAttempts:  2,
	}
	s := NewStreamer(src, mgr, sink, market.NewCalendar(), cfg, zap.NewNop())
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return src, sink, s
}

func TestStreamer_Iterate(t *testing.T) {
	src, sink, s := streamFixture(t)
	ctx := context.Background()

	if err := s.initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	symbols := s.universe.Symbols()
	if len(symbols) != 12 {
		t.Fatalf("expected 12 symbols, got %d", len(symbols))
	}
	src.quotes = quotesFor(symbols)
	src.extra = []api.Quote{{Symbol: "not an option"}}

	if err := s.iterate(ctx, 1); err != nil {
		t.Fatalf("iterate: %v", err)
	}

	bars, opts := sink.split()
	if len(bars) != 1 || bars[0].Close != 100 {
		t.Errorf("expected one underlying bar, got %v", bars)
	}
	if len(opts) != 12 {
		t.Errorf("expected 12 option records, got %d", len(opts))
	}
	for _, o := range opts {
		if o.UnderlyingPrice != 100 {
			t.Errorf("spot not attached to %s", o.OptionSymbol)
		}
	}
	// 12 symbols in batches of 4, and the junk quote rides along on each
	if got := len(src.quoteCalls); got != 3 {
		t.Errorf("expected 3 quote batches, got %d", got)
	}
	if snap := s.Stats(); snap.Dropped != 3 || snap.Iterations != 1 || snap.LastSuccess.IsZero() {
		t.Errorf("unexpected stats %+v", snap)
	}

	last := src.barCalls[len(src.barCalls)-1]
	if last.BarsBack != 1 || last.SessionTemplate != api.SessionTemplatePre || last.Unit != "Minute" {
		t.Errorf("unexpected bar request %+v", last)
	}
}

func TestStreamer_RebuildsOnCadence(t *testing.T) {
	src, _, s := streamFixture(t)
	ctx := context.Background()
	if err := s.initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	src.bars = []api.Bar{mkBar(time.Now().UTC(), 110)}
	src.strikes = []float64{95, 100, 105, 110, 115}

	// Iteration 1 is not a recalc tick
	_ = s.iterate(ctx, 1)
	if s.universe.ReferencePrice() != 100 {
		t.Errorf("rebuilt off-cadence: %v", s.universe.ReferencePrice())
	}

	_ = s.iterate(ctx, 2)
	if s.universe.ReferencePrice() != 110 {
		t.Errorf("expected rebuild around 110, got %v", s.universe.ReferencePrice())
	}
}

func TestStreamer_InitFailure(t *testing.T) {
	src, _, s := streamFixture(t)
	src.barsErr = errors.New("upstream down")

	err := s.Run(context.Background())
	if !errors.Is(err, ErrInitFailed) {
		t.Fatalf("expected ErrInitFailed, got %v", err)
	}
	if len(src.barCalls) != 2 {
		t.Errorf("expected 2 init attempts, got %d", len(src.barCalls))
	}
}

func TestStreamer_RunSwallowsErrorsUntilCancelled(t *testing.T) {
	src, sink, s := streamFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 2 {
			// Second iteration will fail the option fetch
			src.mu.Lock()
			src.quoteErr = errors.New("503")
			src.mu.Unlock()
		}
		if sleeps == 3 {
			cancel()
		}
		return ctx.Err()
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("run returned %v", err)
	}
	snap := s.Stats()
	if snap.Iterations != 3 {
		t.Errorf("expected 3 iterations, got %d", snap.Iterations)
	}
	if snap.Failures == 0 {
		t.Error("expected failed iterations to be counted")
	}
	if bars, _ := sink.split(); len(bars) != 3 {
		t.Errorf("expected one bar per iteration, got %d", len(bars))
	}
}

func TestBackfiller(t *testing.T) {
	loc := market.Location()
	end := time.Date(2025, 3, 12, 15, 0, 0, 0, loc)
	t0 := time.Date(2025, 3, 12, 9, 30, 0, 0, loc)

	// Upstream returns newest first, with a duplicate and a broken bar
	src := &fakeMarket{
		bars: []api.Bar{
			mkBar(t0.Add(10*time.Minute), 102),
			mkBar(t0.Add(5*time.Minute), 101),
			mkBar(t0, 100),
			mkBar(t0.Add(5*time.Minute), 101),
			{TimeStamp: t0.Add(15 * time.Minute), Open: 1, High: 2, Low: 1, Close: 0},
		},
		expirations: []time.Time{time.Date(2025, 3, 14, 0, 0, 0, 0, loc)},
		strikes:     []float64{100, 101, 102},
	}
	src.quotes = quotesFor([]string{
		"SPY 250314C100", "SPY 250314P100",
		"SPY 250314C101", "SPY 250314P101",
		"SPY 250314C102", "SPY 250314P102",
	})

	sink := &recordingSink{}
	cfg := BackfillConfig{
		Universe:     universe.Params{Underlying: "SPY", Expirations: 1, StrikeDistance: 0.5},
		LookbackDays: 3,
		Interval:     5,
		SampleEvery:  2,
		ChunkDays:    1,
		BatchSize:    10,
	}
	bf := NewBackfiller(src, src, sink, cfg, zap.NewNop())
	bf.now = func() time.Time { return end }
	bf.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	res, err := bf.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(src.barCalls) != 3 {
		t.Errorf("expected 3 one-day chunks, got %d", len(src.barCalls))
	}
	for _, c := range src.barCalls {
		if c.SessionTemplate != api.SessionTemplate24Hour || c.FirstDate.IsZero() || c.LastDate.IsZero() {
			t.Errorf("unexpected bar request %+v", c)
		}
	}

	// Every chunk returns the same payload; duplicates collapse
	if res.Bars != 3 {
		t.Errorf("expected 3 bars, got %d", res.Bars)
	}
	if res.DroppedBars != 3 {
		t.Errorf("expected 3 dropped bars, got %d", res.DroppedBars)
	}

	bars, opts := sink.split()
	if !sort.SliceIsSorted(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) }) {
		t.Error("bars not replayed chronologically")
	}
	if len(bars) != 3 || bars[0].Close != 100 || bars[2].Close != 102 {
		t.Fatalf("unexpected bars %v", bars)
	}

	// Bars 0 and 2 are sampled, each at its own close
	if res.Samples != 2 || len(opts) != 4 {
		t.Fatalf("expected 2 samples with 4 options, got %d / %d", res.Samples, len(opts))
	}
	for _, o := range opts[:2] {
		if o.Strike != 100 || !o.Timestamp.Equal(bars[0].Timestamp) || o.UnderlyingPrice != 100 {
			t.Errorf("first sample record %+v", o)
		}
	}
	for _, o := range opts[2:] {
		if o.Strike != 102 || !o.Timestamp.Equal(bars[2].Timestamp) {
			t.Errorf("second sample record %+v", o)
		}
	}

	// One expiration listing and one strike listing for the whole run
	if src.chainCalls != 2 {
		t.Errorf("expected chain to be fetched once, got %d calls", src.chainCalls)
	}
}

func TestBackfiller_Cancelled(t *testing.T) {
	loc := market.Location()
	t0 := time.Date(2025, 3, 12, 9, 30, 0, 0, loc)
	src := &fakeMarket{
		bars:        []api.Bar{mkBar(t0, 100), mkBar(t0.Add(time.Minute), 100)},
		expirations: []time.Time{time.Date(2025, 3, 14, 0, 0, 0, 0, loc)},
		strikes:     []float64{100},
	}

	ctx, cancel := context.WithCancel(context.Background())
	bf := NewBackfiller(src, src, &recordingSink{}, BackfillConfig{
		Universe:     universe.Params{Underlying: "SPY", Expirations: 1, StrikeDistance: 1},
		LookbackDays: 1,
	}, zap.NewNop())
	bf.now = func() time.Time { return t0.Add(time.Hour) }
	bf.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := bf.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Bars != 1 {
		t.Errorf("expected replay to stop after 1 bar, got %d", res.Bars)
	}
}

type stubEnricher struct{ calls int }

func (s *stubEnricher) Enrich(rec *data.OptionRecord, asOf time.Time) pricing.Enrichment {
	s.calls++
	rec.Gamma = data.Float(0.01)
	return pricing.Enrichment{}
}

func TestEnrichingSink(t *testing.T) {
	next := &recordingSink{}
	enricher := &stubEnricher{}
	sink := NewEnrichingSink(next, enricher)
	ctx := context.Background()

	_ = sink.Accept(ctx, &data.UnderlyingBar{Symbol: "SPY"})
	_ = sink.Accept(ctx, &data.OptionRecord{OptionSymbol: "SPY 250314C100"})

	if enricher.calls != 1 {
		t.Errorf("expected only the option to be enriched, got %d calls", enricher.calls)
	}
	_, opts := next.split()
	if len(opts) != 1 || opts[0].Gamma == nil {
		t.Error("enriched record not forwarded")
	}
}
