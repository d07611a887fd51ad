package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, url string, tokens TokenSource, retries int) *HTTPClient {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewClient(url, tokens, 100, 5*time.Second, 10*time.Millisecond, retries, logger)
}

func TestGetBars_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("expected Bearer test-token, got %s", auth)
		}
		if r.URL.Path != "/marketdata/barcharts/SPY" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("barsback") != "1" || q.Get("unit") != "Minute" || q.Get("sessiontemplate") != "USEQPre" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Has("firstdate") {
			t.Error("firstdate should be omitted")
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Bars":[{"TimeStamp":"2025-03-12T14:31:00Z","Open":"570.10","High":"571","Low":569.5,"Close":"570.75","UpVolume":"1200","DownVolume":800,"TotalVolume":"2000"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, StaticTokenSource("test-token"), 0)
	bars, err := client.GetBars(context.Background(), BarsRequest{
		Symbol: "SPY", Interval: 1, Unit: "Minute", BarsBack: 1, SessionTemplate: SessionTemplatePre,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(bars))
	}

	b := bars[0]
	if b.Open != 570.10 || b.High != 571 || b.Low != 569.5 || b.Close != 570.75 {
		t.Errorf("unexpected prices %+v", b)
	}
	if b.UpVolume != 1200 || b.DownVolume != 800 || b.TotalVolume != 2000 {
		t.Errorf("unexpected volumes %+v", b)
	}
	if want := time.Date(2025, 3, 12, 14, 31, 0, 0, time.UTC); !b.TimeStamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", b.TimeStamp, want)
	}
}

func TestGetOptionQuotes_Decoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/marketdata/quotes/SPY 250314C570,SPY 250314P570" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"Quotes":[
			{"Symbol":"SPY 250314C570","Last":"2.15","Bid":"2.10","Ask":"2.20","Volume":"1500","OpenInterest":"12000","ImpliedVolatility":"0.182","TradeTime":"2025-03-12T14:31:05Z"},
			{"Symbol":"SPY 250314P570","Last":"N/A","Bid":"-1","Ask":"","Volume":null,"DailyOpenInterest":300,"IV":"0","IVol":7.5,"Volatility":"0.25"}
		]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, StaticTokenSource("test-token"), 0)
	quotes, err := client.GetOptionQuotes(context.Background(), []string{"SPY 250314C570", "SPY 250314P570"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}

	call := quotes[0]
	if call.Last != 2.15 || call.Bid != 2.10 || call.Ask != 2.20 || call.Volume != 1500 || call.OpenInterest != 12000 {
		t.Errorf("unexpected call quote %+v", call)
	}
	if call.ImpliedVolatility == nil || *call.ImpliedVolatility != 0.182 {
		t.Errorf("expected IV 0.182, got %v", call.ImpliedVolatility)
	}
	if want := time.Date(2025, 3, 12, 14, 31, 5, 0, time.UTC); !call.TradeTime.Equal(want) {
		t.Errorf("trade time = %v, want %v", call.TradeTime, want)
	}
	if !call.TimeStamp.IsZero() {
		t.Errorf("trade time must not become the observation time, got %v", call.TimeStamp)
	}

	put := quotes[1]
	if put.Last != 0 || put.Bid != 0 || put.Ask != 0 || put.Volume != 0 {
		t.Errorf("malformed numerics should be zero: %+v", put)
	}
	if put.OpenInterest != 300 {
		t.Errorf("expected daily open interest fallback, got %d", put.OpenInterest)
	}
	// IV=0 is skipped, Volatility wins over the out-of-range IVol
	if put.ImpliedVolatility == nil || *put.ImpliedVolatility != 0.25 {
		t.Errorf("expected IV 0.25 from Volatility, got %v", put.ImpliedVolatility)
	}
}

func TestGetQuotes_TooManySymbols(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0", StaticTokenSource("test-token"), 0)
	symbols := make([]string, MaxQuoteSymbols+1)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%d", i)
	}

	_, err := client.GetQuotes(context.Background(), symbols)
	if !errors.Is(err, ErrTooManySymbols) {
		t.Errorf("expected ErrTooManySymbols, got %v", err)
	}
}

func TestGetOptionChain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/marketdata/options/expirations/SPY":
			fmt.Fprint(w, `{"Expirations":[{"Date":"2025-03-14T00:00:00Z","Type":"Weekly"},{"Date":"bad"},{"Date":"2025-03-21T00:00:00Z"}]}`)
		case "/marketdata/options/strikes/SPY":
			if got := r.URL.Query().Get("expiration"); got != "03-14-2025" {
				t.Errorf("expiration param = %q", got)
			}
			fmt.Fprint(w, `{"SpreadType":"Single","Strikes":[["565"],["567.5"],["oops"],[570],[]]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, StaticTokenSource("test-token"), 0)
	ctx := context.Background()

	exps, err := client.GetOptionExpirations(ctx, "SPY")
	if err != nil {
		t.Fatalf("expirations: %v", err)
	}
	if len(exps) != 2 || exps[0].Day() != 14 || exps[1].Day() != 21 {
		t.Errorf("unexpected expirations %v", exps)
	}

	strikes, err := client.GetOptionStrikes(ctx, "SPY", exps[0])
	if err != nil {
		t.Fatalf("strikes: %v", err)
	}
	want := []float64{565, 567.5, 570}
	if len(strikes) != len(want) {
		t.Fatalf("strikes = %v, want %v", strikes, want)
	}
	for i := range want {
		if strikes[i] != want[i] {
			t.Errorf("strikes[%d] = %v, want %v", i, strikes[i], want[i])
		}
	}

	if _, err := client.GetOptionExpirations(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_RateLimited(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, StaticTokenSource("test-token"), 2)
	_, err := client.GetOptionExpirations(context.Background(), "SPY")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}

	// Should have attempted 3 times (initial + 2 retries)
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestGet_RecoversFromServerError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"Expirations":[{"Date":"2025-03-14T00:00:00Z"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, StaticTokenSource("test-token"), 3)
	exps, err := client.GetOptionExpirations(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exps) != 1 {
		t.Errorf("expected 1 expiration, got %d", len(exps))
	}
}

func TestGet_BadRequestNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "bad symbol")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, StaticTokenSource("test-token"), 3)
	_, err := client.GetOptionExpirations(context.Background(), "SPY")
	if err == nil || !strings.Contains(err.Error(), "bad symbol") {
		t.Errorf("expected status error with body, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

type countingTokens struct {
	invalidated int
}

func (c *countingTokens) Token(ctx context.Context) (string, error) {
	return fmt.Sprintf("token-%d", c.invalidated), nil
}

func (c *countingTokens) Invalidate() { c.invalidated++ }

func TestGet_ReauthenticatesOnce(t *testing.T) {
	t.Run("fresh token accepted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer token-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"Expirations":[]}`)
		}))
		defer server.Close()

		tokens := &countingTokens{}
		client := newTestClient(t, server.URL, tokens, 0)
		if _, err := client.GetOptionExpirations(context.Background(), "SPY"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tokens.invalidated != 1 {
			t.Errorf("expected one invalidation, got %d", tokens.invalidated)
		}
	})

	t.Run("persistent 401 fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		tokens := &countingTokens{}
		client := newTestClient(t, server.URL, tokens, 3)
		_, err := client.GetOptionExpirations(context.Background(), "SPY")
		if !errors.Is(err, ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
		if tokens.invalidated != 1 {
			t.Errorf("expected one invalidation, got %d", tokens.invalidated)
		}
	})
}

func TestGet_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, StaticTokenSource("test-token"), 100, 5*time.Second, time.Hour, 3, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetOptionExpirations(ctx, "SPY")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
