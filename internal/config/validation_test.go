package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/zerogex/internal/notify"
	"github.com/dgnsrekt/zerogex/internal/storage"
)

func validConfig() *Config {
	return &Config{
		API:         APIConfig{BaseURL: "https://api.example.com", Timeout: 30 * time.Second, RetryCount: 3, RatePerSecond: 4, MaxQuoteSymbols: 500},
		Universe:    UniverseConfig{Underlying: "SPY", Expirations: 3, StrikeDistance: 10, PriceMoveThreshold: 1},
		Stream:      StreamConfig{MarketPoll: 5 * time.Second, ExtendedPoll: 30 * time.Second, ClosedPoll: 300 * time.Second, OptionBatchSize: 100, BatchWorkers: 1, RecalcEvery: 10, CleanupEvery: 100},
		Backfill:    BackfillConfig{LookbackDays: 1, Interval: 5, Unit: "Minute", SampleEvery: 1},
		Aggregation: AggregationConfig{BucketSeconds: 60, MaxBufferSize: 1000, FlushInterval: time.Minute},
		Pricing:     PricingConfig{RiskFreeRate: 0.05, DefaultVolatility: 0.2, IVMaxIterations: 100, IVTolerance: 1e-5, IVMin: 0.01, IVMax: 5},
		Analytics:   AnalyticsConfig{Interval: time.Minute, ConsecutiveFailuresAlert: 5},
		Database:    storage.Config{Driver: storage.DriverMemory, MinConns: 1, MaxConns: 10, RetentionDays: 90},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected no error for valid config, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Universe.Underlying = "SP Y"
	cfg.Stream.OptionBatchSize = 600
	cfg.Backfill.Unit = "Hour"
	cfg.Pricing.IVMin = 6
	cfg.Database.Driver = "sqlite"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}

	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(verrs.Fields) != 5 {
		t.Errorf("expected 5 errors, got %d: %v", len(verrs.Fields), err)
	}

	msg := err.Error()
	for _, key := range []string{"universe.underlying", "stream.option_batch_size", "backfill.unit", "pricing.iv_min", "database.driver"} {
		if !strings.Contains(msg, key) {
			t.Errorf("error message should mention %s:\n%s", key, msg)
		}
	}
}

func TestValidate_NotifyRequiresTopic(t *testing.T) {
	cfg := validConfig()
	cfg.Notify = notify.Config{Enabled: true, Priority: "default"}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "notify") {
		t.Errorf("expected notify error, got %v", err)
	}
}

func TestValidate_PoolBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Database.MinConns = 20
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when min_conns exceeds max_conns")
	}
}

func TestValidUnderlying(t *testing.T) {
	cases := map[string]bool{
		"SPY":    true,
		"BRK.B":  true,
		"$SPX.X": true,
		"":       false,
		"spy":    false,
		"SP Y":   false,
	}
	for in, want := range cases {
		if got := validUnderlying(in); got != want {
			t.Errorf("validUnderlying(%q) = %v, want %v", in, got, want)
		}
	}
}
