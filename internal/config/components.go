package config

import (
	"time"

	"github.com/dgnsrekt/zerogex/internal/aggregate"
	"github.com/dgnsrekt/zerogex/internal/analytics"
	"github.com/dgnsrekt/zerogex/internal/ingest"
	"github.com/dgnsrekt/zerogex/internal/market"
	"github.com/dgnsrekt/zerogex/internal/pricing"
	"github.com/dgnsrekt/zerogex/internal/universe"
)

// The methods below translate config sections into the option structs the
// components take, so those packages never import viper.

func (c *Config) UniverseParams() universe.Params {
	return universe.Params{
		Underlying:         c.Universe.Underlying,
		Expirations:        c.Universe.Expirations,
		StrikeDistance:     c.Universe.StrikeDistance,
		PriceMoveThreshold: c.Universe.PriceMoveThreshold,
	}
}

func (c *Config) StreamOptions() ingest.StreamConfig {
	return ingest.StreamConfig{
		Underlying: c.Universe.Underlying,
		PollIntervals: market.PollIntervals{
			Regular:  c.Stream.MarketPoll,
			Extended: c.Stream.ExtendedPoll,
			Closed:   c.Stream.ClosedPoll,
		},
		BatchSize:      c.Stream.OptionBatchSize,
		BatchDelay:     c.Stream.BatchDelay,
		BatchWorkers:   c.Stream.BatchWorkers,
		RecalcEvery:    c.Stream.RecalcEvery,
		CleanupEvery:   c.Stream.CleanupEvery,
		InitAttempts:   c.Stream.InitAttempts,
		InitRetryDelay: c.Stream.InitRetryDelay,
	}
}

func (c *Config) BackfillOptions() ingest.BackfillConfig {
	return ingest.BackfillConfig{
		Universe:     c.UniverseParams(),
		LookbackDays: c.Backfill.LookbackDays,
		Interval:     c.Backfill.Interval,
		Unit:         c.Backfill.Unit,
		SampleEvery:  c.Backfill.SampleEvery,
		ChunkDays:    c.Backfill.ChunkDays,
		BatchSize:    c.Stream.OptionBatchSize,
		BatchDelay:   c.Backfill.BatchDelay,
		BarDelay:     c.Backfill.BarDelay,
	}
}

func (c *Config) AggregationOptions() aggregate.Config {
	return aggregate.Config{
		BucketWidth:   time.Duration(c.Aggregation.BucketSeconds) * time.Second,
		MaxBufferSize: c.Aggregation.MaxBufferSize,
		FlushInterval: c.Aggregation.FlushInterval,
	}
}

func (c *Config) PricingOptions() pricing.Config {
	return pricing.Config{
		RiskFreeRate:      c.Pricing.RiskFreeRate,
		DefaultVolatility: c.Pricing.DefaultVolatility,
		IV: pricing.IVParams{
			MaxIterations: c.Pricing.IVMaxIterations,
			Tolerance:     c.Pricing.IVTolerance,
			Min:           c.Pricing.IVMin,
			Max:           c.Pricing.IVMax,
		},
	}
}

func (c *Config) AnalyticsOptions() analytics.Config {
	return analytics.Config{
		Underlying:            c.Universe.Underlying,
		Interval:              c.Analytics.Interval,
		RiskFreeRate:          c.Pricing.RiskFreeRate,
		DefaultVolatility:     c.Pricing.DefaultVolatility,
		FailureAlertThreshold: c.Analytics.ConsecutiveFailuresAlert,
	}
}
