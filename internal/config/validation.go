package config

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/zerogex/internal/storage"
)

// FieldError is one invalid setting.
type FieldError struct {
	Key     string
	Message string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []FieldError
}

func (e *ValidationErrors) add(key, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Key: key, Message: fmt.Sprintf(format, args...)})
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.Fields {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", f.Key, f.Message))
	}
	return sb.String()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.API.URL() == "" {
		errs.add("api.base_url", "must not be empty")
	}
	if c.API.Timeout <= 0 {
		errs.add("api.timeout", "must be positive, got %s", c.API.Timeout)
	}
	if c.API.RetryCount < 0 {
		errs.add("api.retry_count", "must be >= 0, got %d", c.API.RetryCount)
	}
	if c.API.RatePerSecond < 1 {
		errs.add("api.rate_per_second", "must be >= 1, got %d", c.API.RatePerSecond)
	}

	if !validUnderlying(c.Universe.Underlying) {
		errs.add("universe.underlying", "invalid symbol %q", c.Universe.Underlying)
	}
	if c.Universe.Expirations < 1 {
		errs.add("universe.expirations", "must be >= 1, got %d", c.Universe.Expirations)
	}
	if c.Universe.StrikeDistance < 0 {
		errs.add("universe.strike_distance", "must be >= 0, got %g", c.Universe.StrikeDistance)
	}
	if c.Universe.PriceMoveThreshold < 0 {
		errs.add("universe.price_move_threshold", "must be >= 0, got %g", c.Universe.PriceMoveThreshold)
	}

	if c.Stream.MarketPoll <= 0 || c.Stream.ExtendedPoll <= 0 || c.Stream.ClosedPoll <= 0 {
		errs.add("stream.*_poll", "poll intervals must be positive")
	}
	if c.Stream.OptionBatchSize < 1 {
		errs.add("stream.option_batch_size", "must be >= 1, got %d", c.Stream.OptionBatchSize)
	}
	if c.API.MaxQuoteSymbols > 0 && c.Stream.OptionBatchSize > c.API.MaxQuoteSymbols {
		errs.add("stream.option_batch_size", "exceeds api.max_quote_symbols (%d)", c.API.MaxQuoteSymbols)
	}
	if c.Stream.BatchWorkers < 1 {
		errs.add("stream.batch_workers", "must be >= 1, got %d", c.Stream.BatchWorkers)
	}
	if c.Stream.RecalcEvery < 1 {
		errs.add("stream.recalc_every", "must be >= 1, got %d", c.Stream.RecalcEvery)
	}
	if c.Stream.CleanupEvery < 1 {
		errs.add("stream.cleanup_every", "must be >= 1, got %d", c.Stream.CleanupEvery)
	}

	if c.Backfill.LookbackDays < 1 {
		errs.add("backfill.lookback_days", "must be >= 1, got %d", c.Backfill.LookbackDays)
	}
	if c.Backfill.Interval < 1 {
		errs.add("backfill.interval", "must be >= 1, got %d", c.Backfill.Interval)
	}
	switch c.Backfill.Unit {
	case "Minute", "Daily", "Weekly", "Monthly":
	default:
		errs.add("backfill.unit", "must be one of Minute, Daily, Weekly, Monthly, got %q", c.Backfill.Unit)
	}
	if c.Backfill.SampleEvery < 1 {
		errs.add("backfill.sample_every", "must be >= 1, got %d", c.Backfill.SampleEvery)
	}

	if c.Aggregation.BucketSeconds < 1 {
		errs.add("aggregation.bucket_seconds", "must be >= 1, got %d", c.Aggregation.BucketSeconds)
	}
	if c.Aggregation.MaxBufferSize < 1 {
		errs.add("aggregation.max_buffer_size", "must be >= 1, got %d", c.Aggregation.MaxBufferSize)
	}
	if c.Aggregation.FlushInterval <= 0 {
		errs.add("aggregation.flush_interval", "must be positive, got %s", c.Aggregation.FlushInterval)
	}

	if c.Pricing.DefaultVolatility <= 0 {
		errs.add("pricing.default_volatility", "must be positive, got %g", c.Pricing.DefaultVolatility)
	}
	if c.Pricing.IVMin <= 0 || c.Pricing.IVMin >= c.Pricing.IVMax {
		errs.add("pricing.iv_min", "need 0 < iv_min < iv_max, got %g and %g", c.Pricing.IVMin, c.Pricing.IVMax)
	}
	if c.Pricing.IVMaxIterations < 1 {
		errs.add("pricing.iv_max_iterations", "must be >= 1, got %d", c.Pricing.IVMaxIterations)
	}
	if c.Pricing.IVTolerance <= 0 {
		errs.add("pricing.iv_tolerance", "must be positive, got %g", c.Pricing.IVTolerance)
	}

	if c.Analytics.Interval <= 0 {
		errs.add("analytics.interval", "must be positive, got %s", c.Analytics.Interval)
	}
	if c.Analytics.ConsecutiveFailuresAlert < 0 {
		errs.add("analytics.consecutive_failures_alert", "must be >= 0, got %d", c.Analytics.ConsecutiveFailuresAlert)
	}

	switch c.Database.Driver {
	case storage.DriverPostgres:
		if c.Database.URL == "" {
			errs.add("database.url", "required for the postgres driver (set DATABASE_URL)")
		}
	case storage.DriverMemory:
	default:
		errs.add("database.driver", "must be %q or %q, got %q", storage.DriverPostgres, storage.DriverMemory, c.Database.Driver)
	}
	if c.Database.MaxConns < 1 || c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		errs.add("database.max_conns", "need 0 <= min_conns <= max_conns and max_conns >= 1")
	}
	if c.Database.RetentionDays < 1 {
		errs.add("database.retention_days", "must be >= 1, got %d", c.Database.RetentionDays)
	}

	if c.Redis.URL != "" && c.Redis.TTL <= 0 {
		errs.add("redis.ttl", "must be positive, got %s", c.Redis.TTL)
	}

	if err := c.Notify.Validate(); err != nil {
		errs.add("notify", "%v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validUnderlying(s string) bool {
	if s == "" || len(s) > 16 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '$':
		default:
			return false
		}
	}
	return true
}
