package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/zerogex/internal/cache"
	"github.com/dgnsrekt/zerogex/internal/notify"
	"github.com/dgnsrekt/zerogex/internal/server"
	"github.com/dgnsrekt/zerogex/internal/storage"
)

type Config struct {
	API         APIConfig         `mapstructure:"api"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Universe    UniverseConfig    `mapstructure:"universe"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Backfill    BackfillConfig    `mapstructure:"backfill"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Analytics   AnalyticsConfig   `mapstructure:"analytics"`
	Database    storage.Config    `mapstructure:"database"`
	Redis       cache.Config      `mapstructure:"redis"`
	Server      server.Config     `mapstructure:"server"`
	Notify      notify.Config     `mapstructure:"notify"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type APIConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	SandboxURL      string        `mapstructure:"sandbox_url"`
	Sandbox         bool          `mapstructure:"sandbox"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryCount      int           `mapstructure:"retry_count"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	RatePerSecond   int           `mapstructure:"rate_per_second"`
	MaxQuoteSymbols int           `mapstructure:"max_quote_symbols"`
}

// URL returns the sandbox or live base URL.
func (c APIConfig) URL() string {
	if c.Sandbox {
		return c.SandboxURL
	}
	return c.BaseURL
}

type AuthConfig struct {
	TokenURL      string        `mapstructure:"token_url"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	RefreshToken  string        `mapstructure:"refresh_token"`
	AccessToken   string        `mapstructure:"access_token"`
	RefreshMargin time.Duration `mapstructure:"refresh_margin"`
}

// Validate checks that some way of obtaining a bearer token is configured.
// Only the acquisition commands need one.
func (c AuthConfig) Validate() error {
	if c.AccessToken != "" {
		return nil
	}
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "ZEROGEX_AUTH_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "ZEROGEX_AUTH_CLIENT_SECRET")
	}
	if c.RefreshToken == "" {
		missing = append(missing, "ZEROGEX_AUTH_REFRESH_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("upstream credentials missing: set %s (or ZEROGEX_AUTH_ACCESS_TOKEN)", strings.Join(missing, ", "))
	}
	return nil
}

type UniverseConfig struct {
	Underlying         string  `mapstructure:"underlying"`
	Expirations        int     `mapstructure:"expirations"`
	StrikeDistance     float64 `mapstructure:"strike_distance"`
	PriceMoveThreshold float64 `mapstructure:"price_move_threshold"`
}

type StreamConfig struct {
	MarketPoll      time.Duration `mapstructure:"market_poll"`
	ExtendedPoll    time.Duration `mapstructure:"extended_poll"`
	ClosedPoll      time.Duration `mapstructure:"closed_poll"`
	OptionBatchSize int           `mapstructure:"option_batch_size"`
	BatchDelay      time.Duration `mapstructure:"batch_delay"`
	BatchWorkers    int           `mapstructure:"batch_workers"`
	RecalcEvery     int           `mapstructure:"recalc_every"`
	CleanupEvery    int           `mapstructure:"cleanup_every"`
	InitAttempts    int           `mapstructure:"init_attempts"`
	InitRetryDelay  time.Duration `mapstructure:"init_retry_delay"`
}

type BackfillConfig struct {
	LookbackDays int           `mapstructure:"lookback_days"`
	Interval     int           `mapstructure:"interval"`
	Unit         string        `mapstructure:"unit"`
	SampleEvery  int           `mapstructure:"sample_every"`
	ChunkDays    int           `mapstructure:"chunk_days"`
	BarDelay     time.Duration `mapstructure:"bar_delay"`
	BatchDelay   time.Duration `mapstructure:"batch_delay"`
}

type AggregationConfig struct {
	BucketSeconds int           `mapstructure:"bucket_seconds"`
	MaxBufferSize int           `mapstructure:"max_buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type PricingConfig struct {
	RiskFreeRate      float64 `mapstructure:"risk_free_rate"`
	DefaultVolatility float64 `mapstructure:"default_volatility"`
	IVMaxIterations   int     `mapstructure:"iv_max_iterations"`
	IVTolerance       float64 `mapstructure:"iv_tolerance"`
	IVMin             float64 `mapstructure:"iv_min"`
	IVMax             float64 `mapstructure:"iv_max"`
}

type AnalyticsConfig struct {
	Interval                 time.Duration `mapstructure:"interval"`
	ConsecutiveFailuresAlert int           `mapstructure:"consecutive_failures_alert"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.tradestation.com/v3")
	v.SetDefault("api.sandbox_url", "https://sim-api.tradestation.com/v3")
	v.SetDefault("api.sandbox", false)
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.retry_count", 3)
	v.SetDefault("api.retry_delay", time.Second)
	v.SetDefault("api.rate_per_second", 4)
	v.SetDefault("api.max_quote_symbols", 500)

	v.SetDefault("auth.token_url", "https://signin.tradestation.com/oauth/token")
	v.SetDefault("auth.refresh_margin", 5*time.Minute)

	v.SetDefault("universe.underlying", "SPY")
	v.SetDefault("universe.expirations", 3)
	v.SetDefault("universe.strike_distance", 10.0)
	v.SetDefault("universe.price_move_threshold", 1.0)

	v.SetDefault("stream.market_poll", 5*time.Second)
	v.SetDefault("stream.extended_poll", 30*time.Second)
	v.SetDefault("stream.closed_poll", 300*time.Second)
	v.SetDefault("stream.option_batch_size", 100)
	v.SetDefault("stream.batch_delay", 500*time.Millisecond)
	v.SetDefault("stream.batch_workers", 1)
	v.SetDefault("stream.recalc_every", 10)
	v.SetDefault("stream.cleanup_every", 100)
	v.SetDefault("stream.init_attempts", 3)
	v.SetDefault("stream.init_retry_delay", 5*time.Second)

	v.SetDefault("backfill.lookback_days", 1)
	v.SetDefault("backfill.interval", 5)
	v.SetDefault("backfill.unit", "Minute")
	v.SetDefault("backfill.sample_every", 1)
	v.SetDefault("backfill.chunk_days", 30)
	v.SetDefault("backfill.bar_delay", time.Second)
	v.SetDefault("backfill.batch_delay", 500*time.Millisecond)

	v.SetDefault("aggregation.bucket_seconds", 60)
	v.SetDefault("aggregation.max_buffer_size", 1000)
	v.SetDefault("aggregation.flush_interval", 60*time.Second)

	v.SetDefault("pricing.risk_free_rate", 0.05)
	v.SetDefault("pricing.default_volatility", 0.20)
	v.SetDefault("pricing.iv_max_iterations", 100)
	v.SetDefault("pricing.iv_tolerance", 1e-5)
	v.SetDefault("pricing.iv_min", 0.01)
	v.SetDefault("pricing.iv_max", 5.0)

	v.SetDefault("analytics.interval", 60*time.Second)
	v.SetDefault("analytics.consecutive_failures_alert", 5)

	v.SetDefault("database.driver", storage.DriverPostgres)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.retention_days", 90)

	v.SetDefault("redis.ttl", 10*time.Minute)
	v.SetDefault("redis.channel", cache.DefaultChannel)

	v.SetDefault("server.listen", "")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "chart_with_upwards_trend")

	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ZEROGEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Secrets have no defaults, so viper only sees them through explicit binds.
	_ = v.BindEnv("auth.client_id", "ZEROGEX_AUTH_CLIENT_ID", "TRADESTATION_CLIENT_ID")
	_ = v.BindEnv("auth.client_secret", "ZEROGEX_AUTH_CLIENT_SECRET", "TRADESTATION_CLIENT_SECRET")
	_ = v.BindEnv("auth.refresh_token", "ZEROGEX_AUTH_REFRESH_TOKEN", "TRADESTATION_REFRESH_TOKEN")
	_ = v.BindEnv("auth.access_token", "ZEROGEX_AUTH_ACCESS_TOKEN")
	_ = v.BindEnv("database.url", "ZEROGEX_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis.url", "ZEROGEX_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("notify.topic", "ZEROGEX_NOTIFY_TOPIC")
	_ = v.BindEnv("notify.token", "ZEROGEX_NOTIFY_TOKEN")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Universe.Underlying = strings.ToUpper(strings.TrimSpace(cfg.Universe.Underlying))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
