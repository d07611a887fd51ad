package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithMemoryStore(t *testing.T) {
	t.Setenv("ZEROGEX_DATABASE_DRIVER", "memory")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}

	if cfg.API.URL() != "https://api.tradestation.com/v3" {
		t.Errorf("expected live base URL, got '%s'", cfg.API.URL())
	}
	if cfg.Universe.Underlying != "SPY" || cfg.Universe.Expirations != 3 {
		t.Errorf("unexpected universe defaults %+v", cfg.Universe)
	}
	if cfg.Stream.ClosedPoll != 300*time.Second {
		t.Errorf("expected 300s closed poll, got %s", cfg.Stream.ClosedPoll)
	}
	if cfg.Database.RetentionDays != 90 {
		t.Errorf("expected 90 retention days, got %d", cfg.Database.RetentionDays)
	}
	if got := cfg.AggregationOptions().BucketWidth; got != time.Minute {
		t.Errorf("expected 1m buckets, got %s", got)
	}
}

func TestLoadWithoutDatabaseURL(t *testing.T) {
	t.Setenv("ZEROGEX_DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ZEROGEX_DATABASE_URL", "")
	t.Chdir(t.TempDir())

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when database url is missing")
	}
	if !strings.Contains(err.Error(), "database.url") {
		t.Errorf("error should name database.url: %v", err)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zerogex.yaml")
	yaml := `
universe:
  underlying: qqq
  strike_distance: 15
stream:
  market_poll: 2s
database:
  driver: memory
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ZEROGEX_UNIVERSE_EXPIRATIONS", "5")
	t.Setenv("TRADESTATION_REFRESH_TOKEN", "rt-123")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Universe.Underlying != "QQQ" {
		t.Errorf("underlying should be upper-cased, got %q", cfg.Universe.Underlying)
	}
	if cfg.Universe.StrikeDistance != 15 || cfg.Universe.Expirations != 5 {
		t.Errorf("unexpected universe %+v", cfg.Universe)
	}
	if cfg.StreamOptions().PollIntervals.Regular != 2*time.Second {
		t.Errorf("poll = %s", cfg.StreamOptions().PollIntervals.Regular)
	}
	if cfg.Auth.RefreshToken != "rt-123" {
		t.Errorf("refresh token not bound: %q", cfg.Auth.RefreshToken)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("redis url not bound: %q", cfg.Redis.URL)
	}
	if cfg.AnalyticsOptions().Underlying != "QQQ" {
		t.Errorf("analytics underlying = %q", cfg.AnalyticsOptions().Underlying)
	}
	if got := cfg.AnalyticsOptions().DefaultVolatility; got != cfg.Pricing.DefaultVolatility || got <= 0 {
		t.Errorf("analytics default volatility = %v, want %v", got, cfg.Pricing.DefaultVolatility)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("universe: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestAuthValidate(t *testing.T) {
	if err := (AuthConfig{AccessToken: "tok"}).Validate(); err != nil {
		t.Errorf("static token should be enough: %v", err)
	}
	if err := (AuthConfig{ClientID: "id", ClientSecret: "s", RefreshToken: "r"}).Validate(); err != nil {
		t.Errorf("refresh flow should be enough: %v", err)
	}

	err := (AuthConfig{ClientID: "id"}).Validate()
	if err == nil {
		t.Fatal("expected error for partial credentials")
	}
	if !strings.Contains(err.Error(), "CLIENT_SECRET") || !strings.Contains(err.Error(), "REFRESH_TOKEN") {
		t.Errorf("error should list every missing variable: %v", err)
	}
}

func TestAPIConfigSandboxURL(t *testing.T) {
	c := APIConfig{BaseURL: "live", SandboxURL: "sim"}
	if c.URL() != "live" {
		t.Errorf("URL() = %q", c.URL())
	}
	c.Sandbox = true
	if c.URL() != "sim" {
		t.Errorf("sandbox URL() = %q", c.URL())
	}
}
