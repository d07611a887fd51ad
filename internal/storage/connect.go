// Package storage persists bars, option snapshots and analytics rows.
// Every write is an idempotent upsert keyed on the row's natural key.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config is the database section of the application config.
type Config struct {
	Driver        string `mapstructure:"driver"`
	URL           string `mapstructure:"url"`
	MinConns      int32  `mapstructure:"min_conns"`
	MaxConns      int32  `mapstructure:"max_conns"`
	RetentionDays int    `mapstructure:"retention_days"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Connect opens a pgx pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pcfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.MinConns = min(max(cfg.MinConns, 0), pcfg.MaxConns)
	pcfg.MaxConnIdleTime = 30 * time.Second
	pcfg.MaxConnLifetime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return p, nil
}
