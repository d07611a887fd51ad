package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dgnsrekt/zerogex/internal/data"
)

type QuoteRepo struct {
	pool *pgxpool.Pool
}

func NewQuoteRepo(pool *pgxpool.Pool) *QuoteRepo {
	return &QuoteRepo{pool: pool}
}

const upsertBarSQL = `
INSERT INTO underlying_quotes (symbol, timestamp, open, high, low, close, up_volume, down_volume)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (symbol, timestamp) DO UPDATE SET
	open = EXCLUDED.open,
	high = EXCLUDED.high,
	low = EXCLUDED.low,
	close = EXCLUDED.close,
	up_volume = EXCLUDED.up_volume,
	down_volume = EXCLUDED.down_volume`

// UpsertUnderlyingBars writes bars keyed on (symbol, timestamp).
func (r *QuoteRepo) UpsertUnderlyingBars(ctx context.Context, bars []data.UnderlyingBar) error {
	if len(bars) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(upsertBarSQL, b.Symbol, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.UpVolume, b.DownVolume)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert underlying bars: %w", err)
	}
	return nil
}

// UnderlyingPriceAt returns the close of the newest bar at or before at.
func (r *QuoteRepo) UnderlyingPriceAt(ctx context.Context, symbol string, at time.Time) (float64, bool, error) {
	var price float64
	err := r.pool.QueryRow(ctx,
		`SELECT close FROM underlying_quotes
		 WHERE symbol = $1 AND timestamp <= $2
		 ORDER BY timestamp DESC LIMIT 1`,
		symbol, at,
	).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return price, true, nil
}
