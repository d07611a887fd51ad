package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dgnsrekt/zerogex/internal/data"
	"github.com/dgnsrekt/zerogex/internal/market"
)

type OptionRepo struct {
	pool *pgxpool.Pool
}

func NewOptionRepo(pool *pgxpool.Pool) *OptionRepo {
	return &OptionRepo{pool: pool}
}

const upsertOptionSQL = `
INSERT INTO option_chains (
	option_symbol, timestamp, underlying, strike, expiration, option_type,
	last, bid, ask, volume, open_interest,
	implied_volatility, delta, gamma, theta, vega)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (option_symbol, timestamp) DO UPDATE SET
	last = EXCLUDED.last,
	bid = EXCLUDED.bid,
	ask = EXCLUDED.ask,
	volume = EXCLUDED.volume,
	open_interest = EXCLUDED.open_interest,
	implied_volatility = EXCLUDED.implied_volatility,
	delta = EXCLUDED.delta,
	gamma = EXCLUDED.gamma,
	theta = EXCLUDED.theta,
	vega = EXCLUDED.vega`

// UpsertOptionRecords writes records keyed on (option_symbol, timestamp).
// Nil IV and Greeks are stored as NULL.
func (r *OptionRepo) UpsertOptionRecords(ctx context.Context, records []data.OptionRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(upsertOptionSQL,
			rec.OptionSymbol, rec.Timestamp, rec.Underlying, rec.Strike, dateOf(rec.Expiration), string(rec.OptionType),
			rec.Last, rec.Bid, rec.Ask, rec.Volume, rec.OpenInterest,
			rec.ImpliedVolatility, rec.Delta, rec.Gamma, rec.Theta, rec.Vega,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert option records: %w", err)
	}
	return nil
}

// LatestOptionTimestamp returns the newest snapshot time for underlying.
func (r *OptionRepo) LatestOptionTimestamp(ctx context.Context, underlying string) (time.Time, bool, error) {
	var ts pgtype.Timestamptz
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(timestamp) FROM option_chains WHERE underlying = $1`,
		underlying,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time.In(market.Location()), true, nil
}

// OptionsAt returns the snapshot at exactly at, skipping unpriced records.
func (r *OptionRepo) OptionsAt(ctx context.Context, underlying string, at time.Time) ([]data.OptionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT option_symbol, timestamp, underlying, strike, expiration, option_type,
		        last, bid, ask, volume, open_interest,
		        implied_volatility, delta, gamma, theta, vega
		 FROM option_chains
		 WHERE underlying = $1 AND timestamp = $2 AND gamma IS NOT NULL
		 ORDER BY expiration, strike`,
		underlying, at,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOptions(rows)
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectOptions(rows rowsIter) ([]data.OptionRecord, error) {
	var out []data.OptionRecord
	for rows.Next() {
		var (
			rec data.OptionRecord
			exp pgtype.Date
			typ string
		)
		if err := rows.Scan(
			&rec.OptionSymbol, &rec.Timestamp, &rec.Underlying, &rec.Strike, &exp, &typ,
			&rec.Last, &rec.Bid, &rec.Ask, &rec.Volume, &rec.OpenInterest,
			&rec.ImpliedVolatility, &rec.Delta, &rec.Gamma, &rec.Theta, &rec.Vega,
		); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.In(market.Location())
		rec.Expiration = fromDate(exp)
		rec.OptionType = data.OptionType(typ)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// dateOf stores the calendar date of an exchange-time expiration.
func dateOf(t time.Time) pgtype.Date {
	y, m, d := t.In(market.Location()).Date()
	return pgtype.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
}

func fromDate(d pgtype.Date) time.Time {
	if !d.Valid {
		return time.Time{}
	}
	y, m, day := d.Time.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, market.Location())
}
