package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dgnsrekt/zerogex/internal/data"
)

type GexRepo struct {
	pool *pgxpool.Pool
}

func NewGexRepo(pool *pgxpool.Pool) *GexRepo {
	return &GexRepo{pool: pool}
}

const upsertGexByStrikeSQL = `
INSERT INTO gex_by_strike (
	underlying, timestamp, strike, expiration, total_gamma, call_gamma, put_gamma,
	net_gex, call_volume, put_volume, call_oi, put_oi, vanna_exposure, charm_exposure)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (underlying, timestamp, strike, expiration) DO UPDATE SET
	total_gamma = EXCLUDED.total_gamma,
	call_gamma = EXCLUDED.call_gamma,
	put_gamma = EXCLUDED.put_gamma,
	net_gex = EXCLUDED.net_gex,
	call_volume = EXCLUDED.call_volume,
	put_volume = EXCLUDED.put_volume,
	call_oi = EXCLUDED.call_oi,
	put_oi = EXCLUDED.put_oi,
	vanna_exposure = EXCLUDED.vanna_exposure,
	charm_exposure = EXCLUDED.charm_exposure`

const upsertGexSummarySQL = `
INSERT INTO gex_summary (
	underlying, timestamp, underlying_price, max_gamma_strike, max_gamma_value,
	gamma_flip_point, put_call_ratio, max_pain, total_call_volume, total_put_volume,
	total_call_oi, total_put_oi, total_net_gex)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (underlying, timestamp) DO UPDATE SET
	underlying_price = EXCLUDED.underlying_price,
	max_gamma_strike = EXCLUDED.max_gamma_strike,
	max_gamma_value = EXCLUDED.max_gamma_value,
	gamma_flip_point = EXCLUDED.gamma_flip_point,
	put_call_ratio = EXCLUDED.put_call_ratio,
	max_pain = EXCLUDED.max_pain,
	total_call_volume = EXCLUDED.total_call_volume,
	total_put_volume = EXCLUDED.total_put_volume,
	total_call_oi = EXCLUDED.total_call_oi,
	total_put_oi = EXCLUDED.total_put_oi,
	total_net_gex = EXCLUDED.total_net_gex`

func (r *GexRepo) UpsertGexByStrike(ctx context.Context, rows []data.GexByStrike) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, g := range rows {
		batch.Queue(upsertGexByStrikeSQL,
			g.Underlying, g.Timestamp, g.Strike, dateOf(g.Expiration), g.TotalGamma, g.CallGamma, g.PutGamma,
			g.NetGex, g.CallVolume, g.PutVolume, g.CallOI, g.PutOI, g.VannaExposure, g.CharmExposure,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert gex by strike: %w", err)
	}
	return nil
}

func (r *GexRepo) UpsertGexSummary(ctx context.Context, s data.GexSummary) error {
	_, err := r.pool.Exec(ctx, upsertGexSummarySQL,
		s.Underlying, s.Timestamp, s.UnderlyingPrice, s.MaxGammaStrike, s.MaxGammaValue,
		s.GammaFlipPoint, s.PutCallRatio, s.MaxPain, s.TotalCallVolume, s.TotalPutVolume,
		s.TotalCallOI, s.TotalPutOI, s.TotalNetGex,
	)
	if err != nil {
		return fmt.Errorf("upsert gex summary: %w", err)
	}
	return nil
}
