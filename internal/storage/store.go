package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/data"
)

// Tables lists every table Prune touches, children first.
var Tables = []string{"gex_by_strike", "gex_summary", "option_chains", "underlying_quotes"}

// Backend is the full persistence surface used by the workers.
type Backend interface {
	UpsertUnderlyingBars(ctx context.Context, bars []data.UnderlyingBar) error
	UpsertOptionRecords(ctx context.Context, records []data.OptionRecord) error
	LatestOptionTimestamp(ctx context.Context, underlying string) (time.Time, bool, error)
	UnderlyingPriceAt(ctx context.Context, underlying string, at time.Time) (float64, bool, error)
	OptionsAt(ctx context.Context, underlying string, at time.Time) ([]data.OptionRecord, error)
	UpsertGexByStrike(ctx context.Context, rows []data.GexByStrike) error
	UpsertGexSummary(ctx context.Context, summary data.GexSummary) error
	// Prune deletes rows older than before and reports deletions per table.
	Prune(ctx context.Context, before time.Time) (map[string]int64, error)
	Close()
}

// Store is the postgres Backend.
type Store struct {
	*QuoteRepo
	*OptionRepo
	*GexRepo
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		QuoteRepo:  NewQuoteRepo(pool),
		OptionRepo: NewOptionRepo(pool),
		GexRepo:    NewGexRepo(pool),
		pool:       pool,
	}
}

func (s *Store) Prune(ctx context.Context, before time.Time) (map[string]int64, error) {
	deleted := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, table), before)
		if err != nil {
			return deleted, fmt.Errorf("prune %s: %w", table, err)
		}
		deleted[table] = tag.RowsAffected()
	}
	return deleted, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Driver {
	case DriverMemory:
		logger.Warn("using in-memory storage, nothing will be persisted")
		return NewMemory(), nil
	case DriverPostgres, "":
		pool, err := Connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("connected to database",
			zap.Int32("max_conns", pool.Config().MaxConns),
			zap.Int32("min_conns", pool.Config().MinConns),
		)
		return NewStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
