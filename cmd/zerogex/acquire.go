package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/zerogex/internal/ingest"
	"github.com/dgnsrekt/zerogex/internal/market"
	"github.com/dgnsrekt/zerogex/internal/universe"
)

func streamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Poll live underlying bars and option quotes into storage",
		Long: `Poll the upstream API forever. The poll cadence follows the exchange
session (regular, extended, closed) and the contract universe is rebuilt
when the underlying moves past universe.price_move_threshold.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAcquisition(cmd.Context(), cmd.Name(), false, true)
		},
	}
}

func backfillCmd() *cobra.Command {
	var lookback int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replay historical bars and sample the option chain at each one",
		Long: `Replay backfill.lookback_days of underlying bars, oldest first, and
sample the option chain at every backfill.sample_every-th bar.

Examples:
  # Backfill the configured window
  zerogex backfill

  # Backfill the last five days
  zerogex backfill --lookback 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lookback > 0 {
				cfg.Backfill.LookbackDays = lookback
			}
			return runAcquisition(cmd.Context(), cmd.Name(), true, false)
		},
	}

	cmd.Flags().IntVar(&lookback, "lookback", 0, "override backfill.lookback_days")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Backfill the lookback window, then stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAcquisition(cmd.Context(), cmd.Name(), true, true)
		},
	}
}

// runAcquisition drives backfill and/or stream into one aggregation buffer.
// The ops server stops with acquisition. The buffer runs on its own context
// and is stopped only after acquisition has returned, so its final flush
// sees every accepted item.
func runAcquisition(ctx context.Context, mode string, backfill, stream bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	p, err := newPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.workers["aggregate"] = func() any { return p.buffer.Stats() }

	var backfiller *ingest.Backfiller
	if backfill {
		backfiller = ingest.NewBackfiller(client, client, p.sink, cfg.BackfillOptions(), logger.Named("backfill"))
		rt.workers["backfill"] = func() any { return backfiller.Stats() }
	}

	var streamer *ingest.Streamer
	if stream {
		mgr := universe.NewManager(client, cfg.UniverseParams(), logger.Named("universe"))
		streamer = ingest.NewStreamer(client, mgr, p.sink, market.NewCalendar(), cfg.StreamOptions(), logger.Named("stream"))
		rt.workers["stream"] = func() any { return streamer.Stats() }
	}

	logger.Info("acquisition starting",
		zap.String("underlying", cfg.Universe.Underlying),
		zap.Bool("backfill", backfill),
		zap.Bool("stream", stream),
		zap.String("store", cfg.Database.Driver),
	)

	g, gctx := errgroup.WithContext(ctx)
	workCtx, stopWork := context.WithCancel(gctx)
	defer stopWork()
	bufCtx, stopBuffer := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBuffer()

	rt.start(workCtx, g, mode)
	g.Go(func() error {
		p.buffer.Run(bufCtx)
		return nil
	})
	g.Go(func() error {
		defer stopBuffer()
		defer stopWork()

		if backfiller != nil {
			if _, err := backfiller.Run(workCtx); err != nil {
				return err
			}
		}
		if streamer != nil {
			return streamer.Run(workCtx)
		}
		return nil
	})

	err = g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = nil
	}

	stats := p.buffer.Stats()
	logger.Info("acquisition stopped",
		zap.Int64("bars_written", stats.BarsWritten),
		zap.Int64("options_written", stats.OptionsWritten),
		zap.Int64("flush_errors", stats.FlushErrors),
		zap.Error(err),
	)
	return err
}
