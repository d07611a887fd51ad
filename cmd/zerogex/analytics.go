package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/zerogex/internal/analytics"
	"github.com/dgnsrekt/zerogex/internal/notify"
	"github.com/dgnsrekt/zerogex/internal/storage"
	"github.com/dgnsrekt/zerogex/internal/ws"
)

func analyticsCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Compute gamma exposure, flip point and max pain on an interval",
		Long: `Read the newest option snapshot from storage every analytics.interval,
compute per-strike gamma exposure and the summary, and persist both.

Completed cycles are cached in redis when redis.url is set and pushed to
websocket subscribers when server.listen is set.

Examples:
  # Run continuously
  zerogex analytics

  # Compute one cycle and print the summary
  zerogex analytics --once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := storage.Open(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if once {
				cfg.Server.Listen = ""
			}
			rt, err := newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			notifier := notify.New(&cfg.Notify, logger.Named("notify"))
			engine := analytics.NewEngine(store, notifier, cfg.AnalyticsOptions(), logger.Named("analytics"), rt.publishers()...)

			if once {
				cycle, err := engine.RunOnce(ctx)
				if errors.Is(err, analytics.ErrNoData) {
					logger.Warn("nothing to analyze", zap.Error(err))
					return nil
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(cycle.Summary)
			}

			rt.workers["analytics"] = func() any { return engine.Stats() }

			g, gctx := errgroup.WithContext(ctx)
			rt.start(gctx, g, cmd.Name())
			g.Go(func() error {
				return engine.Run(gctx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Relay cached analytics cycles to websocket subscribers",
		Long: `Subscribe to the redis cycle channel and push every announced cycle to
websocket clients on /ws/gex. Use this when the analytics engine runs in a
separate process. Requires redis.url and server.listen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if cfg.Redis.URL == "" || cfg.Server.Listen == "" {
				return fmt.Errorf("serve needs both redis.url and server.listen")
			}

			rt, err := newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			feed := ws.NewFeed(rt.hub, logger.Named("feed"))
			var relayed, failed atomic.Int64
			rt.workers["relay"] = func() any {
				return map[string]int64{"relayed": relayed.Load(), "failed": failed.Load()}
			}

			g, gctx := errgroup.WithContext(ctx)
			rt.start(gctx, g, cmd.Name())
			g.Go(func() error {
				rt.redis.Subscribe(gctx, func(ctx context.Context, cycle *analytics.Cycle) {
					if err := feed.Publish(ctx, cycle); err != nil {
						failed.Add(1)
						logger.Warn("relaying cycle failed", zap.String("cycle_id", cycle.ID), zap.Error(err))
						return
					}
					relayed.Add(1)
				})
				return nil
			})
			return g.Wait()
		},
	}
}
