package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/api"
	"github.com/dgnsrekt/zerogex/internal/market"
	"github.com/dgnsrekt/zerogex/internal/notify"
	"github.com/dgnsrekt/zerogex/internal/retention"
	"github.com/dgnsrekt/zerogex/internal/storage"
	"github.com/dgnsrekt/zerogex/internal/universe"
)

func symbolsCmd() *cobra.Command {
	var (
		price      float64
		underlying string
	)

	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Print the contract universe around a price",
		Long: `Resolve the option contract universe the stream would track: the
nearest universe.expirations expirations and every strike within
universe.strike_distance of the price.

Examples:
  # Use the latest underlying bar as the reference price
  zerogex symbols

  # Use an explicit price
  zerogex symbols --underlying QQQ --price 480`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := newAPIClient()
			if err != nil {
				return err
			}

			params := cfg.UniverseParams()
			if underlying != "" {
				params.Underlying = strings.ToUpper(underlying)
			}

			if price <= 0 {
				bars, err := client.GetBars(ctx, api.BarsRequest{
					Symbol:          params.Underlying,
					Interval:        1,
					Unit:            "Minute",
					BarsBack:        1,
					SessionTemplate: api.SessionTemplatePre,
				})
				if err != nil {
					return fmt.Errorf("fetching reference price: %w", err)
				}
				if len(bars) == 0 || bars[len(bars)-1].Close <= 0 {
					return fmt.Errorf("no price for %s, pass --price", params.Underlying)
				}
				price = bars[len(bars)-1].Close
			}

			u, err := universe.Build(ctx, client, params, price, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("%s @ %.2f\n", params.Underlying, u.ReferencePrice)
			for _, exp := range u.Expirations {
				date := market.FormatDate(exp)
				fmt.Printf("  %s: %d strikes\n", date, len(u.Strikes[date]))
			}
			for _, s := range u.Symbols {
				fmt.Println(s)
			}
			logger.Debug("universe resolved", zap.Int("symbols", len(u.Symbols)))
			return nil
		},
	}

	cmd.Flags().Float64Var(&price, "price", 0, "reference price (default: latest bar close)")
	cmd.Flags().StringVar(&underlying, "underlying", "", "override universe.underlying")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Database.Driver != storage.DriverPostgres {
				return fmt.Errorf("migrate needs the postgres driver, got %q", cfg.Database.Driver)
			}
			start := time.Now()
			if err := storage.Migrate(cmd.Context(), cfg.Database.URL); err != nil {
				return err
			}
			logger.Info("schema migrated",
				zap.Strings("tables", storage.Tables),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		},
	}
}

func pruneCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete rows older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if days <= 0 {
				days = cfg.Database.RetentionDays
			}

			store, err := storage.Open(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			notifier := notify.New(&cfg.Notify, logger.Named("notify"))
			report, err := retention.Run(ctx, store, notifier, days, time.Now(), logger)
			if err != nil {
				return err
			}
			fmt.Println(notify.FormatRetentionMessage(report))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "override database.retention_days")
	return cmd
}
