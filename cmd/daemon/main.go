package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/config"
	"github.com/dgnsrekt/zerogex/internal/market"
	"github.com/dgnsrekt/zerogex/internal/notify"
	"github.com/dgnsrekt/zerogex/internal/retention"
	"github.com/dgnsrekt/zerogex/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	daemonCfg := LoadDaemonConfig()

	logger.Info("daemon configuration loaded",
		zap.Int("scheduleHour", daemonCfg.ScheduleHour),
		zap.Int("scheduleMinute", daemonCfg.ScheduleMinute),
		zap.String("configPath", daemonCfg.ConfigPath),
		zap.String("stateFile", daemonCfg.StateFile),
		zap.Bool("runOnStartup", daemonCfg.RunOnStartup),
	)

	cfg, err := config.Load(daemonCfg.ConfigPath)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open storage", zap.Error(err))
		return 1
	}
	defer store.Close()

	notifier := notify.New(&cfg.Notify, logger.Named("notify"))
	scheduler := NewScheduler(daemonCfg.ScheduleHour, daemonCfg.ScheduleMinute, market.NewCalendar())
	tracker := NewRunTracker(daemonCfg.StateFile)

	logger.Info("retention daemon started",
		zap.String("schedule", fmt.Sprintf("%02d:%02d %s", daemonCfg.ScheduleHour, daemonCfg.ScheduleMinute, market.Location())),
		zap.Int("retentionDays", cfg.Database.RetentionDays),
	)

	if daemonCfg.RunOnStartup {
		logger.Info("checking for missed prune on startup")
		if shouldPrune(scheduler, tracker, logger) {
			runPrune(ctx, store, notifier, cfg.Database.RetentionDays, scheduler, tracker, logger)
		}
	}

	// Main loop - check every minute
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if shouldPrune(scheduler, tracker, logger) {
				runPrune(ctx, store, notifier, cfg.Database.RetentionDays, scheduler, tracker, logger)
			}

		case <-ctx.Done():
			logger.Info("received shutdown signal, stopping")
			return 0
		}
	}
}

// shouldPrune checks if conditions are met for today's prune
func shouldPrune(scheduler *Scheduler, tracker *RunTracker, logger *zap.Logger) bool {
	today := scheduler.TodayDate()

	if tracker.AlreadyRan(today) {
		return false
	}

	if !scheduler.IsMarketDay(today) {
		logger.Debug("not a market day", zap.String("date", today))
		return false
	}

	if !scheduler.IsDue() {
		return false
	}

	logger.Info("prune conditions met",
		zap.String("date", today),
		zap.String("time", scheduler.Now().In(market.Location()).Format("15:04:05")),
	)
	return true
}

// runPrune executes the prune and updates the tracker
func runPrune(ctx context.Context, store retention.Pruner, notifier notify.Notifier, days int, scheduler *Scheduler, tracker *RunTracker, logger *zap.Logger) {
	today := scheduler.TodayDate()

	if _, err := retention.Run(ctx, store, notifier, days, scheduler.Now(), logger); err != nil {
		logger.Error("prune failed", zap.Error(err), zap.String("date", today))
		return
	}

	// Update tracker to prevent a second run today
	if err := tracker.SetLastRunDate(today); err != nil {
		logger.Error("failed to update tracker", zap.Error(err))
	}
}
