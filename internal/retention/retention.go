// Package retention deletes persisted rows older than the retention window
// and reports the outcome through the notifier.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/market"
	"github.com/dgnsrekt/zerogex/internal/notify"
)

// Pruner deletes rows older than before, per table.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (map[string]int64, error)
}

// Cutoff is exchange-local midnight days before now.
func Cutoff(now time.Time, days int) time.Time {
	return market.DateOf(now).AddDate(0, 0, -days)
}

// Run prunes everything older than Cutoff(now, days) and sends a success
// or failure notification. Notification errors are logged, not returned.
func Run(ctx context.Context, store Pruner, notifier notify.Notifier, days int, now time.Time, logger *zap.Logger) (*notify.RetentionReport, error) {
	if days < 1 {
		return nil, fmt.Errorf("retention days must be >= 1, got %d", days)
	}

	report := &notify.RetentionReport{Cutoff: Cutoff(now, days)}
	logger.Info("retention prune starting",
		zap.Time("cutoff", report.Cutoff),
		zap.Int("retention_days", days),
	)

	started := time.Now()
	deleted, err := store.Prune(ctx, report.Cutoff)
	report.Deleted = deleted
	report.Duration = time.Since(started)

	if err != nil {
		logger.Error("retention prune failed", zap.Error(err), zap.Duration("duration", report.Duration))
		if nerr := notifier.SendRetentionFailure(context.WithoutCancel(ctx), report, err); nerr != nil {
			logger.Warn("failed to send failure notification", zap.Error(nerr))
		}
		return report, err
	}

	logger.Info("retention prune complete",
		zap.Int64("deleted", report.Total()),
		zap.Any("tables", report.Deleted),
		zap.Duration("duration", report.Duration),
	)
	if nerr := notifier.SendRetentionSuccess(ctx, report); nerr != nil {
		logger.Warn("failed to send retention notification", zap.Error(nerr))
	}
	return report, nil
}
