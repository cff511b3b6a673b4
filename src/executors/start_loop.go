package executors

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Sweeper is the pending-order housekeeping of the pipeline.
type Sweeper interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

var now = time.Now

// SweepOnce expires pending orders past their TTL, then deletes terminal
// orders older than the retention.
func SweepOnce(ctx context.Context, sweeper Sweeper, retention time.Duration) error {
	at := now().UTC()

	expired, err := sweeper.ExpireStale(ctx, at)
	if err != nil {
		logger.WithError(err).Error("Failed to expire stale pending orders")
		return err
	}

	purged, err := sweeper.PurgeTerminal(ctx, at.Add(-retention))
	if err != nil {
		logger.WithError(err).Error("Failed to purge terminal pending orders")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"expired": expired,
		"purged":  purged,
	}).Debug("sweep done")
	return nil
}

// StartSweepLoop runs SweepOnce every period until ctx is cancelled. A failed
// sweep is logged and retried on the next tick.
func StartSweepLoop(ctx context.Context, sweeper Sweeper, config Config) error {
	if config.SweepPeriod <= 0 {
		return errors.New("sweep period must be positive")
	}

	ticker := time.NewTicker(config.SweepPeriod)
	defer ticker.Stop()

	logger.WithField("period", config.SweepPeriod).Info("sweep loop started")
	_ = SweepOnce(ctx, sweeper, config.Retention)

	for {
		select {
		case <-ctx.Done():
			logger.Println("sweep loop stopped")
			return nil
		case <-ticker.C:
			_ = SweepOnce(ctx, sweeper, config.Retention)
		}
	}
}
