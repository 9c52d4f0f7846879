/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ttlstore

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/acronis/go-quotakit/log"
)

// RunPeriodicSweep removes expired entries from the store every interval until ctx is done.
// It's supposed to be run in a separate goroutine. Sweep errors are logged and do not stop the cycle.
func RunPeriodicSweep(ctx context.Context, store Store, interval time.Duration, logger log.FieldLogger) {
	RunPeriodicSweepWithClock(ctx, store, interval, logger, clock.New())
}

// RunPeriodicSweepWithClock is the same as RunPeriodicSweep but uses the given clock for the ticker.
func RunPeriodicSweepWithClock(
	ctx context.Context, store Store, interval time.Duration, logger log.FieldLogger, clk clock.Clock,
) {
	logger = log.NewComponentLogger(logger, "ttlstore")
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("failed to sweep expired entries", log.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("expired entries swept", log.Int("removed", removed))
			}
		}
	}
}
