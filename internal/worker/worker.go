// Package worker runs the gateway's background jobs.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// poll calls run every interval until ctx ends or stop closes. When
// immediate is set, run also fires once at startup.
func poll(ctx context.Context, name string, interval time.Duration, immediate bool, stop <-chan struct{}, run func(ctx context.Context)) {
	zap.L().Info(name+" worker starting", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if immediate {
		run(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			zap.L().Info(name + " worker context canceled")
			return
		case <-stop:
			zap.L().Info(name + " worker stop signal received")
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}
