package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/observability"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"go.uber.org/zap"
)

// ExpiryWorker cancels deposits nobody paid in time.
type ExpiryWorker struct {
	svc      *service.ExpiryService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewExpiryWorker(svc *service.ExpiryService) *ExpiryWorker {
	return &ExpiryWorker{
		svc:      svc,
		interval: time.Minute,
		stopCh:   make(chan struct{}),
	}
}

func (w *ExpiryWorker) WithInterval(interval time.Duration) *ExpiryWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *ExpiryWorker) Start(ctx context.Context) {
	poll(ctx, "expiry", w.interval, false, w.stopCh, w.runOnce)
}

func (w *ExpiryWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *ExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ExpiryWorker) runOnce(ctx context.Context) {
	if _, err := w.svc.Run(ctx); err != nil {
		observability.IncrementWorkerRun("expiry", "failed")
		zap.L().Error("deposit expiry run failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("expiry", "success")
}
