package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/observability"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"go.uber.org/zap"
)

// AssignmentWorker periodically hands unassigned or orphaned pending
// withdrawals to ready processors.
type AssignmentWorker struct {
	svc          *service.WithdrawalService
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewAssignmentWorker(svc *service.WithdrawalService) *AssignmentWorker {
	return &AssignmentWorker{
		svc:          svc,
		pollInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *AssignmentWorker) WithPollInterval(interval time.Duration) *AssignmentWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// Start blocks until Stop is called or ctx is canceled.
func (w *AssignmentWorker) Start(ctx context.Context) {
	poll(ctx, "assignment", w.pollInterval, false, w.stopCh, func(ctx context.Context) {
		_, _ = w.ProcessOnce(ctx)
	})
}

func (w *AssignmentWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *AssignmentWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce runs a single reassignment pass.
func (w *AssignmentWorker) ProcessOnce(ctx context.Context) (service.ReassignSummary, error) {
	summary, err := w.svc.Reassign(ctx)
	if err != nil {
		observability.IncrementWorkerRun("assignment", "failed")
		zap.L().Error("assignment backfill failed", zap.Error(err))
		return summary, err
	}
	observability.IncrementWorkerRun("assignment", "success")
	if summary.Assigned > 0 || summary.Unassigned > 0 {
		zap.L().Info("assignment backfill",
			zap.Int("pool", summary.PoolSize),
			zap.Int("assigned", summary.Assigned),
			zap.Int("unassigned", summary.Unassigned),
		)
	}
	return summary, nil
}

func (w *AssignmentWorker) String() string {
	return fmt.Sprintf("AssignmentWorker(interval=%v)", w.pollInterval)
}
