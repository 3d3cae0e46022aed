package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/observability"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	assignBucket         = 10 * time.Second
	defaultReassignBatch = 500
	loadCountParallelism = 8
)

// ReassignSummary reports one bulk assignment pass.
type ReassignSummary struct {
	PoolSize   int `json:"poolSize"`
	Scanned    int `json:"scanned"`
	Assigned   int `json:"assigned"`
	Unassigned int `json:"unassigned"`
}

// Assigner distributes pending withdrawals across ready processors. Loads are
// derived from pending counts at read time, so concurrent assignments may skew
// them slightly.
type Assigner struct {
	batch int
}

func NewAssigner(batch int) *Assigner {
	if batch <= 0 {
		batch = defaultReassignBatch
	}
	return &Assigner{batch: batch}
}

// ListReady returns the ready pool in pool order with each processor's load.
func (a *Assigner) ListReady(ctx context.Context, b repository.Backend) ([]models.ProcessorLoad, error) {
	pool, err := b.ListReadyProcessors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ready processors: %w", err)
	}
	loads := make([]models.ProcessorLoad, len(pool))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadCountParallelism)
	for i, p := range pool {
		i, p := i, p
		loads[i] = models.ProcessorLoad{ProcessorID: p.ID, Username: p.Username}
		g.Go(func() error {
			n, err := b.CountPendingAssigned(gctx, p.ID)
			if err != nil {
				return fmt.Errorf("count load for %s: %w", p.ID, err)
			}
			loads[i].Pending = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return loads, nil
}

// leastLoaded picks the lowest load; ties go to the earliest in pool order.
func leastLoaded(loads []models.ProcessorLoad) int {
	best := -1
	for i, l := range loads {
		if best == -1 || l.Pending < loads[best].Pending {
			best = i
		}
	}
	return best
}

// AssignReady gives an unassigned pending withdrawal to the least-loaded ready
// processor. It returns "" when the pool is empty or the order was already
// assigned.
func (a *Assigner) AssignReady(ctx context.Context, b repository.Backend, orderID string) (string, error) {
	loads, err := a.ListReady(ctx, b)
	if err != nil {
		observability.IncrementAssignment("load", "error")
		return "", err
	}
	idx := leastLoaded(loads)
	if idx < 0 {
		observability.IncrementAssignment("load", "empty_pool")
		return "", nil
	}
	pick := loads[idx].ProcessorID
	ok, err := b.AssignProcessor(ctx, orderID, pick, "")
	if err != nil {
		observability.IncrementAssignment("load", "error")
		return "", fmt.Errorf("assign %s: %w", orderID, err)
	}
	if !ok {
		observability.IncrementAssignment("load", "skipped")
		return "", nil
	}
	observability.IncrementAssignment("load", "assigned")
	return pick, nil
}

// PreAssign picks a processor from a ten-second time bucket. It is a cheap
// hint written with the order; Reassign may move the order later.
func (a *Assigner) PreAssign(ctx context.Context, b repository.Backend, now time.Time) (string, error) {
	pool, err := b.ListReadyProcessors(ctx)
	if err != nil {
		return "", fmt.Errorf("list ready processors: %w", err)
	}
	if len(pool) == 0 {
		return "", nil
	}
	bucket := now.UnixMilli() / assignBucket.Milliseconds()
	return pool[bucket%int64(len(pool))].ID, nil
}

// Reassign assigns every pending withdrawal that has no processor or whose
// processor left the ready pool. Orders already held by a ready processor are
// left alone, so repeated passes over an assigned set change nothing.
func (a *Assigner) Reassign(ctx context.Context, b repository.Backend) (ReassignSummary, error) {
	loads, err := a.ListReady(ctx, b)
	if err != nil {
		return ReassignSummary{}, err
	}
	ready := make(map[string]int, len(loads))
	for i, l := range loads {
		ready[l.ProcessorID] = i
	}

	pending, err := b.ListOrders(ctx, repository.OrderFilter{
		Kind:     domain.KindWithdraw,
		Statuses: []domain.OrderStatus{domain.StatusPending},
		Limit:    a.batch,
	})
	if err != nil {
		return ReassignSummary{}, fmt.Errorf("list pending withdrawals: %w", err)
	}
	// oldest first
	slices.Reverse(pending)

	summary := ReassignSummary{PoolSize: len(loads), Scanned: len(pending)}
	for _, o := range pending {
		if _, held := ready[o.AssignedProcessorID]; held {
			continue
		}
		idx := leastLoaded(loads)
		if idx < 0 {
			summary.Unassigned++
			continue
		}
		pick := loads[idx].ProcessorID
		ok, err := b.AssignProcessor(ctx, o.OrderID, pick, o.AssignedProcessorID)
		if err != nil {
			observability.IncrementAssignment("reassign", "error")
			zap.L().Warn("reassign failed", zap.String("order_id", o.OrderID), zap.Error(err))
			summary.Unassigned++
			continue
		}
		if !ok {
			observability.IncrementAssignment("reassign", "skipped")
			continue
		}
		loads[idx].Pending++
		summary.Assigned++
		observability.IncrementAssignment("reassign", "assigned")
	}
	observability.SetUnassignedWithdrawals(summary.Unassigned)
	return summary, nil
}
