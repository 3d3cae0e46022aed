package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/observability"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultReconcileGrace = 2 * time.Minute
	defaultReconcileScan  = 1000
)

type ReconcileReport struct {
	Backends   int `json:"backends"`
	Scanned    int `json:"scanned"`
	Mismatches int `json:"mismatches"`
	Repaired   int `json:"repaired"`
}

// ReconciliationService checks that every withdrawal's ledger entries agree
// with its status: one debit for pending, completed and failed withdrawals,
// no net effect for cancelled ones.
type ReconciliationService struct {
	storage Storage
	ledger  *Ledger
	grace   time.Duration
	scan    int
	now     func() time.Time
}

func NewReconciliationService(storage Storage, ledger *Ledger) *ReconciliationService {
	return &ReconciliationService{
		storage: storage,
		ledger:  ledger,
		grace:   defaultReconcileGrace,
		scan:    defaultReconcileScan,
		now:     time.Now,
	}
}

// WithGrace sets how old a pending withdrawal without a debit must be before
// it is cancelled, and how long a cancelled one must be settled before a
// missing credit is refunded.
func (s *ReconciliationService) WithGrace(d time.Duration) *ReconciliationService {
	if d > 0 {
		s.grace = d
	}
	return s
}

// Run checks the most recent withdrawals on every reachable backend and
// repairs what it safely can.
func (s *ReconciliationService) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	for _, b := range s.storage.Backends() {
		if err := b.Ping(ctx); err != nil {
			zap.L().Warn("reconciliation skipped backend", zap.String("backend", b.Name()), zap.Error(err))
			continue
		}
		report.Backends++
		if err := s.reconcile(ctx, b, &report); err != nil {
			return report, fmt.Errorf("reconcile %s: %w", b.Name(), err)
		}
	}
	if report.Mismatches > 0 {
		zap.L().Error("ledger mismatches detected",
			zap.Int("mismatches", report.Mismatches),
			zap.Int("repaired", report.Repaired),
		)
	} else {
		zap.L().Info("withdrawal ledger consistent", zap.Int("scanned", report.Scanned))
	}
	return report, nil
}

func (s *ReconciliationService) reconcile(ctx context.Context, b repository.Backend, report *ReconcileReport) error {
	orders, err := b.ListOrders(ctx, repository.OrderFilter{Kind: domain.KindWithdraw, Limit: s.scan})
	if err != nil {
		return fmt.Errorf("list withdrawals: %w", err)
	}
	cutoff := s.now().Add(-s.grace)
	for i := range orders {
		o := &orders[i]
		entries, err := b.ListLedgerEntries(ctx, o.OrderID)
		if err != nil {
			return fmt.Errorf("ledger entries for %s: %w", o.OrderID, err)
		}
		report.Scanned++
		debits, net := ledgerEffect(entries)

		switch o.Status {
		case domain.StatusCanceled:
			if net == 0 {
				continue
			}
			// a resolution may still be writing its own credit
			if net < 0 && o.UpdatedAt.After(cutoff) {
				continue
			}
			report.Mismatches++
			observability.IncrementLedgerMismatch("canceled_net_effect")
			if net < 0 && s.refund(ctx, b, o, -net) {
				report.Repaired++
			}
		default:
			if debits == 1 {
				continue
			}
			if debits == 0 && o.Status == domain.StatusPending && o.CreatedAt.After(cutoff) {
				continue
			}
			report.Mismatches++
			observability.IncrementLedgerMismatch(fmt.Sprintf("%s_debits_%d", o.Status, min(debits, 2)))
			zap.L().Error("withdrawal ledger mismatch",
				zap.String("order_id", o.OrderID),
				zap.String("status", string(o.Status)),
				zap.Int("debits", debits),
			)
			if debits == 0 && o.Status == domain.StatusPending && s.cancelOrphan(ctx, b, o) {
				report.Repaired++
			}
		}
	}
	return nil
}

// ledgerEffect counts debits and sums the signed available-balance movement.
func ledgerEffect(entries []models.LedgerEntry) (debits int, net int64) {
	for _, e := range entries {
		switch e.Direction {
		case domain.DirectionDebit:
			debits++
			net += e.Amount
		case domain.DirectionCredit:
			net += e.Amount
		}
	}
	return debits, net
}

func (s *ReconciliationService) cancelOrphan(ctx context.Context, b repository.Backend, o *models.Order) bool {
	err := b.UpdateOrderStatus(ctx, repository.StatusUpdate{
		OrderID: o.OrderID,
		From:    domain.StatusPending,
		To:      domain.StatusCanceled,
		Reason:  "balance lock missing",
	})
	if err != nil {
		zap.L().Error("orphaned withdrawal cancel failed", zap.String("order_id", o.OrderID), zap.Error(err))
		return false
	}
	zap.L().Warn("orphaned withdrawal cancelled", zap.String("order_id", o.OrderID))
	return true
}

func (s *ReconciliationService) refund(ctx context.Context, b repository.Backend, o *models.Order, amount int64) bool {
	res, err := s.ledger.Adjust(ctx, b, Adjustment{
		MerchantID:       o.MerchantID,
		OrderID:          o.OrderID,
		Delta:            amount,
		AffectsAvailable: true,
		IsCredit:         true,
	})
	if err != nil {
		zap.L().Error("cancelled withdrawal refund failed", zap.String("order_id", o.OrderID), zap.Error(err))
		return false
	}
	if res.AlreadyApplied {
		zap.L().Info("cancelled withdrawal already refunded", zap.String("order_id", o.OrderID))
		return false
	}
	zap.L().Warn("cancelled withdrawal refunded", zap.String("order_id", o.OrderID), zap.Int64("amount", amount))
	return true
}
