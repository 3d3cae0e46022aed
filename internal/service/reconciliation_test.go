package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"github.com/ayo6706/payorder-gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileConsistentLedger(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.orders.Create(ctx, f.session(), "198.51.100.4", withdraw(15_000))
		require.NoError(t, err)
	}
	report, err := NewReconciliationService(f.storage, f.ledger).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Backends: 1, Scanned: 3}, report)
}

func TestReconcileRefundsCancelledDebit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	view, err := f.orders.Create(ctx, f.session(), "198.51.100.4", withdraw(40_000))
	require.NoError(t, err)
	// cancelled without the compensating credit
	require.NoError(t, f.backend.UpdateOrderStatus(ctx, repository.StatusUpdate{
		OrderID: view.OrderID,
		From:    domain.StatusPending,
		To:      domain.StatusCanceled,
	}))
	before := f.balance()

	svc := NewReconciliationService(f.storage, f.ledger)
	report, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Mismatches, "recently cancelled orders are left to their resolution")

	svc.now = func() time.Time { return time.Now().Add(defaultReconcileGrace + time.Minute) }
	report, err = svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Mismatches)
	assert.Equal(t, 1, report.Repaired)
	assert.Equal(t, before.Available+40_000, f.balance().Available)

	report, err = svc.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Mismatches)
}

func TestReconcileLeavesFreshPendingAlone(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o := seedWithdrawal(t, f, "")

	svc := NewReconciliationService(f.storage, f.ledger).WithGrace(time.Hour)
	report, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Mismatches)

	svc.now = func() time.Time { return o.CreatedAt.Add(2 * time.Hour) }
	report, err = svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	o2, err := f.backend.GetOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, o2.Status)
}

// reconcilingBackend runs a reconciliation pass right after an order is
// moved to cancelled, before the caller gets to write its credit.
type reconcilingBackend struct {
	repository.Backend
	recon  *ReconciliationService
	report ReconcileReport
}

func (b *reconcilingBackend) UpdateOrderStatus(ctx context.Context, u repository.StatusUpdate) error {
	if err := b.Backend.UpdateOrderStatus(ctx, u); err != nil {
		return err
	}
	if u.To == domain.StatusCanceled && b.recon != nil {
		report, err := b.recon.Run(ctx)
		if err != nil {
			return err
		}
		b.report = report
	}
	return nil
}

// pinnedStorage routes every order to one backend.
type pinnedStorage struct {
	*repository.Resolver
	backend repository.Backend
}

func (s pinnedStorage) ForOrder(string) (repository.Backend, error) { return s.backend, nil }
func (s pinnedStorage) Backends() []repository.Backend              { return []repository.Backend{s.backend} }

func TestReconcileDuringCancelCreditsOnce(t *testing.T) {
	tests := []struct {
		name         string
		clockOffset  time.Duration
		wantRepaired int
	}{
		{name: "within grace", clockOffset: 0, wantRepaired: 0},
		{name: "past grace", clockOffset: defaultReconcileGrace + time.Minute, wantRepaired: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			staff := testutil.Staff(t, f.backend, "ready", true)
			start := f.balance()

			view, err := f.orders.Create(ctx, f.session(), "198.51.100.4", withdraw(40_000))
			require.NoError(t, err)

			hooked := &reconcilingBackend{Backend: f.backend}
			storage := pinnedStorage{Resolver: f.storage, backend: hooked}
			recon := NewReconciliationService(storage, f.ledger)
			recon.now = func() time.Time { return time.Now().Add(tt.clockOffset) }
			hooked.recon = recon

			withdrawals := NewWithdrawalService(storage, f.assigner, f.ledger, f.queue, f.hooks)
			order, err := withdrawals.Resolve(ctx, ResolveRequest{
				OrderID:  view.OrderID,
				Decision: DecisionCancel,
				Actor:    Actor{ID: staff.ID, Role: domain.RoleAdmin},
			})
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCanceled, order.Status)
			assert.Equal(t, tt.wantRepaired, hooked.report.Repaired)

			assert.Equal(t, start.Available, f.balance().Available, "cancel must leave no net effect")
			entries, err := f.backend.ListLedgerEntries(ctx, view.OrderID)
			require.NoError(t, err)
			assert.Len(t, entries, 2)

			report, err := recon.Run(ctx)
			require.NoError(t, err)
			assert.Zero(t, report.Mismatches)
		})
	}
}
