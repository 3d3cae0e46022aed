package service

import (
	"context"
	"testing"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithdrawal(t *testing.T) {
	tests := []struct {
		decision      Decision
		status        domain.OrderStatus
		paid          int64
		currentDelta  int64
		availableBack int64
		direction     string
	}{
		{decision: DecisionComplete, status: domain.StatusCompleted, paid: 90_000, currentDelta: -90_000, direction: domain.DirectionSettle},
		{decision: DecisionFail, status: domain.StatusFailed, availableBack: 90_000, direction: domain.DirectionCredit},
		{decision: DecisionCancel, status: domain.StatusCanceled, availableBack: 90_000, direction: domain.DirectionCredit},
	}
	for _, tt := range tests {
		t.Run(string(tt.decision), func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			staff := testutil.Staff(t, f.backend, "ready", true)
			start := f.balance()

			view, err := f.orders.Create(ctx, f.session(), "198.51.100.4", withdraw(90_000))
			require.NoError(t, err)
			afterDebit := f.balance()
			assert.Equal(t, start.Available-90_000, afterDebit.Available)

			order, err := f.withdrawals.Resolve(ctx, ResolveRequest{
				OrderID:  view.OrderID,
				Decision: tt.decision,
				Reason:   "checked",
				Actor:    Actor{ID: staff.ID, Role: domain.RoleStaff},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.status, order.Status)
			assert.Equal(t, tt.paid, order.PaidAmount)
			assert.Equal(t, order.Amount, order.PaidAmount+order.UnpaidAmount)
			assert.Equal(t, "checked", order.StatusReason)

			bal := f.balance()
			assert.Equal(t, start.Current+tt.currentDelta, bal.Current)
			assert.Equal(t, afterDebit.Available+tt.availableBack, bal.Available)

			entries, err := f.backend.ListLedgerEntries(ctx, view.OrderID)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			dirs := []string{entries[0].Direction, entries[1].Direction}
			assert.ElementsMatch(t, []string{domain.DirectionDebit, tt.direction}, dirs)

			hooks := f.hooks.sent()
			require.Len(t, hooks, 1)
			assert.Equal(t, "https://merchant.example/callback", hooks[0].URL)
			assert.Equal(t, f.merchant.WebhookKey, hooks[0].APIKey)
			assert.False(t, hooks[0].Scheduled)
			assert.Equal(t, []string{view.OrderID}, hooks[0].OrderIDs)
			event, ok := hooks[0].Payload.(StatusEvent)
			require.True(t, ok)
			assert.Equal(t, tt.status, event.Status)

			_, err = f.withdrawals.Resolve(ctx, ResolveRequest{
				OrderID:  view.OrderID,
				Decision: DecisionComplete,
				Actor:    Actor{ID: staff.ID, Role: domain.RoleStaff},
			})
			assert.ErrorIs(t, err, models.ErrInvalidTransition)

			report, err := NewReconciliationService(f.storage, f.ledger).Run(ctx)
			require.NoError(t, err)
			assert.Zero(t, report.Mismatches)
		})
	}
}

func TestResolveRejects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := testutil.Staff(t, f.backend, "owner", true)
	intruder := testutil.Staff(t, f.backend, "intruder", false)

	wd, err := f.orders.Create(ctx, f.session(), "198.51.100.4", withdraw(50_000))
	require.NoError(t, err)
	require.Equal(t, owner.ID, f.processorOf(wd.OrderID))
	dep, err := f.orders.Create(ctx, f.session(), "198.51.100.4", deposit(f.bank.ID, 50_000))
	require.NoError(t, err)

	_, err = f.withdrawals.Resolve(ctx, ResolveRequest{OrderID: wd.OrderID, Decision: "approve", Actor: Actor{ID: owner.ID}})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = f.withdrawals.Resolve(ctx, ResolveRequest{OrderID: wd.OrderID, Decision: DecisionComplete, Actor: Actor{ID: intruder.ID, Role: domain.RoleStaff}})
	assert.ErrorIs(t, err, ErrNotAssigned)

	_, err = f.withdrawals.Resolve(ctx, ResolveRequest{OrderID: dep.OrderID, Decision: DecisionComplete, Actor: Actor{ID: owner.ID, Role: domain.RoleAdmin}})
	assert.ErrorIs(t, err, ErrNotWithdrawal)

	_, err = f.withdrawals.Resolve(ctx, ResolveRequest{OrderID: "SQL20260307ZZZZZZZ", Decision: DecisionComplete, Actor: Actor{ID: owner.ID, Role: domain.RoleAdmin}})
	assert.ErrorIs(t, err, models.ErrNotFound)

	order, err := f.withdrawals.Resolve(ctx, ResolveRequest{OrderID: wd.OrderID, Decision: DecisionCancel, Actor: Actor{ID: intruder.ID, Role: domain.RoleAdmin}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, order.Status)
}

func TestStaffPoolOperations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := testutil.Staff(t, f.backend, "a", false)
	b := testutil.Staff(t, f.backend, "b", true)

	require.NoError(t, f.withdrawals.SetReady(ctx, Actor{ID: a.ID}, true))
	loads, err := f.withdrawals.Processors(ctx)
	require.NoError(t, err)
	assert.Len(t, loads, 2)

	require.NoError(t, f.withdrawals.SetReady(ctx, Actor{ID: b.ID}, false))
	loads, err = f.withdrawals.Processors(ctx)
	require.NoError(t, err)
	require.Len(t, loads, 1)
	assert.Equal(t, a.ID, loads[0].ProcessorID)

	mine := seedWithdrawal(t, f, a.ID)
	seedWithdrawal(t, f, b.ID)

	own, err := f.withdrawals.Pending(ctx, Actor{ID: a.ID, Role: domain.RoleStaff}, true)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.OrderID, own[0].OrderID)

	all, err := f.withdrawals.Pending(ctx, Actor{ID: a.ID, Role: domain.RoleAdmin}, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	summary, err := f.withdrawals.Reassign(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Assigned)
	assert.Equal(t, a.ID, f.processorOf(mine.OrderID))
}
