package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"github.com/ayo6706/payorder-gateway/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBackend(t *testing.T) {
	runBackendSuite(t, testutil.SQLite(t), "SQL")
}

func TestPostgresBackend(t *testing.T) {
	runBackendSuite(t, testutil.Postgres(t), "PGO")
}

func TestRedisBackend(t *testing.T) {
	runBackendSuite(t, testutil.Redis(t), "RDS")
}

func newOrder(t *testing.T, prefix string, m *models.Merchant, kind domain.OrderKind) *models.Order {
	t.Helper()
	id, err := domain.NewOrderIDGenerator().Generate(prefix)
	require.NoError(t, err)
	return &models.Order{
		OrderID:              id,
		Kind:                 kind,
		Status:               domain.InitialStatus(kind),
		Amount:               150_000,
		UnpaidAmount:         150_000,
		BankCode:             "VCB",
		ReceiveAccountNumber: "0123456789",
		ReceiveOwnerName:     "NGUYEN VAN A",
		MerchantID:           m.ID,
		CallbackURL:          "https://merchant.example/callback",
	}
}

func runBackendSuite(t *testing.T, b repository.Backend, prefix string) {
	ctx := context.Background()
	require.NoError(t, b.Ping(ctx))

	merchant := testutil.Merchant(t, b, func(m *models.Merchant) {
		m.DepositIPs = []string{"10.0.0.*", "192.168.1.0/24"}
		m.WithdrawIPs = []string{"203.0.113.7"}
		m.EnforceIPWhitelist = true
	})

	t.Run("merchant round trip", func(t *testing.T) {
		got, err := b.GetMerchantByPublicID(ctx, merchant.PublicID)
		require.NoError(t, err)
		assert.Equal(t, merchant.ID, got.ID)
		assert.Equal(t, merchant.APIKeyHash, got.APIKeyHash)
		assert.Equal(t, []string{"10.0.0.*", "192.168.1.0/24"}, got.DepositIPs)
		assert.Equal(t, []string{"203.0.113.7"}, got.WithdrawIPs)
		assert.True(t, got.EnforceIPWhitelist)
		assert.Equal(t, int64(10_000_000), got.AvailableBalance)

		_, err = b.GetMerchantByPublicID(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)

		byID, err := b.GetMerchant(ctx, merchant.ID)
		require.NoError(t, err)
		assert.Equal(t, merchant.PublicID, byID.PublicID)
		assert.Equal(t, merchant.WebhookKey, byID.WebhookKey)
	})

	t.Run("banks and blacklist", func(t *testing.T) {
		bank := testutil.Bank(t, b)
		got, err := b.GetBank(ctx, bank.ID)
		require.NoError(t, err)
		assert.Equal(t, bank.BIN, got.BIN)
		assert.True(t, got.Active)

		require.NoError(t, b.AddBlacklist(ctx, "VCB", "999999999"))
		require.NoError(t, b.AddBlacklist(ctx, "VCB", "999999999"))
		hit, err := b.IsBlacklisted(ctx, "VCB", "999999999")
		require.NoError(t, err)
		assert.True(t, hit)
		hit, err = b.IsBlacklisted(ctx, "TCB", "999999999")
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("order create and duplicate id", func(t *testing.T) {
		o := newOrder(t, prefix, merchant, domain.KindDeposit)
		require.NoError(t, b.CreateOrder(ctx, o))
		assert.False(t, o.CreatedAt.IsZero())

		got, err := b.GetOrder(ctx, o.OrderID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusProcessing, got.Status)
		assert.Equal(t, o.Amount, got.PaidAmount+got.UnpaidAmount)
		assert.Nil(t, got.QRPayload)

		dup := newOrder(t, prefix, merchant, domain.KindDeposit)
		dup.OrderID = o.OrderID
		assert.ErrorIs(t, b.CreateOrder(ctx, dup), models.ErrDuplicateOrderID)

		_, err = b.GetOrder(ctx, prefix+"20260101XXXXXXX")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("status update is conditional and keeps amounts balanced", func(t *testing.T) {
		o := newOrder(t, prefix, merchant, domain.KindWithdraw)
		require.NoError(t, b.CreateOrder(ctx, o))

		require.NoError(t, b.UpdateOrderStatus(ctx, repository.StatusUpdate{
			OrderID: o.OrderID, From: domain.StatusPending, To: domain.StatusCompleted, PaidAmount: o.Amount,
		}))
		got, err := b.GetOrder(ctx, o.OrderID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		assert.Equal(t, o.Amount, got.PaidAmount)
		assert.Zero(t, got.UnpaidAmount)

		err = b.UpdateOrderStatus(ctx, repository.StatusUpdate{
			OrderID: o.OrderID, From: domain.StatusPending, To: domain.StatusCanceled,
		})
		assert.ErrorIs(t, err, models.ErrStatusConflict)

		err = b.UpdateOrderStatus(ctx, repository.StatusUpdate{
			OrderID: prefix + "20260101ZZZZZZZ", From: domain.StatusPending, To: domain.StatusCanceled,
		})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("processor assignment", func(t *testing.T) {
		alice := testutil.Staff(t, b, "alice-"+uuid.NewString()[:6], true)
		bob := testutil.Staff(t, b, "bob-"+uuid.NewString()[:6], true)

		o := newOrder(t, prefix, merchant, domain.KindWithdraw)
		require.NoError(t, b.CreateOrder(ctx, o))

		ok, err := b.AssignProcessor(ctx, o.OrderID, alice.ID, "")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.AssignProcessor(ctx, o.OrderID, bob.ID, "")
		require.NoError(t, err)
		assert.False(t, ok, "already assigned")

		n, err := b.CountPendingAssigned(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		ok, err = b.AssignProcessor(ctx, o.OrderID, bob.ID, alice.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		n, err = b.CountPendingAssigned(ctx, alice.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = b.CountPendingAssigned(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.NoError(t, b.UpdateOrderStatus(ctx, repository.StatusUpdate{
			OrderID: o.OrderID, From: domain.StatusPending, To: domain.StatusFailed,
		}))
		n, err = b.CountPendingAssigned(ctx, bob.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		deposit := newOrder(t, prefix, merchant, domain.KindDeposit)
		require.NoError(t, b.CreateOrder(ctx, deposit))
		ok, err = b.AssignProcessor(ctx, deposit.OrderID, alice.ID, "")
		require.NoError(t, err)
		assert.False(t, ok, "deposits are never assigned")
	})

	t.Run("staff readiness", func(t *testing.T) {
		s := testutil.Staff(t, b, "carol-"+uuid.NewString()[:6], false)
		got, err := b.GetStaffByUsername(ctx, s.Username)
		require.NoError(t, err)
		assert.False(t, got.Ready)
		assert.Equal(t, s.PasswordHash, got.PasswordHash)

		require.NoError(t, b.SetStaffReady(ctx, s.ID, true))
		ready, err := b.ListReadyProcessors(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(ready))
		for _, r := range ready {
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, s.ID)

		require.NoError(t, b.SetStaffReady(ctx, s.ID, false))
		got, err = b.GetStaff(ctx, s.ID)
		require.NoError(t, err)
		assert.False(t, got.Ready)

		assert.ErrorIs(t, b.SetStaffReady(ctx, uuid.NewString(), true), models.ErrNotFound)
	})

	t.Run("balance swap", func(t *testing.T) {
		bal, err := b.GetMerchantBalance(ctx, merchant.ID)
		require.NoError(t, err)

		orderID := prefix + "20260101BAL0001"
		entry := models.LedgerEntry{
			ID: uuid.NewString(), MerchantID: merchant.ID, OrderID: orderID,
			Amount: -5_000, Direction: domain.DirectionDebit,
			BalanceAfter: bal.Current, AvailableAfter: bal.Available - 5_000,
		}
		ok, err := b.SwapBalance(ctx, repository.BalanceSwap{
			MerchantID: merchant.ID, ExpectedVersion: bal.Version,
			Current: bal.Current, Available: bal.Available - 5_000, Entry: entry,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		stale, err := b.SwapBalance(ctx, repository.BalanceSwap{
			MerchantID: merchant.ID, ExpectedVersion: bal.Version,
			Current: bal.Current, Available: 0, Entry: entry,
		})
		require.NoError(t, err)
		assert.False(t, stale)

		after, err := b.GetMerchantBalance(ctx, merchant.ID)
		require.NoError(t, err)
		assert.Equal(t, bal.Version+1, after.Version)
		assert.Equal(t, bal.Available-5_000, after.Available)

		entries, err := b.ListLedgerEntries(ctx, orderID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(-5_000), entries[0].Amount)
		assert.Equal(t, domain.DirectionDebit, entries[0].Direction)

		repeat := entry
		repeat.ID = uuid.NewString()
		_, err = b.SwapBalance(ctx, repository.BalanceSwap{
			MerchantID: merchant.ID, ExpectedVersion: after.Version,
			Current: after.Current, Available: after.Available - 5_000, Entry: repeat,
		})
		require.ErrorIs(t, err, models.ErrLedgerEntryExists)
		unchanged, err := b.GetMerchantBalance(ctx, merchant.ID)
		require.NoError(t, err)
		assert.Equal(t, after, unchanged)
		entries, err = b.ListLedgerEntries(ctx, orderID)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("list orders filters", func(t *testing.T) {
		other := testutil.Merchant(t, b, nil)
		mine := newOrder(t, prefix, other, domain.KindWithdraw)
		require.NoError(t, b.CreateOrder(ctx, mine))
		dep := newOrder(t, prefix, other, domain.KindDeposit)
		require.NoError(t, b.CreateOrder(ctx, dep))

		all, err := b.ListOrders(ctx, repository.OrderFilter{MerchantID: other.ID})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		withdrawals, err := b.ListOrders(ctx, repository.OrderFilter{MerchantID: other.ID, Kind: domain.KindWithdraw})
		require.NoError(t, err)
		require.Len(t, withdrawals, 1)
		assert.Equal(t, mine.OrderID, withdrawals[0].OrderID)

		unassigned, err := b.ListOrders(ctx, repository.OrderFilter{
			MerchantID: other.ID, Kind: domain.KindWithdraw,
			Statuses: []domain.OrderStatus{domain.StatusPending}, Unassigned: true,
		})
		require.NoError(t, err)
		assert.Len(t, unassigned, 1)

		none, err := b.ListOrders(ctx, repository.OrderFilter{
			MerchantID: other.ID, CreatedBefore: time.Now().Add(-time.Hour),
		})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
