package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/gateway"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/notify"
	"github.com/ayo6706/payorder-gateway/internal/qr"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"github.com/ayo6706/payorder-gateway/internal/testutil"
	"github.com/stretchr/testify/require"
)

// inlineQueue runs tasks on the caller's goroutine.
type inlineQueue struct {
	mu    sync.Mutex
	names []string
}

func (q *inlineQueue) Enqueue(name string, fn func(ctx context.Context) error) error {
	q.mu.Lock()
	q.names = append(q.names, name)
	q.mu.Unlock()
	return fn(context.Background())
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, n := range r.got {
		out[i] = n.Kind
	}
	return out
}

type recordingWebhooks struct {
	mu  sync.Mutex
	got []notify.Webhook
}

func (r *recordingWebhooks) Send(_ context.Context, w notify.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, w)
	return nil
}

func (r *recordingWebhooks) sent() []notify.Webhook {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Webhook(nil), r.got...)
}

// conflictingBackend never wins a balance swap.
type conflictingBackend struct {
	repository.Backend
}

func (conflictingBackend) SwapBalance(context.Context, repository.BalanceSwap) (bool, error) {
	return false, nil
}

type fixture struct {
	t           *testing.T
	backend     *repository.SQLite
	storage     *repository.Resolver
	merchant    *models.Merchant
	bank        *models.Bank
	ledger      *Ledger
	assigner    *Assigner
	queue       *inlineQueue
	notes       *recordingNotifier
	hooks       *recordingWebhooks
	orders      *OrderService
	withdrawals *WithdrawalService
}

func newFixture(t *testing.T, mutate func(m *models.Merchant)) *fixture {
	t.Helper()
	backend := testutil.SQLite(t)
	storage, err := repository.NewResolver(repository.ResolverConfig{
		Order:    []string{domain.BackendSQLite},
		Prefixes: map[string]string{domain.BackendSQLite: "SQL"},
	}, backend)
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		backend:  backend,
		storage:  storage,
		merchant: testutil.Merchant(t, backend, mutate),
		bank:     testutil.Bank(t, backend),
		ledger:   NewLedger(LedgerConfig{MaxAttempts: 50, MinBackoff: time.Millisecond, MaxBackoff: 3 * time.Millisecond}),
		assigner: NewAssigner(0),
		queue:    &inlineQueue{},
		notes:    &recordingNotifier{},
		hooks:    &recordingWebhooks{},
	}
	f.orders = NewOrderService(
		OrderConfig{PaymentPageURL: "https://pay.example", PaymentLinkKey: "link-key"},
		storage,
		NewValidator(storage, gateway.NewStaticDirectory()),
		domain.NewOrderIDGenerator(),
		qr.NewResolver(qr.Config{Method: qr.MethodRemote, ServiceURL: "https://img.example"}),
		f.assigner,
		f.ledger,
		f.queue,
		f.notes,
	)
	f.withdrawals = NewWithdrawalService(storage, f.assigner, f.ledger, f.queue, f.hooks)
	return f
}

func (f *fixture) session() Session {
	return Session{Merchant: f.merchant, Backend: f.backend}
}

func (f *fixture) balance() models.Balance {
	f.t.Helper()
	b, err := f.backend.GetMerchantBalance(context.Background(), f.merchant.ID)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) orderRows() []models.Order {
	f.t.Helper()
	rows, err := f.backend.ListOrders(context.Background(), repository.OrderFilter{MerchantID: f.merchant.ID})
	require.NoError(f.t, err)
	return rows
}

func deposit(bankID string, amount int64) OrderRequest {
	return OrderRequest{
		Kind:        domain.KindDeposit,
		Amount:      json.RawMessage(jsonInt(amount)),
		BankID:      bankID,
		CallbackURL: "https://merchant.example/callback",
	}
}

func withdraw(amount int64) OrderRequest {
	return OrderRequest{
		Kind:                 domain.KindWithdraw,
		Amount:               json.RawMessage(jsonInt(amount)),
		BankCode:             "VCB",
		ReceiveAccountNumber: "0123456789",
		ReceiveOwnerName:     "Nguyễn Văn A",
		CallbackURL:          "https://merchant.example/callback",
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
