package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchPlan(t *testing.T) {
	cfg := BatchConfig{}.withDefaults()
	tests := []struct {
		n         int
		strategy  string
		group     int
		wantError error
	}{
		{n: 0, wantError: ErrEmptyBatch},
		{n: 1, strategy: StrategyDirect, group: 1},
		{n: 2, strategy: StrategyParallel, group: 2},
		{n: 15, strategy: StrategyParallel, group: 15},
		{n: 20, strategy: StrategyParallel, group: 20},
		{n: 21, strategy: StrategyBatched, group: 10},
		{n: 100, strategy: StrategyBatched, group: 10},
		{n: 101, strategy: StrategyBatched, group: 5},
		{n: 200, strategy: StrategyBatched, group: 5},
		{n: 201, wantError: ErrBatchTooLarge},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			strategy, group, err := cfg.plan(tt.n)
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, strategy)
			assert.Equal(t, tt.group, group)
		})
	}
}

func TestCreateBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Staff(t, f.backend, "ready", true)
	start := f.balance()

	reqs := make([]OrderRequest, 15)
	bad := map[int]bool{2: true, 7: true, 13: true}
	for i := range reqs {
		reqs[i] = withdraw(10_000)
		if bad[i] {
			reqs[i].ReceiveAccountNumber = "x"
		}
	}

	res, err := f.orders.CreateBatch(context.Background(), f.session(), "198.51.100.4", reqs)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, BatchSummary{Total: 15, SuccessCount: 12, FailureCount: 3, Strategy: StrategyParallel}, res.Summary)
	require.Len(t, res.Results, 15)
	for i, r := range res.Results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, !bad[i], r.Success, "order %d", i)
		if bad[i] {
			assert.Equal(t, "receiveAccountNumber", r.Field)
			assert.Nil(t, r.Data)
		} else {
			require.NotNil(t, r.Data)
			assert.Equal(t, domain.StatusPending, r.Data.Status)
		}
	}

	rows := f.orderRows()
	assert.Len(t, rows, 12)
	assertAmountsConserved(t, rows)
	assert.Equal(t, start.Available-12*10_000, f.balance().Available)
}

func TestCreateBatchSingleMalformedOrder(t *testing.T) {
	f := newFixture(t, nil)
	reqs := make([]OrderRequest, 30)
	for i := range reqs {
		reqs[i] = deposit(f.bank.ID, 20_000)
	}
	reqs[17].Amount = json.RawMessage(`"oops"`)

	res, err := f.orders.CreateBatch(context.Background(), f.session(), "198.51.100.4", reqs)
	require.NoError(t, err)
	assert.Equal(t, StrategyBatched, res.Summary.Strategy)
	assert.Equal(t, 29, res.Summary.SuccessCount)
	assert.Equal(t, 1, res.Summary.FailureCount)
	for i, r := range res.Results {
		assert.Equal(t, i != 17, r.Success, "order %d", i)
	}
	assert.Len(t, f.orderRows(), 29)
}

func TestCreateBatchOverCap(t *testing.T) {
	f := newFixture(t, nil)
	reqs := make([]OrderRequest, f.orders.Cap()+1)
	_, err := f.orders.CreateBatch(context.Background(), f.session(), "198.51.100.4", reqs)
	require.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Empty(t, f.orderRows())
}

func TestDecodeOrders(t *testing.T) {
	t.Run("single object", func(t *testing.T) {
		reqs, batch, err := DecodeOrders([]byte(`{"orderType":"deposit","amount":50000,"bankId":"b1","callbackUrl":"https://x"}`))
		require.NoError(t, err)
		assert.False(t, batch)
		require.Len(t, reqs, 1)
		assert.Equal(t, domain.KindDeposit, reqs[0].Kind)
	})

	t.Run("bare array", func(t *testing.T) {
		reqs, batch, err := DecodeOrders([]byte(` [{"orderType":"deposit"},{"orderType":"withdraw"}]`))
		require.NoError(t, err)
		assert.True(t, batch)
		assert.Len(t, reqs, 2)
	})

	t.Run("envelope applies globals", func(t *testing.T) {
		reqs, batch, err := DecodeOrders([]byte(`{
			"globalOrderType": "deposit",
			"globalCallbackUrl": "https://cb",
			"globalBankId": "b1",
			"orders": [{"amount": 1}, {"amount": 2, "orderType": "withdraw", "callbackUrl": "https://own"}]
		}`))
		require.NoError(t, err)
		assert.True(t, batch)
		require.Len(t, reqs, 2)
		assert.Equal(t, domain.KindDeposit, reqs[0].Kind)
		assert.Equal(t, "https://cb", reqs[0].CallbackURL)
		assert.Equal(t, "b1", reqs[0].BankID)
		assert.Equal(t, domain.KindWithdraw, reqs[1].Kind)
		assert.Equal(t, "https://own", reqs[1].CallbackURL)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, body := range []string{``, `nope`, `[1,2`, `{"orders": 3}`} {
			_, _, err := DecodeOrders([]byte(body))
			assert.Error(t, err, body)
		}
	})
}
