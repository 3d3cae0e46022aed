package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireStaleDeposits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		req := deposit(f.bank.ID, 30_000)
		if i == 2 {
			req.CallbackURL = "https://merchant.example/other"
		}
		v, err := f.orders.Create(ctx, f.session(), "198.51.100.4", req)
		require.NoError(t, err)
		ids = append(ids, v.OrderID)
	}
	wd, err := f.orders.Create(ctx, f.session(), "198.51.100.4", withdraw(30_000))
	require.NoError(t, err)

	svc := NewExpiryService(f.storage, f.queue, f.hooks, f.notes, time.Minute)

	summary, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Expired)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	summary, err = svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpirySummary{Scanned: 3, Expired: 3, Webhooks: 2}, summary)

	for _, id := range ids {
		o, err := f.backend.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, o.Status)
		assert.Equal(t, "expired", o.StatusReason)
		assert.Equal(t, o.Amount, o.UnpaidAmount)
	}
	o, err := f.backend.GetOrder(ctx, wd.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, o.Status)

	hooks := f.hooks.sent()
	require.Len(t, hooks, 2)
	byURL := map[string]int{}
	for _, h := range hooks {
		assert.True(t, h.Scheduled)
		events, ok := h.Payload.([]StatusEvent)
		require.True(t, ok)
		assert.Len(t, h.OrderIDs, len(events))
		byURL[h.URL] = len(events)
	}
	assert.Equal(t, map[string]int{
		"https://merchant.example/callback": 2,
		"https://merchant.example/other":    1,
	}, byURL)
	assert.Contains(t, f.notes.kinds(), domain.NotifyDepositsExpired)

	summary, err = svc.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Scanned)
}
