package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/cache"
	"github.com/ayo6706/payorder-gateway/internal/observability"
	"go.uber.org/zap"
)

const DefaultWindow = 5 * time.Minute

// Enqueuer runs work outside the caller's request.
type Enqueuer interface {
	Enqueue(name string, fn func(ctx context.Context) error) error
}

// Notification is a staff-facing event about one or more orders.
type Notification struct {
	Kind       string   `json:"kind"`
	MerchantID string   `json:"merchantId"`
	Roles      []string `json:"roles,omitempty"`
	OrderIDs   []string `json:"orderIds,omitempty"`
	Payload    any      `json:"payload,omitempty"`
}

type DispatcherConfig struct {
	StaffURL string
	Window   time.Duration
	Timeout  time.Duration
}

// Dispatcher delivers staff notifications in the background, at most one per
// kind and merchant per window.
type Dispatcher struct {
	cfg     DispatcherConfig
	queue   Enqueuer
	limiter cache.Limiter
	client  *http.Client
}

func NewDispatcher(cfg DispatcherConfig, queue Enqueuer, limiter cache.Limiter) *Dispatcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Dispatcher{
		cfg:     cfg,
		queue:   queue,
		limiter: limiter,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Notify never fails the caller. Suppressed and failed deliveries are only
// logged and counted.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	key := n.Kind + ":" + n.MerchantID
	allowed, err := d.limiter.Allow(ctx, key, d.cfg.Window)
	if err != nil {
		zap.L().Warn("notification limiter unavailable", zap.String("kind", n.Kind), zap.Error(err))
		allowed = true
	}
	if !allowed {
		observability.IncrementNotification(n.Kind, "rate_limited")
		logPerOrder("notification suppressed", n.Kind, n.OrderIDs, zap.String("merchant_id", n.MerchantID))
		return
	}

	err = d.queue.Enqueue("notify:"+n.Kind, func(ctx context.Context) error {
		return d.deliver(ctx, n)
	})
	if err != nil {
		observability.IncrementNotification(n.Kind, "dropped")
		zap.L().Warn("notification not queued", zap.String("kind", n.Kind), zap.Error(err))
		if relErr := d.limiter.Release(context.WithoutCancel(ctx), key); relErr != nil {
			zap.L().Warn("notification window not released", zap.String("kind", n.Kind), zap.Error(relErr))
		}
	}
}

// deliver posts n to the staff endpoint. Transport errors and timeouts get
// one retry; every outcome is final for the queue.
func (d *Dispatcher) deliver(ctx context.Context, n Notification) error {
	if d.cfg.StaffURL == "" {
		observability.IncrementNotification(n.Kind, "logged")
		logPerOrder("notification", n.Kind, n.OrderIDs, zap.String("merchant_id", n.MerchantID), zap.Strings("roles", n.Roles))
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		observability.IncrementNotification(n.Kind, "error")
		zap.L().Error("notification encode failed", zap.String("kind", n.Kind), zap.Error(err))
		return nil
	}

	const attempts = 2
	var status int
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err = d.post(ctx, body)
		if err == nil || status != 0 || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			observability.IncrementNotification(n.Kind, "retry")
			zap.L().Warn("notification transport error, retrying", zap.String("kind", n.Kind), zap.Error(err))
		}
	}
	if err != nil {
		observability.IncrementNotification(n.Kind, "error")
		logPerOrder("notification failed", n.Kind, n.OrderIDs,
			zap.String("merchant_id", n.MerchantID),
			zap.Error(err),
		)
		return nil
	}

	outcome := "delivered"
	if status >= 300 {
		outcome = "rejected"
	}
	observability.IncrementNotification(n.Kind, outcome)
	logPerOrder("notification "+outcome, n.Kind, n.OrderIDs,
		zap.String("merchant_id", n.MerchantID),
		zap.Int("status", status),
	)
	return nil
}

// post returns the HTTP status when the endpoint answered and 0 on a transport
// error.
func (d *Dispatcher) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.StaffURL, bytes.NewReader(body))
	if err != nil {
		return -1, fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func logPerOrder(msg, kind string, orderIDs []string, fields ...zap.Field) {
	fields = append(fields, zap.String("kind", kind))
	if len(orderIDs) == 0 {
		zap.L().Info(msg, fields...)
		return
	}
	for _, id := range orderIDs {
		zap.L().Info(msg, append(fields, zap.String("order_id", id))...)
	}
}
