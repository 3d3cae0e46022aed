package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/notify"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultDepositTTL  = 30 * time.Minute
	defaultExpiryBatch = 500
)

type ExpirySummary struct {
	Scanned  int `json:"scanned"`
	Expired  int `json:"expired"`
	Webhooks int `json:"webhooks"`
}

// ExpiryService cancels deposits that stayed in processing past their TTL and
// reports them to each callback URL in one array webhook.
type ExpiryService struct {
	storage  Storage
	queue    notify.Enqueuer
	webhooks WebhookSender
	notifier Notifier
	ttl      time.Duration
	batch    int
	now      func() time.Time
}

func NewExpiryService(storage Storage, queue notify.Enqueuer, webhooks WebhookSender, notifier Notifier, ttl time.Duration) *ExpiryService {
	if ttl <= 0 {
		ttl = defaultDepositTTL
	}
	return &ExpiryService{
		storage:  storage,
		queue:    queue,
		webhooks: webhooks,
		notifier: notifier,
		ttl:      ttl,
		batch:    defaultExpiryBatch,
		now:      time.Now,
	}
}

type callbackGroup struct {
	merchantID string
	url        string
}

func (s *ExpiryService) Run(ctx context.Context) (ExpirySummary, error) {
	backend, err := s.storage.Active(ctx)
	if err != nil {
		return ExpirySummary{}, err
	}
	stale, err := backend.ListOrders(ctx, repository.OrderFilter{
		Kind:          domain.KindDeposit,
		Statuses:      []domain.OrderStatus{domain.StatusProcessing},
		CreatedBefore: s.now().Add(-s.ttl),
		Limit:         s.batch,
	})
	if err != nil {
		return ExpirySummary{}, fmt.Errorf("list stale deposits: %w", err)
	}

	summary := ExpirySummary{Scanned: len(stale)}
	groups := make(map[callbackGroup][]StatusEvent)
	byMerchant := make(map[string][]string)
	for i := range stale {
		o := &stale[i]
		err := backend.UpdateOrderStatus(ctx, repository.StatusUpdate{
			OrderID: o.OrderID,
			From:    domain.StatusProcessing,
			To:      domain.StatusCanceled,
			Reason:  "expired",
		})
		if errors.Is(err, models.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("expire %s: %w", o.OrderID, err)
		}
		summary.Expired++
		o.Status, o.StatusReason, o.UpdatedAt = domain.StatusCanceled, "expired", s.now()
		byMerchant[o.MerchantID] = append(byMerchant[o.MerchantID], o.OrderID)
		if o.CallbackURL != "" {
			key := callbackGroup{merchantID: o.MerchantID, url: o.CallbackURL}
			groups[key] = append(groups[key], statusEvent(o))
		}
	}

	for key, events := range groups {
		if s.queueWebhook(backend, key, events) {
			summary.Webhooks++
		}
	}
	for merchantID, ids := range byMerchant {
		s.notifier.Notify(ctx, notify.Notification{
			Kind:       domain.NotifyDepositsExpired,
			MerchantID: merchantID,
			Roles:      []string{domain.RoleAdmin},
			OrderIDs:   ids,
			Payload:    map[string]int{"count": len(ids)},
		})
	}
	if summary.Expired > 0 {
		zap.L().Info("deposits expired", zap.Int("expired", summary.Expired), zap.Int("webhooks", summary.Webhooks))
	}
	return summary, nil
}

func (s *ExpiryService) queueWebhook(backend repository.Backend, key callbackGroup, events []StatusEvent) bool {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.OrderID
	}
	err := s.queue.Enqueue("expiry_webhook", func(ctx context.Context) error {
		m, err := backend.GetMerchant(ctx, key.merchantID)
		if err != nil {
			return fmt.Errorf("load merchant for webhook: %w", err)
		}
		err = s.webhooks.Send(ctx, notify.Webhook{
			URL:       key.url,
			APIKey:    m.WebhookKey,
			Payload:   events,
			OrderIDs:  ids,
			Scheduled: true,
		})
		if err != nil {
			// scheduled deliveries are not retried
			zap.L().Warn("expiry webhook failed", zap.String("url", key.url), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		zap.L().Warn("expiry webhook not queued", zap.String("url", key.url), zap.Error(err))
		return false
	}
	return true
}
