package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/notify"
	"github.com/ayo6706/payorder-gateway/internal/observability"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"go.uber.org/zap"
)

type Decision string

const (
	DecisionComplete Decision = "complete"
	DecisionFail     Decision = "fail"
	DecisionCancel   Decision = "cancel"
)

func (d Decision) status() (domain.OrderStatus, bool) {
	switch d {
	case DecisionComplete:
		return domain.StatusCompleted, true
	case DecisionFail:
		return domain.StatusFailed, true
	case DecisionCancel:
		return domain.StatusCanceled, true
	}
	return "", false
}

// Actor is the staff member performing an operation.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// WebhookSender delivers merchant callbacks.
type WebhookSender interface {
	Send(ctx context.Context, w notify.Webhook) error
}

// StatusEvent is the merchant callback body for one order.
type StatusEvent struct {
	OrderID         string             `json:"orderId"`
	MerchantOrderID string             `json:"merchantOrderId,omitempty"`
	OrderType       domain.OrderKind   `json:"orderType"`
	Status          domain.OrderStatus `json:"status"`
	Amount          int64              `json:"amount"`
	PaidAmount      int64              `json:"paidAmount"`
	Reason          string             `json:"reason,omitempty"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func statusEvent(o *models.Order) StatusEvent {
	return StatusEvent{
		OrderID:         o.OrderID,
		MerchantOrderID: o.MerchantOrderID,
		OrderType:       o.Kind,
		Status:          o.Status,
		Amount:          o.Amount,
		PaidAmount:      o.PaidAmount,
		Reason:          o.StatusReason,
		UpdatedAt:       o.UpdatedAt,
	}
}

// WithdrawalService backs the staff dashboard.
type WithdrawalService struct {
	storage  Storage
	assigner *Assigner
	ledger   *Ledger
	queue    notify.Enqueuer
	webhooks WebhookSender
}

func NewWithdrawalService(storage Storage, assigner *Assigner, ledger *Ledger, queue notify.Enqueuer, webhooks WebhookSender) *WithdrawalService {
	return &WithdrawalService{storage: storage, assigner: assigner, ledger: ledger, queue: queue, webhooks: webhooks}
}

type ResolveRequest struct {
	OrderID  string
	Decision Decision
	Reason   string
	Actor    Actor
}

// Resolve moves a pending withdrawal to its final status. Completion settles
// the merchant's current balance; failure and cancellation return the locked
// amount to the available balance.
func (s *WithdrawalService) Resolve(ctx context.Context, req ResolveRequest) (*models.Order, error) {
	target, ok := req.Decision.status()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, req.Decision)
	}
	backend, err := s.storage.ForOrder(req.OrderID)
	if err != nil {
		return nil, err
	}
	order, err := backend.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Kind != domain.KindWithdraw {
		return nil, ErrNotWithdrawal
	}
	if !req.Actor.IsAdmin() && order.AssignedProcessorID != req.Actor.ID {
		return nil, ErrNotAssigned
	}
	if !domain.CanTransition(order.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, order.Status, target)
	}

	var paid int64
	if target == domain.StatusCompleted {
		paid = order.Amount
	}
	err = backend.UpdateOrderStatus(ctx, repository.StatusUpdate{
		OrderID:    order.OrderID,
		From:       order.Status,
		To:         target,
		PaidAmount: paid,
		Reason:     req.Reason,
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementResolution(string(req.Decision))

	adj := Adjustment{MerchantID: order.MerchantID, OrderID: order.OrderID, Delta: order.Amount}
	if target == domain.StatusCompleted {
		adj.AffectsCurrent = true
	} else {
		adj.AffectsAvailable, adj.IsCredit = true, true
	}
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultCompensationTimeout)
	defer cancel()
	res, err := s.ledger.Adjust(ledgerCtx, backend, adj)
	switch {
	case err != nil:
		observability.IncrementLedgerMismatch("resolution")
		zap.L().Error("ledger update after resolution failed, left for reconciliation",
			zap.String("order_id", order.OrderID),
			zap.String("decision", string(req.Decision)),
			zap.Error(err),
		)
	case res.AlreadyApplied:
		zap.L().Info("resolution ledger entry already recorded",
			zap.String("order_id", order.OrderID),
			zap.String("decision", string(req.Decision)),
		)
	}

	updated, err := backend.GetOrder(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}
	zap.L().Info("withdrawal resolved",
		zap.String("order_id", updated.OrderID),
		zap.String("decision", string(req.Decision)),
		zap.String("actor_id", req.Actor.ID),
	)
	s.queueWebhook(backend, updated)
	return updated, nil
}

func (s *WithdrawalService) queueWebhook(backend repository.Backend, o *models.Order) {
	if o.CallbackURL == "" {
		return
	}
	event := statusEvent(o)
	err := s.queue.Enqueue("webhook", func(ctx context.Context) error {
		m, err := backend.GetMerchant(ctx, o.MerchantID)
		if err != nil {
			return fmt.Errorf("load merchant for webhook: %w", err)
		}
		// the sender owns the retry policy; the queue must not add attempts
		if err := s.webhooks.Send(ctx, notify.Webhook{
			URL:      o.CallbackURL,
			APIKey:   m.WebhookKey,
			Payload:  event,
			OrderIDs: []string{o.OrderID},
		}); err != nil {
			zap.L().Warn("status webhook failed", zap.String("order_id", o.OrderID), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		zap.L().Warn("webhook not queued", zap.String("order_id", o.OrderID), zap.Error(err))
	}
}

// Pending lists pending withdrawals held by the actor, or every pending
// withdrawal when all is set by an admin.
func (s *WithdrawalService) Pending(ctx context.Context, actor Actor, all bool) ([]models.Order, error) {
	backend, err := s.storage.Active(ctx)
	if err != nil {
		return nil, err
	}
	filter := repository.OrderFilter{
		Kind:     domain.KindWithdraw,
		Statuses: []domain.OrderStatus{domain.StatusPending},
	}
	if !all || !actor.IsAdmin() {
		filter.ProcessorID = actor.ID
	}
	return backend.ListOrders(ctx, filter)
}

// SetReady adds or removes the actor from the processor pool.
func (s *WithdrawalService) SetReady(ctx context.Context, actor Actor, ready bool) error {
	backend, err := s.storage.Active(ctx)
	if err != nil {
		return err
	}
	return backend.SetStaffReady(ctx, actor.ID, ready)
}

// Processors returns the ready pool with current loads.
func (s *WithdrawalService) Processors(ctx context.Context) ([]models.ProcessorLoad, error) {
	backend, err := s.storage.Active(ctx)
	if err != nil {
		return nil, err
	}
	return s.assigner.ListReady(ctx, backend)
}

// Reassign runs a bulk assignment pass on the active backend.
func (s *WithdrawalService) Reassign(ctx context.Context) (ReassignSummary, error) {
	backend, err := s.storage.Active(ctx)
	if err != nil {
		return ReassignSummary{}, err
	}
	return s.assigner.Reassign(ctx, backend)
}
