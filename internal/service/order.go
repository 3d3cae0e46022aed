package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/notify"
	"github.com/ayo6706/payorder-gateway/internal/observability"
	"github.com/ayo6706/payorder-gateway/internal/qr"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRequestBudget       = 25 * time.Second
	defaultCompensationTimeout = 10 * time.Second
	defaultIDAttempts          = 3
)

// QRResolver renders the payment code for an order.
type QRResolver interface {
	Resolve(ctx context.Context, req qr.Request) *string
}

// Notifier sends best-effort staff notifications.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

type OrderConfig struct {
	PaymentPageURL      string
	PaymentLinkKey      string
	RequestBudget       time.Duration
	CompensationTimeout time.Duration
	IDAttempts          int
	Batch               BatchConfig
}

// OrderService runs the order creation pipeline and merchant order queries.
type OrderService struct {
	cfg       OrderConfig
	storage   Storage
	validator *Validator
	ids       *domain.OrderIDGenerator
	qr        QRResolver
	assigner  *Assigner
	ledger    *Ledger
	queue     notify.Enqueuer
	notifier  Notifier
	links     paymentLinks
	now       func() time.Time
}

func NewOrderService(
	cfg OrderConfig,
	storage Storage,
	validator *Validator,
	ids *domain.OrderIDGenerator,
	qrResolver QRResolver,
	assigner *Assigner,
	ledger *Ledger,
	queue notify.Enqueuer,
	notifier Notifier,
) *OrderService {
	if cfg.RequestBudget <= 0 {
		cfg.RequestBudget = defaultRequestBudget
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = defaultCompensationTimeout
	}
	if cfg.IDAttempts <= 0 {
		cfg.IDAttempts = defaultIDAttempts
	}
	cfg.Batch = cfg.Batch.withDefaults()
	return &OrderService{
		cfg:       cfg,
		storage:   storage,
		validator: validator,
		ids:       ids,
		qr:        qrResolver,
		assigner:  assigner,
		ledger:    ledger,
		queue:     queue,
		notifier:  notifier,
		links:     newPaymentLinks(cfg.PaymentPageURL, cfg.PaymentLinkKey),
		now:       time.Now,
	}
}

// OrderView is the merchant-facing shape of an order. Withdrawal QR codes are
// for staff only and never appear here.
type OrderView struct {
	OrderID         string             `json:"orderId"`
	MerchantOrderID string             `json:"merchantOrderId,omitempty"`
	Kind            domain.OrderKind   `json:"orderType"`
	Status          domain.OrderStatus `json:"status"`
	StatusReason    string             `json:"statusReason,omitempty"`
	Amount          int64              `json:"amount"`
	PaidAmount      int64              `json:"paidAmount"`
	UnpaidAmount    int64              `json:"unpaidAmount"`
	BankName        string             `json:"bankName,omitempty"`
	QRPayload       *string            `json:"qrPayload,omitempty"`
	PaymentURL      string             `json:"paymentUrl,omitempty"`
	IsSuspicious    bool               `json:"isSuspicious"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func (s *OrderService) view(o *models.Order, b repository.Backend) *OrderView {
	v := &OrderView{
		OrderID:         o.OrderID,
		MerchantOrderID: o.MerchantOrderID,
		Kind:            o.Kind,
		Status:          o.Status,
		StatusReason:    o.StatusReason,
		Amount:          o.Amount,
		PaidAmount:      o.PaidAmount,
		UnpaidAmount:    o.UnpaidAmount,
		BankName:        o.ReceiveBankName,
		IsSuspicious:    o.IsSuspicious,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.Kind == domain.KindDeposit {
		v.QRPayload = o.QRPayload
		v.PaymentURL = s.links.URL(o.OrderID, b.Name(), b.Durable())
	}
	return v
}

// Create validates and persists one order. Withdrawals debit the merchant's
// available balance after the write; if that fails the order is cancelled
// and the ledger error is returned.
func (s *OrderService) Create(ctx context.Context, sess Session, clientIP string, req OrderRequest) (*OrderView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestBudget)
	defer cancel()

	merchant, backend := sess.Merchant, sess.Backend
	result, err := s.validator.Validate(ctx, req, merchant, backend)
	if err != nil {
		observability.IncrementOrderCreated(string(req.Kind), backend.Name(), "error")
		return nil, err
	}
	if !result.Valid {
		observability.IncrementOrderCreated(string(req.Kind), backend.Name(), "invalid")
		return nil, result.Err()
	}

	suspicious := !ipAllowed(clientIP, merchant.AllowedIPs(req.Kind))
	if suspicious && merchant.EnforceIPWhitelist {
		observability.IncrementOrderCreated(string(req.Kind), backend.Name(), "ip_rejected")
		return nil, fmt.Errorf("%w: %s", ErrIPNotAllowed, clientIP)
	}

	order := &models.Order{
		MerchantOrderID:   req.MerchantOrderID,
		Kind:              req.Kind,
		Status:            domain.InitialStatus(req.Kind),
		Amount:            result.Amount,
		UnpaidAmount:      result.Amount,
		BankID:            req.BankID,
		BankCode:          req.BankCode,
		ReceiveBankName:   result.BankDisplayName,
		MerchantID:        merchant.ID,
		PositiveAccountID: merchant.ID,
		CreatedIP:         clientIP,
		IsSuspicious:      suspicious,
		SuccessURL:        req.SuccessURL,
		FailedURL:         req.FailedURL,
		CancelURL:         req.CancelURL,
		CallbackURL:       req.CallbackURL,
	}
	qrReq := qr.Request{Kind: req.Kind, BankBIN: result.BankBIN, Amount: result.Amount}
	if req.Kind == domain.KindDeposit {
		order.NegativeAccountID = result.Bank.ID
		qrReq.AccountNumber, qrReq.AccountName = result.Bank.AccountNumber, result.Bank.OwnerName
	} else {
		order.ReceiveAccountNumber = req.ReceiveAccountNumber
		order.ReceiveOwnerName = req.ReceiveOwnerName
		qrReq.AccountNumber, qrReq.AccountName = req.ReceiveAccountNumber, req.ReceiveOwnerName
		processor, err := s.assigner.PreAssign(ctx, backend, s.now())
		if err != nil {
			zap.L().Warn("pre-assignment skipped", zap.String("merchant_id", merchant.ID), zap.Error(err))
		}
		order.AssignedProcessorID = processor
	}

	if err := s.persist(ctx, backend, order, qrReq); err != nil {
		observability.IncrementOrderCreated(string(req.Kind), backend.Name(), "error")
		return nil, err
	}

	if order.Kind == domain.KindWithdraw {
		if err := s.lockFunds(ctx, backend, order); err != nil {
			observability.IncrementOrderCreated(string(req.Kind), backend.Name(), "compensated")
			return nil, err
		}
		s.afterWithdraw(ctx, backend, order)
	}

	observability.IncrementOrderCreated(string(req.Kind), backend.Name(), "ok")
	zap.L().Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("merchant_id", merchant.ID),
		zap.String("kind", string(order.Kind)),
		zap.Int64("amount", order.Amount),
		zap.String("backend", backend.Name()),
		zap.Bool("suspicious", suspicious),
	)
	return s.view(order, backend), nil
}

// persist writes the order, drawing a fresh id when the store reports a
// collision.
func (s *OrderService) persist(ctx context.Context, backend repository.Backend, order *models.Order, qrReq qr.Request) error {
	prefix := s.storage.Prefix(backend.Name())
	for attempt := 1; ; attempt++ {
		id, err := s.ids.Generate(prefix)
		if err != nil {
			return fmt.Errorf("generate order id: %w", err)
		}
		order.OrderID = id
		qrReq.OrderID = id
		order.QRPayload = s.qr.Resolve(ctx, qrReq)

		err = backend.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrDuplicateOrderID) || attempt >= s.cfg.IDAttempts {
			return fmt.Errorf("persist order: %w", err)
		}
		zap.L().Warn("order id collision, regenerating", zap.String("order_id", id), zap.Int("attempt", attempt))
	}
}

// lockFunds debits the withdrawal amount. It runs detached from the request
// so a client disconnect cannot strand a pending withdrawal without a debit.
func (s *OrderService) lockFunds(ctx context.Context, backend repository.Backend, order *models.Order) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()

	res, err := s.ledger.Adjust(ctx, backend, Adjustment{
		MerchantID:       order.MerchantID,
		OrderID:          order.OrderID,
		Delta:            order.Amount,
		AffectsAvailable: true,
	})
	if err == nil {
		return nil
	}

	zap.L().Error("withdrawal debit failed, cancelling order",
		zap.String("order_id", order.OrderID),
		zap.String("merchant_id", order.MerchantID),
		zap.Int("attempts", res.RetryAttempt),
		zap.Error(err),
	)
	cancelErr := backend.UpdateOrderStatus(ctx, repository.StatusUpdate{
		OrderID: order.OrderID,
		From:    domain.StatusPending,
		To:      domain.StatusCanceled,
		Reason:  "balance lock failed",
	})
	if cancelErr != nil {
		observability.IncrementLedgerMismatch("compensation_failed")
		zap.L().Error("compensating cancel failed, left for reconciliation",
			zap.String("order_id", order.OrderID),
			zap.Error(cancelErr),
		)
		s.notifier.Notify(ctx, notify.Notification{
			Kind:       domain.NotifyLedgerCompensate,
			MerchantID: order.MerchantID,
			Roles:      []string{domain.RoleAdmin},
			OrderIDs:   []string{order.OrderID},
			Payload:    map[string]string{"error": err.Error()},
		})
	}
	return fmt.Errorf("lock funds for %s: %w", order.OrderID, err)
}

// afterWithdraw queues assignment and staff notification. Failures here never
// reach the merchant.
func (s *OrderService) afterWithdraw(ctx context.Context, backend repository.Backend, order *models.Order) {
	orderID, merchantID, preassigned := order.OrderID, order.MerchantID, order.AssignedProcessorID
	err := s.queue.Enqueue("withdraw_created", func(ctx context.Context) error {
		processor := preassigned
		if processor == "" {
			var err error
			processor, err = s.assigner.AssignReady(ctx, backend, orderID)
			if err != nil {
				return err
			}
		}
		n := notify.Notification{
			Kind:       domain.NotifyWithdrawCreated,
			MerchantID: merchantID,
			Roles:      []string{domain.RoleStaff, domain.RoleAdmin},
			OrderIDs:   []string{orderID},
			Payload:    map[string]string{"processorId": processor},
		}
		if processor == "" {
			n.Kind = domain.NotifyWithdrawBacklog
			n.Roles = []string{domain.RoleAdmin}
		}
		s.notifier.Notify(ctx, n)
		return nil
	})
	if err != nil {
		zap.L().Warn("withdrawal follow-up not queued", zap.String("order_id", orderID), zap.Error(err))
	}
}

// Get returns an order owned by the session's merchant. Orders of other
// merchants are reported as not found.
func (s *OrderService) Get(ctx context.Context, sess Session, orderID string) (*OrderView, error) {
	backend, err := s.storage.ForOrder(orderID)
	if err != nil {
		return nil, err
	}
	o, err := backend.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PositiveAccountID != sess.Merchant.ID {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	return s.view(o, backend), nil
}

// List returns the merchant's most recent orders on the session backend.
func (s *OrderService) List(ctx context.Context, sess Session, kind domain.OrderKind, limit int) ([]*OrderView, error) {
	if kind != "" && !kind.Valid() {
		return nil, models.NewValidationError("orderType", fmt.Sprintf("unknown orderType %q", kind))
	}
	orders, err := sess.Backend.ListOrders(ctx, repository.OrderFilter{
		MerchantID: sess.Merchant.ID,
		Kind:       kind,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	views := make([]*OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, s.view(&orders[i], sess.Backend))
	}
	return views, nil
}

// ResolvePaymentLink maps a signed payment token back to its deposit.
func (s *OrderService) ResolvePaymentLink(ctx context.Context, token string) (*OrderView, error) {
	orderID, _, err := s.links.Parse(token)
	if err != nil {
		return nil, err
	}
	backend, err := s.storage.ForOrder(orderID)
	if err != nil {
		return nil, err
	}
	o, err := backend.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Kind != domain.KindDeposit {
		return nil, ErrInvalidPaymentLink
	}
	return s.view(o, backend), nil
}
