package models

import (
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
)

// Order is a merchant deposit or withdrawal request.
type Order struct {
	OrderID         string             `json:"order_id"`
	MerchantOrderID string             `json:"merchant_order_id,omitempty"`
	Kind            domain.OrderKind   `json:"order_type"`
	Status          domain.OrderStatus `json:"status"`
	StatusReason    string             `json:"status_reason,omitempty"`

	Amount       int64 `json:"amount"`
	PaidAmount   int64 `json:"paid_amount"`
	UnpaidAmount int64 `json:"unpaid_amount"`

	BankID               string `json:"bank_id,omitempty"`
	BankCode             string `json:"bank_code,omitempty"`
	ReceiveAccountNumber string `json:"receive_account_number,omitempty"`
	ReceiveOwnerName     string `json:"receive_owner_name,omitempty"`
	ReceiveBankName      string `json:"receive_bank_name,omitempty"`

	QRPayload *string `json:"qr_payload,omitempty"`

	MerchantID          string `json:"merchant_id"`
	PositiveAccountID   string `json:"positive_account_id,omitempty"`
	NegativeAccountID   string `json:"negative_account_id,omitempty"`
	AssignedProcessorID string `json:"assigned_processor_id,omitempty"`

	CreatedIP    string `json:"created_ip,omitempty"`
	IsSuspicious bool   `json:"is_suspicious"`

	SuccessURL  string `json:"success_url,omitempty"`
	FailedURL   string `json:"failed_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
	CallbackURL string `json:"callback_url"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Merchant is the account that owns orders and carries the available balance.
type Merchant struct {
	ID         string `json:"id"`
	PublicID   string `json:"public_id"`
	Name       string `json:"name"`
	APIKeyHash string `json:"-"`
	WebhookKey string `json:"-"`
	Active     bool   `json:"active"`

	Balance          int64 `json:"balance"`
	AvailableBalance int64 `json:"available_balance"`
	Version          int64 `json:"version"`

	MinDepositAmount  int64 `json:"min_deposit_amount"`
	MaxDepositAmount  int64 `json:"max_deposit_amount"`
	MinWithdrawAmount int64 `json:"min_withdraw_amount"`
	MaxWithdrawAmount int64 `json:"max_withdraw_amount"`

	DepositIPs         []string `json:"deposit_ips"`
	WithdrawIPs        []string `json:"withdraw_ips"`
	EnforceIPWhitelist bool     `json:"enforce_ip_whitelist"`
}

// Limits returns the min/max amount bounds for kind. Zero disables a bound.
func (m *Merchant) Limits(kind domain.OrderKind) (min, max int64) {
	if kind == domain.KindWithdraw {
		return m.MinWithdrawAmount, m.MaxWithdrawAmount
	}
	return m.MinDepositAmount, m.MaxDepositAmount
}

// AllowedIPs returns the allowlist for kind.
func (m *Merchant) AllowedIPs(kind domain.OrderKind) []string {
	if kind == domain.KindWithdraw {
		return m.WithdrawIPs
	}
	return m.DepositIPs
}

// Balance is a versioned snapshot of a merchant's balances.
type Balance struct {
	MerchantID string `json:"merchant_id"`
	Current    int64  `json:"balance"`
	Available  int64  `json:"available_balance"`
	Version    int64  `json:"version"`
}

// Bank is a registered receiving account used for deposits.
type Bank struct {
	ID            string `json:"id"`
	BIN           string `json:"bin"`
	AccountNumber string `json:"account_number"`
	OwnerName     string `json:"owner_name"`
	DisplayName   string `json:"display_name"`
	Active        bool   `json:"active"`
}

// Staff is a dashboard user. Ready staff form the withdrawal processor pool.
type Staff struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Ready        bool      `json:"ready"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProcessorLoad pairs a ready processor with its pending withdrawal count.
type ProcessorLoad struct {
	ProcessorID string `json:"processor_id"`
	Username    string `json:"username"`
	Pending     int64  `json:"pending"`
}

// LedgerEntry records one balance movement tied to an order.
type LedgerEntry struct {
	ID             string    `json:"id"`
	MerchantID     string    `json:"merchant_id"`
	OrderID        string    `json:"order_id"`
	Amount         int64     `json:"amount"`
	Direction      string    `json:"direction"`
	BalanceAfter   int64     `json:"balance_after"`
	AvailableAfter int64     `json:"available_after"`
	CreatedAt      time.Time `json:"created_at"`
}
