package repository

import (
	"context"
	"slices"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
)

// OrderFilter narrows ListOrders. Zero values mean "any".
type OrderFilter struct {
	MerchantID    string
	Kind          domain.OrderKind
	Statuses      []domain.OrderStatus
	ProcessorID   string
	Unassigned    bool
	CreatedBefore time.Time
	Limit         int
}

// StatusUpdate moves an order from one status to another. The write only
// applies while the stored status still equals From.
type StatusUpdate struct {
	OrderID    string
	From       domain.OrderStatus
	To         domain.OrderStatus
	PaidAmount int64
	Reason     string
}

// BalanceSwap replaces a merchant's balances if the stored version still
// equals ExpectedVersion, recording Entry in the same write.
type BalanceSwap struct {
	MerchantID      string
	ExpectedVersion int64
	Current         int64
	Available       int64
	Entry           models.LedgerEntry
}

type MerchantStore interface {
	GetMerchant(ctx context.Context, id string) (*models.Merchant, error)
	GetMerchantByPublicID(ctx context.Context, publicID string) (*models.Merchant, error)
	GetMerchantBalance(ctx context.Context, merchantID string) (models.Balance, error)
	// SwapBalance reports false without error when the version check fails.
	// A second entry for the same order and direction fails with
	// models.ErrLedgerEntryExists and leaves the balance unchanged.
	SwapBalance(ctx context.Context, swap BalanceSwap) (bool, error)
	ListLedgerEntries(ctx context.Context, orderID string) ([]models.LedgerEntry, error)
}

type BankStore interface {
	GetBank(ctx context.Context, bankID string) (*models.Bank, error)
	IsBlacklisted(ctx context.Context, bankCode, accountNumber string) (bool, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, update StatusUpdate) error
	// AssignProcessor sets the processor of a pending withdrawal whose current
	// processor equals expected ("" for unassigned). It reports whether a row changed.
	AssignProcessor(ctx context.Context, orderID, processorID, expected string) (bool, error)
}

type StaffStore interface {
	GetStaff(ctx context.Context, id string) (*models.Staff, error)
	GetStaffByUsername(ctx context.Context, username string) (*models.Staff, error)
	SetStaffReady(ctx context.Context, id string, ready bool) error
	ListReadyProcessors(ctx context.Context) ([]models.Staff, error)
	CountPendingAssigned(ctx context.Context, processorID string) (int64, error)
}

// Seeder provisions reference data out of band (CLI, fixtures, tests).
type Seeder interface {
	Migrate(ctx context.Context) error
	UpsertMerchant(ctx context.Context, m *models.Merchant) error
	UpsertBank(ctx context.Context, b *models.Bank) error
	UpsertStaff(ctx context.Context, s *models.Staff) error
	AddBlacklist(ctx context.Context, bankCode, accountNumber string) error
}

// Backend is one storage implementation of the gateway's data.
type Backend interface {
	Name() string
	// Durable is false for cache-backed fallback stores.
	Durable() bool
	Ping(ctx context.Context) error

	MerchantStore
	BankStore
	OrderStore
	StaffStore
	Seeder
}

const defaultListLimit = 100

func (f OrderFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func (f OrderFilter) matches(o *models.Order) bool {
	if f.MerchantID != "" && o.MerchantID != f.MerchantID {
		return false
	}
	if f.Kind != "" && o.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
		return false
	}
	if f.ProcessorID != "" && o.AssignedProcessorID != f.ProcessorID {
		return false
	}
	if f.Unassigned && o.AssignedProcessorID != "" {
		return false
	}
	if !f.CreatedBefore.IsZero() && !o.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}
