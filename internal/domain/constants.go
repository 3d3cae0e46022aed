package domain

// OrderKind distinguishes money flowing in from money flowing out of a merchant.
type OrderKind string

const (
	KindDeposit  OrderKind = "deposit"
	KindWithdraw OrderKind = "withdraw"
)

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	return k == KindDeposit || k == KindWithdraw
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusProcessing OrderStatus = "processing"
	StatusPending    OrderStatus = "pending"
	StatusCompleted  OrderStatus = "completed"
	StatusCanceled   OrderStatus = "canceled"
	StatusFailed     OrderStatus = "failed"
)

const (
	// DirectionDebit and DirectionCredit move the available balance.
	// DirectionSettle moves only the current balance when a withdrawal completes.
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
	DirectionSettle = "settle"

	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Storage backend names. They double as keys for the order id prefix table.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

// Notification kinds.
const (
	NotifyWithdrawCreated  = "withdraw_created"
	NotifyWithdrawBacklog  = "withdraw_unassigned"
	NotifyLedgerCompensate = "withdraw_compensated"
	NotifyOrderResolved    = "order_resolved"
	NotifyDepositsExpired  = "deposits_expired"
)

// InitialStatus returns the status an order of kind k is created with.
func InitialStatus(k OrderKind) OrderStatus {
	if k == KindWithdraw {
		return StatusPending
	}
	return StatusProcessing
}

var orderTransitions = map[OrderStatus]map[OrderStatus]struct{}{
	StatusProcessing: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCanceled:  {},
	},
	StatusPending: {
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCanceled:  {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCanceled:  {},
}

// CanTransition reports whether an order may move from current to next.
func CanTransition(current, next OrderStatus) bool {
	nextStates, ok := orderTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// IsTerminal reports whether no further transitions are possible from s.
func IsTerminal(s OrderStatus) bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}
