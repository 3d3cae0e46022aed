package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres.sql
var postgresSchema string

// Store provides access to the query set and transaction scoping.
type Store struct {
	db      *pgxpool.Pool
	queries *Queries
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:      db,
		queries: New(db),
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Postgres is the primary durable backend.
type Postgres struct {
	store *Store
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{store: NewStore(pool)}
}

func (p *Postgres) Name() string  { return domain.BackendPostgres }
func (p *Postgres) Durable() bool { return true }

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.store.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.store.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (p *Postgres) GetMerchantByPublicID(ctx context.Context, publicID string) (*models.Merchant, error) {
	m, err := p.store.Queries().GetMerchantByPublicID(ctx, publicID)
	if err != nil {
		return nil, pgError("get merchant", err)
	}
	return m, nil
}

func (p *Postgres) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	m, err := p.store.Queries().GetMerchant(ctx, id)
	if err != nil {
		return nil, pgError("get merchant", err)
	}
	return m, nil
}

func (p *Postgres) GetMerchantBalance(ctx context.Context, merchantID string) (models.Balance, error) {
	b, err := p.store.Queries().GetMerchantBalance(ctx, merchantID)
	if err != nil {
		return models.Balance{}, pgError("get balance", err)
	}
	return b, nil
}

func (p *Postgres) SwapBalance(ctx context.Context, swap BalanceSwap) (bool, error) {
	swapped := false
	err := p.store.RunInTx(ctx, func(q *Queries) error {
		n, err := q.SwapMerchantBalance(ctx, swap.MerchantID, swap.ExpectedVersion, swap.Current, swap.Available)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		entry := swap.Entry
		if err := q.InsertLedgerEntry(ctx, &entry); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, pgError("swap balance", err)
	}
	return swapped, nil
}

func (p *Postgres) ListLedgerEntries(ctx context.Context, orderID string) ([]models.LedgerEntry, error) {
	entries, err := p.store.Queries().ListLedgerEntriesByOrder(ctx, orderID)
	if err != nil {
		return nil, pgError("list ledger entries", err)
	}
	return entries, nil
}

func (p *Postgres) GetBank(ctx context.Context, bankID string) (*models.Bank, error) {
	b, err := p.store.Queries().GetBank(ctx, bankID)
	if err != nil {
		return nil, pgError("get bank", err)
	}
	return b, nil
}

func (p *Postgres) IsBlacklisted(ctx context.Context, bankCode, accountNumber string) (bool, error) {
	found, err := p.store.Queries().IsBlacklisted(ctx, bankCode, accountNumber)
	if err != nil {
		return false, pgError("check blacklist", err)
	}
	return found, nil
}

func (p *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := p.store.Queries().CreateOrder(ctx, order); err != nil {
		return pgError("create order", err)
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := p.store.Queries().GetOrder(ctx, orderID)
	if err != nil {
		return nil, pgError("get order", err)
	}
	return o, nil
}

func (p *Postgres) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	arg := ListOrdersParams{
		MerchantID:  filter.MerchantID,
		Kind:        string(filter.Kind),
		ProcessorID: filter.ProcessorID,
		Unassigned:  filter.Unassigned,
		Limit:       int32(filter.limit()),
	}
	for _, s := range filter.Statuses {
		arg.Statuses = append(arg.Statuses, string(s))
	}
	if !filter.CreatedBefore.IsZero() {
		arg.CreatedBefore = pgtype.Timestamptz{Time: filter.CreatedBefore, Valid: true}
	}
	orders, err := p.store.Queries().ListOrders(ctx, arg)
	if err != nil {
		return nil, pgError("list orders", err)
	}
	return orders, nil
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, update StatusUpdate) error {
	err := p.store.RunInTx(ctx, func(q *Queries) error {
		n, err := q.UpdateOrderStatus(ctx, update.OrderID, string(update.From), string(update.To), update.PaidAmount, update.Reason)
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
		if _, err := q.GetOrder(ctx, update.OrderID); err != nil {
			return err
		}
		return fmt.Errorf("update order %s: %w", update.OrderID, models.ErrStatusConflict)
	})
	if err != nil {
		return pgError("update order status", err)
	}
	return nil
}

func (p *Postgres) AssignProcessor(ctx context.Context, orderID, processorID, expected string) (bool, error) {
	n, err := p.store.Queries().AssignProcessor(ctx, orderID, processorID, expected)
	if err != nil {
		return false, pgError("assign processor", err)
	}
	return n == 1, nil
}

func (p *Postgres) GetStaff(ctx context.Context, id string) (*models.Staff, error) {
	s, err := p.store.Queries().GetStaff(ctx, id)
	if err != nil {
		return nil, pgError("get staff", err)
	}
	return s, nil
}

func (p *Postgres) GetStaffByUsername(ctx context.Context, username string) (*models.Staff, error) {
	s, err := p.store.Queries().GetStaffByUsername(ctx, username)
	if err != nil {
		return nil, pgError("get staff", err)
	}
	return s, nil
}

func (p *Postgres) SetStaffReady(ctx context.Context, id string, ready bool) error {
	n, err := p.store.Queries().SetStaffReady(ctx, id, ready)
	if err != nil {
		return pgError("set staff ready", err)
	}
	if n == 0 {
		return fmt.Errorf("staff %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (p *Postgres) ListReadyProcessors(ctx context.Context) ([]models.Staff, error) {
	staff, err := p.store.Queries().ListReadyStaff(ctx)
	if err != nil {
		return nil, pgError("list ready staff", err)
	}
	return staff, nil
}

func (p *Postgres) CountPendingAssigned(ctx context.Context, processorID string) (int64, error) {
	n, err := p.store.Queries().CountPendingAssigned(ctx, processorID)
	if err != nil {
		return 0, pgError("count pending", err)
	}
	return n, nil
}

func (p *Postgres) UpsertMerchant(ctx context.Context, m *models.Merchant) error {
	if err := p.store.Queries().UpsertMerchant(ctx, m); err != nil {
		return pgError("upsert merchant", err)
	}
	return nil
}

func (p *Postgres) UpsertBank(ctx context.Context, b *models.Bank) error {
	if err := p.store.Queries().UpsertBank(ctx, b); err != nil {
		return pgError("upsert bank", err)
	}
	return nil
}

func (p *Postgres) UpsertStaff(ctx context.Context, s *models.Staff) error {
	if err := p.store.Queries().UpsertStaff(ctx, s); err != nil {
		return pgError("upsert staff", err)
	}
	return nil
}

func (p *Postgres) AddBlacklist(ctx context.Context, bankCode, accountNumber string) error {
	if err := p.store.Queries().AddBlacklist(ctx, bankCode, accountNumber); err != nil {
		return pgError("add blacklist", err)
	}
	return nil
}

// pgError maps driver errors onto the gateway's sentinel errors.
func pgError(op string, err error) error {
	if errors.Is(err, models.ErrStatusConflict) || errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrStorageUnavailable) || errors.Is(err, models.ErrDuplicateOrderID) ||
		errors.Is(err, models.ErrLedgerEntryExists) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "orders_pkey":
			return fmt.Errorf("%s: %w", op, models.ErrDuplicateOrderID)
		case pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "ledger_entries_order_direction_key":
			return fmt.Errorf("%s: %w", op, models.ErrLedgerEntryExists)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow:
			return fmt.Errorf("%s: %w: %v", op, models.ErrStorageUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || isConnectError(err) {
		return fmt.Errorf("%s: %w: %v", op, models.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectError(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
