package repository

import (
	"context"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries holds the Postgres statements used by the gateway.
type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const merchantColumns = `id, public_id, name, api_key_hash, webhook_key, active,
	balance, available_balance, version,
	min_deposit_amount, max_deposit_amount, min_withdraw_amount, max_withdraw_amount,
	deposit_ips, withdraw_ips, enforce_ip_whitelist`

func scanMerchant(row pgx.Row) (*models.Merchant, error) {
	var m models.Merchant
	err := row.Scan(
		&m.ID, &m.PublicID, &m.Name, &m.APIKeyHash, &m.WebhookKey, &m.Active,
		&m.Balance, &m.AvailableBalance, &m.Version,
		&m.MinDepositAmount, &m.MaxDepositAmount, &m.MinWithdrawAmount, &m.MaxWithdrawAmount,
		&m.DepositIPs, &m.WithdrawIPs, &m.EnforceIPWhitelist,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const getMerchantByPublicID = `-- name: GetMerchantByPublicID :one
SELECT ` + merchantColumns + ` FROM merchants WHERE public_id = $1`

func (q *Queries) GetMerchantByPublicID(ctx context.Context, publicID string) (*models.Merchant, error) {
	return scanMerchant(q.db.QueryRow(ctx, getMerchantByPublicID, publicID))
}

const getMerchant = `-- name: GetMerchant :one
SELECT ` + merchantColumns + ` FROM merchants WHERE id = $1`

func (q *Queries) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	return scanMerchant(q.db.QueryRow(ctx, getMerchant, id))
}

const getMerchantBalance = `-- name: GetMerchantBalance :one
SELECT id, balance, available_balance, version FROM merchants WHERE id = $1`

func (q *Queries) GetMerchantBalance(ctx context.Context, merchantID string) (models.Balance, error) {
	var b models.Balance
	err := q.db.QueryRow(ctx, getMerchantBalance, merchantID).Scan(&b.MerchantID, &b.Current, &b.Available, &b.Version)
	return b, err
}

const swapMerchantBalance = `-- name: SwapMerchantBalance :execrows
UPDATE merchants
SET balance = $3, available_balance = $4, version = version + 1
WHERE id = $1 AND version = $2`

func (q *Queries) SwapMerchantBalance(ctx context.Context, merchantID string, expectedVersion, current, available int64) (int64, error) {
	tag, err := q.db.Exec(ctx, swapMerchantBalance, merchantID, expectedVersion, current, available)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const upsertMerchant = `-- name: UpsertMerchant :exec
INSERT INTO merchants (` + merchantColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
    public_id = EXCLUDED.public_id,
    name = EXCLUDED.name,
    api_key_hash = EXCLUDED.api_key_hash,
    webhook_key = EXCLUDED.webhook_key,
    active = EXCLUDED.active,
    min_deposit_amount = EXCLUDED.min_deposit_amount,
    max_deposit_amount = EXCLUDED.max_deposit_amount,
    min_withdraw_amount = EXCLUDED.min_withdraw_amount,
    max_withdraw_amount = EXCLUDED.max_withdraw_amount,
    deposit_ips = EXCLUDED.deposit_ips,
    withdraw_ips = EXCLUDED.withdraw_ips,
    enforce_ip_whitelist = EXCLUDED.enforce_ip_whitelist`

// UpsertMerchant leaves balances and version untouched on conflict.
func (q *Queries) UpsertMerchant(ctx context.Context, m *models.Merchant) error {
	_, err := q.db.Exec(ctx, upsertMerchant,
		m.ID, m.PublicID, m.Name, m.APIKeyHash, m.WebhookKey, m.Active,
		m.Balance, m.AvailableBalance, m.Version,
		m.MinDepositAmount, m.MaxDepositAmount, m.MinWithdrawAmount, m.MaxWithdrawAmount,
		nonNil(m.DepositIPs), nonNil(m.WithdrawIPs), m.EnforceIPWhitelist,
	)
	return err
}

const insertLedgerEntry = `-- name: InsertLedgerEntry :one
INSERT INTO ledger_entries (id, merchant_id, order_id, amount, direction, balance_after, available_after)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`

func (q *Queries) InsertLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	return q.db.QueryRow(ctx, insertLedgerEntry,
		e.ID, e.MerchantID, e.OrderID, e.Amount, e.Direction, e.BalanceAfter, e.AvailableAfter,
	).Scan(&e.CreatedAt)
}

const listLedgerEntriesByOrder = `-- name: ListLedgerEntriesByOrder :many
SELECT id, merchant_id, order_id, amount, direction, balance_after, available_after, created_at
FROM ledger_entries WHERE order_id = $1 ORDER BY created_at, id`

func (q *Queries) ListLedgerEntriesByOrder(ctx context.Context, orderID string) ([]models.LedgerEntry, error) {
	rows, err := q.db.Query(ctx, listLedgerEntriesByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.MerchantID, &e.OrderID, &e.Amount, &e.Direction, &e.BalanceAfter, &e.AvailableAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const getBank = `-- name: GetBank :one
SELECT id, bin, account_number, owner_name, display_name, active FROM banks WHERE id = $1`

func (q *Queries) GetBank(ctx context.Context, id string) (*models.Bank, error) {
	var b models.Bank
	err := q.db.QueryRow(ctx, getBank, id).Scan(&b.ID, &b.BIN, &b.AccountNumber, &b.OwnerName, &b.DisplayName, &b.Active)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const upsertBank = `-- name: UpsertBank :exec
INSERT INTO banks (id, bin, account_number, owner_name, display_name, active)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    bin = EXCLUDED.bin,
    account_number = EXCLUDED.account_number,
    owner_name = EXCLUDED.owner_name,
    display_name = EXCLUDED.display_name,
    active = EXCLUDED.active`

func (q *Queries) UpsertBank(ctx context.Context, b *models.Bank) error {
	_, err := q.db.Exec(ctx, upsertBank, b.ID, b.BIN, b.AccountNumber, b.OwnerName, b.DisplayName, b.Active)
	return err
}

const isBlacklisted = `-- name: IsBlacklisted :one
SELECT EXISTS (SELECT 1 FROM account_blacklist WHERE bank_code = $1 AND account_number = $2)`

func (q *Queries) IsBlacklisted(ctx context.Context, bankCode, accountNumber string) (bool, error) {
	var found bool
	err := q.db.QueryRow(ctx, isBlacklisted, bankCode, accountNumber).Scan(&found)
	return found, err
}

const addBlacklist = `-- name: AddBlacklist :exec
INSERT INTO account_blacklist (bank_code, account_number) VALUES ($1, $2)
ON CONFLICT DO NOTHING`

func (q *Queries) AddBlacklist(ctx context.Context, bankCode, accountNumber string) error {
	_, err := q.db.Exec(ctx, addBlacklist, bankCode, accountNumber)
	return err
}

const orderColumns = `order_id, merchant_order_id, kind, status, status_reason,
	amount, paid_amount, unpaid_amount,
	bank_id, bank_code, receive_account_number, receive_owner_name, receive_bank_name,
	qr_payload, merchant_id, positive_account_id, negative_account_id, assigned_processor_id,
	created_ip, is_suspicious, success_url, failed_url, cancel_url, callback_url,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.OrderID, &o.MerchantOrderID, &o.Kind, &o.Status, &o.StatusReason,
		&o.Amount, &o.PaidAmount, &o.UnpaidAmount,
		&o.BankID, &o.BankCode, &o.ReceiveAccountNumber, &o.ReceiveOwnerName, &o.ReceiveBankName,
		&o.QRPayload, &o.MerchantID, &o.PositiveAccountID, &o.NegativeAccountID, &o.AssignedProcessorID,
		&o.CreatedIP, &o.IsSuspicious, &o.SuccessURL, &o.FailedURL, &o.CancelURL, &o.CallbackURL,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
    order_id, merchant_order_id, kind, status, status_reason,
    amount, paid_amount, unpaid_amount,
    bank_id, bank_code, receive_account_number, receive_owner_name, receive_bank_name,
    qr_payload, merchant_id, positive_account_id, negative_account_id, assigned_processor_id,
    created_ip, is_suspicious, success_url, failed_url, cancel_url, callback_url
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
    $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
)
RETURNING created_at, updated_at`

func (q *Queries) CreateOrder(ctx context.Context, o *models.Order) error {
	return q.db.QueryRow(ctx, createOrder,
		o.OrderID, o.MerchantOrderID, string(o.Kind), string(o.Status), o.StatusReason,
		o.Amount, o.PaidAmount, o.UnpaidAmount,
		o.BankID, o.BankCode, o.ReceiveAccountNumber, o.ReceiveOwnerName, o.ReceiveBankName,
		o.QRPayload, o.MerchantID, o.PositiveAccountID, o.NegativeAccountID, o.AssignedProcessorID,
		o.CreatedIP, o.IsSuspicious, o.SuccessURL, o.FailedURL, o.CancelURL, o.CallbackURL,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

func (q *Queries) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, orderID))
}

const listOrders = `-- name: ListOrders :many
SELECT ` + orderColumns + ` FROM orders
WHERE ($1::text = '' OR merchant_id = $1)
  AND ($2::text = '' OR kind = $2)
  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
  AND ($4::text = '' OR assigned_processor_id = $4)
  AND (NOT $5::boolean OR assigned_processor_id = '')
  AND ($6::timestamptz IS NULL OR created_at < $6)
ORDER BY created_at DESC, order_id
LIMIT $7`

type ListOrdersParams struct {
	MerchantID    string
	Kind          string
	Statuses      []string
	ProcessorID   string
	Unassigned    bool
	CreatedBefore pgtype.Timestamptz
	Limit         int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]models.Order, error) {
	rows, err := q.db.Query(ctx, listOrders,
		arg.MerchantID, arg.Kind, nonNil(arg.Statuses), arg.ProcessorID, arg.Unassigned, arg.CreatedBefore, arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

const updateOrderStatus = `-- name: UpdateOrderStatus :execrows
UPDATE orders
SET status = $3, paid_amount = $4, unpaid_amount = amount - $4, status_reason = $5, updated_at = NOW()
WHERE order_id = $1 AND status = $2`

func (q *Queries) UpdateOrderStatus(ctx context.Context, orderID, from, to string, paid int64, reason string) (int64, error) {
	tag, err := q.db.Exec(ctx, updateOrderStatus, orderID, from, to, paid, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const assignProcessor = `-- name: AssignProcessor :execrows
UPDATE orders
SET assigned_processor_id = $2, updated_at = NOW()
WHERE order_id = $1 AND kind = 'withdraw' AND status = 'pending' AND assigned_processor_id = $3`

func (q *Queries) AssignProcessor(ctx context.Context, orderID, processorID, expected string) (int64, error) {
	tag, err := q.db.Exec(ctx, assignProcessor, orderID, processorID, expected)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const staffColumns = `id, username, password_hash, role, ready, created_at`

func scanStaff(row pgx.Row) (*models.Staff, error) {
	var s models.Staff
	if err := row.Scan(&s.ID, &s.Username, &s.PasswordHash, &s.Role, &s.Ready, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

const getStaff = `-- name: GetStaff :one
SELECT ` + staffColumns + ` FROM staff WHERE id = $1`

func (q *Queries) GetStaff(ctx context.Context, id string) (*models.Staff, error) {
	return scanStaff(q.db.QueryRow(ctx, getStaff, id))
}

const getStaffByUsername = `-- name: GetStaffByUsername :one
SELECT ` + staffColumns + ` FROM staff WHERE username = $1`

func (q *Queries) GetStaffByUsername(ctx context.Context, username string) (*models.Staff, error) {
	return scanStaff(q.db.QueryRow(ctx, getStaffByUsername, username))
}

const setStaffReady = `-- name: SetStaffReady :execrows
UPDATE staff SET ready = $2 WHERE id = $1`

func (q *Queries) SetStaffReady(ctx context.Context, id string, ready bool) (int64, error) {
	tag, err := q.db.Exec(ctx, setStaffReady, id, ready)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listReadyStaff = `-- name: ListReadyStaff :many
SELECT ` + staffColumns + ` FROM staff WHERE ready ORDER BY created_at, id`

func (q *Queries) ListReadyStaff(ctx context.Context) ([]models.Staff, error) {
	rows, err := q.db.Query(ctx, listReadyStaff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Staff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

const countPendingAssigned = `-- name: CountPendingAssigned :one
SELECT COUNT(*) FROM orders
WHERE assigned_processor_id = $1 AND kind = 'withdraw' AND status = 'pending'`

func (q *Queries) CountPendingAssigned(ctx context.Context, processorID string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countPendingAssigned, processorID).Scan(&n)
	return n, err
}

const upsertStaff = `-- name: UpsertStaff :exec
INSERT INTO staff (id, username, password_hash, role, ready, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    username = EXCLUDED.username,
    password_hash = EXCLUDED.password_hash,
    role = EXCLUDED.role,
    ready = EXCLUDED.ready`

func (q *Queries) UpsertStaff(ctx context.Context, s *models.Staff) error {
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.db.Exec(ctx, upsertStaff, s.ID, s.Username, s.PasswordHash, s.Role, s.Ready, createdAt)
	return err
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
