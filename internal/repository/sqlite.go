package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLite is the file-backed backup store.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens path with a busy timeout and a single writer connection.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Name() string  { return domain.BackendSQLite }
func (s *SQLite) Durable() bool { return true }

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

func (s *SQLite) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const sqliteMerchantColumns = `id, public_id, name, api_key_hash, webhook_key, active,
	balance, available_balance, version,
	min_deposit_amount, max_deposit_amount, min_withdraw_amount, max_withdraw_amount,
	deposit_ips, withdraw_ips, enforce_ip_whitelist`

func (s *SQLite) GetMerchantByPublicID(ctx context.Context, publicID string) (*models.Merchant, error) {
	return s.getMerchant(ctx, "public_id", publicID)
}

func (s *SQLite) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	return s.getMerchant(ctx, "id", id)
}

func (s *SQLite) getMerchant(ctx context.Context, column, value string) (*models.Merchant, error) {
	var (
		m                    models.Merchant
		depositIPs, withdraw string
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+sqliteMerchantColumns+` FROM merchants WHERE `+column+` = ?`, value).Scan(
		&m.ID, &m.PublicID, &m.Name, &m.APIKeyHash, &m.WebhookKey, &m.Active,
		&m.Balance, &m.AvailableBalance, &m.Version,
		&m.MinDepositAmount, &m.MaxDepositAmount, &m.MinWithdrawAmount, &m.MaxWithdrawAmount,
		&depositIPs, &withdraw, &m.EnforceIPWhitelist,
	)
	if err != nil {
		return nil, sqliteError("get merchant", err)
	}
	if err := json.Unmarshal([]byte(depositIPs), &m.DepositIPs); err != nil {
		return nil, fmt.Errorf("decode deposit ips: %w", err)
	}
	if err := json.Unmarshal([]byte(withdraw), &m.WithdrawIPs); err != nil {
		return nil, fmt.Errorf("decode withdraw ips: %w", err)
	}
	return &m, nil
}

func (s *SQLite) GetMerchantBalance(ctx context.Context, merchantID string) (models.Balance, error) {
	var b models.Balance
	err := s.db.QueryRowContext(ctx,
		`SELECT id, balance, available_balance, version FROM merchants WHERE id = ?`, merchantID,
	).Scan(&b.MerchantID, &b.Current, &b.Available, &b.Version)
	if err != nil {
		return models.Balance{}, sqliteError("get balance", err)
	}
	return b, nil
}

func (s *SQLite) SwapBalance(ctx context.Context, swap BalanceSwap) (bool, error) {
	swapped := false
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE merchants SET balance = ?, available_balance = ?, version = version + 1 WHERE id = ? AND version = ?`,
			swap.Current, swap.Available, swap.MerchantID, swap.ExpectedVersion,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		e := swap.Entry
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, merchant_id, order_id, amount, direction, balance_after, available_after, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.MerchantID, e.OrderID, e.Amount, e.Direction, e.BalanceAfter, e.AvailableAfter, e.CreatedAt.UnixNano(),
		); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, sqliteError("swap balance", err)
	}
	return swapped, nil
}

func (s *SQLite) ListLedgerEntries(ctx context.Context, orderID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, merchant_id, order_id, amount, direction, balance_after, available_after, created_at
		 FROM ledger_entries WHERE order_id = ? ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, sqliteError("list ledger entries", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			e  models.LedgerEntry
			at int64
		)
		if err := rows.Scan(&e.ID, &e.MerchantID, &e.OrderID, &e.Amount, &e.Direction, &e.BalanceAfter, &e.AvailableAfter, &at); err != nil {
			return nil, sqliteError("scan ledger entry", err)
		}
		e.CreatedAt = time.Unix(0, at).UTC()
		entries = append(entries, e)
	}
	return entries, sqliteError("list ledger entries", rows.Err())
}

func (s *SQLite) GetBank(ctx context.Context, bankID string) (*models.Bank, error) {
	var b models.Bank
	err := s.db.QueryRowContext(ctx,
		`SELECT id, bin, account_number, owner_name, display_name, active FROM banks WHERE id = ?`, bankID,
	).Scan(&b.ID, &b.BIN, &b.AccountNumber, &b.OwnerName, &b.DisplayName, &b.Active)
	if err != nil {
		return nil, sqliteError("get bank", err)
	}
	return &b, nil
}

func (s *SQLite) IsBlacklisted(ctx context.Context, bankCode, accountNumber string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM account_blacklist WHERE bank_code = ? AND account_number = ?)`,
		bankCode, accountNumber,
	).Scan(&found)
	if err != nil {
		return false, sqliteError("check blacklist", err)
	}
	return found, nil
}

const sqliteOrderColumns = `order_id, merchant_order_id, kind, status, status_reason,
	amount, paid_amount, unpaid_amount,
	bank_id, bank_code, receive_account_number, receive_owner_name, receive_bank_name,
	qr_payload, merchant_id, positive_account_id, negative_account_id, assigned_processor_id,
	created_ip, is_suspicious, success_url, failed_url, cancel_url, callback_url,
	created_at, updated_at`

func scanSQLiteOrder(row rowScanner) (*models.Order, error) {
	var (
		o                models.Order
		kind, status     string
		qr               sql.NullString
		created, updated int64
	)
	err := row.Scan(
		&o.OrderID, &o.MerchantOrderID, &kind, &status, &o.StatusReason,
		&o.Amount, &o.PaidAmount, &o.UnpaidAmount,
		&o.BankID, &o.BankCode, &o.ReceiveAccountNumber, &o.ReceiveOwnerName, &o.ReceiveBankName,
		&qr, &o.MerchantID, &o.PositiveAccountID, &o.NegativeAccountID, &o.AssignedProcessorID,
		&o.CreatedIP, &o.IsSuspicious, &o.SuccessURL, &o.FailedURL, &o.CancelURL, &o.CallbackURL,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(status)
	if qr.Valid {
		o.QRPayload = &qr.String
	}
	o.CreatedAt = time.Unix(0, created).UTC()
	o.UpdatedAt = time.Unix(0, updated).UTC()
	return &o, nil
}

func (s *SQLite) CreateOrder(ctx context.Context, o *models.Order) error {
	now := time.Now().UTC()
	var qr sql.NullString
	if o.QRPayload != nil {
		qr = sql.NullString{String: *o.QRPayload, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO orders (`+sqliteOrderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.MerchantOrderID, string(o.Kind), string(o.Status), o.StatusReason,
		o.Amount, o.PaidAmount, o.UnpaidAmount,
		o.BankID, o.BankCode, o.ReceiveAccountNumber, o.ReceiveOwnerName, o.ReceiveBankName,
		qr, o.MerchantID, o.PositiveAccountID, o.NegativeAccountID, o.AssignedProcessorID,
		o.CreatedIP, o.IsSuspicious, o.SuccessURL, o.FailedURL, o.CancelURL, o.CallbackURL,
		now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return sqliteError("create order", err)
	}
	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

func (s *SQLite) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := scanSQLiteOrder(s.db.QueryRowContext(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE order_id = ?`, orderID))
	if err != nil {
		return nil, sqliteError("get order", err)
	}
	return o, nil
}

func (s *SQLite) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.MerchantID != "" {
		where = append(where, "merchant_id = ?")
		args = append(args, filter.MerchantID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.ProcessorID != "" {
		where = append(where, "assigned_processor_id = ?")
		args = append(args, filter.ProcessorID)
	}
	if filter.Unassigned {
		where = append(where, "assigned_processor_id = ''")
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, filter.CreatedBefore.UnixNano())
	}

	query := `SELECT ` + sqliteOrderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, order_id LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteError("list orders", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
		if err != nil {
			return nil, sqliteError("scan order", err)
		}
		orders = append(orders, *o)
	}
	return orders, sqliteError("list orders", rows.Err())
}

func (s *SQLite) UpdateOrderStatus(ctx context.Context, update StatusUpdate) error {
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, paid_amount = ?, unpaid_amount = amount - ?, status_reason = ?, updated_at = ?
			 WHERE order_id = ? AND status = ?`,
			string(update.To), update.PaidAmount, update.PaidAmount, update.Reason, time.Now().UTC().UnixNano(),
			update.OrderID, string(update.From),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = ?)`, update.OrderID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("order %s: %w", update.OrderID, models.ErrNotFound)
		}
		return fmt.Errorf("update order %s: %w", update.OrderID, models.ErrStatusConflict)
	})
	return sqliteError("update order status", err)
}

func (s *SQLite) AssignProcessor(ctx context.Context, orderID, processorID, expected string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET assigned_processor_id = ?, updated_at = ?
		 WHERE order_id = ? AND kind = 'withdraw' AND status = 'pending' AND assigned_processor_id = ?`,
		processorID, time.Now().UTC().UnixNano(), orderID, expected,
	)
	if err != nil {
		return false, sqliteError("assign processor", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, sqliteError("assign processor", err)
	}
	return n == 1, nil
}

const sqliteStaffColumns = `id, username, password_hash, role, ready, created_at`

func scanSQLiteStaff(row rowScanner) (*models.Staff, error) {
	var (
		st models.Staff
		at int64
	)
	if err := row.Scan(&st.ID, &st.Username, &st.PasswordHash, &st.Role, &st.Ready, &at); err != nil {
		return nil, err
	}
	st.CreatedAt = time.Unix(0, at).UTC()
	return &st, nil
}

func (s *SQLite) GetStaff(ctx context.Context, id string) (*models.Staff, error) {
	st, err := scanSQLiteStaff(s.db.QueryRowContext(ctx, `SELECT `+sqliteStaffColumns+` FROM staff WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteError("get staff", err)
	}
	return st, nil
}

func (s *SQLite) GetStaffByUsername(ctx context.Context, username string) (*models.Staff, error) {
	st, err := scanSQLiteStaff(s.db.QueryRowContext(ctx, `SELECT `+sqliteStaffColumns+` FROM staff WHERE username = ?`, username))
	if err != nil {
		return nil, sqliteError("get staff", err)
	}
	return st, nil
}

func (s *SQLite) SetStaffReady(ctx context.Context, id string, ready bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE staff SET ready = ? WHERE id = ?`, ready, id)
	if err != nil {
		return sqliteError("set staff ready", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("staff %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *SQLite) ListReadyProcessors(ctx context.Context) ([]models.Staff, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteStaffColumns+` FROM staff WHERE ready = 1 ORDER BY created_at, id`)
	if err != nil {
		return nil, sqliteError("list ready staff", err)
	}
	defer rows.Close()

	var out []models.Staff
	for rows.Next() {
		st, err := scanSQLiteStaff(rows)
		if err != nil {
			return nil, sqliteError("scan staff", err)
		}
		out = append(out, *st)
	}
	return out, sqliteError("list ready staff", rows.Err())
}

func (s *SQLite) CountPendingAssigned(ctx context.Context, processorID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE assigned_processor_id = ? AND kind = 'withdraw' AND status = 'pending'`,
		processorID,
	).Scan(&n)
	if err != nil {
		return 0, sqliteError("count pending", err)
	}
	return n, nil
}

func (s *SQLite) UpsertMerchant(ctx context.Context, m *models.Merchant) error {
	depositIPs, err := json.Marshal(nonNil(m.DepositIPs))
	if err != nil {
		return err
	}
	withdrawIPs, err := json.Marshal(nonNil(m.WithdrawIPs))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO merchants (`+sqliteMerchantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			public_id = excluded.public_id,
			name = excluded.name,
			api_key_hash = excluded.api_key_hash,
			webhook_key = excluded.webhook_key,
			active = excluded.active,
			min_deposit_amount = excluded.min_deposit_amount,
			max_deposit_amount = excluded.max_deposit_amount,
			min_withdraw_amount = excluded.min_withdraw_amount,
			max_withdraw_amount = excluded.max_withdraw_amount,
			deposit_ips = excluded.deposit_ips,
			withdraw_ips = excluded.withdraw_ips,
			enforce_ip_whitelist = excluded.enforce_ip_whitelist`,
		m.ID, m.PublicID, m.Name, m.APIKeyHash, m.WebhookKey, m.Active,
		m.Balance, m.AvailableBalance, m.Version,
		m.MinDepositAmount, m.MaxDepositAmount, m.MinWithdrawAmount, m.MaxWithdrawAmount,
		string(depositIPs), string(withdrawIPs), m.EnforceIPWhitelist,
	)
	return sqliteError("upsert merchant", err)
}

func (s *SQLite) UpsertBank(ctx context.Context, b *models.Bank) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO banks (id, bin, account_number, owner_name, display_name, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			bin = excluded.bin,
			account_number = excluded.account_number,
			owner_name = excluded.owner_name,
			display_name = excluded.display_name,
			active = excluded.active`,
		b.ID, b.BIN, b.AccountNumber, b.OwnerName, b.DisplayName, b.Active,
	)
	return sqliteError("upsert bank", err)
}

func (s *SQLite) UpsertStaff(ctx context.Context, st *models.Staff) error {
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO staff (id, username, password_hash, role, ready, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			password_hash = excluded.password_hash,
			role = excluded.role,
			ready = excluded.ready`,
		st.ID, st.Username, st.PasswordHash, st.Role, st.Ready, createdAt.UnixNano(),
	)
	return sqliteError("upsert staff", err)
}

func (s *SQLite) AddBlacklist(ctx context.Context, bankCode, accountNumber string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_blacklist (bank_code, account_number) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		bankCode, accountNumber,
	)
	return sqliteError("add blacklist", err)
}

// sqliteError maps driver errors onto the gateway's sentinel errors. A nil
// err stays nil.
func sqliteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrStatusConflict) || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrLedgerEntryExists) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", op, models.ErrStorageUnavailable, err)
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(sqlErr.Error(), "orders.order_id") {
				return fmt.Errorf("%s: %w", op, models.ErrDuplicateOrderID)
			}
			if strings.Contains(sqlErr.Error(), "ledger_entries.order_id") {
				return fmt.Errorf("%s: %w", op, models.ErrLedgerEntryExists)
			}
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
			return fmt.Errorf("%s: %w: %v", op, models.ErrStorageUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
