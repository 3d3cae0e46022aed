package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "gw"
	redisWatchTries = 3
	redisScanChunk  = 200
)

// Redis is the cache-backed fallback store. Orders are JSON documents;
// balances live in a hash guarded by WATCH.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, prefix: redisKeyPrefix}
}

func (r *Redis) Name() string  { return domain.BackendRedis }
func (r *Redis) Durable() bool { return false }

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *Redis) Migrate(context.Context) error { return nil }

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) getJSON(ctx context.Context, c stringGetter, key string, dst any) error {
	raw, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (r *Redis) GetMerchantByPublicID(ctx context.Context, publicID string) (*models.Merchant, error) {
	id, err := r.client.Get(ctx, r.key("merchant", "pub", publicID)).Result()
	if err != nil {
		return nil, redisError("get merchant", err)
	}
	return r.GetMerchant(ctx, id)
}

func (r *Redis) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	var rec merchantRecord
	if err := r.getJSON(ctx, r.client, r.key("merchant", id), &rec); err != nil {
		return nil, redisError("get merchant", err)
	}
	m := rec.Merchant
	m.APIKeyHash, m.WebhookKey = rec.APIKeyHash, rec.WebhookKey
	bal, err := r.GetMerchantBalance(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Balance, m.AvailableBalance, m.Version = bal.Current, bal.Available, bal.Version
	return &m, nil
}

func (r *Redis) GetMerchantBalance(ctx context.Context, merchantID string) (models.Balance, error) {
	vals, err := r.client.HGetAll(ctx, r.key("balance", merchantID)).Result()
	if err != nil {
		return models.Balance{}, redisError("get balance", err)
	}
	if len(vals) == 0 {
		return models.Balance{}, fmt.Errorf("get balance %s: %w", merchantID, models.ErrNotFound)
	}
	return parseBalance(merchantID, vals)
}

func parseBalance(merchantID string, vals map[string]string) (models.Balance, error) {
	b := models.Balance{MerchantID: merchantID}
	var err error
	if b.Current, err = strconv.ParseInt(vals["current"], 10, 64); err != nil {
		return b, fmt.Errorf("decode balance: %w", err)
	}
	if b.Available, err = strconv.ParseInt(vals["available"], 10, 64); err != nil {
		return b, fmt.Errorf("decode available balance: %w", err)
	}
	if b.Version, err = strconv.ParseInt(vals["version"], 10, 64); err != nil {
		return b, fmt.Errorf("decode balance version: %w", err)
	}
	return b, nil
}

func (r *Redis) SwapBalance(ctx context.Context, swap BalanceSwap) (bool, error) {
	balanceKey := r.key("balance", swap.MerchantID)
	entry := swap.Entry
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("encode ledger entry: %w", err)
	}

	ledgerKey := r.key("ledger", entry.OrderID)

	swapped := false
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		version, err := tx.HGet(ctx, balanceKey, "version").Int64()
		if err != nil {
			return err
		}
		if version != swap.ExpectedVersion {
			return nil
		}
		if entry.OrderID != "" {
			recorded, err := tx.LRange(ctx, ledgerKey, 0, -1).Result()
			if err != nil {
				return err
			}
			for _, item := range recorded {
				var e models.LedgerEntry
				if json.Unmarshal([]byte(item), &e) == nil && e.Direction == entry.Direction {
					return models.ErrLedgerEntryExists
				}
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, balanceKey,
				"current", swap.Current,
				"available", swap.Available,
				"version", swap.ExpectedVersion+1,
			)
			pipe.RPush(ctx, ledgerKey, payload)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, balanceKey, ledgerKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, redisError("swap balance", err)
	}
	return swapped, nil
}

func (r *Redis) ListLedgerEntries(ctx context.Context, orderID string) ([]models.LedgerEntry, error) {
	raw, err := r.client.LRange(ctx, r.key("ledger", orderID), 0, -1).Result()
	if err != nil {
		return nil, redisError("list ledger entries", err)
	}
	entries := make([]models.LedgerEntry, 0, len(raw))
	for _, item := range raw {
		var e models.LedgerEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *Redis) GetBank(ctx context.Context, bankID string) (*models.Bank, error) {
	var b models.Bank
	if err := r.getJSON(ctx, r.client, r.key("bank", bankID), &b); err != nil {
		return nil, redisError("get bank", err)
	}
	return &b, nil
}

func (r *Redis) IsBlacklisted(ctx context.Context, bankCode, accountNumber string) (bool, error) {
	found, err := r.client.SIsMember(ctx, r.key("blacklist"), bankCode+"|"+accountNumber).Result()
	if err != nil {
		return false, redisError("check blacklist", err)
	}
	return found, nil
}

func (r *Redis) CreateOrder(ctx context.Context, o *models.Order) error {
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	created, err := r.client.SetNX(ctx, r.key("order", o.OrderID), payload, 0).Result()
	if err != nil {
		return redisError("create order", err)
	}
	if !created {
		return fmt.Errorf("create order %s: %w", o.OrderID, models.ErrDuplicateOrderID)
	}
	score := float64(now.UnixMilli())
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.key("orders"), redis.Z{Score: score, Member: o.OrderID})
		pipe.ZAdd(ctx, r.key("orders", "merchant", o.MerchantID), redis.Z{Score: score, Member: o.OrderID})
		if o.Kind == domain.KindWithdraw && o.Status == domain.StatusPending && o.AssignedProcessorID != "" {
			pipe.SAdd(ctx, r.key("pending", o.AssignedProcessorID), o.OrderID)
		}
		return nil
	})
	return redisError("index order", err)
}

func (r *Redis) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	if err := r.getJSON(ctx, r.client, r.key("order", orderID), &o); err != nil {
		return nil, redisError("get order", err)
	}
	return &o, nil
}

func (r *Redis) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	index := r.key("orders")
	if filter.MerchantID != "" {
		index = r.key("orders", "merchant", filter.MerchantID)
	}
	upper := "+inf"
	if !filter.CreatedBefore.IsZero() {
		upper = "(" + strconv.FormatInt(filter.CreatedBefore.UnixMilli(), 10)
	}
	limit := filter.limit()

	var out []models.Order
	for offset := int64(0); len(out) < limit; offset += redisScanChunk {
		ids, err := r.client.ZRevRangeByScore(ctx, index, &redis.ZRangeBy{
			Min: "-inf", Max: upper, Offset: offset, Count: redisScanChunk,
		}).Result()
		if err != nil {
			return nil, redisError("list orders", err)
		}
		if len(ids) == 0 {
			break
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = r.key("order", id)
		}
		docs, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, redisError("list orders", err)
		}
		for _, doc := range docs {
			s, ok := doc.(string)
			if !ok {
				continue
			}
			var o models.Order
			if err := json.Unmarshal([]byte(s), &o); err != nil {
				return nil, fmt.Errorf("decode order: %w", err)
			}
			if filter.matches(&o) {
				out = append(out, o)
				if len(out) == limit {
					break
				}
			}
		}
	}
	return out, nil
}

// mutateOrder applies fn to the stored order under WATCH. fn returns false to
// abort without writing.
func (r *Redis) mutateOrder(ctx context.Context, orderID string, fn func(o *models.Order) (bool, error)) (bool, error) {
	orderKey := r.key("order", orderID)
	for attempt := 0; attempt < redisWatchTries; attempt++ {
		applied := false
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			var o models.Order
			if err := r.getJSON(ctx, tx, orderKey, &o); err != nil {
				return err
			}
			before := o
			ok, err := fn(&o)
			if err != nil || !ok {
				return err
			}
			o.UpdatedAt = time.Now().UTC()
			payload, err := json.Marshal(&o)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, orderKey, payload, 0)
				r.syncPending(ctx, pipe, &before, &o)
				return nil
			})
			if err == nil {
				applied = true
			}
			return err
		}, orderKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return applied, nil
	}
	return false, models.ErrStatusConflict
}

// syncPending keeps the per-processor pending sets in line with an order write.
func (r *Redis) syncPending(ctx context.Context, pipe redis.Pipeliner, before, after *models.Order) {
	if after.Kind != domain.KindWithdraw {
		return
	}
	wasPending := before.Status == domain.StatusPending && before.AssignedProcessorID != ""
	isPending := after.Status == domain.StatusPending && after.AssignedProcessorID != ""
	if wasPending && (!isPending || before.AssignedProcessorID != after.AssignedProcessorID) {
		pipe.SRem(ctx, r.key("pending", before.AssignedProcessorID), after.OrderID)
	}
	if isPending {
		pipe.SAdd(ctx, r.key("pending", after.AssignedProcessorID), after.OrderID)
	}
}

func (r *Redis) UpdateOrderStatus(ctx context.Context, update StatusUpdate) error {
	applied, err := r.mutateOrder(ctx, update.OrderID, func(o *models.Order) (bool, error) {
		if o.Status != update.From {
			return false, nil
		}
		o.Status = update.To
		o.PaidAmount = update.PaidAmount
		o.UnpaidAmount = o.Amount - update.PaidAmount
		o.StatusReason = update.Reason
		return true, nil
	})
	if err != nil {
		return redisError("update order status", err)
	}
	if !applied {
		return fmt.Errorf("update order %s: %w", update.OrderID, models.ErrStatusConflict)
	}
	return nil
}

func (r *Redis) AssignProcessor(ctx context.Context, orderID, processorID, expected string) (bool, error) {
	applied, err := r.mutateOrder(ctx, orderID, func(o *models.Order) (bool, error) {
		if o.Kind != domain.KindWithdraw || o.Status != domain.StatusPending || o.AssignedProcessorID != expected {
			return false, nil
		}
		o.AssignedProcessorID = processorID
		return true, nil
	})
	if errors.Is(err, models.ErrStatusConflict) {
		return false, nil
	}
	if err != nil {
		return false, redisError("assign processor", err)
	}
	return applied, nil
}

func (r *Redis) GetStaff(ctx context.Context, id string) (*models.Staff, error) {
	var rec staffRecord
	if err := r.getJSON(ctx, r.client, r.key("staff", id), &rec); err != nil {
		return nil, redisError("get staff", err)
	}
	s := rec.Staff
	s.PasswordHash = rec.PasswordHash
	_, err := r.client.ZScore(ctx, r.key("staff", "ready"), id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, redisError("get staff", err)
	}
	s.Ready = err == nil
	return &s, nil
}

func (r *Redis) GetStaffByUsername(ctx context.Context, username string) (*models.Staff, error) {
	id, err := r.client.Get(ctx, r.key("staff", "user", username)).Result()
	if err != nil {
		return nil, redisError("get staff", err)
	}
	return r.GetStaff(ctx, id)
}

func (r *Redis) SetStaffReady(ctx context.Context, id string, ready bool) error {
	s, err := r.GetStaff(ctx, id)
	if err != nil {
		return err
	}
	readyKey := r.key("staff", "ready")
	if ready {
		err = r.client.ZAdd(ctx, readyKey, redis.Z{Score: float64(s.CreatedAt.UnixNano()), Member: id}).Err()
	} else {
		err = r.client.ZRem(ctx, readyKey, id).Err()
	}
	return redisError("set staff ready", err)
}

func (r *Redis) ListReadyProcessors(ctx context.Context) ([]models.Staff, error) {
	ids, err := r.client.ZRange(ctx, r.key("staff", "ready"), 0, -1).Result()
	if err != nil {
		return nil, redisError("list ready staff", err)
	}
	out := make([]models.Staff, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetStaff(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *Redis) CountPendingAssigned(ctx context.Context, processorID string) (int64, error) {
	n, err := r.client.SCard(ctx, r.key("pending", processorID)).Result()
	if err != nil {
		return 0, redisError("count pending", err)
	}
	return n, nil
}

// UpsertMerchant writes the profile and seeds the balance hash only when it
// does not exist yet.
func (r *Redis) UpsertMerchant(ctx context.Context, m *models.Merchant) error {
	profile := *m
	profile.Balance, profile.AvailableBalance, profile.Version = 0, 0, 0
	payload, err := json.Marshal(merchantRecord{Merchant: profile, APIKeyHash: m.APIKeyHash, WebhookKey: m.WebhookKey})
	if err != nil {
		return fmt.Errorf("encode merchant: %w", err)
	}
	balanceKey := r.key("balance", m.ID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key("merchant", m.ID), payload, 0)
		pipe.Set(ctx, r.key("merchant", "pub", m.PublicID), m.ID, 0)
		pipe.HSetNX(ctx, balanceKey, "current", m.Balance)
		pipe.HSetNX(ctx, balanceKey, "available", m.AvailableBalance)
		pipe.HSetNX(ctx, balanceKey, "version", m.Version)
		return nil
	})
	return redisError("upsert merchant", err)
}

func (r *Redis) UpsertBank(ctx context.Context, b *models.Bank) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bank: %w", err)
	}
	return redisError("upsert bank", r.client.Set(ctx, r.key("bank", b.ID), payload, 0).Err())
}

func (r *Redis) UpsertStaff(ctx context.Context, s *models.Staff) error {
	rec := *s
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(staffRecord{Staff: rec, PasswordHash: rec.PasswordHash})
	if err != nil {
		return fmt.Errorf("encode staff: %w", err)
	}
	readyKey := r.key("staff", "ready")
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key("staff", rec.ID), payload, 0)
		pipe.Set(ctx, r.key("staff", "user", rec.Username), rec.ID, 0)
		if rec.Ready {
			pipe.ZAdd(ctx, readyKey, redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
		} else {
			pipe.ZRem(ctx, readyKey, rec.ID)
		}
		return nil
	})
	return redisError("upsert staff", err)
}

func (r *Redis) AddBlacklist(ctx context.Context, bankCode, accountNumber string) error {
	return redisError("add blacklist", r.client.SAdd(ctx, r.key("blacklist"), bankCode+"|"+accountNumber).Err())
}

// merchantRecord and staffRecord persist the secrets the public JSON shape hides.
type merchantRecord struct {
	models.Merchant
	APIKeyHash string `json:"api_key_hash"`
	WebhookKey string `json:"webhook_key"`
}

type staffRecord struct {
	models.Staff
	PasswordHash string `json:"password_hash"`
}

func redisError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrStatusConflict) || errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrDuplicateOrderID) || errors.Is(err, models.ErrStorageUnavailable) ||
		errors.Is(err, models.ErrLedgerEntryExists) {
		return err
	}
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrStorageUnavailable, err)
}
