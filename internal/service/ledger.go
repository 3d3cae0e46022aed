package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/observability"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Adjustment moves Delta (a positive magnitude) out of or into a merchant's
// balances on behalf of an order.
type Adjustment struct {
	MerchantID       string
	OrderID          string
	Delta            int64
	AffectsCurrent   bool
	AffectsAvailable bool
	IsCredit         bool
}

func (a Adjustment) direction() string {
	switch {
	case a.IsCredit:
		return domain.DirectionCredit
	case a.AffectsCurrent && !a.AffectsAvailable:
		return domain.DirectionSettle
	default:
		return domain.DirectionDebit
	}
}

type LedgerResult struct {
	Success      bool
	Message      string
	RetryAttempt int
	Balance      models.Balance
	// AlreadyApplied is set when the order already had an entry in this
	// direction and nothing moved.
	AlreadyApplied bool
}

type swapOutcome int

const (
	swapOK swapOutcome = iota
	swapConflict
	swapFatal
)

// LedgerConfig bounds the compare-and-swap loop.
type LedgerConfig struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// Ledger applies balance adjustments with optimistic concurrency. Balances
// have no floor.
type Ledger struct {
	cfg   LedgerConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 5 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	return &Ledger{cfg: cfg, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Ledger) backoff() time.Duration {
	spread := l.cfg.MaxBackoff - l.cfg.MinBackoff
	if spread <= 0 {
		return l.cfg.MinBackoff
	}
	return l.cfg.MinBackoff + time.Duration(rand.Int63n(int64(spread+1)))
}

// Adjust retries on version conflicts up to MaxAttempts. Exhaustion returns
// models.ErrConcurrencyExhausted alongside a result carrying the attempt count.
// Adjustments are idempotent per order and direction: a repeat succeeds with
// AlreadyApplied set and no balance change.
func (l *Ledger) Adjust(ctx context.Context, store repository.MerchantStore, adj Adjustment) (LedgerResult, error) {
	if adj.Delta <= 0 {
		return LedgerResult{Message: "delta must be positive"}, fmt.Errorf("adjust balance: invalid delta %d", adj.Delta)
	}

	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		outcome, bal, err := l.try(ctx, store, adj)
		switch outcome {
		case swapOK:
			observability.ObserveLedgerAttempts("ok", attempt)
			return LedgerResult{Success: true, Message: "balance updated", RetryAttempt: attempt, Balance: bal}, nil
		case swapFatal:
			if errors.Is(err, models.ErrLedgerEntryExists) {
				observability.ObserveLedgerAttempts("already_applied", attempt)
				return LedgerResult{Success: true, Message: "already applied", RetryAttempt: attempt, AlreadyApplied: true}, nil
			}
			observability.ObserveLedgerAttempts("error", attempt)
			return LedgerResult{Message: err.Error(), RetryAttempt: attempt}, err
		}
		lastErr = err
		if attempt < l.cfg.MaxAttempts {
			if err := l.sleep(ctx, l.backoff()); err != nil {
				observability.ObserveLedgerAttempts("canceled", attempt)
				return LedgerResult{Message: err.Error(), RetryAttempt: attempt}, fmt.Errorf("adjust balance: %w", err)
			}
		}
	}

	observability.ObserveLedgerAttempts("exhausted", l.cfg.MaxAttempts)
	zap.L().Error("balance update retries exhausted",
		zap.String("merchant_id", adj.MerchantID),
		zap.String("order_id", adj.OrderID),
		zap.Int("attempts", l.cfg.MaxAttempts),
		zap.NamedError("last_conflict", lastErr),
	)
	return LedgerResult{
		Message:      fmt.Sprintf("balance update failed after %d attempts", l.cfg.MaxAttempts),
		RetryAttempt: l.cfg.MaxAttempts,
	}, fmt.Errorf("merchant %s after %d attempts: %w", adj.MerchantID, l.cfg.MaxAttempts, models.ErrConcurrencyExhausted)
}

func (l *Ledger) try(ctx context.Context, store repository.MerchantStore, adj Adjustment) (swapOutcome, models.Balance, error) {
	bal, err := store.GetMerchantBalance(ctx, adj.MerchantID)
	if err != nil {
		return swapFatal, models.Balance{}, fmt.Errorf("read balance: %w", err)
	}

	signed := -adj.Delta
	if adj.IsCredit {
		signed = adj.Delta
	}
	next := bal
	if adj.AffectsCurrent {
		next.Current += signed
	}
	if adj.AffectsAvailable {
		next.Available += signed
	}

	ok, err := store.SwapBalance(ctx, repository.BalanceSwap{
		MerchantID:      adj.MerchantID,
		ExpectedVersion: bal.Version,
		Current:         next.Current,
		Available:       next.Available,
		Entry: models.LedgerEntry{
			ID:             uuid.NewString(),
			MerchantID:     adj.MerchantID,
			OrderID:        adj.OrderID,
			Amount:         signed,
			Direction:      adj.direction(),
			BalanceAfter:   next.Current,
			AvailableAfter: next.Available,
		},
	})
	if err != nil {
		return swapFatal, models.Balance{}, fmt.Errorf("swap balance: %w", err)
	}
	if !ok {
		return swapConflict, models.Balance{}, fmt.Errorf("version %d changed", bal.Version)
	}
	next.Version = bal.Version + 1
	return swapOK, next, nil
}
