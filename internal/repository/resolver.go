package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/cache"
	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Mode controls what happens when the preferred backend is unhealthy.
type Mode string

const (
	// ModeStrict serves only from the first configured backend.
	ModeStrict Mode = "strict"
	// ModeTolerant falls through the preference order and serves reference
	// data from last-known-good snapshots.
	ModeTolerant Mode = "tolerant"
)

type ResolverConfig struct {
	// Order lists backend names by preference.
	Order []string
	// Prefixes maps backend name to its three-character order id prefix.
	Prefixes    map[string]string
	Mode        Mode
	HealthTTL   time.Duration
	SnapshotTTL time.Duration
}

// Resolver picks the authoritative backend for new orders and routes existing
// order ids back to the store that issued them.
type Resolver struct {
	backends  map[string]Backend
	order     []string
	prefixes  map[string]string
	byPrefix  map[string]string
	mode      Mode
	healthTTL time.Duration
	snapTTL   time.Duration
	now       func() time.Time

	health    singleflight.Group
	mu        sync.Mutex
	active    Backend
	checkedAt time.Time

	merchants *cache.Memory[models.Merchant]
	banks     *cache.Memory[models.Bank]
}

func NewResolver(cfg ResolverConfig, backends ...Backend) (*Resolver, error) {
	if len(backends) == 0 {
		return nil, errors.New("resolver: no storage backends configured")
	}
	r := &Resolver{
		backends:  make(map[string]Backend, len(backends)),
		prefixes:  make(map[string]string, len(cfg.Prefixes)),
		byPrefix:  make(map[string]string, len(cfg.Prefixes)),
		mode:      cfg.Mode,
		healthTTL: cfg.HealthTTL,
		snapTTL:   cfg.SnapshotTTL,
		now:       time.Now,
		merchants: cache.NewMemory[models.Merchant](1024),
		banks:     cache.NewMemory[models.Bank](4096),
	}
	if r.mode == "" {
		r.mode = ModeTolerant
	}
	if r.healthTTL <= 0 {
		r.healthTTL = 5 * time.Second
	}
	if r.snapTTL <= 0 {
		r.snapTTL = 24 * time.Hour
	}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	for _, name := range cfg.Order {
		if _, ok := r.backends[name]; !ok {
			return nil, fmt.Errorf("resolver: backend %q in preference order is not configured", name)
		}
		r.order = append(r.order, name)
	}
	if len(r.order) == 0 {
		for _, b := range backends {
			r.order = append(r.order, b.Name())
		}
	}
	for name, prefix := range cfg.Prefixes {
		if len(prefix) != domain.OrderIDPrefixLen {
			return nil, fmt.Errorf("resolver: prefix %q for %s must be %d characters", prefix, name, domain.OrderIDPrefixLen)
		}
		if other, dup := r.byPrefix[prefix]; dup {
			return nil, fmt.Errorf("resolver: prefix %q shared by %s and %s", prefix, other, name)
		}
		r.prefixes[name] = prefix
		r.byPrefix[prefix] = name
	}
	for _, name := range r.order {
		if _, ok := r.prefixes[name]; !ok {
			return nil, fmt.Errorf("resolver: no order id prefix for backend %s", name)
		}
	}
	return r, nil
}

// WithClock overrides the time source for health caching and snapshots.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	r.merchants.WithClock(now)
	r.banks.WithClock(now)
	return r
}

func (r *Resolver) Tolerant() bool { return r.mode == ModeTolerant }

// Prefix returns the order id prefix for backend name.
func (r *Resolver) Prefix(name string) string { return r.prefixes[name] }

// Backends returns every configured backend in preference order.
func (r *Resolver) Backends() []Backend {
	out := make([]Backend, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name])
	}
	return out
}

// Active returns the backend new orders are written to. Health results are
// cached for HealthTTL; concurrent callers share one round of pings, run
// without holding the resolver lock.
func (r *Resolver) Active(ctx context.Context) (Backend, error) {
	r.mu.Lock()
	if r.active != nil && r.now().Sub(r.checkedAt) < r.healthTTL {
		b := r.active
		r.mu.Unlock()
		return b, nil
	}
	r.mu.Unlock()

	v, err, _ := r.health.Do("active", func() (any, error) {
		return r.selectActive(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Backend), nil
}

func (r *Resolver) selectActive(ctx context.Context) (Backend, error) {
	candidates := r.order
	if r.mode == ModeStrict {
		candidates = r.order[:1]
	}
	var lastErr error
	for _, name := range candidates {
		b := r.backends[name]
		if err := b.Ping(ctx); err != nil {
			lastErr = err
			observability.SetBackendHealth(name, false)
			continue
		}
		observability.SetBackendHealth(name, true)

		r.mu.Lock()
		if r.active == nil || r.active.Name() != name {
			zap.L().Info("storage backend selected", zap.String("backend", name), zap.Bool("durable", b.Durable()))
			observability.SetActiveBackend(name, r.order)
		}
		r.active = b
		r.checkedAt = r.now()
		r.mu.Unlock()
		return b, nil
	}
	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()
	return nil, fmt.Errorf("no healthy storage backend: %w", errors.Join(models.ErrStorageUnavailable, lastErr))
}

// Invalidate forces the next Active call to re-check health.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.checkedAt = time.Time{}
	r.mu.Unlock()
}

// BackendForPrefix maps an order id prefix to its backend.
func (r *Resolver) BackendForPrefix(prefix string) (Backend, bool) {
	name, ok := r.byPrefix[prefix]
	if !ok {
		return nil, false
	}
	return r.backends[name], true
}

// ForOrder returns the backend that issued orderID.
func (r *Resolver) ForOrder(orderID string) (Backend, error) {
	prefix, err := domain.OrderIDPrefix(orderID)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	b, ok := r.BackendForPrefix(prefix)
	if !ok {
		return nil, fmt.Errorf("order %s: unknown prefix: %w", orderID, models.ErrNotFound)
	}
	return b, nil
}

// LookupMerchant reads a merchant from b, remembering it for degraded reads.
// In tolerant mode a storage failure falls back to the last good copy.
func (r *Resolver) LookupMerchant(ctx context.Context, b Backend, publicID string) (*models.Merchant, error) {
	m, err := b.GetMerchantByPublicID(ctx, publicID)
	if err == nil {
		r.merchants.Set(publicID, *m, r.snapTTL)
		return m, nil
	}
	if errors.Is(err, models.ErrStorageUnavailable) && r.Tolerant() {
		if snap, ok := r.merchants.Get(publicID); ok {
			zap.L().Warn("serving merchant from snapshot", zap.String("merchant", publicID), zap.Error(err))
			observability.IncrementSnapshotServed("merchant")
			return &snap, nil
		}
	}
	return nil, err
}

// LookupBank reads a receiving bank from b with the same fallback as LookupMerchant.
func (r *Resolver) LookupBank(ctx context.Context, b Backend, bankID string) (*models.Bank, error) {
	bank, err := b.GetBank(ctx, bankID)
	if err == nil {
		r.banks.Set(bankID, *bank, r.snapTTL)
		return bank, nil
	}
	if errors.Is(err, models.ErrStorageUnavailable) && r.Tolerant() {
		if snap, ok := r.banks.Get(bankID); ok {
			zap.L().Warn("serving bank from snapshot", zap.String("bank", bankID), zap.Error(err))
			observability.IncrementSnapshotServed("bank")
			return &snap, nil
		}
	}
	return nil, err
}
