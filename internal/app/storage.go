package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ayo6706/payorder-gateway/internal/config"
	"github.com/ayo6706/payorder-gateway/internal/db"
	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Storage is the set of opened backends behind one resolver.
type Storage struct {
	Resolver *repository.Resolver
	// Redis is the shared client, nil when REDIS_URL is unset.
	Redis   *redis.Client
	closers []func()
}

// OpenStorage connects and migrates every backend in cfg.StorageOrder.
// Tolerant mode skips backends that cannot be opened; strict mode fails.
func OpenStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	s := &Storage{}
	var backends []repository.Backend
	var order []string

	for _, name := range cfg.StorageOrder {
		b, err := s.open(ctx, cfg, name)
		if err == nil && b != nil {
			err = b.Migrate(ctx)
		}
		if err != nil {
			if cfg.StorageMode == string(repository.ModeStrict) {
				s.Close()
				return nil, fmt.Errorf("open %s backend: %w", name, err)
			}
			zap.L().Warn("storage backend skipped", zap.String("backend", name), zap.Error(err))
			continue
		}
		if b == nil {
			zap.L().Info("storage backend not configured", zap.String("backend", name))
			continue
		}
		backends = append(backends, b)
		order = append(order, name)
	}
	if len(backends) == 0 {
		s.Close()
		return nil, fmt.Errorf("no storage backend could be opened from %v", cfg.StorageOrder)
	}

	resolver, err := repository.NewResolver(repository.ResolverConfig{
		Order: order,
		Prefixes: map[string]string{
			domain.BackendPostgres: cfg.PrefixPostgres,
			domain.BackendRedis:    cfg.PrefixRedis,
			domain.BackendSQLite:   cfg.PrefixSQLite,
		},
		Mode:      repository.Mode(cfg.StorageMode),
		HealthTTL: cfg.HealthCacheTTL,
	}, backends...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Resolver = resolver
	return s, nil
}

func (s *Storage) open(ctx context.Context, cfg *config.Config, name string) (repository.Backend, error) {
	switch name {
	case domain.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		return repository.NewPostgres(pool), nil
	case domain.BackendRedis:
		if cfg.RedisURL == "" {
			return nil, nil
		}
		client, err := s.redisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return repository.NewRedis(client), nil
	case domain.BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, nil
		}
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		lite, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = lite.Close() })
		return lite, nil
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}

// SharedRedis returns the Redis client for caches and idempotency, opening
// it when Redis is configured but not used as an order store.
func (s *Storage) SharedRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if s.Redis != nil || cfg.RedisURL == "" {
		return s.Redis
	}
	if _, err := s.redisClient(ctx, cfg.RedisURL); err != nil {
		zap.L().Warn("redis unavailable, using in-process caches", zap.Error(err))
	}
	return s.Redis
}

func (s *Storage) redisClient(ctx context.Context, url string) (*redis.Client, error) {
	if s.Redis != nil {
		return s.Redis, nil
	}
	client, err := db.ConnectRedis(ctx, url)
	if err != nil {
		return nil, err
	}
	s.Redis = client
	s.closers = append(s.closers, func() { _ = client.Close() })
	return client, nil
}

// Close releases every opened connection.
func (s *Storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
