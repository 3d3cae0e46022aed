package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter admits at most one event per key per window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
	// Release reopens the window for key, for events that were admitted but
	// never went out.
	Release(ctx context.Context, key string) error
}

// MemoryLimiter is a process-local Limiter.
type MemoryLimiter struct {
	seen *Memory[time.Time]
}

func NewMemoryLimiter(maxKeys int) *MemoryLimiter {
	return &MemoryLimiter{seen: NewMemory[time.Time](maxKeys)}
}

// WithClock overrides the time source.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.seen.WithClock(now)
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	return l.seen.SetIfAbsent(key, l.seen.now(), window), nil
}

func (l *MemoryLimiter) Release(_ context.Context, key string) error {
	l.seen.Delete(key)
	return nil
}

// RedisLimiter shares the window across gateway instances.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
}

func NewRedisLimiter(client redis.Cmdable, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "gw:ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, fmt.Sprintf("%s:%s", l.prefix, key), time.Now().UnixMilli(), window).Result()
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return ok, nil
}

func (l *RedisLimiter) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err(); err != nil {
		return fmt.Errorf("redis rate limit release: %w", err)
	}
	return nil
}
