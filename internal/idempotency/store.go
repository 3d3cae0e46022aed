// Package idempotency stores replayable responses keyed by the client's
// Idempotency-Key header.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix = "gw:idempotency"
	// reservations expire so a crashed request cannot hold a key forever
	reserveTTL = time.Minute
)

type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

type Store struct {
	redis redis.Cmdable
	ttl   time.Duration
	poll  time.Duration
}

func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{redis: client, ttl: ttl, poll: 50 * time.Millisecond}
}

type envelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	InProgress  bool   `json:"in_progress"`
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	val, err := s.redis.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(val, &env); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	if env.Hash != requestHash {
		return nil, ErrHashMismatch
	}
	if env.InProgress {
		return nil, ErrInProgress
	}
	return &Record{
		Key:         env.Key,
		RequestHash: env.Hash,
		Status:      env.Status,
		Body:        env.Body,
		ContentType: env.ContentType,
		ServedBy:    "redis",
	}, nil
}

// Reserve claims key for the caller. It reports false when another request
// already holds or finished the key.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	payload, err := json.Marshal(envelope{Key: key, Hash: requestHash, InProgress: true, Method: method, Path: path})
	if err != nil {
		return false, fmt.Errorf("marshal idempotency reservation: %w", err)
	}
	ok, err := s.redis.SetNX(ctx, redisKey(key), payload, reserveTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	env := envelope{
		Key:         key,
		Hash:        requestHash,
		Status:      status,
		Body:        body,
		ContentType: contentType,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.redis.Set(ctx, redisKey(key), payload, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	return &Record{
		Key:         key,
		RequestHash: requestHash,
		Status:      status,
		Body:        body,
		ContentType: contentType,
		ServedBy:    "redis",
	}, nil
}

// Release drops a reservation so the client may retry with the same key.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrInProgress) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				continue
			}
		}
		return nil, err
	}
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}
