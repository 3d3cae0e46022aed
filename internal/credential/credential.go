// Package credential hashes and verifies merchant API keys and staff passwords.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/cache"
	"github.com/matthewhartstonge/argon2"
)

var ErrEmptySecret = errors.New("secret must not be empty")

// Hasher produces and checks argon2id encoded hashes. Successful checks are
// remembered for a short time so hot API keys skip the key derivation.
type Hasher struct {
	cfg      argon2.Config
	verified *cache.Memory[struct{}]
	ttl      time.Duration
}

func NewHasher(cfg argon2.Config, verifiedTTL time.Duration) *Hasher {
	return &Hasher{
		cfg:      cfg,
		verified: cache.NewMemory[struct{}](4096),
		ttl:      verifiedTTL,
	}
}

// Default uses argon2's recommended parameters.
func Default() *Hasher {
	return NewHasher(argon2.DefaultConfig(), time.Minute)
}

// Fast uses minimal cost parameters. Only for tests and fixtures.
func Fast() *Hasher {
	cfg := argon2.DefaultConfig()
	cfg.TimeCost = 1
	cfg.MemoryCost = 8 * 1024
	cfg.Parallelism = 1
	return NewHasher(cfg, time.Minute)
}

func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	encoded, err := h.cfg.HashEncoded([]byte(secret))
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// Verify reports whether secret matches the encoded hash.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	if secret == "" || encoded == "" {
		return false, nil
	}
	memo := memoKey(secret, encoded)
	if h.ttl > 0 {
		if _, ok := h.verified.Get(memo); ok {
			return true, nil
		}
	}
	ok, err := argon2.VerifyEncoded([]byte(secret), []byte(encoded))
	if err != nil {
		return false, err
	}
	if ok && h.ttl > 0 {
		h.verified.Set(memo, struct{}{}, h.ttl)
	}
	return ok, nil
}

func memoKey(secret, encoded string) string {
	sum := sha256.Sum256([]byte(secret + "\x00" + encoded))
	return hex.EncodeToString(sum[:])
}
