// Package testutil builds seeded storage backends for tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ayo6706/payorder-gateway/internal/credential"
	"github.com/ayo6706/payorder-gateway/internal/db"
	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"github.com/ayo6706/payorder-gateway/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const APIKey = "test-api-key"

var (
	hashOnce  sync.Once
	keyHash   string
	hasher    = credential.Fast()
	envLoaded sync.Once
)

// Hasher is the fast credential hasher used by fixtures.
func Hasher() *credential.Hasher { return hasher }

// APIKeyHash returns the encoded hash of APIKey.
func APIKeyHash(t testing.TB) string {
	t.Helper()
	hashOnce.Do(func() {
		var err error
		keyHash, err = hasher.Hash(APIKey)
		if err != nil {
			panic(err)
		}
	})
	return keyHash
}

func loadEnv() {
	envLoaded.Do(func() { _ = godotenv.Load("../../.env") })
}

// SQLite returns a migrated SQLite backend in a temp directory.
func SQLite(t testing.TB) *repository.SQLite {
	t.Helper()
	s, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return s
}

// Postgres returns a migrated Postgres backend, or skips without DATABASE_URL.
// Tests holding it are serialised across packages.
func Postgres(t testing.TB) *repository.Postgres {
	t.Helper()
	loadEnv()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	release := dblock.Acquire(dblock.Postgres)
	t.Cleanup(release)

	pool, err := db.Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	t.Cleanup(pool.Close)

	p := repository.NewPostgres(pool)
	if err := p.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	if _, err := pool.Exec(context.Background(),
		`TRUNCATE TABLE ledger_entries, orders, account_blacklist, banks, staff, merchants CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return p
}

// Redis returns an empty Redis backend, or skips without REDIS_URL.
func Redis(t testing.TB) *repository.Redis {
	t.Helper()
	loadEnv()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	release := dblock.Acquire(dblock.Redis)
	t.Cleanup(release)

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return repository.NewRedis(client)
}

// Merchant returns an active merchant with generous limits. mutate may
// adjust it before it is stored.
func Merchant(t testing.TB, b repository.Backend, mutate func(m *models.Merchant)) *models.Merchant {
	t.Helper()
	id := uuid.NewString()
	m := &models.Merchant{
		ID:                id,
		PublicID:          "m-" + id[:8],
		Name:              "Test Merchant",
		APIKeyHash:        APIKeyHash(t),
		WebhookKey:        "webhook-key",
		Active:            true,
		Balance:           10_000_000,
		AvailableBalance:  10_000_000,
		MinDepositAmount:  10_000,
		MaxDepositAmount:  500_000_000,
		MinWithdrawAmount: 10_000,
		MaxWithdrawAmount: 500_000_000,
	}
	if mutate != nil {
		mutate(m)
	}
	if err := b.UpsertMerchant(context.Background(), m); err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	return m
}

// Bank stores an active receiving bank account.
func Bank(t testing.TB, b repository.Backend) *models.Bank {
	t.Helper()
	bank := &models.Bank{
		ID:            "bank-" + uuid.NewString()[:8],
		BIN:           "970436",
		AccountNumber: "0071000888999",
		OwnerName:     "CONG TY TNHH PAYORDER",
		DisplayName:   "Vietcombank",
		Active:        true,
	}
	if err := b.UpsertBank(context.Background(), bank); err != nil {
		t.Fatalf("seed bank: %v", err)
	}
	return bank
}

// Staff stores a staff member with the given readiness.
func Staff(t testing.TB, b repository.Backend, username string, ready bool) *models.Staff {
	t.Helper()
	s := &models.Staff{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: APIKeyHash(t),
		Role:         domain.RoleStaff,
		Ready:        ready,
	}
	if err := b.UpsertStaff(context.Background(), s); err != nil {
		t.Fatalf("seed staff: %v", err)
	}
	return s
}
