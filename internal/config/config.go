package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration derived from environment variables.
type Config struct {
	HTTPPort  string
	LogLevel  string
	JWTSecret string

	JWTIssuer     string
	JWTAudience   string
	StaffTokenTTL time.Duration

	// Storage, in preference order. Empty URLs disable a backend.
	DatabaseURL    string
	RedisURL       string
	SQLitePath     string
	StorageOrder   []string
	StorageMode    string
	HealthCacheTTL time.Duration
	PrefixPostgres string
	PrefixRedis    string
	PrefixSQLite   string

	// Order pipeline.
	PaymentPageURL      string
	PaymentLinkKey      string
	RequestBudget       time.Duration
	CompensationTimeout time.Duration
	BatchCap            int
	LedgerMaxAttempts   int

	// QR rendering.
	QRMethod     string
	QRServiceURL string
	QRTemplate   string

	// Bank directory; empty URL uses the embedded list.
	BankDirectoryURL string
	BankDirectoryTTL time.Duration

	// Notifications and webhooks.
	StaffNotifyURL     string
	NotifyWindow       time.Duration
	WebhookTimeout     time.Duration
	QueueSize          int
	QueueWorkers       int
	IdempotencyTTL     time.Duration
	PublicRateLimitRPS int
	AuthRateLimitRPS   int
	BulkRateLimit      int
	BulkRateWindow     time.Duration

	// Background workers.
	AssignmentInterval     time.Duration
	ExpiryInterval         time.Duration
	DepositTTL             time.Duration
	ReconciliationInterval time.Duration
	ReconciliationGrace    time.Duration
}

// Load reads environment variables using viper and returns a typed config.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateAuth(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStorage is Load without the HTTP auth requirements, for operator tools
// that only touch storage.
func LoadStorage() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	bindEnv(v, "port", "PORT", "GATEWAY_PORT")
	bindEnv(v, "log_level", "LOG_LEVEL", "GATEWAY_LOG_LEVEL")
	bindEnv(v, "jwt_secret", "JWT_SECRET", "GATEWAY_JWT_SECRET")
	bindEnv(v, "jwt_issuer", "JWT_ISSUER", "GATEWAY_JWT_ISSUER")
	bindEnv(v, "jwt_audience", "JWT_AUDIENCE", "GATEWAY_JWT_AUDIENCE")
	bindEnv(v, "staff_token_ttl", "STAFF_TOKEN_TTL", "GATEWAY_STAFF_TOKEN_TTL")
	bindEnv(v, "database_url", "DATABASE_URL", "GATEWAY_DATABASE_URL")
	bindEnv(v, "redis_url", "REDIS_URL", "GATEWAY_REDIS_URL")
	bindEnv(v, "sqlite_path", "SQLITE_PATH", "GATEWAY_SQLITE_PATH")
	bindEnv(v, "storage_order", "STORAGE_ORDER", "GATEWAY_STORAGE_ORDER")
	bindEnv(v, "storage_mode", "STORAGE_MODE", "GATEWAY_STORAGE_MODE")
	bindEnv(v, "health_cache_ttl", "HEALTH_CACHE_TTL", "GATEWAY_HEALTH_CACHE_TTL")
	bindEnv(v, "prefix_postgres", "ORDER_PREFIX_POSTGRES", "GATEWAY_ORDER_PREFIX_POSTGRES")
	bindEnv(v, "prefix_redis", "ORDER_PREFIX_REDIS", "GATEWAY_ORDER_PREFIX_REDIS")
	bindEnv(v, "prefix_sqlite", "ORDER_PREFIX_SQLITE", "GATEWAY_ORDER_PREFIX_SQLITE")
	bindEnv(v, "payment_page_url", "PAYMENT_PAGE_URL", "GATEWAY_PAYMENT_PAGE_URL")
	bindEnv(v, "payment_link_key", "PAYMENT_LINK_KEY", "GATEWAY_PAYMENT_LINK_KEY")
	bindEnv(v, "request_budget", "REQUEST_BUDGET", "GATEWAY_REQUEST_BUDGET")
	bindEnv(v, "compensation_timeout", "COMPENSATION_TIMEOUT", "GATEWAY_COMPENSATION_TIMEOUT")
	bindEnv(v, "batch_cap", "BATCH_CAP", "GATEWAY_BATCH_CAP")
	bindEnv(v, "ledger_max_attempts", "LEDGER_MAX_ATTEMPTS", "GATEWAY_LEDGER_MAX_ATTEMPTS")
	bindEnv(v, "qr_method", "QR_METHOD", "GATEWAY_QR_METHOD")
	bindEnv(v, "qr_service_url", "QR_SERVICE_URL", "GATEWAY_QR_SERVICE_URL")
	bindEnv(v, "qr_template", "QR_TEMPLATE", "GATEWAY_QR_TEMPLATE")
	bindEnv(v, "bank_directory_url", "BANK_DIRECTORY_URL", "GATEWAY_BANK_DIRECTORY_URL")
	bindEnv(v, "bank_directory_ttl", "BANK_DIRECTORY_TTL", "GATEWAY_BANK_DIRECTORY_TTL")
	bindEnv(v, "staff_notify_url", "STAFF_NOTIFY_URL", "GATEWAY_STAFF_NOTIFY_URL")
	bindEnv(v, "notify_window", "NOTIFY_WINDOW", "GATEWAY_NOTIFY_WINDOW")
	bindEnv(v, "webhook_timeout", "WEBHOOK_TIMEOUT", "GATEWAY_WEBHOOK_TIMEOUT")
	bindEnv(v, "queue_size", "QUEUE_SIZE", "GATEWAY_QUEUE_SIZE")
	bindEnv(v, "queue_workers", "QUEUE_WORKERS", "GATEWAY_QUEUE_WORKERS")
	bindEnv(v, "idempotency_ttl", "IDEMPOTENCY_TTL", "GATEWAY_IDEMPOTENCY_TTL")
	bindEnv(v, "public_rate_limit_rps", "PUBLIC_RATE_LIMIT_RPS", "GATEWAY_PUBLIC_RATE_LIMIT_RPS")
	bindEnv(v, "auth_rate_limit_rps", "AUTH_RATE_LIMIT_RPS", "GATEWAY_AUTH_RATE_LIMIT_RPS")
	bindEnv(v, "bulk_rate_limit", "BULK_RATE_LIMIT", "GATEWAY_BULK_RATE_LIMIT")
	bindEnv(v, "bulk_rate_window", "BULK_RATE_WINDOW", "GATEWAY_BULK_RATE_WINDOW")
	bindEnv(v, "assignment_interval", "ASSIGNMENT_INTERVAL", "GATEWAY_ASSIGNMENT_INTERVAL")
	bindEnv(v, "expiry_interval", "EXPIRY_INTERVAL", "GATEWAY_EXPIRY_INTERVAL")
	bindEnv(v, "deposit_ttl", "DEPOSIT_TTL", "GATEWAY_DEPOSIT_TTL")
	bindEnv(v, "reconciliation_interval", "RECONCILIATION_INTERVAL", "GATEWAY_RECONCILIATION_INTERVAL")
	bindEnv(v, "reconciliation_grace", "RECONCILIATION_GRACE", "GATEWAY_RECONCILIATION_GRACE")

	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "payorder-gateway")
	v.SetDefault("jwt_audience", "payorder-dashboard")
	v.SetDefault("staff_token_ttl", "12h")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("sqlite_path", "data/gateway.db")
	v.SetDefault("storage_order", "postgres,redis,sqlite")
	v.SetDefault("storage_mode", "tolerant")
	v.SetDefault("health_cache_ttl", "5s")
	v.SetDefault("prefix_postgres", "PGW")
	v.SetDefault("prefix_redis", "RDW")
	v.SetDefault("prefix_sqlite", "SQW")
	v.SetDefault("payment_page_url", "http://localhost:8080")
	v.SetDefault("payment_link_key", "")
	v.SetDefault("request_budget", "25s")
	v.SetDefault("compensation_timeout", "10s")
	v.SetDefault("batch_cap", 200)
	v.SetDefault("ledger_max_attempts", 5)
	v.SetDefault("qr_method", "local")
	v.SetDefault("qr_service_url", "https://img.vietqr.io")
	v.SetDefault("qr_template", "compact2")
	v.SetDefault("bank_directory_url", "")
	v.SetDefault("bank_directory_ttl", "24h")
	v.SetDefault("staff_notify_url", "")
	v.SetDefault("notify_window", "5m")
	v.SetDefault("webhook_timeout", "8s")
	v.SetDefault("queue_size", 1024)
	v.SetDefault("queue_workers", 4)
	v.SetDefault("idempotency_ttl", "24h")
	v.SetDefault("public_rate_limit_rps", 10)
	v.SetDefault("auth_rate_limit_rps", 100)
	v.SetDefault("bulk_rate_limit", 30)
	v.SetDefault("bulk_rate_window", "1m")
	v.SetDefault("assignment_interval", "30s")
	v.SetDefault("expiry_interval", "1m")
	v.SetDefault("deposit_ttl", "30m")
	v.SetDefault("reconciliation_interval", "1h")
	v.SetDefault("reconciliation_grace", "2m")

	durations := map[string]*time.Duration{}
	cfg := &Config{
		HTTPPort:           v.GetString("port"),
		LogLevel:           v.GetString("log_level"),
		JWTSecret:          v.GetString("jwt_secret"),
		JWTIssuer:          v.GetString("jwt_issuer"),
		JWTAudience:        v.GetString("jwt_audience"),
		DatabaseURL:        v.GetString("database_url"),
		RedisURL:           v.GetString("redis_url"),
		SQLitePath:         v.GetString("sqlite_path"),
		StorageOrder:       splitList(v.GetString("storage_order")),
		StorageMode:        strings.ToLower(strings.TrimSpace(v.GetString("storage_mode"))),
		PrefixPostgres:     v.GetString("prefix_postgres"),
		PrefixRedis:        v.GetString("prefix_redis"),
		PrefixSQLite:       v.GetString("prefix_sqlite"),
		PaymentPageURL:     strings.TrimRight(v.GetString("payment_page_url"), "/"),
		PaymentLinkKey:     v.GetString("payment_link_key"),
		BatchCap:           max(v.GetInt("batch_cap"), 1),
		LedgerMaxAttempts:  max(v.GetInt("ledger_max_attempts"), 1),
		QRMethod:           v.GetString("qr_method"),
		QRServiceURL:       v.GetString("qr_service_url"),
		QRTemplate:         v.GetString("qr_template"),
		BankDirectoryURL:   v.GetString("bank_directory_url"),
		StaffNotifyURL:     v.GetString("staff_notify_url"),
		QueueSize:          max(v.GetInt("queue_size"), 1),
		QueueWorkers:       max(v.GetInt("queue_workers"), 1),
		PublicRateLimitRPS: max(v.GetInt("public_rate_limit_rps"), 1),
		AuthRateLimitRPS:   max(v.GetInt("auth_rate_limit_rps"), 1),
		BulkRateLimit:      max(v.GetInt("bulk_rate_limit"), 1),
	}
	durations["staff_token_ttl"] = &cfg.StaffTokenTTL
	durations["health_cache_ttl"] = &cfg.HealthCacheTTL
	durations["request_budget"] = &cfg.RequestBudget
	durations["compensation_timeout"] = &cfg.CompensationTimeout
	durations["bank_directory_ttl"] = &cfg.BankDirectoryTTL
	durations["notify_window"] = &cfg.NotifyWindow
	durations["webhook_timeout"] = &cfg.WebhookTimeout
	durations["idempotency_ttl"] = &cfg.IdempotencyTTL
	durations["bulk_rate_window"] = &cfg.BulkRateWindow
	durations["assignment_interval"] = &cfg.AssignmentInterval
	durations["expiry_interval"] = &cfg.ExpiryInterval
	durations["deposit_ttl"] = &cfg.DepositTTL
	durations["reconciliation_interval"] = &cfg.ReconciliationInterval
	durations["reconciliation_grace"] = &cfg.ReconciliationGrace
	for key, dst := range durations {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", strings.ToUpper(key), err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive", strings.ToUpper(key))
		}
		*dst = d
	}

	if err := cfg.validateStorage(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateAuth() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if strings.TrimSpace(c.JWTIssuer) == "" {
		return fmt.Errorf("JWT_ISSUER is required")
	}
	if strings.TrimSpace(c.JWTAudience) == "" {
		return fmt.Errorf("JWT_AUDIENCE is required")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.StorageMode != "strict" && c.StorageMode != "tolerant" {
		return fmt.Errorf("STORAGE_MODE must be strict or tolerant, got %q", c.StorageMode)
	}
	if len(c.StorageOrder) == 0 {
		return fmt.Errorf("STORAGE_ORDER lists no backends")
	}
	for _, name := range c.StorageOrder {
		switch name {
		case "postgres", "redis", "sqlite":
		default:
			return fmt.Errorf("STORAGE_ORDER: unknown backend %q", name)
		}
	}
	for name, p := range map[string]string{"postgres": c.PrefixPostgres, "redis": c.PrefixRedis, "sqlite": c.PrefixSQLite} {
		if len(p) != 3 {
			return fmt.Errorf("order prefix for %s must be 3 characters, got %q", name, p)
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func bindEnv(v *viper.Viper, key string, names ...string) {
	args := append([]string{key}, names...)
	_ = v.BindEnv(args...)
}
