package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/api"
	"github.com/ayo6706/payorder-gateway/internal/api/middleware"
	"github.com/ayo6706/payorder-gateway/internal/cache"
	"github.com/ayo6706/payorder-gateway/internal/config"
	"github.com/ayo6706/payorder-gateway/internal/credential"
	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/gateway"
	"github.com/ayo6706/payorder-gateway/internal/idempotency"
	"github.com/ayo6706/payorder-gateway/internal/notify"
	"github.com/ayo6706/payorder-gateway/internal/observability"
	"github.com/ayo6706/payorder-gateway/internal/qr"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"github.com/ayo6706/payorder-gateway/internal/worker"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server, the task queue and the background
// workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := OpenStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()
	redisClient := storage.SharedRedis(ctx, cfg)

	queue := worker.NewQueue(cfg.QueueSize, cfg.QueueWorkers)
	stopQueue := queue.Run(ctx)

	var limiter cache.Limiter = cache.NewMemoryLimiter(4096)
	var idemStore *idempotency.Store
	if redisClient != nil {
		limiter = cache.NewRedisLimiter(redisClient, "")
		idemStore = idempotency.NewStore(redisClient, cfg.IdempotencyTTL)
	}

	var directory gateway.Directory = gateway.NewStaticDirectory()
	if cfg.BankDirectoryURL != "" {
		directory = gateway.NewHTTPDirectory(nil, cfg.BankDirectoryURL, cfg.BankDirectoryTTL, directory)
	}

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		StaffURL: cfg.StaffNotifyURL,
		Window:   cfg.NotifyWindow,
		Timeout:  cfg.WebhookTimeout,
	}, queue, limiter)
	webhooks := notify.NewWebhookSender(cfg.WebhookTimeout)

	resolver := storage.Resolver
	ledger := service.NewLedger(service.LedgerConfig{MaxAttempts: cfg.LedgerMaxAttempts})
	assigner := service.NewAssigner(0)
	orderSvc := service.NewOrderService(
		service.OrderConfig{
			PaymentPageURL:      cfg.PaymentPageURL,
			PaymentLinkKey:      cfg.PaymentLinkKey,
			RequestBudget:       cfg.RequestBudget,
			CompensationTimeout: cfg.CompensationTimeout,
			Batch:               service.BatchConfig{Cap: cfg.BatchCap},
		},
		resolver,
		service.NewValidator(resolver, directory),
		domain.NewOrderIDGenerator(),
		qr.NewResolver(qr.Config{Method: qr.Method(cfg.QRMethod), ServiceURL: cfg.QRServiceURL, Template: cfg.QRTemplate}),
		assigner,
		ledger,
		queue,
		dispatcher,
	)
	withdrawalSvc := service.NewWithdrawalService(resolver, assigner, ledger, queue, webhooks)
	expirySvc := service.NewExpiryService(resolver, queue, webhooks, dispatcher, cfg.DepositTTL)
	reconSvc := service.NewReconciliationService(resolver, ledger).WithGrace(cfg.ReconciliationGrace)

	stopAssignment := worker.NewAssignmentWorker(withdrawalSvc).WithPollInterval(cfg.AssignmentInterval).Run(ctx)
	stopExpiry := worker.NewExpiryWorker(expirySvc).WithInterval(cfg.ExpiryInterval).Run(ctx)
	stopRecon := worker.NewReconciliationWorker(reconSvc).WithInterval(cfg.ReconciliationInterval).Run(ctx)
	logger.Info("workers started",
		zap.Duration("assignment", cfg.AssignmentInterval),
		zap.Duration("expiry", cfg.ExpiryInterval),
		zap.Duration("reconciliation", cfg.ReconciliationInterval),
		zap.Int("queue_workers", cfg.QueueWorkers),
	)

	router := api.NewRouter(cfg, logger, api.Services{
		Storage:     resolver,
		Auth:        service.NewAuthenticator(resolver, credential.Default()),
		Orders:      orderSvc,
		Withdrawals: withdrawalSvc,
		Idempotency: idemStore,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestBudget + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopAssignment()
	stopExpiry()
	stopRecon()
	logger.Info("draining task queue")
	stopQueue()

	logger.Info("shutdown complete")
	return nil
}

// NewLogger builds a production zap logger at level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
