package api

import (
	"net/http"

	"github.com/ayo6706/payorder-gateway/internal/api/handler"
	"github.com/ayo6706/payorder-gateway/internal/api/middleware"
	"github.com/ayo6706/payorder-gateway/internal/api/spec"
	"github.com/ayo6706/payorder-gateway/internal/config"
	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/idempotency"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services are the application services the HTTP layer fronts.
type Services struct {
	Storage     service.Storage
	Auth        *service.Authenticator
	Orders      *service.OrderService
	Withdrawals *service.WithdrawalService
	// Idempotency is optional; without it Idempotency-Key is ignored.
	Idempotency *idempotency.Store
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, svc Services) *Router {
	return &Router{cfg: cfg, logger: logger, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Handlers
	healthHandler := handler.NewHealthHandler(api.svc.Storage)
	authHandler := handler.NewAuthHandler(api.svc.Auth, api.cfg.StaffTokenTTL)
	orderHandler := handler.NewOrderHandler(api.svc.Orders, middleware.NewBulkLimiter(api.cfg.BulkRateLimit, api.cfg.BulkRateWindow))
	staffHandler := handler.NewStaffHandler(api.svc.Withdrawals)

	// Ops
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/staff/login", authHandler.Login)
		r.Get("/v1/pay/{token}", orderHandler.PaymentLink)
	})

	// Merchant Routes
	r.Route("/v1/orders/{merchantPublicId}", func(r chi.Router) {
		r.Use(middleware.MerchantAuth(api.svc.Auth))
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.With(middleware.IdempotencyMiddleware(api.svc.Idempotency, api.logger)).Post("/", orderHandler.Create)
		r.Get("/", orderHandler.List)
		r.Get("/{orderId}", orderHandler.Get)
	})

	// Staff Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.StaffAuth)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/staff/processors", staffHandler.Processors)
		r.Put("/v1/staff/me/ready", staffHandler.SetReady)
		r.Get("/v1/staff/withdrawals", staffHandler.Withdrawals)
		r.Post("/v1/staff/withdrawals/{orderId}/resolve", staffHandler.Resolve)
		r.With(middleware.RequireRole(domain.RoleAdmin)).Post("/v1/staff/withdrawals/reassign", staffHandler.Reassign)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "route/not-found", "route not found")
	})
	return r
}
