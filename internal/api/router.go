package api

import (
	"net/http"

	"github.com/Big6ixxx/sendzz/internal/api/handler"
	"github.com/Big6ixxx/sendzz/internal/api/middleware"
	"github.com/Big6ixxx/sendzz/internal/api/spec"
	"github.com/Big6ixxx/sendzz/internal/config"
	"github.com/Big6ixxx/sendzz/internal/idempotency"
	"github.com/Big6ixxx/sendzz/internal/security"
	"github.com/Big6ixxx/sendzz/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups the application services the HTTP layer exposes.
type Services struct {
	Accounts    *service.AccountService
	Auth        *service.AuthService
	Transfers   *service.TransferService
	Withdrawals *service.WithdrawalService
	Webhooks    *service.WebhookService
	Audit       *service.AuditService
}

// Deps are the infrastructure pieces the router needs besides services.
// DB and Redis may be nil; Limiter may be nil to disable quotas.
type Deps struct {
	Idempotency *idempotency.Store
	Limiter     security.Limiter
	DB          handler.Pinger
	Redis       redis.Cmdable
}

type Router struct {
	cfg      *config.Config
	logger   *zap.Logger
	services Services
	deps     Deps
}

func NewRouter(cfg *config.Config, logger *zap.Logger, services Services, deps Deps) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, services: services, deps: deps}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Trace-ID", "Retry-After", "X-Idempotent-Replay"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Handlers
	healthHandler := handler.NewHealthHandler(api.deps.DB, api.deps.Redis)
	authHandler := handler.NewAuthHandler(api.services.Auth, api.deps.Limiter, api.cfg.JWTTTL)
	userHandler := handler.NewUserHandler(api.services.Accounts)
	accountHandler := handler.NewAccountHandler(api.services.Accounts)
	transferHandler := handler.NewTransferHandler(api.services.Transfers)
	withdrawalHandler := handler.NewWithdrawalHandler(api.services.Withdrawals)
	payoutHandler := handler.NewPayoutHandler(api.services.Withdrawals)
	webhookHandler := handler.NewWebhookHandler(api.services.Webhooks)
	auditHandler := handler.NewAuditHandler(api.services.Audit)

	idem := middleware.IdempotencyMiddleware(api.deps.Idempotency, api.logger)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Route("/v1", func(r chi.Router) {
		// Provider callbacks authenticate by signature and are not IP limited.
		r.Post("/webhooks/paycrest", webhookHandler.HandlePaycrestWebhook)
		r.Post("/webhooks/deposits", webhookHandler.HandleDepositWebhook)

		// Public Routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
			r.Post("/auth/otp", authHandler.RequestCode)
			r.Post("/auth/verify", authHandler.VerifyCode)
			r.Get("/payouts/currencies", payoutHandler.ListCurrencies)
			r.Get("/payouts/institutions/{currency}", payoutHandler.ListInstitutions)
		})

		// Protected Routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware)
			r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

			r.Get("/me", userHandler.Me)
			r.Get("/balance", accountHandler.GetBalance)
			r.Get("/balance/history", accountHandler.GetHistory)

			r.With(middleware.Quota(api.deps.Limiter, "transfer", security.LimitTransfer), idem).
				Post("/transfers", transferHandler.SendTransfer)
			r.Post("/transfers/claim", transferHandler.ClaimTransfer)
			r.Post("/transfers/{id}/cancel", transferHandler.CancelTransfer)
			r.Get("/transfers", transferHandler.ListTransfers)
			r.Get("/transfers/pending-claims", transferHandler.PendingClaims)

			r.With(middleware.Quota(api.deps.Limiter, "withdrawal", security.LimitWithdrawal), idem).
				Post("/withdrawals", withdrawalHandler.InitiateWithdrawal)
			r.Post("/withdrawals/{id}/verify", withdrawalHandler.VerifyWithdrawal)
			r.Get("/withdrawals", withdrawalHandler.ListWithdrawals)
			r.Get("/withdrawals/{id}", withdrawalHandler.GetWithdrawal)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Get("/withdrawals/review", payoutHandler.ListManualReview)
				r.Post("/withdrawals/{id}/resolve", payoutHandler.ResolveManualReview)
				r.Get("/audit-logs", auditHandler.ListAuditLogs)
			})
		})
	})

	return r
}
