package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Big6ixxx/sendzz/internal/api"
	"github.com/Big6ixxx/sendzz/internal/api/handler"
	"github.com/Big6ixxx/sendzz/internal/api/middleware"
	"github.com/Big6ixxx/sendzz/internal/cache"
	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/config"
	"github.com/Big6ixxx/sendzz/internal/db"
	"github.com/Big6ixxx/sendzz/internal/gateway"
	"github.com/Big6ixxx/sendzz/internal/idempotency"
	"github.com/Big6ixxx/sendzz/internal/notify"
	"github.com/Big6ixxx/sendzz/internal/observability"
	"github.com/Big6ixxx/sendzz/internal/paycrest"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/Big6ixxx/sendzz/internal/security"
	"github.com/Big6ixxx/sendzz/internal/service"
	"github.com/Big6ixxx/sendzz/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
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

	clk := clock.RealClock{}

	var (
		store  service.QueryStore
		pinger handler.Pinger
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, balances are lost on restart")
		store = repository.NewMemoryStore(clk)
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		if cfg.RunMigrations {
			if err := db.RunMigrations(ctx, pool); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		store = repository.NewStore(pool)
		pinger = pool
	}

	var (
		sharedCache cache.Cache
		limiter     security.Limiter
		redisCmd    redis.Cmdable
	)
	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		sharedCache = cache.NewRedisCache(redisClient, "sendzz")
		limiter = security.NewRedisLimiter(redisClient)
		redisCmd = redisClient
	} else {
		logger.Info("REDIS_URL not set, using in-process cache and rate limiter")
		sharedCache = cache.NewMemoryCache(clk)
		limiter = security.NewMemoryLimiter(clk)
	}

	provider, err := newPayoutProvider(cfg, sharedCache, clk, logger)
	if err != nil {
		return err
	}

	var sealer *security.Sealer
	if cfg.AccountSealKey != "" {
		sealer, err = security.NewSealerFromHex(cfg.AccountSealKey)
		if err != nil {
			return fmt.Errorf("account seal key: %w", err)
		}
	}

	sender, closeSender, err := newSender(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSender()
	dispatcher := notify.NewDispatcher(sender, notify.DispatcherConfig{
		From:      cfg.EmailFrom,
		ReplyTo:   cfg.EmailReplyTo,
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
	})
	defer dispatcher.Stop()

	withdrawals := service.NewWithdrawalService(store, provider, sealer, dispatcher, clk, service.WithdrawalConfig{
		OTPExpiry:        cfg.OTPExpiry,
		OTPMaxFailures:   cfg.OTPMaxFailures,
		OTPFailureWindow: cfg.OTPFailureWindow,
		StaleAfter:       cfg.PayoutStaleAfter,
		PayoutNetwork:    cfg.PayoutNetwork,
	})
	webhooks := service.NewWebhookService(store, withdrawals, dispatcher, clk, service.WebhookConfig{
		PaycrestSecret: cfg.PaycrestWebhookSecret,
		DepositSecret:  cfg.DepositWebhookSecret,
		SkipSignature:  cfg.WebhookSkipSignature,
	})
	transfers := service.NewTransferService(store, dispatcher, clk, service.TransferConfig{
		AppBaseURL:      cfg.AppBaseURL,
		ClaimExpiryDays: cfg.ClaimTokenExpiryDays,
	})
	services := api.Services{
		Accounts:    service.NewAccountService(store),
		Auth:        service.NewAuthService(store, dispatcher, clk, service.AuthConfig{OTPExpiry: cfg.OTPExpiry, OTPMaxFailures: cfg.OTPMaxFailures, OTPFailureWindow: cfg.OTPFailureWindow, AdminEmails: cfg.AdminEmails}),
		Transfers:   transfers,
		Withdrawals: withdrawals,
		Webhooks:    webhooks,
		Audit:       service.NewAuditService(store),
	}

	stopExpiry := worker.NewExpiryWorker(transfers, withdrawals).
		WithInterval(cfg.ExpirySweepInterval).
		WithBatchSize(cfg.WorkerBatchSize).
		Run(ctx)
	stopPayouts := worker.NewPayoutWorker(withdrawals, webhooks).
		WithPollInterval(cfg.PayoutReconcileInterval).
		WithBatchSize(cfg.WorkerBatchSize).
		Run(ctx)
	stopLedger := worker.NewReconciliationWorker(service.NewReconciliationService(store)).
		WithInterval(cfg.LedgerReconcileInterval).
		Run(ctx)
	logger.Info("workers started",
		zap.Duration("expiry_interval", cfg.ExpirySweepInterval),
		zap.Duration("payout_interval", cfg.PayoutReconcileInterval),
		zap.Duration("ledger_interval", cfg.LedgerReconcileInterval),
		zap.Int32("batch", cfg.WorkerBatchSize),
	)

	idemStore := idempotency.NewStore(sharedCache, store.Queries(), cfg.IdempotencyTTL)
	router := api.NewRouter(cfg, logger, services, api.Deps{
		Idempotency: idemStore,
		Limiter:     limiter,
		DB:          pinger,
		Redis:       redisCmd,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreDriver))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopExpiry()
	stopPayouts()
	stopLedger()

	logger.Info("shutdown complete")
	return nil
}

// newPayoutProvider returns the Paycrest client, or the sandbox when no API
// key is configured.
func newPayoutProvider(cfg *config.Config, c cache.Cache, clk clock.Clock, logger *zap.Logger) (service.PayoutProvider, error) {
	if cfg.UsesSandboxProvider() {
		logger.Warn("PAYCREST_API_KEY not set, payouts go to the sandbox provider")
		return gateway.NewSandboxProvider(clk), nil
	}
	client, err := paycrest.NewClient(paycrest.Config{
		APIKey:     cfg.PaycrestAPIKey,
		BaseURL:    cfg.PaycrestBaseURL,
		Timeout:    cfg.PaycrestTimeout,
		MaxRetries: uint64(cfg.PaycrestMaxRetries),
		CacheTTL:   cfg.PaycrestCacheTTL,
	}, c)
	if err != nil {
		return nil, fmt.Errorf("paycrest client: %w", err)
	}
	return client, nil
}

func newSender(cfg *config.Config, logger *zap.Logger) (notify.Sender, func(), error) {
	if cfg.NotifyDriver != config.NotifyDriverAMQP {
		return notify.NewLogSender(logger), func() {}, nil
	}
	sender, err := notify.NewAMQPSender(notify.AMQPConfig{
		URL:        cfg.AMQPURL,
		Exchange:   cfg.AMQPExchange,
		RoutingKey: cfg.AMQPRoutingKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("notification sender: %w", err)
	}
	return sender, func() {
		if err := sender.Close(); err != nil {
			logger.Warn("close notification sender", zap.Error(err))
		}
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
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

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
