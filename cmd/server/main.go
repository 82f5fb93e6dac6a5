// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ersha-payment-service/config"
	"ersha-payment-service/internal/events"
	"ersha-payment-service/internal/handler"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/internal/provider/chapa"
	"ersha-payment-service/internal/provider/midtrans"
	"ersha-payment-service/internal/provider/mpesa"
	"ersha-payment-service/internal/repository"
	"ersha-payment-service/internal/repository/memory"
	"ersha-payment-service/internal/router"
	"ersha-payment-service/internal/usecase"
	"ersha-payment-service/pkg/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("ENVIRONMENT") == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting payment service")

	// Load configuration
	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("default_provider", string(cfg.Payments.DefaultProvider)))

	// Storage
	var store repository.Store
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using in-memory storage, data is lost on restart")
		store = memory.NewStore()
	default:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
		if err != nil {
			logger.Fatal("invalid database configuration", zap.Error(err))
		}
		poolCfg.MaxConns = cfg.Database.MaxConns
		poolCfg.MinConns = cfg.Database.MinConns
		poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

		dbPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer dbPool.Close()

		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(context.Background(), dbPool); err != nil {
				logger.Fatal("failed to apply schema", zap.Error(err))
			}
		}

		logger.Info("connected to database",
			zap.String("database", cfg.Database.DBName))
		store = repository.NewPostgresStore(dbPool)
	}

	// Locks and idempotency
	var (
		locker   cache.Locker
		idemKeys cache.IdempotencyStore
	)
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		locker, idemKeys = redisCache, redisCache
	} else {
		memCache := cache.NewMemoryCache()
		locker, idemKeys = memCache, memCache
	}

	// Domain events
	var publisher events.Publisher
	if cfg.Kafka.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.Info("publishing events to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	} else {
		publisher = events.NewLogPublisher(logger)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close event publisher", zap.Error(err))
		}
	}()

	// Initialize providers
	registry := provider.NewRegistry(
		chapa.NewChapaProvider(cfg.Chapa, logger),
		mpesa.NewMpesaProvider(cfg.Mpesa, cfg.BaseCallbackURL, logger),
		midtrans.NewMidtransProvider(cfg.Midtrans, logger),
	)

	// Initialize usecases
	processor := usecase.NewPaymentProcessor(registry, cfg.Payments.DefaultProvider, cfg.Payments.ProviderTimeout, logger)
	reconciler := usecase.NewReconciler(store, registry, publisher, logger)

	paymentUC := usecase.NewPaymentUsecase(store, processor, reconciler, usecase.PaymentConfig{
		Fees:            cfg.Fees,
		DefaultCurrency: cfg.Payments.DefaultCurrency,
		VerificationTTL: cfg.Payments.VerificationTTL,
	}, publisher, logger)

	payoutUC := usecase.NewPayoutUsecase(store, processor, locker, usecase.PayoutConfig{
		Fees:            cfg.Fees,
		DefaultCurrency: cfg.Payments.DefaultCurrency,
		LockTTL:         cfg.Payments.PayoutLockTTL,
	}, publisher, logger)

	txnUC := usecase.NewTransactionUsecase(store, processor, publisher, logger)
	escrowUC := usecase.NewEscrowUsecase(store, logger)
	methodUC := usecase.NewPaymentMethodUsecase(store, cfg.Payments.DefaultProvider, cfg.Payments.VerificationTTL, logger)

	// Initialize handlers
	paymentHandler := handler.NewPaymentHandler(paymentUC, txnUC, escrowUC, logger)
	payoutHandler := handler.NewPayoutHandler(payoutUC, logger)
	methodHandler := handler.NewPaymentMethodHandler(methodUC, logger)
	callbackHandler := handler.NewCallbackHandler(reconciler, logger)

	// Setup routes
	r := router.SetupRoutes(
		paymentHandler,
		payoutHandler,
		methodHandler,
		callbackHandler,
		handler.Idempotency(idemKeys, cfg.Payments.IdempotencyTTL, logger),
		logger,
	)

	// Create HTTP server
	srv := newServer(":"+cfg.Server.Port, r, cfg.Payments.ProviderTimeout)

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("payment service started successfully",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// responseSlack is the time left for local work around a provider call.
const responseSlack = 15 * time.Second

// newServer sizes the write deadline so a handler blocked on a provider for
// the full provider timeout can still write its response.
func newServer(addr string, h http.Handler, providerTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: providerTimeout + responseSlack,
		IdleTimeout:  60 * time.Second,
	}
}
