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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/amlclient"
	"github.com/osanpay/remittance-core/internal/api"
	"github.com/osanpay/remittance-core/internal/api/middleware"
	"github.com/osanpay/remittance-core/internal/config"
	"github.com/osanpay/remittance-core/internal/db"
	"github.com/osanpay/remittance-core/internal/dedup"
	"github.com/osanpay/remittance-core/internal/observability"
	"github.com/osanpay/remittance-core/internal/rail"
	"github.com/osanpay/remittance-core/internal/registry"
	"github.com/osanpay/remittance-core/internal/service"
	"github.com/osanpay/remittance-core/internal/store/postgres"
	"github.com/osanpay/remittance-core/internal/switchclient"
	"github.com/osanpay/remittance-core/internal/worker"
)

// Run bootstraps the HTTP ingress, the rail consumer and the background
// workers, blocking until shutdown.
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

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	transferStore := postgres.NewTransferStore(pool)
	rateStore := postgres.NewRateStore(pool)
	amlStore := postgres.NewAmlStore(pool)
	auditStore := postgres.NewAuditStore(pool)
	dlqStore := postgres.NewDeadLetterStore(pool)
	reportStore := postgres.NewReportStore(pool)
	partyStore := postgres.NewPartyStore(pool)

	if cfg.FxSeedFile != "" {
		n, err := service.SeedRates(ctx, rateStore, cfg.FxSeedFile)
		if err != nil {
			return fmt.Errorf("seed exchange rates: %w", err)
		}
		logger.Info("seeded exchange rates", zap.Int("count", n), zap.String("file", cfg.FxSeedFile))
	}

	var amlCli amlclient.Client
	if cfg.AmlBaseURL != "" {
		amlCli = amlclient.NewHTTPClient(cfg.AmlBaseURL, cfg.AmlTimeout)
	} else {
		logger.Warn("AML_BASE_URL not set, using mock AML client")
		amlCli = amlclient.NewMockClient()
	}

	var switchCli switchclient.Client
	if cfg.SwitchBaseURL != "" {
		switchCli = switchclient.NewHTTPClient(cfg.SwitchBaseURL, 10*time.Second)
	} else {
		logger.Warn("SWITCH_BASE_URL not set, using mock switch client")
		switchCli = switchclient.NewMockClient()
	}

	audit := service.NewAuditService(auditStore)
	fx := service.NewFxResolver(rateStore, 2*time.Second)
	transfers := service.NewTransferService(transferStore, fx, audit, reportStore)
	amlGate := service.NewAmlGate(amlCli, amlStore, transfers).
		WithRetryPolicy(cfg.AmlMaxAttempts, cfg.AmlRetryBackoff)
	reg := registry.NewService(partyStore)

	seen := dedup.NewRedisSet(redisClient, cfg.DedupRetention)
	reconciler := service.NewReconciler(transfers, seen, audit, dlqStore).
		WithRetryPolicy(cfg.MaxReplayAttempts, 500*time.Millisecond, cfg.BufferWindow)
	reporter := service.NewSwitchReporter(reportStore, switchCli)

	consumer, err := rail.NewConsumer(cfg.AMQPURL, reconciler)
	if err != nil {
		return fmt.Errorf("connect amqp: %w", err)
	}
	defer consumer.Close()
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start rail consumer: %w", err)
	}

	stopReconciler := worker.NewReconcilerWorker(reconciler).
		WithInterval(cfg.ReconcilerInterval).
		Run(ctx)
	stopReporter := worker.NewReporterWorker(reporter).
		WithInterval(cfg.ReporterInterval).
		WithBatchSize(cfg.ReporterBatchSize).
		Run(ctx)
	stopReview := worker.NewReviewWorker(transfers).
		WithDeadLetters(dlqStore).
		WithInterval(cfg.ReviewInterval).
		WithStuckAge(cfg.StuckTransferAge).
		Run(ctx)

	router := api.NewRouter(cfg, logger, pool, redisClient, transfers, amlGate, reconciler, reg, dlqStore)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	logger.Info("stopping workers")
	stopReview()
	stopReporter()
	stopReconciler()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
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
