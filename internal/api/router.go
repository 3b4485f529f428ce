package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/api/handler"
	"github.com/osanpay/remittance-core/internal/api/middleware"
	"github.com/osanpay/remittance-core/internal/config"
	"github.com/osanpay/remittance-core/internal/registry"
	"github.com/osanpay/remittance-core/internal/service"
	"github.com/osanpay/remittance-core/internal/store"
)

type Router struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *pgxpool.Pool
	redis      redis.Cmdable
	transfers  *service.TransferService
	aml        *service.AmlGate
	reconciler *service.Reconciler
	registry   *registry.Service
	dlq        store.DeadLetterStore
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	transfers *service.TransferService,
	aml *service.AmlGate,
	reconciler *service.Reconciler,
	reg *registry.Service,
	dlq store.DeadLetterStore,
) *Router {
	return &Router{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		transfers:  transfers,
		aml:        aml,
		reconciler: reconciler,
		registry:   reg,
		dlq:        dlq,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	transferHandler := handler.NewTransferHandler(api.transfers, api.aml, api.registry)
	webhookHandler := handler.NewWebhookHandler(api.reconciler, api.cfg.WebhookHMACKey, api.cfg.WebhookSkipSignature)
	adminHandler := handler.NewAdminHandler(api.transfers, api.dlq, api.cfg.StuckTransferAge)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Post("/v1/transfers", transferHandler.Initiate)
		r.Get("/v1/transfers/{id}", transferHandler.Get)
		r.Post("/v1/transfers/{id}/cancel", transferHandler.Cancel)
		r.Post("/v1/webhooks/rail", webhookHandler.HandleRailEvent)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RequireRole("admin"))
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/admin/dead-letters", adminHandler.ListDeadLetters)
		r.Get("/v1/admin/transfers/stuck", adminHandler.ListStuckTransfers)
	})

	return r
}
