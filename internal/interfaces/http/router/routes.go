package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/storesync/backend/internal/infrastructure/logger"
	"github.com/storesync/backend/internal/interfaces/http/handler"
	"github.com/storesync/backend/internal/interfaces/http/middleware"
)

// Config configures the engine middleware
type Config struct {
	ServiceName    string
	Logger         *zap.Logger
	Meter          metric.Meter // nil disables request metrics
	Tenant         middleware.TenantConfig
	CORSOrigins    []string
	TrustedProxies []string
	MaxBodySize    int64
	WebhookRate    float64
	WebhookBurst   int
}

// Handlers are the endpoint groups served by the engine
type Handlers struct {
	Stores    *handler.StoreHandler
	Syncs     *handler.SyncHandler
	Webhooks  *handler.WebhookHandler
	Scheduler *handler.SchedulerHandler
}

// New builds the engine. Request id, logging, recovery, tracing, CORS and
// the body limit apply to every route; tenant resolution applies to all but
// health and webhooks, which are rate limited per shop instead.
func New(cfg Config, h Handlers) (*gin.Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	healthPath := "/api/" + DefaultAPIVersion + "/health"
	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(cfg.Logger, logger.WithQuietPaths(healthPath)),
		logger.Recovery(cfg.Logger),
		middleware.Tracing(cfg.ServiceName, healthPath),
		middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)),
	)
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}
	if cfg.Meter != nil {
		metrics, err := middleware.HTTPMetrics(cfg.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		engine.Use(metrics)
	}

	system := NewRouteGroup("system", "").
		GET("/health", h.Scheduler.Health)

	webhooks := NewRouteGroup("webhooks", "/webhooks").
		Use(middleware.RateLimit(middleware.NewKeyedLimiter(cfg.WebhookRate, cfg.WebhookBurst), handler.ShopDomainKey)).
		POST("/shopify", h.Webhooks.Shopify)

	tenant := NewRouteGroup("tenant", "").
		Use(middleware.Tenant(cfg.Tenant), middleware.SpanEnricher())

	tenant.Group("stores", "/stores").
		POST("", h.Stores.Connect).
		GET("", h.Stores.List).
		GET("/:id", h.Stores.Get).
		DELETE("/:id", h.Stores.Disconnect).
		PUT("/:id/frequency", h.Stores.UpdateFrequency).
		POST("/:id/test", h.Stores.TestConnection)

	tenant.Group("sync", "/sync").
		POST("/stores/:id", h.Syncs.Trigger).
		GET("/jobs/:id", h.Syncs.GetJob).
		GET("/jobs/:id/report", h.Syncs.Report).
		DELETE("/jobs/:id", h.Syncs.Cancel).
		GET("/status", h.Syncs.Status).
		GET("/statistics", h.Syncs.Statistics)

	tenant.Group("scheduler", "/scheduler").
		GET("/tasks", h.Scheduler.Tasks).
		POST("/tasks/:name", h.Scheduler.RunTask)

	for _, r := range Mount(engine, DefaultAPIVersion, system, webhooks, tenant) {
		cfg.Logger.Debug("Route registered",
			zap.String("group", r.Group),
			zap.String("method", r.Method),
			zap.String("path", r.Path),
		)
	}

	return engine, nil
}
