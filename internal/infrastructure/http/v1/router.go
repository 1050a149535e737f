// Package v1 provides HTTP API version 1.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"backoffice/internal/core/apperror"
	"backoffice/internal/core/idempotency"
	"backoffice/internal/domain/catalogs/warehouse"
	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/cache"
	"backoffice/internal/infrastructure/http/v1/handlers"
	"backoffice/internal/infrastructure/http/v1/middleware"
	"backoffice/internal/infrastructure/websocket"
	"backoffice/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Logger *logger.Logger

	Stock      *stock.Service
	Warehouses *warehouse.Service

	// ItemStock serves the cached item stock route. Optional.
	ItemStock *cache.ItemStockCache

	// Hub backs the websocket stream. Optional; the route is not registered without it.
	Hub            *websocket.Hub
	AllowedOrigins []string

	// Idempotency enables X-Idempotency-Key handling on POST routes when set.
	Idempotency idempotency.Store

	Health *handlers.HealthHandler

	// Metrics is served on /metrics and observes every request. Optional.
	Metrics interface {
		middleware.HTTPObserver
		Handler() http.Handler
	}

	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger, "/health/live", "/health/ready", "/metrics"))
	if cfg.Metrics != nil {
		router.Use(middleware.Metrics(cfg.Metrics))
	}
	router.Use(middleware.ErrorHandler())

	if cfg.Health != nil {
		health := router.Group("/health")
		health.GET("/live", cfg.Health.Live)
		health.GET("/ready", cfg.Health.Ready)
		health.GET("/info", cfg.Health.Info)
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group("/api")
	api.Use(middleware.UserContext())
	if cfg.Idempotency != nil {
		api.Use(middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()

	inventory := handlers.NewInventoryHandler(base, cfg.Stock, cfg.ItemStock)
	inv := api.Group("/inventory")
	{
		inv.GET("/balance", inventory.ListBalances)
		inv.GET("/balance/:itemId", inventory.GetBalance)
		inv.POST("/stock-movements", inventory.AppendMovement)
		inv.GET("/stock-movements", inventory.History)
		inv.POST("/sync-balance", inventory.SyncBalance)
		inv.POST("/reconcile", inventory.Reconcile)
		inv.POST("/transfers", inventory.Transfer)
		inv.GET("/items/:itemId/stock", inventory.ItemStock)

		if cfg.Hub != nil {
			inv.GET("/ws", handlers.NewStreamHandler(cfg.Hub, cfg.AllowedOrigins).Connect)
		}
	}

	wh := handlers.NewWarehouseHandler(base, cfg.Warehouses)
	warehouses := api.Group("/warehouses")
	{
		warehouses.GET("", wh.List)
		warehouses.GET("/default", wh.Default)
	}

	router.NoRoute(func(c *gin.Context) {
		middleware.RenderError(c, apperror.NewNotFound("route", c.Request.URL.Path))
	})

	return router
}
