package api

import (
	"log/slog"

	"batterycounter/config"
	"batterycounter/internal/api/handlers"
	"batterycounter/internal/api/middleware"
	"batterycounter/internal/core"
	"batterycounter/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Storage      storage.Storage
	Factors      core.ImpactFactors
	DeviceTokens []config.DeviceToken // empty leaves POST /log open
	RateLimit    config.RateLimitConfig
	Registry     *prometheus.Registry // nil creates a private registry
	Logger       *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(cfg.Logger))
	router.Use(middleware.Logging(cfg.Logger))
	router.Use(middleware.NoiseFilter(cfg.Logger))
	router.Use(middleware.Metrics(middleware.NewHTTPMetrics(registry)))
	if cfg.RateLimit.RPS > 0 {
		router.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	router.Use(middleware.ContentType())

	// Service info and health check
	healthHandler := handlers.NewHealthHandler(cfg.Storage)
	router.GET("/", healthHandler.GetRoot)
	router.GET("/health", healthHandler.GetHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	logsHandler := handlers.NewLogsHandler(cfg.Storage, cfg.Logger)
	if len(cfg.DeviceTokens) > 0 {
		router.POST("/log", middleware.DeviceAuth(cfg.DeviceTokens), logsHandler.CreateLog)
	} else {
		router.POST("/log", logsHandler.CreateLog)
	}
	router.GET("/log", logsHandler.ListLogs)
	router.GET("/logs", logsHandler.ListLogs)

	statsHandler := handlers.NewStatsHandler(cfg.Storage, cfg.Factors, cfg.Logger)
	router.GET("/stats", statsHandler.GetStats)

	return router
}
