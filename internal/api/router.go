package api

import (
	"github.com/gin-gonic/gin"

	"github.com/toolmesh/toolmesh/internal/cache"
	"github.com/toolmesh/toolmesh/pkg/config"
	"github.com/toolmesh/toolmesh/pkg/health"
	"github.com/toolmesh/toolmesh/pkg/logging"
	"github.com/toolmesh/toolmesh/pkg/metrics"
	"github.com/toolmesh/toolmesh/pkg/registry"
	"github.com/toolmesh/toolmesh/pkg/resilience"
	"github.com/toolmesh/toolmesh/pkg/tracing"
)

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics, reg *registry.ServiceRegistry, manager *resilience.ResilienceManager, redis *cache.RedisClient, healthService *health.Service) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(ErrorHandlingMiddleware(logger, m))
	router.Use(CORSMiddleware(cfg.API.CORSOrigins))
	router.Use(SecurityHeadersMiddleware())
	if cfg.Tracing.Enabled {
		router.Use(tracing.Middleware())
	}
	router.Use(m.PrometheusMiddleware())

	// Health and metrics endpoints (not rate limited)
	router.GET("/health", healthService.Handler())
	router.GET("/health/live", healthService.LivenessHandler())
	router.GET("/health/ready", healthService.ReadinessHandler())
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// API version info
	router.GET("/api/v1", func(c *gin.Context) {
		SuccessResponse(c, map[string]interface{}{
			"name":    "ToolMesh API",
			"version": "1.0.0",
			"status":  "ok",
		})
	})

	// Create handlers
	serviceHandler := NewServiceHandler(reg)
	toolHandler := NewToolHandler(reg, manager)
	resilienceHandler := NewResilienceHandler(manager)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(redis, cfg.API.RateLimitRequests, cfg.API.RateLimitWindow))
	{
		services := v1.Group("/services")
		{
			services.GET("", serviceHandler.ListServices)
			services.POST("", serviceHandler.RegisterService)
			services.POST("/discover", serviceHandler.DiscoverServices)
			services.GET("/:name", serviceHandler.GetService)
			services.DELETE("/:name", serviceHandler.UnregisterService)
			services.POST("/:name/health-check", serviceHandler.HealthCheckService)
		}

		tools := v1.Group("/tools")
		{
			tools.GET("", toolHandler.ListTools)
			tools.POST("/:name/call", toolHandler.CallTool)
		}

		res := v1.Group("/resilience")
		{
			res.GET("/stats", resilienceHandler.GetAllStats)
			res.GET("/stats/:service", resilienceHandler.GetServiceStats)
			res.POST("/:service/reset", resilienceHandler.ResetCircuitBreaker)
		}
	}

	// Catch-all route for undefined endpoints
	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
