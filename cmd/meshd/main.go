package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/toolmesh/toolmesh/internal/api"
	"github.com/toolmesh/toolmesh/internal/cache"
	"github.com/toolmesh/toolmesh/internal/notifications"
	"github.com/toolmesh/toolmesh/internal/notifications/channels"
	"github.com/toolmesh/toolmesh/internal/store"
	"github.com/toolmesh/toolmesh/pkg/config"
	"github.com/toolmesh/toolmesh/pkg/health"
	"github.com/toolmesh/toolmesh/pkg/logging"
	"github.com/toolmesh/toolmesh/pkg/metrics"
	"github.com/toolmesh/toolmesh/pkg/registry"
	"github.com/toolmesh/toolmesh/pkg/resilience"
	"github.com/toolmesh/toolmesh/pkg/tracing"
)

const version = "1.0.0"

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "toolmesh",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Initialize distributed tracing
	if cfg.Tracing.Enabled {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}
		shutdownTracing, err := tracing.Init(&tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			Environment:    environment,
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
			SamplingRate:   cfg.Tracing.SampleRate,
			Enabled:        true,
		})
		if err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				log.Printf("Failed to shut down tracing: %v", err)
			}
		}()
	}

	m := metrics.NewMetrics(metrics.DefaultConfig())

	// Initialize Redis connection
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to initialize Redis client: %v", err)
		}
		defer redisClient.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Health(ctx); err != nil {
			log.Fatalf("Redis health check failed: %v", err)
		}
		cancel()
		log.Println("Redis connection established")
	}

	// Initialize database connection
	var (
		db            *store.DB
		registrations *store.Store
		snapshot      registry.SnapshotStore
	)
	if cfg.Database.Enabled {
		db, err = store.New(&cfg.Database)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.Health(ctx); err != nil {
			log.Fatalf("Database health check failed: %v", err)
		}
		cancel()

		registrations, err = store.NewStore(db, m)
		if err != nil {
			log.Fatalf("Failed to initialize registration store: %v", err)
		}
		snapshot = registrations
		log.Println("Database connection established")
	}

	// Outbound HTTP collaborators share one pooled client.
	httpClient := registry.NewHTTPClient()
	if cfg.Tracing.Enabled {
		httpClient = tracing.InstrumentHTTPClient(httpClient)
	}

	var fetcher registry.CatalogFetcher = registry.NewHTTPCatalogFetcher(httpClient)
	if redisClient != nil {
		catalogCache := cache.NewCatalogCache(redisClient, &cache.Config{
			CatalogTTL: cfg.Registry.CatalogCacheTTL,
		}, m)
		fetcher = cache.NewCachingFetcher(fetcher, catalogCache, m)
	}
	prober := registry.NewHTTPHealthProber(httpClient)
	invoker := registry.NewHTTPToolInvoker(httpClient)

	// Initialize alerting
	alerts := resilience.NewAlertManagerWithRateLimit(cfg.Alerting.RateLimit, cfg.Alerting.RateWindow)
	alerts.AddHandler(resilience.NewLoggingAlertHandler())
	if cfg.Alerting.Enabled {
		zapLogger, err := zap.NewProduction()
		if err != nil {
			log.Fatalf("Failed to initialize notification logger: %v", err)
		}
		defer zapLogger.Sync()

		notifier := notifications.NewService(zapLogger)
		channels.Configure(notifier, &cfg.Alerting, zapLogger)
		alerts.AddHandler(notifications.NewAlertAdapter(notifier))
	}
	stateAlerter := resilience.NewCircuitStateAlerter(alerts)

	degradation := resilience.NewDegradationManager()

	manager := resilience.NewResilienceManager(resilience.ManagerConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			FailureThreshold:  cfg.Resilience.FailureThreshold,
			SuccessThreshold:  cfg.Resilience.SuccessThreshold,
			Timeout:           cfg.Resilience.OpenTimeout,
			HalfOpenMaxCalls:  cfg.Resilience.HalfOpenMaxCalls,
			SlowCallThreshold: cfg.Resilience.SlowCallThreshold,
			OnStateChange:     stateAlerter.OnStateChange,
		},
		Retry: resilience.RetryConfig{
			MaxAttempts:       cfg.Resilience.MaxAttempts,
			InitialDelay:      cfg.Resilience.InitialDelay,
			MaxDelay:          cfg.Resilience.MaxDelay,
			BackoffMultiplier: cfg.Resilience.BackoffMultiplier,
			Jitter:            true,
		},
		Metrics: m,
	})

	reg := registry.NewServiceRegistry(registry.Config{
		HealthCheckInterval: cfg.Registry.HealthCheckInterval,
		ProbeTimeout:        cfg.Registry.ProbeTimeout,
		MaxConcurrentProbes: cfg.Registry.MaxConcurrentProbes,
		CatalogTimeout:      cfg.Registry.CatalogTimeout,
		ToolCallTimeout:     cfg.Registry.ToolCallTimeout,
		Metrics:             m,
		Snapshot:            snapshot,
		OnHealthChange: func(name string, healthy bool) {
			if _, tracked := degradation.GetServiceHealth(name); !tracked {
				degradation.RegisterService(name, resilience.LevelPartial)
			}
			message := "service is healthy"
			if !healthy {
				message = "health probe failed"
			}
			degradation.UpdateServiceHealth(name, healthy, 0, message)
		},
		OnUnregister: degradation.UnregisterService,
	}, fetcher, prober, invoker)

	// Restore persisted registrations and seed configured discovery URLs.
	// Both are best effort: a service that is down right now is re-registered
	// once it can serve its catalog again.
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	if registrations != nil {
		records, err := registrations.ListServices(bootCtx)
		if err != nil {
			logger.Warn("Failed to load persisted registrations", "error", err.Error())
		}
		for _, record := range records {
			if _, err := reg.RegisterService(bootCtx, record.Name, record.BaseURL, []string(record.Tags)); err != nil {
				logger.Warn("Failed to restore service registration",
					"service", record.Name,
					"error", err.Error())
			}
		}
	}
	if len(cfg.Registry.DiscoveryURLs) > 0 {
		_, errs := reg.DiscoverServices(bootCtx, cfg.Registry.DiscoveryURLs, false)
		for _, derr := range errs {
			logger.Warn("Service discovery failed", "error", derr.Error())
		}
	}
	cancelBoot()

	// Start background monitors
	monitorCtx, cancelMonitors := context.WithCancel(context.Background())
	defer cancelMonitors()

	reg.StartHealthMonitoring(monitorCtx, cfg.Registry.HealthCheckInterval)
	defer reg.StopHealthMonitoring()

	healthMonitor := resilience.NewSystemHealthMonitor(alerts, degradation)
	healthMonitor.Start(monitorCtx)
	defer healthMonitor.Stop()

	if registrations != nil || redisClient != nil {
		go collectPoolMetrics(monitorCtx, m, registrations, redisClient)
	}

	// Initialize health check endpoints
	healthService := health.NewService(logger, nil)
	healthService.RegisterChecker("registry", health.NewRegistryChecker(reg, "registry"))
	if db != nil {
		healthService.RegisterChecker("database", health.NewDatabaseChecker(db, "database"))
	}
	if redisClient != nil {
		healthService.RegisterChecker("redis", health.NewRedisChecker(redisClient, "redis"))
	}

	router := api.NewRouter(cfg, logger, m, reg, manager, redisClient, healthService)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting ToolMesh server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// collectPoolMetrics periodically samples connection pool statistics from
// whichever backing stores are configured.
func collectPoolMetrics(ctx context.Context, m *metrics.Metrics, registrations *store.Store, redisClient *cache.RedisClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if registrations != nil {
				registrations.CollectPoolMetrics()
			}
			if redisClient != nil {
				stats := redisClient.Stats()
				m.UpdateRedisConnections(int(stats.TotalConns), int(stats.IdleConns), int(stats.StaleConns))
			}
		}
	}
}
