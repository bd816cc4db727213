package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Resilience metrics
	ResilientCallsTotal       *prometheus.CounterVec
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec
	CircuitRejectionsTotal    *prometheus.CounterVec
	RetriesTotal              *prometheus.CounterVec
	FallbacksTotal            *prometheus.CounterVec
	DedupedCallsTotal         *prometheus.CounterVec

	// Registry metrics
	RegisteredServices  *prometheus.GaugeVec
	HealthChecksTotal   *prometheus.CounterVec
	HealthCheckDuration *prometheus.HistogramVec
	ToolCallsTotal      *prometheus.CounterVec
	ToolCallDuration    *prometheus.HistogramVec

	// System metrics
	DatabaseConnections *prometheus.GaugeVec
	RedisConnections    *prometheus.GaugeVec

	// Performance metrics
	CacheHitRatio          *prometheus.GaugeVec
	DatabaseQueryDuration  *prometheus.HistogramVec
	CacheOperationDuration *prometheus.HistogramVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "toolmesh",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registry.
func NewMetrics(config *Config) *Metrics {
	return NewMetricsWithRegisterer(config, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates all metrics and registers them on the
// given registerer. A disabled config returns an empty Metrics whose
// recording methods are all no-ops.
func NewMetricsWithRegisterer(config *Config, registerer prometheus.Registerer) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		// Resilience metrics
		ResilientCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "resilient_calls_total",
				Help:      "Total number of resilient call attempts per target service",
			},
			[]string{"service", "outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"service", "from", "to"},
		),
		CircuitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_rejections_total",
				Help:      "Total number of calls rejected by an open circuit breaker",
			},
			[]string{"service"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retries_total",
				Help:      "Total number of retry attempts after a failed first attempt",
			},
			[]string{"service"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "fallbacks_total",
				Help:      "Total number of fallback attempts after primary failure",
			},
			[]string{"service", "outcome"},
		),
		DedupedCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "deduplicated_calls_total",
				Help:      "Total number of callers coalesced onto an in-flight identical call",
			},
			[]string{"service"},
		),

		// Registry metrics
		RegisteredServices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "registered_services",
				Help:      "Number of registered services by health state",
			},
			[]string{"state"},
		),
		HealthChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "health_checks_total",
				Help:      "Total number of health probes",
			},
			[]string{"service", "result"},
		),
		HealthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "health_check_duration_seconds",
				Help:      "Health probe duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"service"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "tool_calls_total",
				Help:      "Total number of tool dispatches",
			},
			[]string{"tool", "service", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "tool_call_duration_seconds",
				Help:      "Tool dispatch duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"tool", "service"},
		),

		// System metrics
		DatabaseConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "database_connections",
				Help:      "Number of database connections",
			},
			[]string{"state"},
		),
		RedisConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "redis_connections",
				Help:      "Number of Redis connections",
			},
			[]string{"state"},
		),

		// Performance metrics
		CacheHitRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_hit_ratio",
				Help:      "Cache hit ratio",
			},
			[]string{"cache_type"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "database_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"operation", "table"},
		),
		CacheOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_operation_duration_seconds",
				Help:      "Cache operation duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "cache_type"},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total number of panics",
			},
			[]string{"component"},
		),
	}

	registerer.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ResilientCallsTotal,
		m.CircuitBreakerState,
		m.CircuitBreakerTransitions,
		m.CircuitRejectionsTotal,
		m.RetriesTotal,
		m.FallbacksTotal,
		m.DedupedCallsTotal,
		m.RegisteredServices,
		m.HealthChecksTotal,
		m.HealthCheckDuration,
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.DatabaseConnections,
		m.RedisConnections,
		m.CacheHitRatio,
		m.DatabaseQueryDuration,
		m.CacheOperationDuration,
		m.ErrorsTotal,
		m.PanicsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordResilientCall records the outcome of one target attempt inside a
// resilient call chain.
func (m *Metrics) RecordResilientCall(service, outcome string) {
	if m == nil || m.ResilientCallsTotal == nil {
		return
	}

	m.ResilientCallsTotal.WithLabelValues(service, outcome).Inc()
}

// SetCircuitBreakerState updates the state gauge for a service's breaker.
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	if m == nil || m.CircuitBreakerState == nil {
		return
	}

	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitTransition records a breaker state transition.
func (m *Metrics) RecordCircuitTransition(service, from, to string) {
	if m == nil || m.CircuitBreakerTransitions == nil {
		return
	}

	m.CircuitBreakerTransitions.WithLabelValues(service, from, to).Inc()
}

// RecordCircuitRejection records a call rejected by an open breaker.
func (m *Metrics) RecordCircuitRejection(service string) {
	if m == nil || m.CircuitRejectionsTotal == nil {
		return
	}

	m.CircuitRejectionsTotal.WithLabelValues(service).Inc()
}

// RecordRetries records retry attempts made beyond the first call.
func (m *Metrics) RecordRetries(service string, count int) {
	if m == nil || m.RetriesTotal == nil || count <= 0 {
		return
	}

	m.RetriesTotal.WithLabelValues(service).Add(float64(count))
}

// RecordFallback records a fallback attempt and its outcome.
func (m *Metrics) RecordFallback(service, outcome string) {
	if m == nil || m.FallbacksTotal == nil {
		return
	}

	m.FallbacksTotal.WithLabelValues(service, outcome).Inc()
}

// RecordDedupJoin records a caller coalesced onto an in-flight call.
func (m *Metrics) RecordDedupJoin(service string) {
	if m == nil || m.DedupedCallsTotal == nil {
		return
	}

	m.DedupedCallsTotal.WithLabelValues(service).Inc()
}

// SetRegisteredServices updates the registered service gauges.
func (m *Metrics) SetRegisteredServices(healthy, unhealthy int) {
	if m == nil || m.RegisteredServices == nil {
		return
	}

	m.RegisteredServices.WithLabelValues("healthy").Set(float64(healthy))
	m.RegisteredServices.WithLabelValues("unhealthy").Set(float64(unhealthy))
}

// RecordHealthCheck records a health probe outcome.
func (m *Metrics) RecordHealthCheck(service, result string, duration time.Duration) {
	if m == nil || m.HealthChecksTotal == nil {
		return
	}

	m.HealthChecksTotal.WithLabelValues(service, result).Inc()
	m.HealthCheckDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordToolCall records a tool dispatch.
func (m *Metrics) RecordToolCall(tool, service, status string, duration time.Duration) {
	if m == nil || m.ToolCallsTotal == nil {
		return
	}

	m.ToolCallsTotal.WithLabelValues(tool, service, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool, service).Observe(duration.Seconds())
}

// UpdateDatabaseConnections updates database connection metrics
func (m *Metrics) UpdateDatabaseConnections(open, idle, max int) {
	if m == nil || m.DatabaseConnections == nil {
		return
	}

	m.DatabaseConnections.WithLabelValues("open").Set(float64(open))
	m.DatabaseConnections.WithLabelValues("idle").Set(float64(idle))
	m.DatabaseConnections.WithLabelValues("max").Set(float64(max))
}

// UpdateRedisConnections updates Redis connection metrics
func (m *Metrics) UpdateRedisConnections(total, idle, stale int) {
	if m == nil || m.RedisConnections == nil {
		return
	}

	m.RedisConnections.WithLabelValues("total").Set(float64(total))
	m.RedisConnections.WithLabelValues("idle").Set(float64(idle))
	m.RedisConnections.WithLabelValues("stale").Set(float64(stale))
}

// UpdateCacheHitRatio updates cache hit ratio metrics
func (m *Metrics) UpdateCacheHitRatio(cacheType string, ratio float64) {
	if m == nil || m.CacheHitRatio == nil {
		return
	}

	m.CacheHitRatio.WithLabelValues(cacheType).Set(ratio)
}

// RecordDatabaseQuery records database query metrics
func (m *Metrics) RecordDatabaseQuery(operation, table string, duration time.Duration) {
	if m == nil || m.DatabaseQueryDuration == nil {
		return
	}

	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordCacheOperation records cache operation metrics
func (m *Metrics) RecordCacheOperation(operation, cacheType string, duration time.Duration) {
	if m == nil || m.CacheOperationDuration == nil {
		return
	}

	m.CacheOperationDuration.WithLabelValues(operation, cacheType).Observe(duration.Seconds())
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil || m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m == nil || m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m != nil && m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
