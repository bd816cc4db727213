package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	API        APIConfig        `json:"api"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Registry   RegistryConfig   `json:"registry"`
	Resilience ResilienceConfig `json:"resilience"`
	Logging    LoggingConfig    `json:"logging"`
	Alerting   AlertingConfig   `json:"alerting"`
	Tracing    TracingConfig    `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// APIConfig contains HTTP API behavior configuration
type APIConfig struct {
	RateLimitRequests int           `json:"rate_limit_requests"`
	RateLimitWindow   time.Duration `json:"rate_limit_window"`
	CORSOrigins       []string      `json:"cors_origins"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled"`
	Driver          string        `json:"driver"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// RegistryConfig contains service registry configuration
type RegistryConfig struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	ProbeTimeout        time.Duration `json:"probe_timeout"`
	MaxConcurrentProbes int           `json:"max_concurrent_probes"`
	CatalogTimeout      time.Duration `json:"catalog_timeout"`
	CatalogCacheTTL     time.Duration `json:"catalog_cache_ttl"`
	ToolCallTimeout     time.Duration `json:"tool_call_timeout"`
	DiscoveryURLs       []string      `json:"discovery_urls"`
}

// ResilienceConfig contains circuit breaker and retry configuration
type ResilienceConfig struct {
	FailureThreshold  int           `json:"failure_threshold"`
	SuccessThreshold  int           `json:"success_threshold"`
	OpenTimeout       time.Duration `json:"open_timeout"`
	HalfOpenMaxCalls  int           `json:"half_open_max_calls"`
	SlowCallThreshold time.Duration `json:"slow_call_threshold"`
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// AlertingConfig contains alert delivery configuration
type AlertingConfig struct {
	Enabled         bool          `json:"enabled"`
	SlackWebhookURL string        `json:"slack_webhook_url"`
	TeamsWebhookURL string        `json:"teams_webhook_url"`
	RateLimit       int           `json:"rate_limit"`
	RateWindow      time.Duration `json:"rate_window"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		API: APIConfig{
			RateLimitRequests: getEnvInt("API_RATE_LIMIT_REQUESTS", 100),
			RateLimitWindow:   getEnvDuration("API_RATE_LIMIT_WINDOW", time.Minute),
			CORSOrigins:       getEnvStringSlice("API_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvBool("DB_ENABLED", false),
			Driver:          getEnvString("DB_DRIVER", "postgres"),
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "toolmesh"),
			User:            getEnvString("DB_USER", "toolmesh"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Registry: RegistryConfig{
			HealthCheckInterval: getEnvDuration("REGISTRY_HEALTH_INTERVAL", 30*time.Second),
			ProbeTimeout:        getEnvDuration("REGISTRY_PROBE_TIMEOUT", 5*time.Second),
			MaxConcurrentProbes: getEnvInt("REGISTRY_MAX_CONCURRENT_PROBES", 8),
			CatalogTimeout:      getEnvDuration("REGISTRY_CATALOG_TIMEOUT", 10*time.Second),
			CatalogCacheTTL:     getEnvDuration("REGISTRY_CATALOG_CACHE_TTL", 5*time.Minute),
			ToolCallTimeout:     getEnvDuration("REGISTRY_TOOL_CALL_TIMEOUT", 30*time.Second),
			DiscoveryURLs:       getEnvStringSlice("REGISTRY_DISCOVERY_URLS", nil),
		},
		Resilience: ResilienceConfig{
			FailureThreshold:  getEnvInt("RESILIENCE_FAILURE_THRESHOLD", 5),
			SuccessThreshold:  getEnvInt("RESILIENCE_SUCCESS_THRESHOLD", 2),
			OpenTimeout:       getEnvDuration("RESILIENCE_OPEN_TIMEOUT", 30*time.Second),
			HalfOpenMaxCalls:  getEnvInt("RESILIENCE_HALF_OPEN_MAX_CALLS", 2),
			SlowCallThreshold: getEnvDuration("RESILIENCE_SLOW_CALL_THRESHOLD", 5*time.Second),
			MaxAttempts:       getEnvInt("RESILIENCE_MAX_ATTEMPTS", 3),
			InitialDelay:      getEnvDuration("RESILIENCE_INITIAL_DELAY", 100*time.Millisecond),
			MaxDelay:          getEnvDuration("RESILIENCE_MAX_DELAY", 30*time.Second),
			BackoffMultiplier: getEnvFloat("RESILIENCE_BACKOFF_MULTIPLIER", 2.0),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Alerting: AlertingConfig{
			Enabled:         getEnvBool("ALERTING_ENABLED", false),
			SlackWebhookURL: getEnvString("ALERT_SLACK_WEBHOOK_URL", ""),
			TeamsWebhookURL: getEnvString("ALERT_TEAMS_WEBHOOK_URL", ""),
			RateLimit:       getEnvInt("ALERT_RATE_LIMIT", 10),
			RateWindow:      getEnvDuration("ALERT_RATE_WINDOW", time.Minute),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			ServiceName:    getEnvString("TRACING_SERVICE_NAME", "toolmesh"),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if c.API.RateLimitRequests < 1 {
		return fmt.Errorf("api rate limit requests must be at least 1")
	}

	if c.API.RateLimitWindow <= 0 {
		return fmt.Errorf("api rate limit window must be positive")
	}

	if c.Database.Enabled {
		if c.Database.Password == "" {
			return fmt.Errorf("database password is required")
		}
		if c.Database.Driver != "postgres" && c.Database.Driver != "mysql" {
			return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
		}
	}

	if c.Registry.ProbeTimeout <= 0 {
		return fmt.Errorf("registry probe timeout must be positive")
	}

	if c.Registry.HealthCheckInterval <= 0 {
		return fmt.Errorf("registry health check interval must be positive")
	}

	if c.Registry.MaxConcurrentProbes < 1 {
		return fmt.Errorf("registry max concurrent probes must be at least 1")
	}

	if c.Resilience.FailureThreshold < 1 {
		return fmt.Errorf("resilience failure threshold must be at least 1")
	}

	if c.Resilience.SuccessThreshold < 1 {
		return fmt.Errorf("resilience success threshold must be at least 1")
	}

	if c.Resilience.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("resilience half-open max calls must be at least 1")
	}

	if c.Resilience.OpenTimeout <= 0 {
		return fmt.Errorf("resilience open timeout must be positive")
	}

	return nil
}

// DatabaseURL returns the database connection URL for the configured driver
func (c *Config) DatabaseURL() string {
	if c.Database.Driver == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.Database.User,
			c.Database.Password,
			c.Database.Host,
			c.Database.Port,
			c.Database.Name,
		)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password,
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.DB,
		)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.DB,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
