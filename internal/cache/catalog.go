package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/toolmesh/toolmesh/pkg/errors"
	"github.com/toolmesh/toolmesh/pkg/metrics"
	"github.com/toolmesh/toolmesh/pkg/registry"
	"github.com/toolmesh/toolmesh/pkg/tracing"
)

// Config holds catalog cache configuration
type Config struct {
	CatalogTTL time.Duration `json:"catalog_ttl"`
	KeyPrefix  string        `json:"key_prefix"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		CatalogTTL: 5 * time.Minute,
		KeyPrefix:  "toolmesh",
	}
}

// CatalogCache stores serialized catalog documents in Redis, keyed by the
// catalog URL they were fetched from.
type CatalogCache struct {
	redis   *RedisClient
	config  *Config
	metrics *metrics.Metrics
}

// NewCatalogCache creates a catalog cache over the given Redis client.
// The metrics recorder is optional.
func NewCatalogCache(redis *RedisClient, config *Config, m *metrics.Metrics) *CatalogCache {
	if config == nil {
		config = DefaultConfig()
	}
	if config.CatalogTTL <= 0 {
		config.CatalogTTL = DefaultConfig().CatalogTTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}

	return &CatalogCache{
		redis:   redis,
		config:  config,
		metrics: m,
	}
}

func (c *CatalogCache) key(catalogURL string) string {
	return fmt.Sprintf("%s:catalog:%s", c.config.KeyPrefix, catalogURL)
}

// Get returns the cached catalog document for the catalog URL, or a
// not-found error on a cache miss.
func (c *CatalogCache) Get(ctx context.Context, catalogURL string) (*registry.CatalogDocument, error) {
	key := c.key(catalogURL)
	ctx, span := tracing.StartCacheSpan(ctx, "get", key)

	start := time.Now()
	data, err := c.redis.Get(ctx, key)
	c.metrics.RecordCacheOperation("get", "catalog", time.Since(start))
	tracing.EndSpan(span, err)

	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return nil, errors.NewNotFoundError("cached catalog")
		}
		return nil, err
	}

	var doc registry.CatalogDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, errors.NewInternalError("failed to decode cached catalog").WithCause(err)
	}

	return &doc, nil
}

// Set stores the catalog document under the catalog URL with the configured TTL.
func (c *CatalogCache) Set(ctx context.Context, catalogURL string, doc *registry.CatalogDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.NewInternalError("failed to encode catalog document").WithCause(err)
	}

	key := c.key(catalogURL)
	ctx, span := tracing.StartCacheSpan(ctx, "set", key)

	start := time.Now()
	err = c.redis.Set(ctx, key, string(data), c.config.CatalogTTL)
	c.metrics.RecordCacheOperation("set", "catalog", time.Since(start))
	tracing.EndSpan(span, err)

	return err
}

// Invalidate removes the cached catalog for the catalog URL. Removing a
// catalog that is not cached is a no-op.
func (c *CatalogCache) Invalidate(ctx context.Context, catalogURL string) error {
	key := c.key(catalogURL)
	ctx, span := tracing.StartCacheSpan(ctx, "del", key)

	start := time.Now()
	_, err := c.redis.Del(ctx, key)
	c.metrics.RecordCacheOperation("del", "catalog", time.Since(start))
	tracing.EndSpan(span, err)

	return err
}
