package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmesh/toolmesh/pkg/config"
	"github.com/toolmesh/toolmesh/pkg/errors"
	"github.com/toolmesh/toolmesh/pkg/registry"
)

func setupTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := NewRedisClient(&config.RedisConfig{
		Host:     mr.Host(),
		Port:     port,
		PoolSize: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func testCatalog(name string, toolNames ...string) *registry.CatalogDocument {
	tools := make([]registry.ToolDefinition, 0, len(toolNames))
	for _, tn := range toolNames {
		tools = append(tools, registry.ToolDefinition{
			Name:        tn,
			Description: "tool " + tn,
			InputSchema: map[string]interface{}{"type": "object"},
		})
	}
	return &registry.CatalogDocument{
		Name:  name,
		Tools: tools,
		Tags:  []string{"prod"},
	}
}

func TestCatalogCache_SetAndGet(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewCatalogCache(client, nil, nil)
	ctx := context.Background()

	doc := testCatalog("scanner", "scan_repository", "list_findings")
	err := cache.Set(ctx, "http://scanner:8080/catalog", doc)
	require.NoError(t, err)

	got, err := cache.Get(ctx, "http://scanner:8080/catalog")
	require.NoError(t, err)
	assert.Equal(t, "scanner", got.Name)
	require.Len(t, got.Tools, 2)
	assert.Equal(t, "scan_repository", got.Tools[0].Name)
	assert.Equal(t, []string{"prod"}, got.Tags)
}

func TestCatalogCache_MissReturnsNotFound(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewCatalogCache(client, nil, nil)

	_, err := cache.Get(context.Background(), "http://unknown:8080/catalog")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestCatalogCache_EntryExpiresAfterTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewCatalogCache(client, &Config{CatalogTTL: 30 * time.Second}, nil)
	ctx := context.Background()

	err := cache.Set(ctx, "http://scanner:8080/catalog", testCatalog("scanner", "scan_repository"))
	require.NoError(t, err)

	_, err = cache.Get(ctx, "http://scanner:8080/catalog")
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)

	_, err = cache.Get(ctx, "http://scanner:8080/catalog")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestCatalogCache_Invalidate(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewCatalogCache(client, nil, nil)
	ctx := context.Background()

	err := cache.Set(ctx, "http://scanner:8080/catalog", testCatalog("scanner", "scan_repository"))
	require.NoError(t, err)

	err = cache.Invalidate(ctx, "http://scanner:8080/catalog")
	require.NoError(t, err)

	_, err = cache.Get(ctx, "http://scanner:8080/catalog")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	// Invalidating an absent entry is a no-op
	err = cache.Invalidate(ctx, "http://scanner:8080/catalog")
	assert.NoError(t, err)
}

func TestCatalogCache_CorruptEntryFailsDecode(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewCatalogCache(client, nil, nil)

	require.NoError(t, mr.Set("toolmesh:catalog:http://scanner:8080/catalog", "{not json"))

	_, err := cache.Get(context.Background(), "http://scanner:8080/catalog")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	assert.Contains(t, err.Error(), "decode")
}

func TestCatalogCache_KeyUsesConfiguredPrefix(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewCatalogCache(client, &Config{CatalogTTL: time.Minute, KeyPrefix: "mesh-test"}, nil)

	err := cache.Set(context.Background(), "http://scanner:8080/catalog", testCatalog("scanner"))
	require.NoError(t, err)

	assert.True(t, mr.Exists("mesh-test:catalog:http://scanner:8080/catalog"))
}
