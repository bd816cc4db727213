package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmesh/toolmesh/pkg/errors"
	"github.com/toolmesh/toolmesh/pkg/registry"
)

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]*registry.CatalogDocument
	errs  map[string]error
	calls int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		docs: make(map[string]*registry.CatalogDocument),
		errs: make(map[string]error),
	}
}

func (f *fakeFetcher) FetchCatalog(ctx context.Context, catalogURL string) (*registry.CatalogDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if err, ok := f.errs[catalogURL]; ok {
		return nil, err
	}
	if doc, ok := f.docs[catalogURL]; ok {
		return doc, nil
	}
	return nil, errors.NewDiscoveryError(catalogURL, "no catalog configured")
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCachingFetcher_MissFetchesAndWritesThrough(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewCatalogCache(client, nil, nil)
	inner := newFakeFetcher()
	inner.docs["http://scanner:8080/catalog"] = testCatalog("scanner", "scan_repository")

	fetcher := NewCachingFetcher(inner, cache, nil)
	ctx := context.Background()

	doc, err := fetcher.FetchCatalog(ctx, "http://scanner:8080/catalog")
	require.NoError(t, err)
	assert.Equal(t, "scanner", doc.Name)
	assert.Equal(t, 1, inner.callCount())

	// Second fetch is served from cache
	doc, err = fetcher.FetchCatalog(ctx, "http://scanner:8080/catalog")
	require.NoError(t, err)
	assert.Equal(t, "scanner", doc.Name)
	assert.Equal(t, 1, inner.callCount())

	// The document was written through to Redis
	cached, err := cache.Get(ctx, "http://scanner:8080/catalog")
	require.NoError(t, err)
	assert.Equal(t, "scanner", cached.Name)
}

func TestCachingFetcher_HitSkipsInner(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewCatalogCache(client, nil, nil)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "http://scanner:8080/catalog", testCatalog("scanner", "scan_repository")))

	inner := newFakeFetcher()
	fetcher := NewCachingFetcher(inner, cache, nil)

	doc, err := fetcher.FetchCatalog(ctx, "http://scanner:8080/catalog")
	require.NoError(t, err)
	assert.Equal(t, "scanner", doc.Name)
	assert.Equal(t, 0, inner.callCount())
}

func TestCachingFetcher_InnerErrorPropagates(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewCatalogCache(client, nil, nil)
	inner := newFakeFetcher()
	inner.errs["http://broken:8080/catalog"] = errors.NewDiscoveryError("http://broken:8080/catalog", "connection refused")

	fetcher := NewCachingFetcher(inner, cache, nil)

	_, err := fetcher.FetchCatalog(context.Background(), "http://broken:8080/catalog")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDiscovery))

	// Nothing was cached for the failed URL
	_, err = cache.Get(context.Background(), "http://broken:8080/catalog")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestCachingFetcher_RedisDownDegradesToInner(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewCatalogCache(client, nil, nil)
	inner := newFakeFetcher()
	inner.docs["http://scanner:8080/catalog"] = testCatalog("scanner", "scan_repository")

	fetcher := NewCachingFetcher(inner, cache, nil)

	mr.Close()

	doc, err := fetcher.FetchCatalog(context.Background(), "http://scanner:8080/catalog")
	require.NoError(t, err)
	assert.Equal(t, "scanner", doc.Name)
	assert.Equal(t, 1, inner.callCount())
}

func TestCachingFetcher_HitRatio(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewCatalogCache(client, nil, nil)
	inner := newFakeFetcher()
	inner.docs["http://scanner:8080/catalog"] = testCatalog("scanner", "scan_repository")

	fetcher := NewCachingFetcher(inner, cache, nil)
	ctx := context.Background()

	assert.Zero(t, fetcher.HitRatio())

	_, err := fetcher.FetchCatalog(ctx, "http://scanner:8080/catalog")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, fetcher.HitRatio(), 0.001)

	_, err = fetcher.FetchCatalog(ctx, "http://scanner:8080/catalog")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fetcher.HitRatio(), 0.001)
}
