package cache

import (
	"context"
	"sync"

	"github.com/toolmesh/toolmesh/pkg/errors"
	"github.com/toolmesh/toolmesh/pkg/logging"
	"github.com/toolmesh/toolmesh/pkg/metrics"
	"github.com/toolmesh/toolmesh/pkg/registry"
)

// CachingFetcher decorates a catalog fetcher with the Redis catalog cache.
// A cache hit serves the stored document; a miss fetches from the inner
// fetcher and writes the result through. Cache failures fall back to the
// inner fetcher so registration keeps working when Redis is down.
type CachingFetcher struct {
	inner   registry.CatalogFetcher
	cache   *CatalogCache
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	hits   int64
	misses int64
}

// NewCachingFetcher wraps the inner fetcher with the catalog cache.
// The metrics recorder is optional.
func NewCachingFetcher(inner registry.CatalogFetcher, cache *CatalogCache, m *metrics.Metrics) *CachingFetcher {
	return &CachingFetcher{
		inner:   inner,
		cache:   cache,
		logger:  logging.GetLogger(),
		metrics: m,
	}
}

// FetchCatalog implements registry.CatalogFetcher.
func (f *CachingFetcher) FetchCatalog(ctx context.Context, catalogURL string) (*registry.CatalogDocument, error) {
	doc, err := f.cache.Get(ctx, catalogURL)
	if err == nil {
		f.recordHit(true)
		f.logger.Debug("Catalog cache hit", "catalog_url", catalogURL)
		return doc, nil
	}

	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		f.logger.Warn("Catalog cache read failed, fetching from service",
			"catalog_url", catalogURL,
			"error", err.Error())
	}
	f.recordHit(false)

	doc, err = f.inner.FetchCatalog(ctx, catalogURL)
	if err != nil {
		return nil, err
	}

	if cacheErr := f.cache.Set(ctx, catalogURL, doc); cacheErr != nil {
		f.logger.Warn("Failed to cache catalog document",
			"catalog_url", catalogURL,
			"error", cacheErr.Error())
	}

	return doc, nil
}

// HitRatio returns the fraction of fetches served from cache.
func (f *CachingFetcher) HitRatio() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := f.hits + f.misses
	if total == 0 {
		return 0
	}
	return float64(f.hits) / float64(total)
}

func (f *CachingFetcher) recordHit(hit bool) {
	f.mu.Lock()
	if hit {
		f.hits++
	} else {
		f.misses++
	}
	total := f.hits + f.misses
	ratio := float64(f.hits) / float64(total)
	f.mu.Unlock()

	f.metrics.UpdateCacheHitRatio("catalog", ratio)
}
