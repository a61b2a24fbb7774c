package catalog

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/CloudNativeWorks/cnw-license-server/cnwserver"
)

type cacheEntry struct {
	meta      cnwserver.ProductMeta
	expiresAt time.Time
}

const defaultFetchTimeout = 10 * time.Second

// CacheOption configures a CachedCatalog.
type CacheOption func(*CachedCatalog)

// WithFetchTimeout bounds each shared upstream lookup. Default: 10s.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *CachedCatalog) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// CachedCatalog caches product metadata from another catalog for a fixed TTL.
// Concurrent misses for the same product share one upstream call, which runs
// detached from any single caller's cancellation. Upstream errors are not cached.
type CachedCatalog struct {
	next         cnwserver.ProductCatalog
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	group        singleflight.Group

	mu      sync.RWMutex
	entries map[int64]cacheEntry
}

// NewCachedCatalog wraps next with a TTL cache.
func NewCachedCatalog(next cnwserver.ProductCatalog, ttl time.Duration, opts ...CacheOption) *CachedCatalog {
	c := &CachedCatalog{
		next:         next,
		ttl:          ttl,
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
		entries:      make(map[int64]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetData returns cached metadata or joins the shared upstream lookup.
// A caller whose ctx ends first gets ctx.Err(); the lookup keeps running for
// the remaining waiters.
func (c *CachedCatalog) GetData(ctx context.Context, productID int64) (cnwserver.ProductMeta, error) {
	c.mu.RLock()
	entry, ok := c.entries[productID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.meta.Clone(), nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.FormatInt(productID, 10), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(fetchCtx, c.fetchTimeout)
		defer cancel()

		meta, err := c.next.GetData(fetchCtx, productID)
		if err != nil {
			return nil, err
		}
		meta = meta.Clone()
		c.mu.Lock()
		c.entries[productID] = cacheEntry{meta: meta, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return meta, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(cnwserver.ProductMeta).Clone(), nil
	}
}

// Invalidate drops the cached entry for productID.
func (c *CachedCatalog) Invalidate(productID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, productID)
}
