package corestore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

type cacheEntry struct {
	envelope  loader.Envelope
	fetchedAt time.Time
}

// flight is the shared load of one key. Its context is canceled once every waiting caller has left.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Cache is the result cache of a Store. It implements loader.ResultCache.
//
// Concurrent fetches of the same key share one request. Results are kept in memory
// and, when a CacheBackend is configured, persisted there as well. The TTL and
// invalidation apply to both levels.
type Cache struct {
	store       *Store
	fetcher     loader.Fetcher
	backend     loader.CacheBackend
	ttl         time.Duration
	sourceMaps  bool
	perspective string
	now         func() time.Time

	mu             sync.RWMutex
	entries        map[string]cacheEntry
	invalidated    map[string]time.Time
	invalidatedAll time.Time
	flights        map[string]*flight
	group          singleflight.Group
}

// Fetch returns the result for a serialized cache key (see loader.CacheKey).
// Errors returned by the Fetcher are passed through unmodified.
func (c *Cache) Fetch(ctx context.Context, key string) (loader.Envelope, error) {
	query, params, err := loader.ParseCacheKey(key)
	if err != nil {
		c.store.logWarn(ctx, logMsgInvalidKey, err)
		return loader.Envelope{}, err
	}

	return c.fetch(ctx, key, query, params)
}

// Refetch drops any cached result for key, including a persisted one, and fetches it again.
func (c *Cache) Refetch(ctx context.Context, key string) (loader.Envelope, error) {
	c.Invalidate(key)
	return c.Fetch(ctx, key)
}

// Invalidate drops the result for key. A persisted result fetched before this call
// is no longer served; the next fetch overwrites it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.invalidated[key] = c.now()
	c.mu.Unlock()

	c.group.Forget(key)
}

// InvalidateAll drops all results. Persisted results fetched before this call are no longer served.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.entries = make(map[string]cacheEntry)
	c.invalidated = make(map[string]time.Time)
	c.invalidatedAll = c.now()
	c.mu.Unlock()

	for _, key := range keys {
		c.group.Forget(key)
	}
}

// Len returns the number of results held in memory, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

func (c *Cache) fetch(ctx context.Context, key, query string, params loader.QueryParams) (loader.Envelope, error) {
	if envelope, ok := c.lookup(key); ok {
		c.store.incrementCounter(ctx, metricCacheHits, map[string]string{labelSource: sourceMemory})
		c.store.logDebug(ctx, logMsgCacheHit, logAttrQuery, query, logAttrSource, sourceMemory)

		return envelope, nil
	}

	f := c.join(ctx, key)
	defer c.leave(key, f)

	resultCh := c.group.DoChan(key, func() (any, error) {
		return c.load(f.ctx, key, query, params)
	})

	select {
	case <-ctx.Done():
		return loader.Envelope{}, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return loader.Envelope{}, res.Err
		}

		return res.Val.(loader.Envelope), nil
	}
}

// join registers the caller with the shared load of key, creating it when none is running.
// The load keeps the values of the first caller's context but not its cancellation.
func (c *Cache) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.flights[key]
	if f == nil {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: flightCtx, cancel: cancel}
		c.flights[key] = f
	}

	f.waiters++

	return f
}

// leave unregisters the caller. The last caller to leave cancels the load, and later
// callers start a new one instead of joining the canceled one.
func (c *Cache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}

	if c.flights[key] == f {
		delete(c.flights, key)
	}

	c.group.Forget(key)
	f.cancel()
}

func (c *Cache) load(ctx context.Context, key, query string, params loader.QueryParams) (loader.Envelope, error) {
	observer, ctx := c.store.startFetchObserver(ctx, operationFetch, query, c.perspective)

	if c.backend != nil {
		cached, found, err := c.backend.Load(ctx, key)

		switch {
		case err != nil:
			c.store.logWarn(ctx, logMsgBackendLoadFailed, err, logAttrQuery, query)
		case found && c.usable(key, cached.FetchedAt):
			c.store.incrementCounter(ctx, metricCacheHits, map[string]string{labelSource: sourceBackend})
			c.remember(key, cached.Envelope, cached.FetchedAt)
			observer.success(sourceBackend)

			return cached.Envelope, nil
		case found:
			c.store.logDebug(ctx, logMsgBackendOutdated, logAttrQuery, query)
		}
	}

	c.store.incrementCounter(ctx, metricCacheMisses, nil)

	envelope, err := c.fetcher.Fetch(ctx, loader.FetchRequest{
		Query:           query,
		Params:          params,
		Perspective:     c.perspective,
		ResultSourceMap: c.sourceMaps,
	})
	if err != nil {
		observer.failure(err)
		return loader.Envelope{}, err
	}

	fetchedAt := c.now()
	c.remember(key, envelope, fetchedAt)

	if c.backend != nil {
		saveErr := c.backend.Save(ctx, key, loader.CachedResult{Envelope: envelope, FetchedAt: fetchedAt})
		if saveErr != nil {
			c.store.logWarn(ctx, logMsgBackendSaveFailed, saveErr, logAttrQuery, query)
		} else {
			c.clearInvalidation(key, fetchedAt)
		}
	}

	observer.success(sourceFetcher)

	return envelope, nil
}

// fetchLive bypasses the cache and fetches drafts directly.
func (c *Cache) fetchLive(ctx context.Context, query string, params loader.QueryParams) (loader.Envelope, error) {
	observer, ctx := c.store.startFetchObserver(ctx, operationLiveFetch, query, loader.PerspectivePreviewDrafts)

	envelope, err := c.fetcher.Fetch(ctx, loader.FetchRequest{
		Query:           query,
		Params:          params,
		Perspective:     loader.PerspectivePreviewDrafts,
		ResultSourceMap: c.sourceMaps,
	})
	if err != nil {
		observer.failure(err)
		return loader.Envelope{}, err
	}

	observer.success(sourceFetcher)

	return envelope, nil
}

func (c *Cache) lookup(key string) (loader.Envelope, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return loader.Envelope{}, false
	}

	if c.expired(entry.fetchedAt) {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.fetchedAt.Equal(entry.fetchedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()

		return loader.Envelope{}, false
	}

	return entry.envelope, true
}

func (c *Cache) expired(fetchedAt time.Time) bool {
	return c.ttl > 0 && c.now().Sub(fetchedAt) >= c.ttl
}

// usable reports whether a persisted result fetched at fetchedAt may be served for key.
func (c *Cache) usable(key string, fetchedAt time.Time) bool {
	if fetchedAt.IsZero() || c.expired(fetchedAt) {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if !fetchedAt.After(c.invalidatedAll) {
		return false
	}

	if mark, ok := c.invalidated[key]; ok && !fetchedAt.After(mark) {
		return false
	}

	return true
}

// clearInvalidation drops the invalidation mark of key once a result fetched after it was persisted.
func (c *Cache) clearInvalidation(key string, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mark, ok := c.invalidated[key]; ok && !mark.After(fetchedAt) {
		delete(c.invalidated, key)
	}
}

func (c *Cache) remember(key string, envelope loader.Envelope, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{envelope: envelope, fetchedAt: fetchedAt}
}
