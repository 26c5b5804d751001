package providers

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SnapshotStore is the optional persistent layer behind a Cache.
// *storage.DB satisfies it.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, key string) ([]string, time.Time, bool, error)
	SaveSnapshot(ctx context.Context, key string, names []string, fetchedAt time.Time) error
}

// sharedFetchTimeout bounds a fetch shared by concurrent misses on one key.
const sharedFetchTimeout = 2 * time.Minute

type cacheEntry struct {
	names     []string
	fetchedAt time.Time
}

// Cache wraps a Reader and memoizes the membership lists that change slowly
// (region rosters, WA members, delegates, tag lookups, endorsements). Polled
// data (happenings, votes, proposals, newest nations, profiles) passes through.
//
// Reads are safe from any number of goroutines. Concurrent misses on the same
// key share one upstream request; concurrent writers are last-write-wins.
type Cache struct {
	Reader

	ttl   time.Duration
	store SnapshotStore
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewCache returns a caching Reader. store may be nil.
func NewCache(r Reader, ttl time.Duration, store SnapshotStore) *Cache {
	return &Cache{
		Reader:  r,
		ttl:     ttl,
		store:   store,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) RegionNations(ctx context.Context, region string) ([]string, error) {
	return c.lookup(ctx, "region:"+region, func(ctx context.Context) ([]string, error) {
		return c.Reader.RegionNations(ctx, region)
	})
}

func (c *Cache) RegionsByTag(ctx context.Context, tag string) ([]string, error) {
	return c.lookup(ctx, "region_tag:"+tag, func(ctx context.Context) ([]string, error) {
		return c.Reader.RegionsByTag(ctx, tag)
	})
}

func (c *Cache) WorldAssemblyMembers(ctx context.Context) ([]string, error) {
	return c.lookup(ctx, "tag:wa", c.Reader.WorldAssemblyMembers)
}

func (c *Cache) Delegates(ctx context.Context) ([]string, error) {
	return c.lookup(ctx, "tag:delegates", c.Reader.Delegates)
}

func (c *Cache) Endorsers(ctx context.Context, nation string) ([]string, error) {
	return c.lookup(ctx, "endorsers:"+nation, func(ctx context.Context) ([]string, error) {
		return c.Reader.Endorsers(ctx, nation)
	})
}

// Invalidate drops every in-memory entry whose key starts with prefix.
// The persistent store is left alone; its entries expire by TTL.
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

func (c *Cache) fresh(at time.Time) bool {
	return c.ttl > 0 && c.now().Sub(at) < c.ttl
}

func (c *Cache) lookup(ctx context.Context, key string, fetch func(context.Context) ([]string, error)) ([]string, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.fresh(e.fetchedAt) {
		return append([]string(nil), e.names...), nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// The shared fetch outlives any single caller's cancellation.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()

		if c.store != nil {
			names, at, ok, err := c.store.LoadSnapshot(ctx, key)
			if err == nil && ok && c.fresh(at) {
				c.put(key, cacheEntry{names: names, fetchedAt: at})
				return names, nil
			}
		}

		names, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		at := c.now()
		c.put(key, cacheEntry{names: names, fetchedAt: at})
		if c.store != nil {
			// A failed save only costs a refetch next process.
			_ = c.store.SaveSnapshot(ctx, key, names, at)
		}
		return names, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]string(nil), res.Val.([]string)...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) put(key string, e cacheEntry) {
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}
