package mapping

import "sync"

type cacheKey struct {
	tenant string
	table  string
}

// Cache holds one TableMapping per (tenant, virtual table), built lazily
// and shared across requests. It is a read-mostly compute-if-absent cache
// guarded by a single read/write lock rather than a lock-free map,
// matching the coarse-locking style the streams cache also uses.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*TableMapping
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*TableMapping)}
}

// GetOrBuild returns the cached TableMapping for (tenant, table), calling
// build to construct and cache one if absent. Concurrent calls for the same
// key may both invoke build; the result of whichever completes first wins
// and callers of the other observe that same cached value from then on.
func (c *Cache) GetOrBuild(tenant, table string, build func() (*TableMapping, error)) (*TableMapping, error) {
	key := cacheKey{tenant, table}

	c.mu.RLock()
	m, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.entries[key] = m
	c.mu.Unlock()
	return m, nil
}

// Invalidate removes the cached TableMapping for (tenant, table), if any,
// so the next GetOrBuild rebuilds it from the current VirtualTableDescription.
func (c *Cache) Invalidate(tenant, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{tenant, table})
}
