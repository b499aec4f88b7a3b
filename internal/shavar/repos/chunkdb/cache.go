package chunkdb

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// decisionCache memoizes per-host lookup outcomes. It tracks basic
// metrics: hits, misses, and evictions.
type decisionCache struct {
	lru       *lru.Cache[string, bool]
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache is a no-op cache used when size <= 0.
type disabledCache struct{}

// lookupCache is what the store needs from a decision cache.
type lookupCache interface {
	Get(host string) (bool, bool)
	Put(host string, blocked bool)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// newDecisionCache creates a lookup cache with the given capacity. If size
// <= 0, a disabled no-op cache is returned that always misses and tracks no
// metrics.
func newDecisionCache(size int) (lookupCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	var dc decisionCache
	// NewWithEvict observes evictions, including Purge-induced ones.
	cache, err := lru.NewWithEvict(size, func(_ string, _ bool) {
		atomic.AddUint64(&dc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return &dc, nil
}

func (c *decisionCache) Get(host string) (bool, bool) {
	if val, ok := c.lru.Get(host); ok {
		atomic.AddUint64(&c.hits, 1)
		return val, true
	}
	atomic.AddUint64(&c.misses, 1)
	return false, false
}

func (c *decisionCache) Put(host string, blocked bool) {
	c.lru.Add(host, blocked)
}

func (c *decisionCache) Len() int { return c.lru.Len() }

// Purge clears all entries. Evictions are counted via the eviction
// callback.
func (c *decisionCache) Purge() { c.lru.Purge() }

func (c *decisionCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

// disabledCache implementation

func (d *disabledCache) Get(string) (bool, bool) { return false, false }

func (d *disabledCache) Put(string, bool) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var _ lookupCache = (*decisionCache)(nil)
var _ lookupCache = (*disabledCache)(nil)
