package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittofs-exports/pkg/metrics"
)

// lru is one cache table: a bounded, TTL-limited LRU map.
//
// Every invalidation bumps the table's epoch. A loader captures the epoch
// before it calls the backing store and inserts its result only if the
// epoch is unchanged, so a load that raced with a mutation never
// resurrects data the mutation made stale.
type lru[V any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	metrics    metrics.CacheMetrics
	now        func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
	epoch uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

type lruEntry[V any] struct {
	key     string
	value   V
	expires time.Time
}

func newLRU[V any](name string, ttl time.Duration, maxEntries int, m metrics.CacheMetrics, now func() time.Time) *lru[V] {
	return &lru[V]{
		name:       name,
		ttl:        ttl,
		maxEntries: maxEntries,
		metrics:    m,
		now:        now,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// get returns a live entry and marks it most recently used.
func (c *lru[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		c.metrics.RecordMiss(c.name)
		return zero, false
	}
	e := el.Value.(*lruEntry[V])
	if !c.now().Before(e.expires) {
		c.removeElement(el)
		c.misses.Add(1)
		c.metrics.RecordEviction(c.name)
		c.metrics.RecordMiss(c.name)
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits.Add(1)
	c.metrics.RecordHit(c.name)
	return e.value, true
}

// currentEpoch returns the epoch to pass to putIfEpoch.
func (c *lru[V]) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// putIfEpoch inserts value unless an invalidation happened since epoch was
// read. It reports whether the value was inserted.
func (c *lru[V]) putIfEpoch(key string, value V, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return false
	}
	c.insert(key, value)
	return true
}

// put unconditionally inserts value. It is used right after a mutation
// whose result is authoritative.
func (c *lru[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.insert(key, value)
}

// insert must be called with mu held.
func (c *lru[V]) insert(key string, value V) {
	expires := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*lruEntry[V])
		e.value = value
		e.expires = expires
		c.order.MoveToFront(el)
		return
	}

	for c.maxEntries > 0 && c.order.Len() >= c.maxEntries {
		c.removeElement(c.order.Back())
		c.metrics.RecordEviction(c.name)
	}
	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value, expires: expires})
}

// invalidate drops key and advances the epoch.
func (c *lru[V]) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
		c.metrics.RecordInvalidation(c.name)
	}
}

// purge drops every entry.
func (c *lru[V]) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

func (c *lru[V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*lruEntry[V]).key)
}

func (c *lru[V]) stats() TableStats {
	c.mu.Lock()
	n := c.order.Len()
	c.mu.Unlock()
	return TableStats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
