// Package cache provides a metadata caching layer in front of a backing
// store.
//
// CachedStore is a decorator: it implements store.Store and forwards every
// call to the wrapped store, caching the results of Lookup, GetAttr, Parent
// and the first page of ReadDir. Mutations are forwarded first and then
// invalidate every entry they may have made stale, so a read issued after a
// mutation returns never observes pre-mutation state.
//
// Cache Strategy:
//   - One LRU table per kind of result, bounded by MaxEntries
//   - TTL-based expiration (default: 5 seconds)
//   - At most one concurrent backend load per key (single-flight)
//   - Failed loads are never cached
package cache

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marmos91/dittofs-exports/internal/logger"
	"github.com/marmos91/dittofs-exports/pkg/metrics"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// Table names, also used as metric labels.
const (
	TableLookup = "lookup"
	TableAttr   = "attr"
	TableParent = "parent"
	TableDir    = "dir"
)

// Config holds the cache options.
type Config struct {
	// Enabled controls whether caching is active. A disabled cache forwards
	// every call.
	Enabled bool `mapstructure:"enabled"`

	// TTL is how long entries remain valid
	TTL time.Duration `mapstructure:"ttl" validate:"min=0"`

	// MaxEntries bounds each table (LRU eviction)
	MaxEntries int `mapstructure:"max_entries" validate:"min=0"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		TTL:        5 * time.Second,
		MaxEntries: 4096,
	}
}

// TableStats reports the state of one cache table.
type TableStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// Stats reports the state of every table, keyed by table name.
type Stats map[string]TableStats

// dirSnapshot is a cached first page of a directory listing. Entry
// attributes are not kept here; they are served from the attr table so
// that attribute invalidations apply to listings too.
type dirSnapshot struct {
	verifier store.Verifier
	count    int
	eof      bool
	entries  []store.DirEntry
}

// CachedStore wraps a store.Store with metadata caching.
//
// Thread Safety:
// Safe for concurrent use. Loads run outside table locks; loads of the
// same key are collapsed into one backend call.
type CachedStore struct {
	store   store.Store
	enabled bool
	group   singleflight.Group
	metrics metrics.CacheMetrics

	lookups *lru[store.Key]
	attrs   *lru[store.Attr]
	parents *lru[store.Key]
	dirs    *lru[*dirSnapshot]
}

// New wraps s. A nil metrics value disables metrics collection.
func New(s store.Store, cfg Config, m metrics.CacheMetrics) *CachedStore {
	if m == nil {
		m = metrics.NewNoopCacheMetrics()
	}
	if cfg.Enabled {
		logger.Info("Metadata cache enabled: ttl=%v max_entries=%d", cfg.TTL, cfg.MaxEntries)
	} else {
		logger.Info("Metadata cache disabled")
	}

	now := time.Now
	return &CachedStore{
		store:   s,
		enabled: cfg.Enabled && cfg.TTL > 0,
		metrics: m,
		lookups: newLRU[store.Key](TableLookup, cfg.TTL, cfg.MaxEntries, m, now),
		attrs:   newLRU[store.Attr](TableAttr, cfg.TTL, cfg.MaxEntries, m, now),
		parents: newLRU[store.Key](TableParent, cfg.TTL, cfg.MaxEntries, m, now),
		dirs:    newLRU[*dirSnapshot](TableDir, cfg.TTL, cfg.MaxEntries, m, now),
	}
}

// Unwrap returns the wrapped store.
func (c *CachedStore) Unwrap() store.Store {
	return c.store
}

// Stats returns per-table statistics.
func (c *CachedStore) Stats() Stats {
	return Stats{
		TableLookup: c.lookups.stats(),
		TableAttr:   c.attrs.stats(),
		TableParent: c.parents.stats(),
		TableDir:    c.dirs.stats(),
	}
}

// Purge drops every cached entry.
func (c *CachedStore) Purge() {
	c.lookups.purge()
	c.attrs.purge()
	c.parents.purge()
	c.dirs.purge()
}

func lookupKey(parent store.Key, name string) string {
	return string(parent) + "\x00" + name
}

// load runs fn at most once concurrently per flight key and caches a
// successful result in table t unless the table was invalidated after
// epoch was read.
func load[V any](c *CachedStore, t *lru[V], flight, key string, epoch uint64, fn func() (V, error)) (V, error) {
	v, err, _ := c.group.Do(flight, func() (any, error) {
		start := time.Now()
		v, err := fn()
		c.metrics.RecordLoad(t.name, time.Since(start), err)
		if err != nil {
			return v, err
		}
		t.putIfEpoch(key, v, epoch)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// forget drops an in-flight load so later callers start a fresh one.
func (c *CachedStore) forget(flight string) {
	c.group.Forget(flight)
}

func (c *CachedStore) invalidateLookup(parent store.Key, name string) {
	k := lookupKey(parent, name)
	c.lookups.invalidate(k)
	c.forget("l:" + k)
}

func (c *CachedStore) invalidateAttr(key store.Key) {
	c.attrs.invalidate(string(key))
	c.forget("a:" + string(key))
}

func (c *CachedStore) invalidateParent(key store.Key) {
	c.parents.invalidate(string(key))
	c.forget("p:" + string(key))
}

// invalidateDir drops the directory's attributes and listing. Listing
// flights are keyed by table epoch, so no Forget is needed for them.
func (c *CachedStore) invalidateDir(dir store.Key) {
	c.invalidateAttr(dir)
	c.dirs.invalidate(string(dir))
}

func dirFlight(dir store.Key, count int, epoch uint64) string {
	return "d:" + string(dir) + ":" + strconv.Itoa(count) + ":" + strconv.FormatUint(epoch, 10)
}

// populate records the result of a successful create-type mutation.
func (c *CachedStore) populate(parent store.Key, name string, child store.Key) {
	k := lookupKey(parent, name)
	c.forget("l:" + k)
	c.lookups.put(k, child)
	c.parents.put(string(child), parent)
}

// ============================================================================
// Cached reads
// ============================================================================

func (c *CachedStore) GetRoot(ctx context.Context) (store.Key, error) {
	return c.store.GetRoot(ctx)
}

func (c *CachedStore) Lookup(ctx context.Context, parent store.Key, name string) (store.Key, error) {
	if !c.enabled {
		return c.store.Lookup(ctx, parent, name)
	}
	k := lookupKey(parent, name)
	if key, ok := c.lookups.get(k); ok {
		return key, nil
	}
	return load(c, c.lookups, "l:"+k, k, c.lookups.currentEpoch(), func() (store.Key, error) {
		return c.store.Lookup(ctx, parent, name)
	})
}

func (c *CachedStore) GetAttr(ctx context.Context, key store.Key) (*store.Attr, error) {
	if !c.enabled {
		return c.store.GetAttr(ctx, key)
	}
	if attr, ok := c.attrs.get(string(key)); ok {
		return &attr, nil
	}
	attr, err := load(c, c.attrs, "a:"+string(key), string(key), c.attrs.currentEpoch(), func() (store.Attr, error) {
		a, err := c.store.GetAttr(ctx, key)
		if err != nil {
			return store.Attr{}, err
		}
		return *a, nil
	})
	if err != nil {
		return nil, err
	}
	return &attr, nil
}

func (c *CachedStore) Parent(ctx context.Context, key store.Key) (store.Key, error) {
	if !c.enabled {
		return c.store.Parent(ctx, key)
	}
	if parent, ok := c.parents.get(string(key)); ok {
		return parent, nil
	}
	return load(c, c.parents, "p:"+string(key), string(key), c.parents.currentEpoch(), func() (store.Key, error) {
		return c.store.Parent(ctx, key)
	})
}

// ReadDir serves an initial listing (zero cookie and verifier) from the
// cache when the cached snapshot was taken under the directory's current
// verifier. Continuation requests always go to the backing store.
func (c *CachedStore) ReadDir(ctx context.Context, dir store.Key, cookie uint64, verifier store.Verifier, count int) (*store.DirList, error) {
	if !c.enabled || cookie != 0 || verifier != 0 {
		return c.store.ReadDir(ctx, dir, cookie, verifier, count)
	}

	attr, err := c.GetAttr(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !attr.IsDir() {
		return nil, store.NewError(store.ErrNotDirectory, dir.String(), "cannot list")
	}
	current := store.VerifierOf(attr)

	if snap, ok := c.dirs.get(string(dir)); ok && snap.verifier == current && snap.count == count {
		return c.assemble(ctx, snap)
	}

	attrEpoch := c.attrs.currentEpoch()
	dirEpoch := c.dirs.currentEpoch()
	snap, err := load(c, c.dirs, dirFlight(dir, count, dirEpoch), string(dir), dirEpoch, func() (*dirSnapshot, error) {
		list, err := c.store.ReadDir(ctx, dir, 0, 0, count)
		if err != nil {
			return nil, err
		}
		snap := &dirSnapshot{verifier: list.Verifier, count: count, eof: list.EOF}
		for _, e := range list.Entries {
			if e.Attr != nil {
				c.attrs.putIfEpoch(string(e.Key), *e.Attr, attrEpoch)
			}
			e.Attr = nil
			snap.entries = append(snap.entries, e)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return c.assemble(ctx, snap)
}

// assemble builds a fresh DirList from a snapshot, attaching current
// attributes to every entry.
func (c *CachedStore) assemble(ctx context.Context, snap *dirSnapshot) (*store.DirList, error) {
	out := &store.DirList{
		Verifier: snap.verifier,
		EOF:      snap.eof,
		Entries:  make([]store.DirEntry, len(snap.entries)),
	}
	for i, e := range snap.entries {
		attr, err := c.GetAttr(ctx, e.Key)
		if err != nil {
			return nil, err
		}
		e.Attr = attr
		out.Entries[i] = e
	}
	return out, nil
}

// ============================================================================
// Mutations: forward, then invalidate
// ============================================================================

func (c *CachedStore) Create(ctx context.Context, parent store.Key, name string, attr store.CreateAttr) (store.Key, error) {
	key, err := c.store.Create(ctx, parent, name, attr)
	c.afterCreate(parent, name, key, err)
	return key, err
}

func (c *CachedStore) Mkdir(ctx context.Context, parent store.Key, name string, attr store.CreateAttr) (store.Key, error) {
	key, err := c.store.Mkdir(ctx, parent, name, attr)
	c.afterCreate(parent, name, key, err)
	return key, err
}

func (c *CachedStore) Symlink(ctx context.Context, parent store.Key, name string, target string, attr store.CreateAttr) (store.Key, error) {
	key, err := c.store.Symlink(ctx, parent, name, target, attr)
	c.afterCreate(parent, name, key, err)
	return key, err
}

func (c *CachedStore) afterCreate(parent store.Key, name string, key store.Key, err error) {
	if err != nil {
		return
	}
	c.invalidateDir(parent)
	c.populate(parent, name, key)
}

func (c *CachedStore) Readlink(ctx context.Context, key store.Key) (string, error) {
	return c.store.Readlink(ctx, key)
}

func (c *CachedStore) Link(ctx context.Context, dir store.Key, name string, target store.Key) error {
	if err := c.store.Link(ctx, dir, name, target); err != nil {
		return err
	}
	c.invalidateDir(dir)
	c.invalidateAttr(target)
	k := lookupKey(dir, name)
	c.forget("l:" + k)
	c.lookups.put(k, target)
	return nil
}

func (c *CachedStore) Remove(ctx context.Context, parent store.Key, name string) error {
	if !c.enabled {
		return c.store.Remove(ctx, parent, name)
	}
	child, lookupErr := c.Lookup(ctx, parent, name)

	err := c.store.Remove(ctx, parent, name)

	c.invalidateLookup(parent, name)
	c.invalidateDir(parent)
	if lookupErr == nil {
		c.invalidateAttr(child)
		c.invalidateParent(child)
		c.invalidateDir(child)
	}
	return err
}

func (c *CachedStore) Rename(ctx context.Context, fromDir store.Key, fromName string, toDir store.Key, toName string) (bool, error) {
	if !c.enabled {
		return c.store.Rename(ctx, fromDir, fromName, toDir, toName)
	}
	moved, movedErr := c.Lookup(ctx, fromDir, fromName)
	replaced, replacedErr := c.Lookup(ctx, toDir, toName)

	changed, err := c.store.Rename(ctx, fromDir, fromName, toDir, toName)
	if err == nil && !changed {
		return false, nil
	}

	c.invalidateLookup(fromDir, fromName)
	c.invalidateLookup(toDir, toName)
	c.invalidateDir(fromDir)
	c.invalidateDir(toDir)
	if movedErr == nil {
		c.invalidateAttr(moved)
		c.invalidateParent(moved)
	}
	if replacedErr == nil {
		c.invalidateAttr(replaced)
		c.invalidateParent(replaced)
		c.invalidateDir(replaced)
	}
	return changed, err
}

func (c *CachedStore) SetAttr(ctx context.Context, key store.Key, attrs *store.SetAttrs) error {
	err := c.store.SetAttr(ctx, key, attrs)
	c.invalidateAttr(key)
	return err
}

func (c *CachedStore) Read(ctx context.Context, key store.Key, off int64, p []byte) (int, bool, error) {
	return c.store.Read(ctx, key, off, p)
}

func (c *CachedStore) Write(ctx context.Context, key store.Key, off int64, data []byte) (int, error) {
	n, err := c.store.Write(ctx, key, off, data)
	c.invalidateAttr(key)
	return n, err
}

func (c *CachedStore) Commit(ctx context.Context, key store.Key, off int64, count uint32) error {
	err := c.store.Commit(ctx, key, off, count)
	c.invalidateAttr(key)
	return err
}

func (c *CachedStore) GetACL(ctx context.Context, key store.Key) ([]store.ACE, error) {
	return c.store.GetACL(ctx, key)
}

func (c *CachedStore) SetACL(ctx context.Context, key store.Key, acl []store.ACE) error {
	err := c.store.SetACL(ctx, key, acl)
	c.invalidateAttr(key)
	return err
}

var _ store.Store = (*CachedStore)(nil)
