package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs-exports/pkg/metrics"
	"github.com/marmos91/dittofs-exports/pkg/store"
	"github.com/marmos91/dittofs-exports/pkg/store/memory"
)

// countingStore counts backend calls and can hold GetAttr calls until
// released.
type countingStore struct {
	*memory.Store

	getattr atomic.Int64
	lookup  atomic.Int64
	readdir atomic.Int64
	parent  atomic.Int64

	gate    chan struct{}
	failing atomic.Bool
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New(memory.Config{})}
}

var errBackend = store.NewError(store.ErrBackendUnavailable, "", "backend down")

func (s *countingStore) GetAttr(ctx context.Context, key store.Key) (*store.Attr, error) {
	s.getattr.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.failing.Load() {
		return nil, errBackend
	}
	return s.Store.GetAttr(ctx, key)
}

func (s *countingStore) Lookup(ctx context.Context, parent store.Key, name string) (store.Key, error) {
	s.lookup.Add(1)
	if s.failing.Load() {
		return nil, errBackend
	}
	return s.Store.Lookup(ctx, parent, name)
}

func (s *countingStore) ReadDir(ctx context.Context, dir store.Key, cookie uint64, verifier store.Verifier, count int) (*store.DirList, error) {
	s.readdir.Add(1)
	return s.Store.ReadDir(ctx, dir, cookie, verifier, count)
}

func (s *countingStore) Parent(ctx context.Context, key store.Key) (store.Key, error) {
	s.parent.Add(1)
	return s.Store.Parent(ctx, key)
}

func newCached(t *testing.T) (*CachedStore, *countingStore, store.Key) {
	t.Helper()
	backend := newCountingStore()
	c := New(backend, DefaultConfig(), nil)
	root, err := c.GetRoot(context.Background())
	require.NoError(t, err)
	return c, backend, root
}

func TestSingleFlightGetAttr(t *testing.T) {
	c, backend, root := newCached(t)
	ctx := context.Background()
	key, err := backend.Store.Create(ctx, root, "f", store.CreateAttr{Mode: 0o644})
	require.NoError(t, err)

	backend.gate = make(chan struct{})

	const n = 32
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		results = make([]*store.Attr, n)
		errs    = make([]error, n)
	)
	started.Add(n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			results[i], errs[i] = c.GetAttr(ctx, key)
		}()
	}
	started.Wait()
	// give every goroutine time to join the in-flight load
	time.Sleep(50 * time.Millisecond)
	close(backend.gate)
	wg.Wait()

	assert.Equal(t, int64(1), backend.getattr.Load())
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].FileID, results[i].FileID)
	}

	// now cached
	_, err = c.GetAttr(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), backend.getattr.Load())
}

func TestLookupAfterRemove(t *testing.T) {
	c, backend, root := newCached(t)
	ctx := context.Background()

	key, err := c.Create(ctx, root, "x", store.CreateAttr{Mode: 0o644})
	require.NoError(t, err)

	got, err := c.Lookup(ctx, root, "x")
	require.NoError(t, err)
	assert.Equal(t, key, got)
	assert.Zero(t, backend.lookup.Load(), "create populates the lookup table")

	require.NoError(t, c.Remove(ctx, root, "x"))

	_, err = c.Lookup(ctx, root, "x")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = c.GetAttr(ctx, key)
	assert.Error(t, err, "removed object attributes are not served from cache")
}

func TestConcurrentLookupDuringRemove(t *testing.T) {
	c, _, root := newCached(t)
	ctx := context.Background()

	for round := range 20 {
		_, err := c.Create(ctx, root, "x", store.CreateAttr{Mode: 0o644})
		require.NoError(t, err, "round %d", round)

		var wg sync.WaitGroup
		stop := make(chan struct{})
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
						_, _ = c.Lookup(ctx, root, "x")
					}
				}
			}()
		}
		require.NoError(t, c.Remove(ctx, root, "x"))

		_, err = c.Lookup(ctx, root, "x")
		close(stop)
		wg.Wait()
		assert.True(t, errors.Is(err, store.ErrNotFound), "round %d", round)
	}
}

func TestFailedLoadsAreNotCached(t *testing.T) {
	c, backend, root := newCached(t)
	ctx := context.Background()

	backend.failing.Store(true)
	_, err := c.GetAttr(ctx, root)
	assert.True(t, errors.Is(err, store.ErrBackendUnavailable))
	_, err = c.Lookup(ctx, root, "missing")
	assert.True(t, errors.Is(err, store.ErrBackendUnavailable))

	backend.failing.Store(false)
	_, err = c.GetAttr(ctx, root)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), backend.getattr.Load())

	// not-found results are errors too and must not stick
	_, err = c.Lookup(ctx, root, "later")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = backend.Store.Create(ctx, root, "later", store.CreateAttr{})
	require.NoError(t, err)
	_, err = c.Lookup(ctx, root, "later")
	assert.NoError(t, err)
}

func TestCreateInvalidatesParentAttr(t *testing.T) {
	c, _, root := newCached(t)
	ctx := context.Background()

	before, err := c.GetAttr(ctx, root)
	require.NoError(t, err)

	_, err = c.Mkdir(ctx, root, "d", store.CreateAttr{Mode: 0o755})
	require.NoError(t, err)

	after, err := c.GetAttr(ctx, root)
	require.NoError(t, err)
	assert.NotEqual(t, before.Change, after.Change)
}

func TestSetAttrInvalidates(t *testing.T) {
	c, _, root := newCached(t)
	ctx := context.Background()

	key, err := c.Create(ctx, root, "f", store.CreateAttr{Mode: 0o644})
	require.NoError(t, err)
	_, err = c.GetAttr(ctx, key)
	require.NoError(t, err)

	mode := uint32(0o600)
	require.NoError(t, c.SetAttr(ctx, key, &store.SetAttrs{Mode: &mode}))
	attr, err := c.GetAttr(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), attr.Mode&0o777)

	_, err = c.Write(ctx, key, 0, []byte("hello"))
	require.NoError(t, err)
	attr, err = c.GetAttr(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), attr.Size)
}

func TestRename(t *testing.T) {
	c, _, root := newCached(t)
	ctx := context.Background()

	a, err := c.Mkdir(ctx, root, "a", store.CreateAttr{Mode: 0o755})
	require.NoError(t, err)
	b, err := c.Mkdir(ctx, root, "b", store.CreateAttr{Mode: 0o755})
	require.NoError(t, err)
	f, err := c.Create(ctx, a, "f", store.CreateAttr{Mode: 0o644})
	require.NoError(t, err)
	old, err := c.Create(ctx, b, "g", store.CreateAttr{Mode: 0o644})
	require.NoError(t, err)

	// warm every table
	_, _ = c.Lookup(ctx, b, "g")
	_, _ = c.Parent(ctx, f)
	_, _ = c.ReadDir(ctx, a, 0, 0, 0)
	_, _ = c.ReadDir(ctx, b, 0, 0, 0)

	changed, err := c.Rename(ctx, a, "f", b, "g")
	require.NoError(t, err)
	require.True(t, changed)

	_, err = c.Lookup(ctx, a, "f")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	got, err := c.Lookup(ctx, b, "g")
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.NotEqual(t, old, got)

	parent, err := c.Parent(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, b, parent)

	list, err := c.ReadDir(ctx, a, 0, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list.Entries)
	list, err = c.ReadDir(ctx, b, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, f, list.Entries[0].Key)
}

func TestReadDirCachedByVerifier(t *testing.T) {
	c, backend, root := newCached(t)
	ctx := context.Background()

	_, err := c.Create(ctx, root, "one", store.CreateAttr{Mode: 0o644})
	require.NoError(t, err)

	first, err := c.ReadDir(ctx, root, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, first.Entries, 1)
	second, err := c.ReadDir(ctx, root, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, first.Verifier, second.Verifier)
	assert.Equal(t, int64(1), backend.readdir.Load())
	require.NotNil(t, second.Entries[0].Attr)

	// continuation requests bypass the cache
	_, err = c.ReadDir(ctx, root, first.Entries[0].Cookie, first.Verifier, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), backend.readdir.Load())

	// a new entry changes the verifier; the stale snapshot is replaced
	_, err = c.Create(ctx, root, "two", store.CreateAttr{Mode: 0o644})
	require.NoError(t, err)
	third, err := c.ReadDir(ctx, root, 0, 0, 0)
	require.NoError(t, err)
	assert.Len(t, third.Entries, 2)
	assert.NotEqual(t, first.Verifier, third.Verifier)

	// entry attributes follow attribute invalidations
	mode := uint32(0o600)
	require.NoError(t, c.SetAttr(ctx, third.Entries[0].Key, &store.SetAttrs{Mode: &mode}))
	fourth, err := c.ReadDir(ctx, root, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), fourth.Entries[0].Attr.Mode&0o777)
}

func TestReadDirNotDirectory(t *testing.T) {
	c, _, root := newCached(t)
	ctx := context.Background()
	f, err := c.Create(ctx, root, "f", store.CreateAttr{})
	require.NoError(t, err)

	_, err = c.ReadDir(ctx, f, 0, 0, 0)
	assert.True(t, errors.Is(err, store.ErrNotDirectory))
}

func TestDisabledCacheForwards(t *testing.T) {
	backend := newCountingStore()
	c := New(backend, Config{Enabled: false}, nil)
	ctx := context.Background()
	root, err := c.GetRoot(ctx)
	require.NoError(t, err)

	for range 3 {
		_, err := c.GetAttr(ctx, root)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), backend.getattr.Load())
}

func TestLRUEvictionAndTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	l := newLRU[int]("test", time.Second, 2, metrics.NewNoopCacheMetrics(), clock)

	l.put("a", 1)
	l.put("b", 2)
	l.put("c", 3)
	_, ok := l.get("a")
	assert.False(t, ok, "least recently used entry is evicted")

	v, ok := l.get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	now = now.Add(2 * time.Second)
	_, ok = l.get("b")
	assert.False(t, ok, "expired entries are not served")

	epoch := l.currentEpoch()
	l.invalidate("zzz")
	assert.False(t, l.putIfEpoch("d", 4, epoch), "insert racing an invalidation is dropped")

	st := l.stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, uint64(1), st.Hits)
}

func TestStatsAndPurge(t *testing.T) {
	c, _, root := newCached(t)
	ctx := context.Background()

	_, _ = c.GetAttr(ctx, root)
	_, _ = c.GetAttr(ctx, root)
	st := c.Stats()
	assert.Equal(t, uint64(1), st[TableAttr].Hits)
	assert.Equal(t, 1, st[TableAttr].Entries)

	c.Purge()
	assert.Zero(t, c.Stats()[TableAttr].Entries)
}
