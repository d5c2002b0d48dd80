// Package pseudofs implements the namespace a client sees: a synthetic,
// read-only directory tree that joins the roots of every export visible to
// the client, and checked pass-throughs to the backing store for everything
// below an export root.
//
// Every handle returned for a real object carries the index of the export
// it was reached through, so the same object seen through two exports has
// two different handles and every later request is checked against the
// right export.
package pseudofs

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittofs-exports/pkg/access"
	"github.com/marmos91/dittofs-exports/pkg/auth"
	"github.com/marmos91/dittofs-exports/pkg/export"
	"github.com/marmos91/dittofs-exports/pkg/handle"
	"github.com/marmos91/dittofs-exports/pkg/store"
	"golang.org/x/sync/singleflight"
)

// DirEntry is a directory entry with a client facing handle.
type DirEntry struct {
	Name   string
	Handle handle.Handle
	Cookie uint64
	Attr   *store.Attr
}

// DirList is one page of a directory listing.
type DirList struct {
	Entries  []DirEntry
	Verifier store.Verifier
	EOF      bool
}

// treeSet holds the trees built for one export generation, keyed by client
// address.
type treeSet struct {
	generation uint64
	mu         sync.Mutex
	trees      map[string]*tree
}

// FS serves the pseudo namespace and forwards real operations to the store.
//
// Thread Safety:
// FS is safe for concurrent use. Trees are immutable after publication and
// a reload of the export table starts a fresh tree set, so requests in
// flight keep using the tree they started with.
type FS struct {
	store    store.Store
	registry *export.Registry
	access   *access.Controller
	codec    *handle.Codec

	trees  atomic.Pointer[treeSet]
	builds singleflight.Group
}

// New returns an FS. s is typically a cache.CachedStore and should be the
// same store the access controller reads attributes from.
func New(s store.Store, registry *export.Registry, ac *access.Controller, codec *handle.Codec) *FS {
	return &FS{store: s, registry: registry, access: ac, codec: codec}
}

// DecodeHandle decodes and validates a handle presented by a client.
func (f *FS) DecodeHandle(b []byte) (handle.Handle, error) {
	return f.codec.Decode(b)
}

// EncodeHandle encodes h for the wire.
func (f *FS) EncodeHandle(h handle.Handle) ([]byte, error) {
	return f.codec.Encode(h)
}

// treeFor returns the pseudo tree of the calling client for the active
// export snapshot, building it on first use.
func (f *FS) treeFor(actx *auth.Context) (*tree, error) {
	snap := f.registry.Snapshot()
	set := f.trees.Load()
	if set == nil || set.generation < snap.Generation {
		fresh := &treeSet{generation: snap.Generation, trees: map[string]*tree{}}
		if f.trees.CompareAndSwap(set, fresh) {
			set = fresh
		} else {
			set = f.trees.Load()
		}
	}

	clientKey := actx.Client.IP.String()
	cacheable := set.generation == snap.Generation
	if cacheable {
		set.mu.Lock()
		t := set.trees[clientKey]
		set.mu.Unlock()
		if t != nil {
			return t, nil
		}
	}

	flight := fmt.Sprintf("%d/%s", snap.Generation, clientKey)
	v, err, _ := f.builds.Do(flight, func() (any, error) {
		return buildTree(actx.Ctx(), f.store, snap, f.registry.NewClient(actx.Ctx(), actx.Client))
	})
	if err != nil {
		return nil, err
	}
	t := v.(*tree)

	if cacheable {
		set.mu.Lock()
		if existing, ok := set.trees[clientKey]; ok {
			t = existing
		} else {
			set.trees[clientKey] = t
		}
		set.mu.Unlock()
	}
	return t, nil
}

// nodeHandle returns the handle a client sees for n: the real directory
// tagged with the primary export for mountpoints, a pseudo handle otherwise.
func (f *FS) nodeHandle(n *node) handle.Handle {
	if n.isMountpoint() {
		return f.codec.NewReal(n.key, n.primary().Index)
	}
	return f.codec.NewPseudo(n.key)
}

// resolve maps a pseudo handle onto its tree node. A pseudo handle naming a
// node that has become a mountpoint is turned into the mountpoint's real
// handle; real handles are returned unchanged with a nil node.
func (f *FS) resolve(actx *auth.Context, h handle.Handle) (handle.Handle, *tree, *node, error) {
	if err := f.codec.Validate(h); err != nil {
		return handle.Handle{}, nil, nil, err
	}
	if !h.IsPseudo() {
		return h, nil, nil, nil
	}

	t, err := f.treeFor(actx)
	if err != nil {
		return handle.Handle{}, nil, nil, err
	}
	n, ok := t.lookupKey(h.Key)
	if !ok {
		return handle.Handle{}, nil, nil, store.NewError(store.ErrStaleHandle, h.Key.String(), "pseudo node no longer exported to %s", actx.Client)
	}
	if n.isMountpoint() {
		return f.nodeHandle(n), t, nil, nil
	}
	return h, t, n, nil
}

// check resolves h and runs the access decision for mask.
func (f *FS) check(actx *auth.Context, h handle.Handle, mask access.Mask) (handle.Handle, *tree, *node, *access.Principal, error) {
	h, t, n, err := f.resolve(actx, h)
	if err != nil {
		return handle.Handle{}, nil, nil, nil, err
	}
	p, err := f.access.Check(actx, h, mask)
	if err != nil {
		return handle.Handle{}, nil, nil, nil, err
	}
	return h, t, n, p, nil
}

// GetRoot returns the root of the client's namespace. A client without any
// visible export is denied.
func (f *FS) GetRoot(actx *auth.Context) (handle.Handle, error) {
	t, err := f.treeFor(actx)
	if err != nil {
		return handle.Handle{}, err
	}
	if t.mounts == 0 {
		return handle.Handle{}, store.NewError(store.ErrPermissionDenied, "/", "no exports visible to %s", actx.Client)
	}
	return f.nodeHandle(&t.nodes[rootNode]), nil
}

// dcapPrefix starts the names of dCache control files.
const dcapPrefix = ".("

// Lookup resolves name in dir. "." returns dir and ".." behaves like
// LookupParent.
func (f *FS) Lookup(actx *auth.Context, dir handle.Handle, name string) (handle.Handle, error) {
	switch name {
	case ".":
		h, _, _, _, err := f.check(actx, dir, access.Execute)
		return h, err
	case "..":
		return f.LookupParent(actx, dir)
	}
	if err := store.ValidateName(name); err != nil {
		return handle.Handle{}, err
	}

	dir, t, n, p, err := f.check(actx, dir, access.Execute)
	if err != nil {
		return handle.Handle{}, err
	}

	if n != nil {
		child, ok := t.child(n, name)
		if !ok {
			return handle.Handle{}, store.NewError(store.ErrNotFound, name, "no such entry")
		}
		return f.nodeHandle(child), nil
	}

	// dCache control names are only visible on dcap exports
	if p.Export != nil && !p.Export.DCap && strings.HasPrefix(name, dcapPrefix) {
		return handle.Handle{}, store.NewError(store.ErrNotFound, name, "no such entry")
	}

	key, err := f.store.Lookup(actx.Ctx(), dir.Key, name)
	if err != nil {
		return handle.Handle{}, err
	}
	return f.codec.NewReal(key, dir.ExportIndex), nil
}

// LookupParent returns the parent of dir. The parent of an export root is
// the pseudo node above it, so ".." crosses back out of an export.
func (f *FS) LookupParent(actx *auth.Context, dir handle.Handle) (handle.Handle, error) {
	dir, t, n, p, err := f.check(actx, dir, access.Execute)
	if err != nil {
		return handle.Handle{}, err
	}
	if n != nil {
		return f.nodeHandle(t.parentOf(n)), nil
	}

	if t == nil {
		if t, err = f.treeFor(actx); err != nil {
			return handle.Handle{}, err
		}
	}
	if mount, ok := t.find(p.Export.Path); ok && bytes.Equal(mount.key, dir.Key) {
		return f.nodeHandle(t.parentOf(mount)), nil
	}

	key, err := f.store.Parent(actx.Ctx(), dir.Key)
	if err != nil {
		return handle.Handle{}, err
	}
	return f.codec.NewReal(key, dir.ExportIndex), nil
}

// ReadDir lists dir. Pseudo directories list their children with cookies
// starting at store.FirstCookie and the export generation as verifier;
// real directories are listed by the store and re-tagged.
func (f *FS) ReadDir(actx *auth.Context, dir handle.Handle, cookie uint64, verifier store.Verifier, count int) (*DirList, error) {
	dir, t, n, _, err := f.check(actx, dir, access.ListDirectory)
	if err != nil {
		return nil, err
	}
	if n != nil {
		return f.readPseudoDir(actx, t, n, cookie, verifier, count)
	}

	list, err := f.store.ReadDir(actx.Ctx(), dir.Key, cookie, verifier, count)
	if err != nil {
		return nil, err
	}
	out := &DirList{Verifier: list.Verifier, EOF: list.EOF, Entries: make([]DirEntry, 0, len(list.Entries))}
	for _, e := range list.Entries {
		out.Entries = append(out.Entries, DirEntry{
			Name:   e.Name,
			Handle: f.codec.NewReal(e.Key, dir.ExportIndex),
			Cookie: e.Cookie,
			Attr:   e.Attr,
		})
	}
	return out, nil
}

func (f *FS) readPseudoDir(actx *auth.Context, t *tree, n *node, cookie uint64, verifier store.Verifier, count int) (*DirList, error) {
	current := store.Verifier(t.generation)
	start := uint64(0)
	if cookie != 0 {
		if verifier != current || cookie < store.FirstCookie {
			return nil, store.NewError(store.ErrBadCookie, n.name, "pseudo listing changed since cookie %d was issued", cookie)
		}
		start = cookie - store.FirstCookie + 1
	}

	list := &DirList{Verifier: current}
	for i := start; i < uint64(len(n.names)); i++ {
		if count > 0 && len(list.Entries) >= count {
			return list, nil
		}
		child, _ := t.child(n, n.names[i])
		attr, err := f.nodeAttr(actx, t, child)
		if err != nil {
			return nil, err
		}
		list.Entries = append(list.Entries, DirEntry{
			Name:   child.name,
			Handle: f.nodeHandle(child),
			Cookie: store.FirstCookie + i,
			Attr:   attr,
		})
	}
	list.EOF = true
	return list, nil
}

// nodeAttr returns the attributes a client sees for n.
func (f *FS) nodeAttr(actx *auth.Context, t *tree, n *node) (*store.Attr, error) {
	if n.isMountpoint() {
		return f.store.GetAttr(actx.Ctx(), n.key)
	}
	return t.pseudoAttr(n), nil
}

// GetAttr returns the attributes of h.
func (f *FS) GetAttr(actx *auth.Context, h handle.Handle) (*store.Attr, error) {
	h, t, n, _, err := f.check(actx, h, access.ReadAttributes)
	if err != nil {
		return nil, err
	}
	if n != nil {
		return t.pseudoAttr(n), nil
	}
	return f.store.GetAttr(actx.Ctx(), h.Key)
}

// Access returns the subset of mask granted to the caller on h.
func (f *FS) Access(actx *auth.Context, h handle.Handle, mask access.Mask) (access.Mask, error) {
	h, _, _, err := f.resolve(actx, h)
	if err != nil {
		return 0, err
	}
	return f.access.Granted(actx, h, mask)
}
