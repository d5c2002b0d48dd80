package pseudofs

import (
	"context"
	"slices"

	"github.com/marmos91/dittofs-exports/internal/logger"
	"github.com/marmos91/dittofs-exports/pkg/export"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

const rootNode = 0

// node is one directory of the pseudo tree.
//
// Nodes live in an arena and refer to each other by index. A node with
// exports is a mountpoint; the first export is the primary one, the most
// specific clause visible to the client.
type node struct {
	name     string
	parent   int
	children map[string]int
	names    []string
	exports  []*export.Export

	// key and attr describe the real directory at the node's path
	key  store.Key
	attr store.Attr
}

func (n *node) isMountpoint() bool {
	return len(n.exports) > 0
}

func (n *node) primary() *export.Export {
	return n.exports[0]
}

// tree is the pseudo namespace of one client for one export snapshot.
// It is immutable once built.
type tree struct {
	generation uint64
	nodes      []node
	byKey      map[string]int
	mounts     int
}

// buildTree walks every export path visible to client and links the real
// directories along each path into an arena tree. Paths that cannot be
// resolved in the backing store are skipped, so a half resolved path never
// leaves dangling intermediate nodes behind.
func buildTree(ctx context.Context, s store.Store, snap *export.Snapshot, client *export.Client) (*tree, error) {
	rootKey, err := s.GetRoot(ctx)
	if err != nil {
		return nil, err
	}
	rootAttr, err := s.GetAttr(ctx, rootKey)
	if err != nil {
		return nil, err
	}

	t := &tree{
		generation: snap.Generation,
		nodes:      []node{{parent: rootNode, children: map[string]int{}, key: rootKey, attr: *rootAttr}},
		byKey:      map[string]int{string(rootKey): rootNode},
	}

	for _, p := range snap.Paths() {
		var visible []*export.Export
		for _, e := range snap.Clauses(p) {
			if e.Client.Match(client) {
				visible = append(visible, e)
			}
		}
		if len(visible) == 0 {
			continue
		}

		id, err := t.graft(ctx, s, p)
		if err != nil {
			logger.Warn("Export %s: skipped in pseudo filesystem: %v", p, err)
			continue
		}
		t.nodes[id].exports = visible
		t.mounts++
	}

	for i := range t.nodes {
		n := &t.nodes[i]
		n.names = make([]string, 0, len(n.children))
		for name := range n.children {
			n.names = append(n.names, name)
		}
		slices.Sort(n.names)
	}

	logger.Debug("Built pseudo filesystem: generation=%d client=%s nodes=%d mountpoints=%d",
		snap.Generation, client.Addr, len(t.nodes), t.mounts)
	return t, nil
}

// graft resolves every segment of p and adds the missing nodes. Nothing is
// added unless the whole path resolves to directories.
func (t *tree) graft(ctx context.Context, s store.Store, p string) (int, error) {
	type pending struct {
		name string
		key  store.Key
		attr *store.Attr
	}

	cur := rootNode
	var missing []pending
	for _, seg := range export.Segments(p) {
		if len(missing) == 0 {
			if child, ok := t.nodes[cur].children[seg]; ok {
				cur = child
				continue
			}
		}

		parentKey := t.nodes[cur].key
		if len(missing) > 0 {
			parentKey = missing[len(missing)-1].key
		}
		key, err := s.Lookup(ctx, parentKey, seg)
		if err != nil {
			return 0, err
		}
		attr, err := s.GetAttr(ctx, key)
		if err != nil {
			return 0, err
		}
		if !attr.IsDir() {
			return 0, store.NewError(store.ErrNotDirectory, seg, "export path component is not a directory")
		}
		missing = append(missing, pending{name: seg, key: key, attr: attr})
	}

	for _, m := range missing {
		id := len(t.nodes)
		t.nodes = append(t.nodes, node{
			name:     m.name,
			parent:   cur,
			children: map[string]int{},
			key:      m.key,
			attr:     *m.attr,
		})
		t.nodes[cur].children[m.name] = id
		t.byKey[string(m.key)] = id
		cur = id
	}
	return cur, nil
}

// lookupKey returns the node whose real directory has key.
func (t *tree) lookupKey(key store.Key) (*node, bool) {
	id, ok := t.byKey[string(key)]
	if !ok {
		return nil, false
	}
	return &t.nodes[id], true
}

// find returns the node at export path p.
func (t *tree) find(p string) (*node, bool) {
	cur := rootNode
	for _, seg := range export.Segments(p) {
		child, ok := t.nodes[cur].children[seg]
		if !ok {
			return nil, false
		}
		cur = child
	}
	return &t.nodes[cur], true
}

func (t *tree) parentOf(n *node) *node {
	return &t.nodes[n.parent]
}

func (t *tree) child(n *node, name string) (*node, bool) {
	id, ok := n.children[name]
	if !ok {
		return nil, false
	}
	return &t.nodes[id], true
}

// pseudoAttr synthesizes the attributes of a non-mountpoint node. Pseudo
// directories are read-only and owned by root; their change counter follows
// the export generation.
func (t *tree) pseudoAttr(n *node) *store.Attr {
	attr := n.attr
	attr.Type = store.FileTypeDirectory
	attr.Mode = 0555
	attr.UID = 0
	attr.GID = 0
	attr.Nlink = uint32(2 + len(n.children))
	attr.Size = 4096
	attr.Change = t.generation
	return &attr
}
