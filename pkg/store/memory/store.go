// Package memory provides an in-memory implementation of store.Store.
package memory

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittofs-exports/pkg/store"
)

const keyLen = 8

// node is a single filesystem object.
type node struct {
	id       uint64
	attr     store.Attr
	parent   uint64
	children map[string]uint64
	target   string
	data     []byte
	acl      []store.ACE
}

// Store implements store.Store using in-memory data structures.
//
// It is suitable for tests, demos and ephemeral exports. Keys are the 8-byte
// big-endian object IDs.
//
// Thread Safety:
// All operations are protected by a single read-write mutex (mu). This
// coarse-grained locking is simple and correct, which is all a reference
// store needs.
type Store struct {
	mu     sync.RWMutex
	nodes  map[uint64]*node
	nextID uint64
	change uint64
	rootID uint64
	now    func() time.Time
}

// Config holds the options of an in-memory store.
type Config struct {
	// RootMode is the permission bits of the root directory (default 0755)
	RootMode uint32 `mapstructure:"root_mode"`

	// RootUID is the owner of the root directory
	RootUID uint32 `mapstructure:"root_uid"`

	// RootGID is the group of the root directory
	RootGID uint32 `mapstructure:"root_gid"`
}

// New creates an empty store containing only the root directory.
func New(cfg Config) *Store {
	if cfg.RootMode == 0 {
		cfg.RootMode = 0755
	}
	s := &Store{
		nodes: make(map[uint64]*node),
		now:   time.Now,
	}
	root := s.newNode(store.FileTypeDirectory, store.CreateAttr{
		Mode: cfg.RootMode,
		UID:  cfg.RootUID,
		GID:  cfg.RootGID,
	})
	root.parent = root.id
	root.attr.Nlink = 2
	s.rootID = root.id
	return s
}

func encodeKey(id uint64) store.Key {
	key := make(store.Key, keyLen)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// newNode allocates a node. Must be called with mu held (or during construction).
func (s *Store) newNode(typ store.FileType, attr store.CreateAttr) *node {
	s.nextID++
	now := s.now()
	n := &node{
		id: s.nextID,
		attr: store.Attr{
			Type:   typ,
			Mode:   attr.Mode & 07777,
			Nlink:  1,
			UID:    attr.UID,
			GID:    attr.GID,
			FileID: s.nextID,
			Change: s.bump(),
			Atime:  now,
			Mtime:  now,
			Ctime:  now,
		},
	}
	if typ == store.FileTypeDirectory {
		n.children = make(map[string]uint64)
		n.attr.Nlink = 2
		n.attr.Size = 4096
	}
	s.nodes[n.id] = n
	return n
}

func (s *Store) bump() uint64 {
	s.change++
	return s.change
}

// touch records a modification of n's content.
func (s *Store) touch(n *node) {
	now := s.now()
	n.attr.Mtime = now
	n.attr.Ctime = now
	n.attr.Change = s.bump()
}

// get resolves a key to a node. Must be called with mu held.
func (s *Store) get(key store.Key) (*node, error) {
	if len(key) != keyLen {
		return nil, store.NewError(store.ErrStaleHandle, "", "malformed key of %d bytes", len(key))
	}
	n, ok := s.nodes[binary.BigEndian.Uint64(key)]
	if !ok {
		return nil, store.NewError(store.ErrStaleHandle, key.String(), "object no longer exists")
	}
	return n, nil
}

func (s *Store) getDir(key store.Key) (*node, error) {
	n, err := s.get(key)
	if err != nil {
		return nil, err
	}
	if n.attr.Type != store.FileTypeDirectory {
		return nil, store.NewError(store.ErrNotDirectory, key.String(), "not a directory")
	}
	return n, nil
}

func (s *Store) GetRoot(ctx context.Context) (store.Key, error) {
	return encodeKey(s.rootID), nil
}

func (s *Store) Lookup(ctx context.Context, parent store.Key, name string) (store.Key, error) {
	if err := store.ValidateNewName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, err := s.getDir(parent)
	if err != nil {
		return nil, err
	}
	id, ok := dir.children[name]
	if !ok {
		return nil, store.NewError(store.ErrNotFound, name, "no such entry")
	}
	return encodeKey(id), nil
}

func (s *Store) GetAttr(ctx context.Context, key store.Key) (*store.Attr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.get(key)
	if err != nil {
		return nil, err
	}
	attr := n.attr
	return &attr, nil
}

func (s *Store) Parent(ctx context.Context, key store.Key) (store.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.get(key)
	if err != nil {
		return nil, err
	}
	return encodeKey(n.parent), nil
}

func (s *Store) ReadDir(ctx context.Context, dirKey store.Key, cookie uint64, verifier store.Verifier, count int) (*store.DirList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, err := s.getDir(dirKey)
	if err != nil {
		return nil, err
	}

	current := store.VerifierOf(&dir.attr)
	start := 0
	if cookie != 0 {
		if verifier != current || cookie < store.FirstCookie {
			return nil, store.NewError(store.ErrBadCookie, dirKey.String(), "listing changed since cookie %d was issued", cookie)
		}
		start = int(cookie-store.FirstCookie) + 1
	}

	names := make([]string, 0, len(dir.children))
	for name := range dir.children {
		names = append(names, name)
	}
	sort.Strings(names)

	list := &store.DirList{Verifier: current}
	for i := start; i < len(names); i++ {
		if count > 0 && len(list.Entries) >= count {
			return list, nil
		}
		child := s.nodes[dir.children[names[i]]]
		attr := child.attr
		list.Entries = append(list.Entries, store.DirEntry{
			Name:   names[i],
			Key:    encodeKey(child.id),
			Cookie: store.FirstCookie + uint64(i),
			Attr:   &attr,
		})
	}
	list.EOF = true
	return list, nil
}

// create links a fresh node into parent. Must be called with mu held.
func (s *Store) create(parent store.Key, name string, typ store.FileType, attr store.CreateAttr) (*node, error) {
	if err := store.ValidateNewName(name); err != nil {
		return nil, err
	}
	dir, err := s.getDir(parent)
	if err != nil {
		return nil, err
	}
	if _, exists := dir.children[name]; exists {
		return nil, store.NewError(store.ErrExists, name, "entry already exists")
	}

	n := s.newNode(typ, attr)
	n.parent = dir.id
	dir.children[name] = n.id
	if typ == store.FileTypeDirectory {
		dir.attr.Nlink++
	}
	s.touch(dir)
	return n, nil
}

func (s *Store) Create(ctx context.Context, parent store.Key, name string, attr store.CreateAttr) (store.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.create(parent, name, store.FileTypeRegular, attr)
	if err != nil {
		return nil, err
	}
	return encodeKey(n.id), nil
}

func (s *Store) Mkdir(ctx context.Context, parent store.Key, name string, attr store.CreateAttr) (store.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.create(parent, name, store.FileTypeDirectory, attr)
	if err != nil {
		return nil, err
	}
	return encodeKey(n.id), nil
}

func (s *Store) Symlink(ctx context.Context, parent store.Key, name string, target string, attr store.CreateAttr) (store.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attr.Mode = 0777
	n, err := s.create(parent, name, store.FileTypeSymlink, attr)
	if err != nil {
		return nil, err
	}
	n.target = target
	n.attr.Size = uint64(len(target))
	return encodeKey(n.id), nil
}

func (s *Store) Readlink(ctx context.Context, key store.Key) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.get(key)
	if err != nil {
		return "", err
	}
	if n.attr.Type != store.FileTypeSymlink {
		return "", store.NewError(store.ErrInvalidArgument, key.String(), "not a symlink")
	}
	return n.target, nil
}

func (s *Store) Link(ctx context.Context, dirKey store.Key, name string, target store.Key) error {
	if err := store.ValidateNewName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.getDir(dirKey)
	if err != nil {
		return err
	}
	n, err := s.get(target)
	if err != nil {
		return err
	}
	if n.attr.Type == store.FileTypeDirectory {
		return store.NewError(store.ErrIsDirectory, name, "cannot hard link a directory")
	}
	if _, exists := dir.children[name]; exists {
		return store.NewError(store.ErrExists, name, "entry already exists")
	}

	dir.children[name] = n.id
	n.attr.Nlink++
	n.attr.Ctime = s.now()
	n.attr.Change = s.bump()
	s.touch(dir)
	return nil
}

// unlink drops one link of child from dir. Must be called with mu held.
func (s *Store) unlink(dir *node, name string, child *node) {
	delete(dir.children, name)
	if child.attr.Type == store.FileTypeDirectory {
		dir.attr.Nlink--
		delete(s.nodes, child.id)
	} else {
		child.attr.Nlink--
		child.attr.Ctime = s.now()
		child.attr.Change = s.bump()
		if child.attr.Nlink == 0 {
			delete(s.nodes, child.id)
		}
	}
	s.touch(dir)
}

func (s *Store) Remove(ctx context.Context, parent store.Key, name string) error {
	if err := store.ValidateNewName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.getDir(parent)
	if err != nil {
		return err
	}
	id, ok := dir.children[name]
	if !ok {
		return store.NewError(store.ErrNotFound, name, "no such entry")
	}
	child := s.nodes[id]
	if child.attr.Type == store.FileTypeDirectory && len(child.children) > 0 {
		return store.NewError(store.ErrNotEmpty, name, "directory not empty")
	}
	s.unlink(dir, name, child)
	return nil
}

func (s *Store) Rename(ctx context.Context, fromDirKey store.Key, fromName string, toDirKey store.Key, toName string) (bool, error) {
	if err := store.ValidateNewName(fromName); err != nil {
		return false, err
	}
	if err := store.ValidateNewName(toName); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fromDir, err := s.getDir(fromDirKey)
	if err != nil {
		return false, err
	}
	toDir, err := s.getDir(toDirKey)
	if err != nil {
		return false, err
	}
	id, ok := fromDir.children[fromName]
	if !ok {
		return false, store.NewError(store.ErrNotFound, fromName, "no such entry")
	}
	moved := s.nodes[id]

	if moved.attr.Type == store.FileTypeDirectory && s.isAncestor(moved.id, toDir.id) {
		return false, store.NewError(store.ErrInvalidArgument, toName, "cannot move a directory into itself")
	}

	if existingID, exists := toDir.children[toName]; exists {
		if existingID == id {
			// Both names refer to the same object.
			return false, nil
		}
		existing := s.nodes[existingID]
		switch {
		case moved.attr.Type == store.FileTypeDirectory && existing.attr.Type != store.FileTypeDirectory:
			return false, store.NewError(store.ErrNotDirectory, toName, "cannot replace non-directory with directory")
		case moved.attr.Type != store.FileTypeDirectory && existing.attr.Type == store.FileTypeDirectory:
			return false, store.NewError(store.ErrIsDirectory, toName, "cannot replace directory with non-directory")
		case existing.attr.Type == store.FileTypeDirectory && len(existing.children) > 0:
			return false, store.NewError(store.ErrNotEmpty, toName, "directory not empty")
		}
		s.unlink(toDir, toName, existing)
	}

	delete(fromDir.children, fromName)
	toDir.children[toName] = moved.id
	if moved.attr.Type == store.FileTypeDirectory && fromDir.id != toDir.id {
		fromDir.attr.Nlink--
		toDir.attr.Nlink++
	}
	moved.parent = toDir.id
	moved.attr.Ctime = s.now()
	moved.attr.Change = s.bump()
	s.touch(fromDir)
	if toDir.id != fromDir.id {
		s.touch(toDir)
	}
	return true, nil
}

// isAncestor reports whether ancestor is id or one of its parents.
func (s *Store) isAncestor(ancestor, id uint64) bool {
	for {
		if id == ancestor {
			return true
		}
		if id == s.rootID {
			return false
		}
		id = s.nodes[id].parent
	}
}

func (s *Store) SetAttr(ctx context.Context, key store.Key, attrs *store.SetAttrs) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(key)
	if err != nil {
		return err
	}
	if attrs.Size != nil {
		if n.attr.Type != store.FileTypeRegular {
			return store.NewError(store.ErrInvalidArgument, key.String(), "size can only be set on regular files")
		}
		size := *attrs.Size
		if size < uint64(len(n.data)) {
			n.data = n.data[:size]
		} else {
			n.data = append(n.data, make([]byte, size-uint64(len(n.data)))...)
		}
		n.attr.Size = size
		n.attr.Mtime = s.now()
	}
	if attrs.Mode != nil {
		n.attr.Mode = *attrs.Mode & 07777
	}
	if attrs.UID != nil {
		n.attr.UID = *attrs.UID
	}
	if attrs.GID != nil {
		n.attr.GID = *attrs.GID
	}
	if attrs.Atime != nil {
		n.attr.Atime = *attrs.Atime
	}
	if attrs.Mtime != nil {
		n.attr.Mtime = *attrs.Mtime
	}
	n.attr.Ctime = s.now()
	n.attr.Change = s.bump()
	return nil
}

func (s *Store) Read(ctx context.Context, key store.Key, off int64, p []byte) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.get(key)
	if err != nil {
		return 0, false, err
	}
	if n.attr.Type == store.FileTypeDirectory {
		return 0, false, store.NewError(store.ErrIsDirectory, key.String(), "cannot read a directory")
	}
	if off < 0 {
		return 0, false, store.NewError(store.ErrInvalidArgument, key.String(), "negative offset")
	}
	if off >= int64(len(n.data)) {
		return 0, true, nil
	}
	c := copy(p, n.data[off:])
	return c, off+int64(c) >= int64(len(n.data)), nil
}

func (s *Store) Write(ctx context.Context, key store.Key, off int64, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(key)
	if err != nil {
		return 0, err
	}
	if n.attr.Type != store.FileTypeRegular {
		return 0, store.NewError(store.ErrIsDirectory, key.String(), "can only write regular files")
	}
	if off < 0 {
		return 0, store.NewError(store.ErrInvalidArgument, key.String(), "negative offset")
	}
	end := off + int64(len(data))
	if end > int64(len(n.data)) {
		n.data = append(n.data, make([]byte, end-int64(len(n.data)))...)
	}
	copy(n.data[off:], data)
	n.attr.Size = uint64(len(n.data))
	s.touch(n)
	return len(data), nil
}

// Commit is a no-op: memory is as stable as this store gets.
func (s *Store) Commit(ctx context.Context, key store.Key, off int64, count uint32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.get(key)
	return err
}

func (s *Store) GetACL(ctx context.Context, key store.Key) ([]store.ACE, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.get(key)
	if err != nil {
		return nil, err
	}
	return append([]store.ACE(nil), n.acl...), nil
}

func (s *Store) SetACL(ctx context.Context, key store.Key, acl []store.ACE) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.get(key)
	if err != nil {
		return err
	}
	n.acl = append([]store.ACE(nil), acl...)
	n.attr.Ctime = s.now()
	n.attr.Change = s.bump()
	return nil
}

// MkdirAll creates every missing directory along p and returns the key of
// the last one. Existing directories are reused.
func (s *Store) MkdirAll(ctx context.Context, p string, attr store.CreateAttr) (store.Key, error) {
	return store.MkdirAll(ctx, s, p, attr)
}

var _ store.Store = (*Store)(nil)
