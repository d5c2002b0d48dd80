package badger

import (
	"context"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

func (s *Store) GetRoot(ctx context.Context) (store.Key, error) {
	return keyOf(s.root), nil
}

func (s *Store) Lookup(ctx context.Context, parent store.Key, name string) (key store.Key, err error) {
	defer s.observe("Lookup", time.Now(), &err)

	if err := store.ValidateNewName(name); err != nil {
		return nil, err
	}
	parentID, err := idFromKey(parent)
	if err != nil {
		return nil, err
	}

	err = s.view(func(txn *badgerdb.Txn) error {
		if _, err := getDir(txn, parentID); err != nil {
			return err
		}
		id, err := lookupChild(txn, parentID, name)
		if err != nil {
			return err
		}
		key = keyOf(id)
		return nil
	})
	return key, err
}

func (s *Store) GetAttr(ctx context.Context, key store.Key) (attr *store.Attr, err error) {
	defer s.observe("GetAttr", time.Now(), &err)

	id, err := idFromKey(key)
	if err != nil {
		return nil, err
	}
	err = s.view(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		attr = &rec.Attr
		return nil
	})
	return attr, err
}

func (s *Store) Parent(ctx context.Context, key store.Key) (parent store.Key, err error) {
	defer s.observe("Parent", time.Now(), &err)

	id, err := idFromKey(key)
	if err != nil {
		return nil, err
	}
	err = s.view(func(txn *badgerdb.Txn) error {
		if _, err := getRecord(txn, id); err != nil {
			return err
		}
		parentID, err := getID(txn, keyParent(id))
		if err != nil {
			return err
		}
		parent = keyOf(parentID)
		return nil
	})
	return parent, err
}

// ReadDir lists children in name order. Cookies are positions in that order,
// offset by store.FirstCookie, and are only honoured together with the
// verifier of the listing they came from.
func (s *Store) ReadDir(ctx context.Context, dir store.Key, cookie uint64, verifier store.Verifier, count int) (list *store.DirList, err error) {
	defer s.observe("ReadDir", time.Now(), &err)

	dirID, err := idFromKey(dir)
	if err != nil {
		return nil, err
	}

	err = s.view(func(txn *badgerdb.Txn) error {
		rec, err := getDir(txn, dirID)
		if err != nil {
			return err
		}

		current := store.VerifierOf(&rec.Attr)
		start := uint64(0)
		if cookie != 0 {
			if verifier != current || cookie < store.FirstCookie {
				return store.NewError(store.ErrBadCookie, dirID.String(), "listing changed since cookie %d was issued", cookie)
			}
			start = cookie - store.FirstCookie + 1
		}

		list = &store.DirList{Verifier: current}
		prefix := keyChildPrefix(dirID)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		pos := uint64(0)
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if pos < start {
				pos++
				continue
			}
			if count > 0 && len(list.Entries) >= count {
				return nil
			}

			item := it.Item()
			name := string(item.Key()[len(prefix):])
			var childID uuid.UUID
			if err := item.Value(func(val []byte) error {
				childID, err = decodeID(val)
				return err
			}); err != nil {
				return err
			}
			child, err := getRecord(txn, childID)
			if err != nil {
				return err
			}

			list.Entries = append(list.Entries, store.DirEntry{
				Name:   name,
				Key:    keyOf(childID),
				Cookie: store.FirstCookie + pos,
				Attr:   &child.Attr,
			})
			pos++
		}
		list.EOF = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// create links a fresh object into parentID inside txn.
func (s *Store) create(txn *badgerdb.Txn, parentID uuid.UUID, name string, rec *record) (uuid.UUID, error) {
	parent, err := getDir(txn, parentID)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := txn.Get(keyChild(parentID, name)); err == nil {
		return uuid.Nil, store.NewError(store.ErrExists, name, "entry already exists")
	}

	id := uuid.New()
	if err := putRecord(txn, id, rec); err != nil {
		return uuid.Nil, err
	}
	if err := txn.Set(keyParent(id), parentID[:]); err != nil {
		return uuid.Nil, err
	}
	if err := txn.Set(keyChild(parentID, name), id[:]); err != nil {
		return uuid.Nil, err
	}

	if rec.Attr.Type == store.FileTypeDirectory {
		parent.Attr.Nlink++
	}
	if err := s.touch(parent); err != nil {
		return uuid.Nil, err
	}
	return id, putRecord(txn, parentID, parent)
}

// createObject validates the request and runs create in its own transaction.
func (s *Store) createObject(parent store.Key, name string, typ store.FileType, attr store.CreateAttr, target string) (store.Key, error) {
	if err := store.ValidateNewName(name); err != nil {
		return nil, err
	}
	parentID, err := idFromKey(parent)
	if err != nil {
		return nil, err
	}
	rec, err := s.newRecord(typ, attr)
	if err != nil {
		return nil, err
	}
	if typ == store.FileTypeSymlink {
		rec.Target = target
		rec.Attr.Size = uint64(len(target))
	}

	var id uuid.UUID
	err = s.update(func(txn *badgerdb.Txn) error {
		id, err = s.create(txn, parentID, name, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keyOf(id), nil
}

func (s *Store) Create(ctx context.Context, parent store.Key, name string, attr store.CreateAttr) (key store.Key, err error) {
	defer s.observe("Create", time.Now(), &err)
	return s.createObject(parent, name, store.FileTypeRegular, attr, "")
}

func (s *Store) Mkdir(ctx context.Context, parent store.Key, name string, attr store.CreateAttr) (key store.Key, err error) {
	defer s.observe("Mkdir", time.Now(), &err)
	return s.createObject(parent, name, store.FileTypeDirectory, attr, "")
}

func (s *Store) Symlink(ctx context.Context, parent store.Key, name string, target string, attr store.CreateAttr) (key store.Key, err error) {
	defer s.observe("Symlink", time.Now(), &err)
	attr.Mode = 0777
	return s.createObject(parent, name, store.FileTypeSymlink, attr, target)
}

func (s *Store) Readlink(ctx context.Context, key store.Key) (target string, err error) {
	defer s.observe("Readlink", time.Now(), &err)

	id, err := idFromKey(key)
	if err != nil {
		return "", err
	}
	err = s.view(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Attr.Type != store.FileTypeSymlink {
			return store.NewError(store.ErrInvalidArgument, id.String(), "not a symlink")
		}
		target = rec.Target
		return nil
	})
	return target, err
}

func (s *Store) Link(ctx context.Context, dir store.Key, name string, target store.Key) (err error) {
	defer s.observe("Link", time.Now(), &err)

	if err := store.ValidateNewName(name); err != nil {
		return err
	}
	dirID, err := idFromKey(dir)
	if err != nil {
		return err
	}
	targetID, err := idFromKey(target)
	if err != nil {
		return err
	}

	return s.update(func(txn *badgerdb.Txn) error {
		parent, err := getDir(txn, dirID)
		if err != nil {
			return err
		}
		rec, err := getRecord(txn, targetID)
		if err != nil {
			return err
		}
		if rec.Attr.Type == store.FileTypeDirectory {
			return store.NewError(store.ErrIsDirectory, name, "cannot hard link a directory")
		}
		if _, err := txn.Get(keyChild(dirID, name)); err == nil {
			return store.NewError(store.ErrExists, name, "entry already exists")
		}

		if err := txn.Set(keyChild(dirID, name), targetID[:]); err != nil {
			return err
		}
		rec.Attr.Nlink++
		if err := s.changed(rec); err != nil {
			return err
		}
		if err := putRecord(txn, targetID, rec); err != nil {
			return err
		}
		if err := s.touch(parent); err != nil {
			return err
		}
		return putRecord(txn, dirID, parent)
	})
}
