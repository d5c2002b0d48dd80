package badger

import (
	"context"
	"errors"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

func (s *Store) Remove(ctx context.Context, parent store.Key, name string) (err error) {
	defer s.observe("Remove", time.Now(), &err)

	if err := store.ValidateNewName(name); err != nil {
		return err
	}
	parentID, err := idFromKey(parent)
	if err != nil {
		return err
	}

	return s.update(func(txn *badgerdb.Txn) error {
		dir, err := getDir(txn, parentID)
		if err != nil {
			return err
		}
		childID, err := lookupChild(txn, parentID, name)
		if err != nil {
			return err
		}
		child, err := getRecord(txn, childID)
		if err != nil {
			return err
		}
		if child.Attr.Type == store.FileTypeDirectory && hasChildren(txn, childID) {
			return store.NewError(store.ErrNotEmpty, name, "directory not empty")
		}
		if err := s.unlink(txn, parentID, dir, name, childID, child); err != nil {
			return err
		}
		return putRecord(txn, parentID, dir)
	})
}

// unlink drops one link of child from dir inside txn. The caller persists dir.
func (s *Store) unlink(txn *badgerdb.Txn, dirID uuid.UUID, dir *record, name string, childID uuid.UUID, child *record) error {
	if err := txn.Delete(keyChild(dirID, name)); err != nil {
		return err
	}

	if child.Attr.Type == store.FileTypeDirectory {
		dir.Attr.Nlink--
		child.Attr.Nlink = 0
	} else {
		child.Attr.Nlink--
	}

	if child.Attr.Nlink == 0 {
		for _, key := range [][]byte{keyFile(childID), keyParent(childID), keyData(childID)} {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
	} else {
		if err := s.changed(child); err != nil {
			return err
		}
		if err := putRecord(txn, childID, child); err != nil {
			return err
		}
	}
	return s.touch(dir)
}

func (s *Store) Rename(ctx context.Context, fromDir store.Key, fromName string, toDir store.Key, toName string) (changed bool, err error) {
	defer s.observe("Rename", time.Now(), &err)

	if err := store.ValidateNewName(fromName); err != nil {
		return false, err
	}
	if err := store.ValidateNewName(toName); err != nil {
		return false, err
	}
	fromID, err := idFromKey(fromDir)
	if err != nil {
		return false, err
	}
	toID, err := idFromKey(toDir)
	if err != nil {
		return false, err
	}

	err = s.update(func(txn *badgerdb.Txn) error {
		from, err := getDir(txn, fromID)
		if err != nil {
			return err
		}
		to := from
		if toID != fromID {
			if to, err = getDir(txn, toID); err != nil {
				return err
			}
		}

		movedID, err := lookupChild(txn, fromID, fromName)
		if err != nil {
			return err
		}
		moved, err := getRecord(txn, movedID)
		if err != nil {
			return err
		}
		isDir := moved.Attr.Type == store.FileTypeDirectory

		if isDir {
			inside, err := s.isAncestor(txn, movedID, toID)
			if err != nil {
				return err
			}
			if inside {
				return store.NewError(store.ErrInvalidArgument, toName, "cannot move a directory into itself")
			}
		}

		existingID, err := lookupChild(txn, toID, toName)
		switch {
		case err == nil:
			if existingID == movedID {
				return nil
			}
			existing, err := getRecord(txn, existingID)
			if err != nil {
				return err
			}
			existingDir := existing.Attr.Type == store.FileTypeDirectory
			switch {
			case isDir && !existingDir:
				return store.NewError(store.ErrNotDirectory, toName, "cannot replace non-directory with directory")
			case !isDir && existingDir:
				return store.NewError(store.ErrIsDirectory, toName, "cannot replace directory with non-directory")
			case existingDir && hasChildren(txn, existingID):
				return store.NewError(store.ErrNotEmpty, toName, "directory not empty")
			}
			if err := s.unlink(txn, toID, to, toName, existingID, existing); err != nil {
				return err
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if err := txn.Delete(keyChild(fromID, fromName)); err != nil {
			return err
		}
		if err := txn.Set(keyChild(toID, toName), movedID[:]); err != nil {
			return err
		}
		if err := txn.Set(keyParent(movedID), toID[:]); err != nil {
			return err
		}
		if isDir && fromID != toID {
			from.Attr.Nlink--
			to.Attr.Nlink++
		}
		if err := s.changed(moved); err != nil {
			return err
		}
		if err := putRecord(txn, movedID, moved); err != nil {
			return err
		}
		if err := s.touch(from); err != nil {
			return err
		}
		if err := putRecord(txn, fromID, from); err != nil {
			return err
		}
		if toID != fromID {
			if err := s.touch(to); err != nil {
				return err
			}
			if err := putRecord(txn, toID, to); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	return changed, err
}

// isAncestor reports whether ancestor is id or one of its parents.
func (s *Store) isAncestor(txn *badgerdb.Txn, ancestor, id uuid.UUID) (bool, error) {
	for {
		if id == ancestor {
			return true, nil
		}
		if id == s.root {
			return false, nil
		}
		parent, err := getID(txn, keyParent(id))
		if err != nil {
			return false, err
		}
		id = parent
	}
}
