package badger

import (
	"context"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

func (s *Store) SetAttr(ctx context.Context, key store.Key, attrs *store.SetAttrs) (err error) {
	defer s.observe("SetAttr", time.Now(), &err)

	id, err := idFromKey(key)
	if err != nil {
		return err
	}

	return s.update(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if attrs.Size != nil {
			if rec.Attr.Type != store.FileTypeRegular {
				return store.NewError(store.ErrInvalidArgument, id.String(), "size can only be set on regular files")
			}
			data, err := readData(txn, id)
			if err != nil {
				return err
			}
			size := *attrs.Size
			if size < uint64(len(data)) {
				data = data[:size]
			} else {
				data = append(data, make([]byte, size-uint64(len(data)))...)
			}
			if err := txn.Set(keyData(id), data); err != nil {
				return err
			}
			rec.Attr.Size = size
			rec.Attr.Mtime = s.now()
		}
		if attrs.Mode != nil {
			rec.Attr.Mode = *attrs.Mode & 07777
		}
		if attrs.UID != nil {
			rec.Attr.UID = *attrs.UID
		}
		if attrs.GID != nil {
			rec.Attr.GID = *attrs.GID
		}
		if attrs.Atime != nil {
			rec.Attr.Atime = *attrs.Atime
		}
		if attrs.Mtime != nil {
			rec.Attr.Mtime = *attrs.Mtime
		}
		if err := s.changed(rec); err != nil {
			return err
		}
		return putRecord(txn, id, rec)
	})
}

func (s *Store) GetACL(ctx context.Context, key store.Key) (acl []store.ACE, err error) {
	defer s.observe("GetACL", time.Now(), &err)

	id, err := idFromKey(key)
	if err != nil {
		return nil, err
	}
	err = s.view(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		acl = rec.ACL
		return nil
	})
	return acl, err
}

func (s *Store) SetACL(ctx context.Context, key store.Key, acl []store.ACE) (err error) {
	defer s.observe("SetACL", time.Now(), &err)

	id, err := idFromKey(key)
	if err != nil {
		return err
	}
	return s.update(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		rec.ACL = append([]store.ACE(nil), acl...)
		if err := s.changed(rec); err != nil {
			return err
		}
		return putRecord(txn, id, rec)
	})
}
