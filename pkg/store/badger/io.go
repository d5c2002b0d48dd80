package badger

import (
	"context"
	"errors"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// readData returns a copy of the content of id; a missing value is empty.
func readData(txn *badgerdb.Txn, id uuid.UUID) ([]byte, error) {
	item, err := txn.Get(keyData(id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *Store) Read(ctx context.Context, key store.Key, off int64, p []byte) (n int, eof bool, err error) {
	defer s.observe("Read", time.Now(), &err)

	id, err := idFromKey(key)
	if err != nil {
		return 0, false, err
	}
	if off < 0 {
		return 0, false, store.NewError(store.ErrInvalidArgument, id.String(), "negative offset")
	}

	err = s.view(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Attr.Type == store.FileTypeDirectory {
			return store.NewError(store.ErrIsDirectory, id.String(), "cannot read a directory")
		}
		data, err := readData(txn, id)
		if err != nil {
			return err
		}
		if off >= int64(len(data)) {
			eof = true
			return nil
		}
		n = copy(p, data[off:])
		eof = off+int64(n) >= int64(len(data))
		return nil
	})
	return n, eof, err
}

func (s *Store) Write(ctx context.Context, key store.Key, off int64, data []byte) (n int, err error) {
	defer s.observe("Write", time.Now(), &err)

	id, err := idFromKey(key)
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, store.NewError(store.ErrInvalidArgument, id.String(), "negative offset")
	}

	err = s.update(func(txn *badgerdb.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if rec.Attr.Type != store.FileTypeRegular {
			return store.NewError(store.ErrIsDirectory, id.String(), "can only write regular files")
		}
		content, err := readData(txn, id)
		if err != nil {
			return err
		}
		end := off + int64(len(data))
		if end > int64(len(content)) {
			content = append(content, make([]byte, end-int64(len(content)))...)
		}
		copy(content[off:], data)
		if err := txn.Set(keyData(id), content); err != nil {
			return err
		}
		rec.Attr.Size = uint64(len(content))
		if err := s.touch(rec); err != nil {
			return err
		}
		return putRecord(txn, id, rec)
	})
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Commit syncs the database to disk.
func (s *Store) Commit(ctx context.Context, key store.Key, off int64, count uint32) (err error) {
	defer s.observe("Commit", time.Now(), &err)

	id, err := idFromKey(key)
	if err != nil {
		return err
	}
	if err := s.view(func(txn *badgerdb.Txn) error {
		_, err := getRecord(txn, id)
		return err
	}); err != nil {
		return err
	}
	return s.db.Sync()
}
