// Package badger provides a persistent store.Store backed by BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/marmos91/dittofs-exports/internal/logger"
	"github.com/marmos91/dittofs-exports/pkg/metrics"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// Config contains the options of a BadgerDB store.
type Config struct {
	// Path is the directory where BadgerDB keeps its files
	Path string `mapstructure:"path" validate:"required"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb" validate:"gte=0"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb" validate:"gte=0"`

	// RootMode is the permission bits of a freshly created root (default 0755)
	RootMode uint32 `mapstructure:"root_mode"`
	RootUID  uint32 `mapstructure:"root_uid"`
	RootGID  uint32 `mapstructure:"root_gid"`
}

// Store implements store.Store on top of BadgerDB.
//
// Objects are identified by random UUIDs, so keys are stable across restarts
// and always 16 bytes long.
//
// Thread Safety:
// Reads run in concurrent read-only transactions. Mutations are serialized by
// mu and each runs in a single read-write transaction, so a failed operation
// leaves no partial state behind.
type Store struct {
	mu      sync.Mutex
	db      *badgerdb.DB
	root    uuid.UUID
	change  *badgerdb.Sequence
	fileIDs *badgerdb.Sequence
	metrics metrics.StoreMetrics
	now     func() time.Time
}

// New opens (or creates) the database at cfg.Path. A nil metrics value
// disables metrics collection.
func New(ctx context.Context, cfg Config, m metrics.StoreMetrics) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.NewNoopStoreMetrics()
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}

	opts := badgerdb.DefaultOptions(cfg.Path).
		WithLoggingLevel(badgerdb.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20).
		WithIndexCacheSize(indexCacheMB << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	s := &Store{db: db, metrics: m, now: time.Now}

	if s.change, err = db.GetSequence([]byte(keySeqChange), sequenceLease); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open change sequence: %w", err)
	}
	if s.fileIDs, err = db.GetSequence([]byte(keySeqFileID), sequenceLease); err != nil {
		_ = s.change.Release()
		_ = db.Close()
		return nil, fmt.Errorf("failed to open file id sequence: %w", err)
	}

	if err := s.initRoot(cfg); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize root: %w", err)
	}

	logger.Info("Badger store opened: path=%s root=%s", cfg.Path, s.root)
	return s, nil
}

// Close releases the sequences and closes the database.
func (s *Store) Close() error {
	return errors.Join(s.change.Release(), s.fileIDs.Release(), s.db.Close())
}

// initRoot loads the root directory, creating it on first open.
func (s *Store) initRoot(cfg Config) error {
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyRoot))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			s.root, err = decodeID(val)
			return err
		})
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, badgerdb.ErrKeyNotFound) {
		return err
	}

	mode := cfg.RootMode
	if mode == 0 {
		mode = 0755
	}
	id := uuid.New()
	rec, err := s.newRecord(store.FileTypeDirectory, store.CreateAttr{Mode: mode, UID: cfg.RootUID, GID: cfg.RootGID})
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if err := putRecord(txn, id, rec); err != nil {
			return err
		}
		if err := txn.Set(keyParent(id), id[:]); err != nil {
			return err
		}
		return txn.Set([]byte(keyRoot), id[:])
	})
	if err != nil {
		return err
	}
	s.root = id
	return nil
}

// observe records the outcome of a store operation. It is deferred with the
// start time evaluated at the call site.
func (s *Store) observe(op string, start time.Time, err *error) {
	s.metrics.RecordOperation(op, time.Since(start), *err)
}

func (s *Store) nextChange() (uint64, error) {
	v, err := s.change.Next()
	if err != nil {
		return 0, fmt.Errorf("change sequence: %w", err)
	}
	return v + 1, nil
}

// newRecord builds the record of a fresh object.
func (s *Store) newRecord(typ store.FileType, attr store.CreateAttr) (*record, error) {
	fileID, err := s.fileIDs.Next()
	if err != nil {
		return nil, fmt.Errorf("file id sequence: %w", err)
	}
	change, err := s.nextChange()
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &record{Attr: store.Attr{
		Type:   typ,
		Mode:   attr.Mode & 07777,
		Nlink:  1,
		UID:    attr.UID,
		GID:    attr.GID,
		FileID: fileID + 1,
		Change: change,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	}}
	if typ == store.FileTypeDirectory {
		rec.Attr.Nlink = 2
		rec.Attr.Size = 4096
	}
	return rec, nil
}

// touch records a modification of an object's content.
func (s *Store) touch(rec *record) error {
	change, err := s.nextChange()
	if err != nil {
		return err
	}
	now := s.now()
	rec.Attr.Mtime = now
	rec.Attr.Ctime = now
	rec.Attr.Change = change
	return nil
}

// changed records a metadata-only modification.
func (s *Store) changed(rec *record) error {
	change, err := s.nextChange()
	if err != nil {
		return err
	}
	rec.Attr.Ctime = s.now()
	rec.Attr.Change = change
	return nil
}

// view runs fn in a read-only transaction.
func (s *Store) view(fn func(txn *badgerdb.Txn) error) error {
	return s.db.View(fn)
}

// update runs fn in a serialized read-write transaction.
func (s *Store) update(fn func(txn *badgerdb.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(fn)
}

func getRecord(txn *badgerdb.Txn, id uuid.UUID) (*record, error) {
	item, err := txn.Get(keyFile(id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, store.NewError(store.ErrStaleHandle, id.String(), "object no longer exists")
	}
	if err != nil {
		return nil, err
	}
	var rec *record
	err = item.Value(func(val []byte) error {
		rec, err = decodeRecord(val)
		return err
	})
	return rec, err
}

func putRecord(txn *badgerdb.Txn, id uuid.UUID, rec *record) error {
	b, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return txn.Set(keyFile(id), b)
}

// getDir loads a record that must describe a directory.
func getDir(txn *badgerdb.Txn, id uuid.UUID) (*record, error) {
	rec, err := getRecord(txn, id)
	if err != nil {
		return nil, err
	}
	if rec.Attr.Type != store.FileTypeDirectory {
		return nil, store.NewError(store.ErrNotDirectory, id.String(), "not a directory")
	}
	return rec, nil
}

// getID reads a UUID value (parent or child pointer).
func getID(txn *badgerdb.Txn, key []byte) (uuid.UUID, error) {
	item, err := txn.Get(key)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = item.Value(func(val []byte) error {
		id, err = decodeID(val)
		return err
	})
	return id, err
}

// lookupChild resolves name in parentID, mapping a missing entry to ErrNotFound.
func lookupChild(txn *badgerdb.Txn, parentID uuid.UUID, name string) (uuid.UUID, error) {
	id, err := getID(txn, keyChild(parentID, name))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return uuid.Nil, store.NewError(store.ErrNotFound, name, "no such entry")
	}
	return id, err
}

// hasChildren reports whether a directory has at least one entry.
func hasChildren(txn *badgerdb.Txn, dirID uuid.UUID) bool {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = keyChildPrefix(dirID)
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

var _ store.Store = (*Store)(nil)
