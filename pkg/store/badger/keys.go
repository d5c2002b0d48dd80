package badger

import (
	"github.com/google/uuid"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// Key Namespace
// =============
//
// Every object is identified by a random UUID; the 16 raw UUID bytes are the
// store.Key handed to callers. Records are laid out under these prefixes:
//
//	f:<uuid>               -> object record (attributes, symlink target, ACL)
//	d:<uuid>               -> file content
//	p:<uuid>               -> parent UUID (16 bytes)
//	c:<parentUUID>:<name>  -> child UUID (16 bytes)
//	cfg:root               -> root directory UUID
//
// Children of a directory are listed with a prefix scan over
// "c:<parentUUID>:", which returns them in byte order of their names.
//
// The change counter and file ids come from badger sequences stored under
// seq:change and seq:fileid.

const (
	prefixFile    = "f:"
	prefixData    = "d:"
	prefixParent  = "p:"
	prefixChild   = "c:"
	keyRoot       = "cfg:root"
	keySeqChange  = "seq:change"
	keySeqFileID  = "seq:fileid"
	sequenceLease = 1000
)

func keyFile(id uuid.UUID) []byte {
	return []byte(prefixFile + id.String())
}

func keyData(id uuid.UUID) []byte {
	return []byte(prefixData + id.String())
}

func keyParent(id uuid.UUID) []byte {
	return []byte(prefixParent + id.String())
}

func keyChild(parentID uuid.UUID, name string) []byte {
	return []byte(prefixChild + parentID.String() + ":" + name)
}

func keyChildPrefix(parentID uuid.UUID) []byte {
	return []byte(prefixChild + parentID.String() + ":")
}

// idFromKey converts a store key back into an object UUID.
func idFromKey(key store.Key) (uuid.UUID, error) {
	id, err := uuid.FromBytes(key)
	if err != nil {
		return uuid.Nil, store.NewError(store.ErrStaleHandle, "", "malformed key of %d bytes", len(key))
	}
	return id, nil
}

func keyOf(id uuid.UUID) store.Key {
	return store.Key(id[:])
}
