// Package store defines the backing store interface consumed by the export
// and namespace layers.
//
// A Store owns the real filesystem objects. The layers above it never
// interpret backing keys beyond treating them as opaque values of at most
// MaxKeyLen bytes; every key handed out by a Store must fit into an object
// handle unchanged.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// MaxKeyLen is the maximum length of a backing key in bytes.
	// Object handles are limited to 128 bytes; 14 bytes are used by the
	// handle header, which leaves 114 bytes for the key.
	MaxKeyLen = 114

	// MaxNameLen is the maximum length of a single path component in bytes.
	MaxNameLen = 256

	// FirstCookie is the first cookie handed out for a directory entry.
	// Cookies 0-2 are reserved (0 = start of directory, 1 and 2 for "." and "..").
	FirstCookie uint64 = 3
)

// Key is an opaque backing store identifier.
type Key []byte

// String returns a printable form of the key for logging.
func (k Key) String() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, len(k)*2)
	for i, b := range k {
		buf[i*2] = hex[b>>4]
		buf[i*2+1] = hex[b&0x0f]
	}
	return string(buf)
}

// FileType represents the type of a filesystem object.
type FileType int

const (
	// FileTypeRegular is a regular file containing data
	FileTypeRegular FileType = iota

	// FileTypeDirectory is a directory (container for other files)
	FileTypeDirectory

	// FileTypeSymlink is a symbolic link (contains a path to another file)
	FileTypeSymlink
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "file"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Attr contains the metadata of a filesystem object.
//
// Time Semantics:
//   - Atime (access time): Updated when file is read
//   - Mtime (modification time): Updated when file content changes
//   - Ctime (change time): Updated when metadata changes
//
// Change is a counter that increases on every modification of the object.
// For directories it also serves as the listing verifier (see VerifierOf).
type Attr struct {
	Type   FileType `cbor:"1,keyasint"`
	Mode   uint32   `cbor:"2,keyasint"`
	Nlink  uint32   `cbor:"3,keyasint"`
	UID    uint32   `cbor:"4,keyasint"`
	GID    uint32   `cbor:"5,keyasint"`
	Size   uint64   `cbor:"6,keyasint"`
	FileID uint64   `cbor:"7,keyasint"`
	Change uint64   `cbor:"8,keyasint"`

	Atime time.Time `cbor:"9,keyasint"`
	Mtime time.Time `cbor:"10,keyasint"`
	Ctime time.Time `cbor:"11,keyasint"`
}

// IsDir reports whether the attributes describe a directory.
func (a *Attr) IsDir() bool {
	return a.Type == FileTypeDirectory
}

// SetAttrs specifies which attributes to update in a SetAttr call.
//
// Each field is a pointer. A nil pointer means "do not change this attribute".
type SetAttrs struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
}

// CreateAttr carries the initial ownership and permission bits of a new object.
type CreateAttr struct {
	Mode uint32
	UID  uint32
	GID  uint32
}

// Verifier identifies a directory listing snapshot.
//
// A verifier changes whenever the directory content changes, which lets
// callers detect that cookies from an earlier listing are no longer valid.
type Verifier uint64

// VerifierOf returns the listing verifier of a directory.
func VerifierOf(attr *Attr) Verifier {
	return Verifier(attr.Change)
}

// DirEntry is a single entry in a directory listing.
type DirEntry struct {
	// Name is the entry name (not a path)
	Name string

	// Key is the backing key of the entry
	Key Key

	// Cookie is the resume position after this entry
	Cookie uint64

	// Attr contains the entry attributes, if the store provides them
	Attr *Attr
}

// DirList is one page of a directory listing.
type DirList struct {
	Entries  []DirEntry
	Verifier Verifier
	EOF      bool
}

// ACEType is the type of an access control entry.
type ACEType uint32

const (
	ACEAllow ACEType = iota
	ACEDeny
)

// Special ACE principals.
const (
	WhoOwner    = "OWNER@"
	WhoGroup    = "GROUP@"
	WhoEveryone = "EVERYONE@"
)

// ACE is a single NFSv4-style access control entry.
//
// Who is either one of the special principals (OWNER@, GROUP@, EVERYONE@),
// "uid:<n>" or "gid:<n>". Mask uses the access mask bit values of RFC 7530.
type ACE struct {
	Type ACEType `cbor:"1,keyasint" yaml:"type"`
	Mask uint32  `cbor:"2,keyasint" yaml:"mask"`
	Who  string  `cbor:"3,keyasint" yaml:"who"`
}

// Store is the backing store interface.
//
// Every operation is synchronous and may block on I/O. The context is used
// for cancellation only; the layers above never impose their own timeouts.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	// GetRoot returns the key of the store's root directory.
	GetRoot(ctx context.Context) (Key, error)

	// Lookup resolves name inside directory parent.
	// "." and ".." are not accepted; use Parent for upward traversal.
	Lookup(ctx context.Context, parent Key, name string) (Key, error)

	// GetAttr returns the attributes of the object identified by key.
	GetAttr(ctx context.Context, key Key) (*Attr, error)

	// Parent returns the key of the directory containing key.
	// The parent of the root is the root itself.
	Parent(ctx context.Context, key Key) (Key, error)

	// ReadDir returns up to count entries of directory dir following cookie.
	//
	// A zero cookie starts at the beginning. A non-zero cookie must be
	// presented with the verifier of the listing it came from; a mismatch
	// returns ErrBadCookie. count <= 0 means no limit.
	ReadDir(ctx context.Context, dir Key, cookie uint64, verifier Verifier, count int) (*DirList, error)

	// Create creates a regular file.
	Create(ctx context.Context, parent Key, name string, attr CreateAttr) (Key, error)

	// Mkdir creates a directory.
	Mkdir(ctx context.Context, parent Key, name string, attr CreateAttr) (Key, error)

	// Symlink creates a symbolic link pointing to target.
	Symlink(ctx context.Context, parent Key, name string, target string, attr CreateAttr) (Key, error)

	// Readlink returns the target of a symbolic link.
	Readlink(ctx context.Context, key Key) (string, error)

	// Link creates a new name for an existing non-directory object.
	Link(ctx context.Context, dir Key, name string, target Key) error

	// Remove removes name from parent. Directories must be empty.
	Remove(ctx context.Context, parent Key, name string) error

	// Rename moves fromName in fromDir to toName in toDir, replacing any
	// compatible existing target. It reports whether the store changed.
	Rename(ctx context.Context, fromDir Key, fromName string, toDir Key, toName string) (bool, error)

	// SetAttr updates selected attributes.
	SetAttr(ctx context.Context, key Key, attrs *SetAttrs) error

	// Read reads into p at offset off and reports whether EOF was reached.
	Read(ctx context.Context, key Key, off int64, p []byte) (int, bool, error)

	// Write writes data at offset off.
	Write(ctx context.Context, key Key, off int64, data []byte) (int, error)

	// Commit flushes previously written data to stable storage.
	Commit(ctx context.Context, key Key, off int64, count uint32) error

	// GetACL returns the access control list of an object.
	GetACL(ctx context.Context, key Key) ([]ACE, error)

	// SetACL replaces the access control list of an object.
	SetACL(ctx context.Context, key Key, acl []ACE) error
}

// ValidateName checks a single path component.
//
// A valid name is non-empty, contains no '/' or NUL byte, and is at most
// MaxNameLen bytes long.
func ValidateName(name string) error {
	if name == "" {
		return NewError(ErrInvalidName, name, "empty name")
	}
	if len(name) > MaxNameLen {
		return NewError(ErrNameTooLong, name, "name exceeds %d bytes", MaxNameLen)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return NewError(ErrInvalidName, name, "name contains invalid character")
		}
	}
	return nil
}

// ValidateNewName checks a name used to create a new directory entry.
// In addition to ValidateName it rejects "." and "..".
func ValidateNewName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if name == "." || name == ".." {
		return NewError(ErrInvalidName, name, "reserved name")
	}
	return nil
}

// MkdirAll creates every missing directory along the slash separated path p
// in s and returns the key of the last one. Existing entries are reused; an
// existing entry that is not a directory fails with ErrNotDirectory.
func MkdirAll(ctx context.Context, s Store, p string, attr CreateAttr) (Key, error) {
	key, err := s.GetRoot(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range strings.Split(p, "/") {
		if name == "" || name == "." {
			continue
		}
		child, err := s.Lookup(ctx, key, name)
		switch {
		case err == nil:
			a, err := s.GetAttr(ctx, child)
			if err != nil {
				return nil, err
			}
			if !a.IsDir() {
				return nil, NewError(ErrNotDirectory, p, "%q is not a directory", name)
			}
		case errors.Is(err, ErrNotFound):
			child, err = s.Mkdir(ctx, key, name, attr)
			if err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
		key = child
	}
	return key, nil
}
