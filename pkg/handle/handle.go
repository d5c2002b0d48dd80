// Package handle implements the object handle wire format.
//
// A version 1 handle is laid out big-endian as
//
//	+---------+-----------+------------+-------------+------+-----+-----------+
//	| version | magic     | generation | exportIndex | kind | len | key       |
//	| 1 byte  | 3 bytes   | 4 bytes    | 4 bytes     | 1    | 1   | len bytes |
//	+---------+-----------+------------+-------------+------+-----+-----------+
//
// with version = 1 and magic = 0xCAFFEE. Two legacy formats without
// version, magic, generation or export index are still accepted by Decode;
// Encode always produces version 1.
package handle

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/marmos91/dittofs-exports/pkg/store"
)

const (
	// Version1 is the current wire version
	Version1 = 1

	// Magic identifies version 1 handles
	Magic = 0xCAFFEE

	// HeaderLen is the fixed part of a version 1 handle
	HeaderLen = 14

	// MinLen is the shortest buffer Decode accepts, in any format
	MinLen = HeaderLen

	// MaxKeyLen is the largest backing key a handle can carry
	MaxKeyLen = store.MaxKeyLen

	// MaxLen is the largest encoded handle
	MaxLen = HeaderLen + MaxKeyLen
)

// Kind tells whether a handle names a real backing object or a pseudo node.
type Kind uint8

const (
	KindReal   Kind = 0
	KindPseudo Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindPseudo:
		return "pseudo"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Handle is a decoded object handle.
type Handle struct {
	// Version is the wire version the handle was decoded from; 0 for
	// legacy handles
	Version uint8

	// Generation pins the handle to a server incarnation; 0 is permanent
	Generation uint32

	// ExportIndex is the index of the export the object was reached through
	ExportIndex int32

	Kind Kind

	// Key is the opaque backing store key
	Key store.Key
}

// IsPseudo reports whether the handle names a pseudo filesystem node.
func (h Handle) IsPseudo() bool {
	return h.Kind == KindPseudo
}

// WithExport returns a copy of h tagged with export index idx.
func (h Handle) WithExport(idx int32) Handle {
	h.ExportIndex = idx
	return h
}

// Equal compares two handles field by field.
func (h Handle) Equal(o Handle) bool {
	return h.Version == o.Version &&
		h.Generation == o.Generation &&
		h.ExportIndex == o.ExportIndex &&
		h.Kind == o.Kind &&
		bytes.Equal(h.Key, o.Key)
}

func (h Handle) String() string {
	return fmt.Sprintf("[v%d gen=%d export=%d %s %s]", h.Version, h.Generation, h.ExportIndex, h.Kind, hex.EncodeToString(h.Key))
}

// Encode serializes h in version 1 format regardless of h.Version.
func Encode(h Handle) ([]byte, error) {
	if len(h.Key) > MaxKeyLen {
		return nil, store.NewError(store.ErrInvalidArgument, "", "handle key of %d bytes exceeds %d", len(h.Key), MaxKeyLen)
	}
	if h.Kind != KindReal && h.Kind != KindPseudo {
		return nil, store.NewError(store.ErrInvalidArgument, "", "invalid handle kind %d", h.Kind)
	}

	buf := make([]byte, HeaderLen+len(h.Key))
	buf[0] = Version1
	buf[1] = byte(Magic >> 16 & 0xff)
	buf[2] = byte(Magic >> 8 & 0xff)
	buf[3] = byte(Magic & 0xff)
	binary.BigEndian.PutUint32(buf[4:8], h.Generation)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.ExportIndex))
	buf[12] = byte(h.Kind)
	buf[13] = byte(len(h.Key))
	copy(buf[HeaderLen:], h.Key)
	return buf, nil
}

// MustEncode is like Encode but panics on error.
func MustEncode(h Handle) []byte {
	b, err := Encode(h)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses a handle in version 1 or legacy format.
//
// Every failure is reported as an error matching store.ErrStaleHandle.
func Decode(b []byte) (Handle, error) {
	if len(b) < MinLen {
		return Handle{}, invalid("handle of %d bytes is shorter than %d", len(b), MinLen)
	}
	if len(b) > MaxLen {
		return Handle{}, invalid("handle of %d bytes is longer than %d", len(b), MaxLen)
	}

	if h, ok := decodeLegacy(b); ok {
		return h, nil
	}

	if b[0] != Version1 {
		return Handle{}, invalid("unsupported handle version %d", b[0])
	}
	if magic := uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]); magic != Magic {
		return Handle{}, invalid("bad handle magic %06x", magic)
	}
	kind := Kind(b[12])
	if kind != KindReal && kind != KindPseudo {
		return Handle{}, invalid("invalid handle kind %d", b[12])
	}
	n := int(b[13])
	if n > MaxKeyLen || HeaderLen+n > len(b) {
		return Handle{}, invalid("handle key length %d overruns %d byte buffer", n, len(b))
	}
	if HeaderLen+n != len(b) {
		return Handle{}, invalid("%d trailing bytes after handle key", len(b)-HeaderLen-n)
	}

	return Handle{
		Version:     Version1,
		Generation:  binary.BigEndian.Uint32(b[4:8]),
		ExportIndex: int32(binary.BigEndian.Uint32(b[8:12])),
		Kind:        kind,
		Key:         bytes.Clone(b[HeaderLen:]),
	}, nil
}

func invalid(format string, args ...any) error {
	return store.NewError(store.ErrStaleHandle, "", format, args...)
}
