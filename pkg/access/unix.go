package access

import (
	"github.com/marmos91/dittofs-exports/pkg/auth"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// Bits every caller is granted regardless of mode.
const alwaysGranted = ReadAttributes | ReadACL | Synchronize

// UnixMask computes the access mask the mode bits of attr grant to id.
//
// The owner triad applies when the uid matches, the group triad when the
// primary or a supplementary gid matches, the other triad otherwise. The
// owner may additionally change attributes and the ACL. Root is granted
// every bit, including WriteOwner.
func UnixMask(id auth.Identity, attr *store.Attr) Mask {
	if id.IsRoot() {
		return All
	}

	var triad uint32
	owner := id.UID == attr.UID
	switch {
	case owner:
		triad = (attr.Mode >> 6) & 7
	case id.InGroup(attr.GID):
		triad = (attr.Mode >> 3) & 7
	default:
		triad = attr.Mode & 7
	}

	mask := alwaysGranted
	if triad&4 != 0 {
		mask |= ReadData | ReadNamedAttrs
	}
	if triad&2 != 0 {
		mask |= WriteData | AppendData | WriteNamedAttrs | DeleteChild
	}
	if triad&1 != 0 {
		mask |= Execute
	}
	if owner {
		mask |= WriteAttributes | WriteACL
	}
	return mask
}
