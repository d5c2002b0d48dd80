package handle

import (
	"bytes"
)

// legacyFormat is a handle format issued before handles were versioned.
// A legacy handle is its own backing key and carries a textual prefix that
// tells pseudo nodes from real objects.
type legacyFormat struct {
	prefix []byte
	kind   Kind
}

var legacyFormats = []legacyFormat{
	{prefix: []byte("0:"), kind: KindReal},
	{prefix: []byte("255:"), kind: KindPseudo},
}

// decodeLegacy recognizes a legacy handle. Version 1 handles start with
// byte 0x01 and never collide with the ASCII prefixes.
func decodeLegacy(b []byte) (Handle, bool) {
	if len(b) > MaxKeyLen {
		return Handle{}, false
	}
	for _, f := range legacyFormats {
		if bytes.HasPrefix(b, f.prefix) {
			return Handle{
				Kind: f.kind,
				Key:  bytes.Clone(b),
			}, true
		}
	}
	return Handle{}, false
}
