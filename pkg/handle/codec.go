package handle

import (
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// Codec issues and validates handles for one server incarnation.
type Codec struct {
	// Generation is stamped into every handle the codec issues. Zero issues
	// permanent handles that survive restarts.
	Generation uint32
}

// NewCodec returns a codec for generation gen.
func NewCodec(gen uint32) *Codec {
	return &Codec{Generation: gen}
}

// NewReal returns a handle for a backing object reached through the export
// with index idx.
func (c *Codec) NewReal(key store.Key, idx int32) Handle {
	return Handle{Version: Version1, Generation: c.Generation, ExportIndex: idx, Kind: KindReal, Key: key}
}

// NewPseudo returns a handle for a pseudo filesystem node.
func (c *Codec) NewPseudo(key store.Key) Handle {
	return Handle{Version: Version1, Generation: c.Generation, Kind: KindPseudo, Key: key}
}

// Validate rejects handles issued by another incarnation. Permanent
// handles (generation 0) and legacy handles are always accepted.
func (c *Codec) Validate(h Handle) error {
	if h.Generation != 0 && h.Generation != c.Generation {
		return store.NewError(store.ErrStaleHandle, "", "handle generation %d does not match server generation %d", h.Generation, c.Generation)
	}
	return nil
}

// Decode decodes b and validates its generation.
func (c *Codec) Decode(b []byte) (Handle, error) {
	h, err := Decode(b)
	if err != nil {
		return Handle{}, err
	}
	if err := c.Validate(h); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// Encode encodes h.
func (c *Codec) Encode(h Handle) ([]byte, error) {
	return Encode(h)
}
