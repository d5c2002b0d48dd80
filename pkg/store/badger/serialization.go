package badger

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// Records are CBOR encoded with core deterministic encoding. Timestamps are
// kept as RFC 3339 strings with nanosecond precision so attributes survive a
// round trip unchanged.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("badger: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("badger: CBOR decoder initialization failed: " + err.Error())
	}
}

// record is the persisted form of one object.
type record struct {
	Attr   store.Attr  `cbor:"1,keyasint"`
	Target string      `cbor:"2,keyasint,omitempty"`
	ACL    []store.ACE `cbor:"3,keyasint,omitempty"`
}

func encodeRecord(r *record) ([]byte, error) {
	b, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return b, nil
}

func decodeRecord(b []byte) (*record, error) {
	var r record
	if err := decMode.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &r, nil
}

func decodeID(b []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to decode object id: %w", err)
	}
	return id, nil
}
