package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dittofs-exports/pkg/auth"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

func TestUnixMask(t *testing.T) {
	attr := &store.Attr{Mode: 0o754, UID: 10, GID: 20}

	tests := []struct {
		name string
		id   auth.Identity
		want Mask
	}{
		{"owner", auth.Identity{UID: 10, GID: 99}, alwaysGranted | ReadData | ReadNamedAttrs | WriteData | AppendData | WriteNamedAttrs | DeleteChild | Execute | WriteAttributes | WriteACL},
		{"group", auth.Identity{UID: 11, GID: 20}, alwaysGranted | ReadData | ReadNamedAttrs | Execute},
		{"supplementary group", auth.Identity{UID: 11, GID: 1, GIDs: []uint32{20}}, alwaysGranted | ReadData | ReadNamedAttrs | Execute},
		{"other", auth.Identity{UID: 11, GID: 1}, alwaysGranted | ReadData | ReadNamedAttrs},
		{"root", auth.Identity{UID: 0, GID: 0}, All},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnixMask(tt.id, attr))
		})
	}

	assert.True(t, UnixMask(auth.Identity{}, attr).Has(WriteOwner))
	assert.False(t, UnixMask(auth.Identity{UID: 10}, attr).Has(WriteOwner))
}

func TestMask(t *testing.T) {
	assert.True(t, WriteData.Mutates())
	assert.True(t, Delete.Mutates())
	assert.False(t, (ReadData | Execute | ReadAttributes | ReadACL).Mutates())
	assert.Equal(t, []Mask{ReadData, Execute, Delete}, (ReadData | Execute | Delete).Bits())
	assert.Equal(t, "READ_DATA|EXECUTE", (ReadData | Execute).String())
	assert.Equal(t, "NONE", Mask(0).String())
	assert.Equal(t, "SYNCHRONIZE|0x200000", (Synchronize | 0x200000).String())
}
