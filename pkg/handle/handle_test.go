package handle

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs-exports/pkg/store"
)

func TestEncodeLayout(t *testing.T) {
	h := Handle{Generation: 0x01020304, ExportIndex: -2, Kind: KindPseudo, Key: []byte{0xAA, 0xBB}}
	b, err := Encode(h)
	require.NoError(t, err)

	want := []byte{
		0x01,             // version
		0xCA, 0xFF, 0xEE, // magic
		0x01, 0x02, 0x03, 0x04, // generation
		0xFF, 0xFF, 0xFF, 0xFE, // export index
		0x01,       // kind
		0x02,       // key length
		0xAA, 0xBB, // key
	}
	assert.Equal(t, want, b)
}

func TestRoundTrip(t *testing.T) {
	keys := [][]byte{
		{},
		{0},
		[]byte("some-key"),
		bytes.Repeat([]byte{0x5A}, MaxKeyLen),
	}
	for _, key := range keys {
		for _, kind := range []Kind{KindReal, KindPseudo} {
			for _, gen := range []uint32{0, 1, math.MaxUint32} {
				for _, idx := range []int32{0, 1, -1289153581, math.MaxInt32, math.MinInt32} {
					h := Handle{Version: Version1, Generation: gen, ExportIndex: idx, Kind: kind, Key: key}
					b, err := Encode(h)
					require.NoError(t, err)
					assert.LessOrEqual(t, len(b), MaxLen)

					got, err := Decode(b)
					require.NoError(t, err)
					assert.True(t, h.Equal(got), "%s != %s", h, got)
				}
			}
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	valid := MustEncode(Handle{Generation: 7, ExportIndex: 42, Kind: KindReal, Key: []byte("0123456789")})

	corruptMagic := bytes.Clone(valid)
	corruptMagic[2] ^= 0xFF

	overrun := bytes.Clone(valid)
	overrun[13] = 200

	shortKey := bytes.Clone(valid)
	shortKey[13] = 11

	trailing := append(bytes.Clone(valid), 0x00)

	badKind := bytes.Clone(valid)
	badKind[12] = 9

	badVersion := bytes.Clone(valid)
	badVersion[0] = 2

	tests := map[string][]byte{
		"empty":         nil,
		"short":         valid[:HeaderLen-1],
		"magic":         corruptMagic,
		"overrun":       overrun,
		"declared long": shortKey,
		"trailing":      trailing,
		"kind":          badKind,
		"version":       badVersion,
		"too long":      make([]byte, MaxLen+1),
		"short legacy":  []byte("0:abc"),
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(b)
			require.Error(t, err)
			assert.True(t, errors.Is(err, store.ErrStaleHandle))
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	_, err := Encode(Handle{Key: make([]byte, MaxKeyLen+1)})
	assert.True(t, errors.Is(err, store.ErrInvalidArgument))

	_, err = Encode(Handle{Kind: 3})
	assert.True(t, errors.Is(err, store.ErrInvalidArgument))
}

func TestDecodeLegacy(t *testing.T) {
	legacyReal := []byte("0:00000000000000000000000000000001")
	h, err := Decode(legacyReal)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), h.Version)
	assert.Equal(t, KindReal, h.Kind)
	assert.Zero(t, h.Generation)
	assert.Zero(t, h.ExportIndex)
	assert.Equal(t, legacyReal, []byte(h.Key))

	pseudo := []byte("255:0000000000000000000000000000")
	h, err = Decode(pseudo)
	require.NoError(t, err)
	assert.Equal(t, KindPseudo, h.Kind)
	assert.Equal(t, pseudo, []byte(h.Key))

	// re-encoding upgrades to version 1 and decodes to the same object
	b, err := Encode(h)
	require.NoError(t, err)
	assert.Equal(t, byte(Version1), b[0])
	again, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, uint8(Version1), again.Version)
	assert.Equal(t, h.Kind, again.Kind)
	assert.Equal(t, h.Key, again.Key)

	_, err = Decode([]byte("7:0000000000000000000000"))
	assert.True(t, errors.Is(err, store.ErrStaleHandle), "unknown prefix")
}

func TestDecodeCopiesKey(t *testing.T) {
	b := MustEncode(Handle{Kind: KindReal, Key: []byte("abcdef")})
	h, err := Decode(b)
	require.NoError(t, err)
	b[HeaderLen] = 'z'
	assert.Equal(t, "abcdef", string(h.Key))
}

func TestCodecGeneration(t *testing.T) {
	c := NewCodec(5)
	h := c.NewReal(store.Key("k"), 12)
	assert.Equal(t, uint32(5), h.Generation)
	assert.NoError(t, c.Validate(h))

	b, err := c.Encode(h)
	require.NoError(t, err)

	restarted := NewCodec(6)
	_, err = restarted.Decode(b)
	assert.True(t, errors.Is(err, store.ErrStaleHandle))

	permanent := NewCodec(0).NewPseudo(store.Key("root"))
	assert.NoError(t, restarted.Validate(permanent))
	assert.True(t, permanent.IsPseudo())
	assert.Equal(t, int32(9), permanent.WithExport(9).ExportIndex)
}
