package auth

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlavor(t *testing.T) {
	tests := []struct {
		in   string
		want Flavor
	}{
		{"none", FlavorNone},
		{"SYS", FlavorSys},
		{"krb5", FlavorKrb5},
		{"Krb5i", FlavorKrb5i},
		{"KRB5P", FlavorKrb5p},
	}
	for _, tt := range tests {
		got, err := ParseFlavor(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseFlavor("krb6")
	assert.Error(t, err)
}

func TestFlavorOrdering(t *testing.T) {
	assert.True(t, FlavorNone < FlavorSys)
	assert.True(t, FlavorSys < FlavorKrb5)
	assert.True(t, FlavorKrb5 < FlavorKrb5i)
	assert.True(t, FlavorKrb5i < FlavorKrb5p)
}

func TestParseClientAddress(t *testing.T) {
	addr, err := ParseClientAddress("192.168.1.10:812")
	require.NoError(t, err)
	assert.Equal(t, 812, addr.Port)
	assert.True(t, addr.Privileged())
	assert.Len(t, addr.Bytes(), 4)

	addr, err = ParseClientAddress("[2001:db8::1]:2049")
	require.NoError(t, err)
	assert.Equal(t, 2049, addr.Port)
	assert.False(t, addr.Privileged())
	assert.Len(t, addr.Bytes(), 16)

	addr, err = ParseClientAddress("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 0, addr.Port)
	assert.False(t, addr.Privileged())

	_, err = ParseClientAddress("not-an-ip")
	assert.Error(t, err)
}

func TestMappedAddressBytes(t *testing.T) {
	addr := ClientAddress{IP: net.ParseIP("::ffff:10.1.2.3")}
	assert.Equal(t, []byte{10, 1, 2, 3}, addr.Bytes())
}

func TestIdentityInGroup(t *testing.T) {
	id := Identity{UID: 1000, GID: 100, GIDs: []uint32{10, 20}}
	assert.True(t, id.InGroup(100))
	assert.True(t, id.InGroup(20))
	assert.False(t, id.InGroup(30))
	assert.False(t, id.IsRoot())
}

func TestContextAnonymous(t *testing.T) {
	assert.True(t, (&Context{Flavor: FlavorNone, Identity: Identity{UID: 1000}}).IsAnonymous())
	assert.True(t, (&Context{Flavor: FlavorSys, Identity: Identity{UID: NobodyUID}}).IsAnonymous())
	assert.False(t, (&Context{Flavor: FlavorSys, Identity: Identity{UID: 0}}).IsAnonymous())
	assert.NotNil(t, (&Context{}).Ctx())
}
