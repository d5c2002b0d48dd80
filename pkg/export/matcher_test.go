package export

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs-exports/pkg/auth"
)

// fakeResolver is a static DNS table.
type fakeResolver struct {
	reverse map[string][]string
	forward map[string][]string
	calls   int
}

func (r *fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	r.calls++
	if names, ok := r.reverse[addr]; ok {
		return names, nil
	}
	return nil, errors.New("no such host")
}

func (r *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	r.calls++
	if addrs, ok := r.forward[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func testResolver() *fakeResolver {
	return &fakeResolver{
		reverse: map[string][]string{
			"10.0.1.5":    {"build01.lab.example.org."},
			"192.168.1.7": {"ws7.office.example.org."},
		},
		forward: map[string][]string{
			"build01.lab.example.org": {"10.0.1.5"},
			"dual.example.org":        {"10.9.9.9", "2001:db8::9"},
		},
	}
}

func addr(t *testing.T, s string) auth.ClientAddress {
	t.Helper()
	a, err := auth.ParseClientAddress(s)
	require.NoError(t, err)
	return a
}

func TestParseClientPattern(t *testing.T) {
	tests := []struct {
		in   string
		kind PatternKind
		mask int
	}{
		{"*", PatternWildcard, 0},
		{"*.example.org", PatternWildcard, 0},
		{"host?.lab", PatternWildcard, 0},
		{"10.0.0.0/8", PatternSubnet, 8},
		{"10.0.1.5", PatternSubnet, 32},
		{"2001:db8::/32", PatternSubnet, 32},
		{"2001:db8::1", PatternSubnet, 128},
		{"build01.lab.example.org", PatternHost, 32},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParseClientPattern(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind)
			assert.Equal(t, tt.mask, p.Mask())
			assert.Equal(t, tt.in, p.String())
		})
	}
}

func TestParseClientPatternErrors(t *testing.T) {
	for _, in := range []string{"", "10.0.0.0/33", "10.0.0.0/x", "2001:db8::/129", "host/24", "bad_host!", "-leading.dash"} {
		_, err := ParseClientPattern(in)
		assert.Error(t, err, in)
	}
}

func TestMatchSubnet(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	p := MustParseClientPattern("192.168.1.0/24")
	assert.True(t, p.Match(NewClient(ctx, addr(t, "192.168.1.10"), r)))
	assert.True(t, p.Match(NewClient(ctx, addr(t, "::ffff:192.168.1.10"), r)))
	assert.False(t, p.Match(NewClient(ctx, addr(t, "192.168.2.10"), r)))
	assert.False(t, p.Match(NewClient(ctx, addr(t, "2001:db8::1"), r)), "family mismatch never matches")

	p = MustParseClientPattern("10.0.0.0/12")
	assert.True(t, p.Match(NewClient(ctx, addr(t, "10.15.255.255"), r)))
	assert.False(t, p.Match(NewClient(ctx, addr(t, "10.16.0.0"), r)))

	p = MustParseClientPattern("2001:db8::/32")
	assert.True(t, p.Match(NewClient(ctx, addr(t, "2001:db8:1::5"), r)))
	assert.False(t, p.Match(NewClient(ctx, addr(t, "10.0.0.1"), r)))

	assert.Zero(t, r.calls, "subnet matching must not touch DNS")
}

func TestMatchWildcard(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	p := MustParseClientPattern("*.lab.example.org")
	assert.True(t, p.Match(NewClient(ctx, addr(t, "10.0.1.5"), r)))
	assert.False(t, p.Match(NewClient(ctx, addr(t, "192.168.1.7"), r)))

	p = MustParseClientPattern("WS?.office.example.org")
	assert.True(t, p.Match(NewClient(ctx, addr(t, "192.168.1.7"), r)), "globs are case-insensitive")

	p = MustParseClientPattern("build01.lab.example.org.*")
	assert.False(t, p.Match(NewClient(ctx, addr(t, "10.0.1.5"), r)), "dots are literal")

	p = MustParseClientPattern("*")
	assert.True(t, p.Match(NewClient(ctx, addr(t, "203.0.113.1"), r)), "* matches clients without reverse DNS")

	p = MustParseClientPattern("203.0.113.*")
	assert.True(t, p.Match(NewClient(ctx, addr(t, "203.0.113.1"), r)), "unresolved clients match by address")
}

func TestMatchHost(t *testing.T) {
	r := testResolver()
	ctx := context.Background()

	p := MustParseClientPattern("build01.lab.example.org")
	assert.True(t, p.Match(NewClient(ctx, addr(t, "10.0.1.5"), r)))
	assert.False(t, p.Match(NewClient(ctx, addr(t, "10.0.1.6"), r)))

	p = MustParseClientPattern("dual.example.org")
	assert.True(t, p.Match(NewClient(ctx, addr(t, "2001:db8::9"), r)))

	p = MustParseClientPattern("unknown.example.org")
	assert.False(t, p.Match(NewClient(ctx, addr(t, "10.0.1.5"), r)), "lookup failure is a non-match")
}

func TestClientCachesLookups(t *testing.T) {
	r := testResolver()
	c := NewClient(context.Background(), addr(t, "10.0.1.5"), r)

	for range 3 {
		MustParseClientPattern("*.lab.example.org").Match(c)
		MustParseClientPattern("build01.lab.example.org").Match(c)
	}
	assert.Equal(t, 2, r.calls)
}

func TestMatchClient(t *testing.T) {
	ok, err := MatchClient("10.0.0.0/8", auth.ClientAddress{IP: net.ParseIP("10.1.2.3")})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = MatchClient("10.0.0.0/99", auth.ClientAddress{IP: net.ParseIP("10.1.2.3")})
	assert.Error(t, err)
}
