package export

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/marmos91/dittofs-exports/pkg/auth"
)

// PatternKind is the variant tag of a ClientPattern.
type PatternKind int

const (
	// PatternWildcard is a hostname glob containing '*' or '?'
	PatternWildcard PatternKind = iota

	// PatternSubnet is an IP literal with an optional /mask
	PatternSubnet

	// PatternHost is a literal hostname
	PatternHost
)

func (k PatternKind) String() string {
	switch k {
	case PatternWildcard:
		return "wildcard"
	case PatternSubnet:
		return "subnet"
	case PatternHost:
		return "host"
	default:
		return "unknown"
	}
}

// Resolver performs the DNS lookups needed by hostname and wildcard patterns.
// *net.Resolver satisfies it.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ClientPattern is a parsed client specifier of an export clause.
//
// Exactly one group of fields is meaningful, selected by Kind.
type ClientPattern struct {
	// Raw is the pattern as written in the export file
	Raw string

	Kind PatternKind

	// Wildcard
	re         *regexp.Regexp
	matchesAll bool

	// Subnet
	network []byte
	mask    int

	// Host
	host string
}

var hostnameRE = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*\.?$`)

// ParseClientPattern parses a client specifier.
//
// Forms are tried in a fixed order: a pattern containing '*' or '?' is a
// hostname glob; a pattern that parses as an IP literal (optionally with a
// /mask, defaulting to the full address width) is a subnet; anything else
// must be a syntactically valid hostname.
func ParseClientPattern(s string) (ClientPattern, error) {
	if s == "" {
		return ClientPattern{}, fmt.Errorf("empty client pattern")
	}

	if strings.ContainsAny(s, "*?") {
		re, err := compileGlob(s)
		if err != nil {
			return ClientPattern{}, fmt.Errorf("invalid wildcard %q: %w", s, err)
		}
		return ClientPattern{
			Raw:        s,
			Kind:       PatternWildcard,
			re:         re,
			matchesAll: strings.Trim(s, "*") == "",
		}, nil
	}

	addr, maskStr, hasMask := strings.Cut(s, "/")
	if ip := net.ParseIP(addr); ip != nil {
		raw := ip.To4()
		if raw == nil {
			raw = ip.To16()
		}
		bits := len(raw) * 8
		mask := bits
		if hasMask {
			m, err := strconv.Atoi(maskStr)
			if err != nil || m < 0 || m > bits {
				return ClientPattern{}, fmt.Errorf("invalid netmask %q in %q", maskStr, s)
			}
			mask = m
		}
		return ClientPattern{Raw: s, Kind: PatternSubnet, network: applyMask(raw, mask), mask: mask}, nil
	}
	if hasMask {
		return ClientPattern{}, fmt.Errorf("invalid subnet %q", s)
	}

	if !hostnameRE.MatchString(s) {
		return ClientPattern{}, fmt.Errorf("invalid hostname %q", s)
	}
	return ClientPattern{Raw: s, Kind: PatternHost, host: strings.TrimSuffix(strings.ToLower(s), ".")}, nil
}

// MustParseClientPattern is like ParseClientPattern but panics on error.
func MustParseClientPattern(s string) ClientPattern {
	p, err := ParseClientPattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// compileGlob turns a hostname glob into an anchored, case-insensitive regexp.
func compileGlob(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func applyMask(addr []byte, mask int) []byte {
	out := make([]byte, len(addr))
	for i := range addr {
		switch {
		case mask >= 8:
			out[i] = addr[i]
			mask -= 8
		case mask > 0:
			out[i] = addr[i] & byte(0xff<<(8-mask))
			mask = 0
		}
	}
	return out
}

// IsWildcard reports whether the pattern is a hostname glob.
func (p ClientPattern) IsWildcard() bool {
	return p.Kind == PatternWildcard
}

// Mask returns the specificity of a literal pattern in bits. Subnets return
// their netmask; hostnames name a single host and rank as an IPv4 host route.
func (p ClientPattern) Mask() int {
	switch p.Kind {
	case PatternSubnet:
		return p.mask
	case PatternHost:
		return 32
	default:
		return 0
	}
}

// addressLen returns the address family length in bytes, 0 for non-IP patterns.
func (p ClientPattern) addressLen() int {
	if p.Kind == PatternSubnet {
		return len(p.network)
	}
	return 0
}

// firstStar returns the position of the first '*', or len(Raw) if none.
func (p ClientPattern) firstStar() int {
	if i := strings.IndexByte(p.Raw, '*'); i >= 0 {
		return i
	}
	return len(p.Raw)
}

func (p ClientPattern) String() string {
	return p.Raw
}

// Match reports whether client matches the pattern.
//
// Subnet tests run on raw address bytes; a family mismatch never matches.
// Lookup failures are treated as non-matches, except that a client without
// a reverse mapping is matched by its textual address.
func (p ClientPattern) Match(client *Client) bool {
	switch p.Kind {
	case PatternSubnet:
		raw := client.Addr.Bytes()
		if len(raw) != len(p.network) {
			return false
		}
		masked := applyMask(raw, p.mask)
		for i := range masked {
			if masked[i] != p.network[i] {
				return false
			}
		}
		return true

	case PatternWildcard:
		if p.matchesAll {
			return true
		}
		for _, name := range client.hostnames() {
			if p.re.MatchString(name) {
				return true
			}
		}
		return false

	case PatternHost:
		raw := client.Addr.Bytes()
		for _, a := range client.resolve(p.host) {
			if ip := net.ParseIP(a); ip != nil && net.IP(raw).Equal(ip) {
				return true
			}
		}
		return false
	}
	return false
}

// Client is a client address prepared for matching against many patterns.
//
// Reverse and forward lookups are performed lazily and at most once per
// Client, so a single resolution pass over a rule table costs at most one
// reverse lookup.
type Client struct {
	Addr     auth.ClientAddress
	ctx      context.Context
	resolver Resolver

	names    []string
	resolved bool
	forward  map[string][]string
}

// NewClient prepares addr for matching. A nil resolver uses net.DefaultResolver.
func NewClient(ctx context.Context, addr auth.ClientAddress, resolver Resolver) *Client {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Client{Addr: addr, ctx: ctx, resolver: resolver}
}

func (c *Client) hostnames() []string {
	if !c.resolved {
		c.resolved = true
		names, err := c.resolver.LookupAddr(c.ctx, c.Addr.IP.String())
		if err == nil {
			for _, n := range names {
				c.names = append(c.names, strings.TrimSuffix(n, "."))
			}
		}
		// Without a reverse mapping the textual address stands in for the name.
		if len(c.names) == 0 {
			c.names = []string{c.Addr.IP.String()}
		}
	}
	return c.names
}

func (c *Client) resolve(host string) []string {
	if addrs, ok := c.forward[host]; ok {
		return addrs
	}
	addrs, err := c.resolver.LookupHost(c.ctx, host)
	if err != nil {
		addrs = nil
	}
	if c.forward == nil {
		c.forward = make(map[string][]string)
	}
	c.forward[host] = addrs
	return addrs
}

// MatchClient parses pattern and matches it against addr in one step.
func MatchClient(pattern string, addr auth.ClientAddress) (bool, error) {
	p, err := ParseClientPattern(pattern)
	if err != nil {
		return false, err
	}
	return p.Match(NewClient(context.Background(), addr, nil)), nil
}
