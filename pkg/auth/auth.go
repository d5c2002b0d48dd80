// Package auth contains the identity types shared by the export registry and
// the access controller: security flavors, caller identities, client network
// addresses and the per-request authentication context.
package auth

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// NobodyUID is the conventional anonymous user ("nobody")
	NobodyUID uint32 = 65534

	// NobodyGID is the conventional anonymous group ("nogroup")
	NobodyGID uint32 = 65534

	// RootUID is the superuser
	RootUID uint32 = 0

	// MaxPrivilegedPort is the highest port number a privileged (root-bound)
	// socket can use.
	MaxPrivilegedPort = 1023
)

// Flavor is the authentication/integrity/privacy level of a request's
// credential. Flavors are ordered: NONE < SYS < KRB5 < KRB5I < KRB5P.
type Flavor int

const (
	FlavorNone Flavor = iota
	FlavorSys
	FlavorKrb5
	FlavorKrb5i
	FlavorKrb5p
)

var flavorNames = [...]string{"NONE", "SYS", "KRB5", "KRB5I", "KRB5P"}

func (f Flavor) String() string {
	if f >= 0 && int(f) < len(flavorNames) {
		return flavorNames[f]
	}
	return "UNKNOWN(" + strconv.Itoa(int(f)) + ")"
}

// ParseFlavor parses a security flavor name (case-insensitive).
func ParseFlavor(s string) (Flavor, error) {
	for i, name := range flavorNames {
		if strings.EqualFold(s, name) {
			return Flavor(i), nil
		}
	}
	return FlavorNone, fmt.Errorf("unknown security flavor %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f Flavor) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Identity is a caller's unix identity.
type Identity struct {
	// UID is the user ID
	UID uint32

	// GID is the primary group ID
	GID uint32

	// GIDs is a list of supplementary group IDs
	GIDs []uint32
}

// IsRoot reports whether the identity is the superuser.
func (id Identity) IsRoot() bool {
	return id.UID == RootUID
}

// InGroup reports whether gid is the primary or a supplementary group.
func (id Identity) InGroup(gid uint32) bool {
	if id.GID == gid {
		return true
	}
	for _, g := range id.GIDs {
		if g == gid {
			return true
		}
	}
	return false
}

func (id Identity) String() string {
	return fmt.Sprintf("uid=%d gid=%d", id.UID, id.GID)
}

// ClientAddress is the network address a request came from.
type ClientAddress struct {
	IP   net.IP
	Port int
}

// ParseClientAddress parses "ip" or "ip:port" (IPv6 with port in brackets).
func ParseClientAddress(s string) (ClientAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		host, portStr = s, ""
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return ClientAddress{}, fmt.Errorf("invalid client address %q", s)
	}
	addr := ClientAddress{IP: ip}
	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			return ClientAddress{}, fmt.Errorf("invalid client port in %q", s)
		}
		addr.Port = port
	}
	return addr, nil
}

// FromNetAddr converts a net.Addr (typically a TCP or UDP remote address).
func FromNetAddr(a net.Addr) (ClientAddress, error) {
	switch v := a.(type) {
	case *net.TCPAddr:
		return ClientAddress{IP: v.IP, Port: v.Port}, nil
	case *net.UDPAddr:
		return ClientAddress{IP: v.IP, Port: v.Port}, nil
	default:
		return ParseClientAddress(a.String())
	}
}

// Bytes returns the raw address bytes, 4 for IPv4 (including IPv4-mapped
// IPv6) and 16 for IPv6.
func (a ClientAddress) Bytes() []byte {
	if v4 := a.IP.To4(); v4 != nil {
		return v4
	}
	return a.IP.To16()
}

// Privileged reports whether the source port is a privileged port.
func (a ClientAddress) Privileged() bool {
	return a.Port > 0 && a.Port <= MaxPrivilegedPort
}

func (a ClientAddress) String() string {
	if a.Port == 0 {
		return a.IP.String()
	}
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

// Context carries the authentication information of a single request.
//
// It is built by the protocol layer from the RPC credential and the
// connection's remote address and passed to every namespace and access
// control operation.
type Context struct {
	// Context carries cancellation signals and deadlines
	Context context.Context

	// Flavor is the credential's security flavor
	Flavor Flavor

	// Identity is the identity claimed by the caller, before squashing
	Identity Identity

	// Client is the network address of the caller
	Client ClientAddress
}

// Ctx returns the request's context.Context, never nil.
func (c *Context) Ctx() context.Context {
	if c.Context == nil {
		return context.Background()
	}
	return c.Context
}

// IsAnonymous reports whether the caller presents the anonymous identity,
// either through an AUTH_NONE credential or the nobody uid.
func (c *Context) IsAnonymous() bool {
	return c.Flavor == FlavorNone || c.Identity.UID == NobodyUID
}
