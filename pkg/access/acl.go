package access

import (
	"context"
	"strconv"
	"strings"

	"github.com/marmos91/dittofs-exports/pkg/auth"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// Verdict is the outcome of an ACL evaluation.
type Verdict int

const (
	// Undefined means the ACL does not decide; unix permissions apply
	Undefined Verdict = iota
	Allow
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "undefined"
	}
}

// ACLChecker decides access from an object's access control list.
type ACLChecker interface {
	CheckACL(ctx context.Context, id auth.Identity, key store.Key, mask Mask) (Verdict, error)
}

// ACLSource is the part of a store the StoreACLChecker reads.
type ACLSource interface {
	GetAttr(ctx context.Context, key store.Key) (*store.Attr, error)
	GetACL(ctx context.Context, key store.Key) ([]store.ACE, error)
}

// StoreACLChecker evaluates the ACL the backing store keeps for an object.
//
// Entries are evaluated in order. For every requested bit the first entry
// that names the caller and covers the bit decides it. The result is Deny
// if any bit was denied, Allow if every bit was allowed, and Undefined
// otherwise (including for an empty ACL).
type StoreACLChecker struct {
	Source ACLSource
}

// NewStoreACLChecker returns a checker reading ACLs from src.
func NewStoreACLChecker(src ACLSource) *StoreACLChecker {
	return &StoreACLChecker{Source: src}
}

func (c *StoreACLChecker) CheckACL(ctx context.Context, id auth.Identity, key store.Key, mask Mask) (Verdict, error) {
	acl, err := c.Source.GetACL(ctx, key)
	if err != nil {
		return Undefined, err
	}
	if len(acl) == 0 {
		return Undefined, nil
	}

	var attr *store.Attr
	owner := func() (*store.Attr, error) {
		if attr == nil {
			a, err := c.Source.GetAttr(ctx, key)
			if err != nil {
				return nil, err
			}
			attr = a
		}
		return attr, nil
	}

	var decided Mask
	for _, ace := range acl {
		pending := mask &^ decided & Mask(ace.Mask)
		if pending == 0 {
			continue
		}
		match, err := aceMatches(ace.Who, id, owner)
		if err != nil {
			return Undefined, err
		}
		if !match {
			continue
		}
		if ace.Type == store.ACEDeny {
			return Deny, nil
		}
		decided |= pending
		if decided == mask {
			return Allow, nil
		}
	}
	return Undefined, nil
}

func aceMatches(who string, id auth.Identity, attr func() (*store.Attr, error)) (bool, error) {
	switch who {
	case store.WhoEveryone:
		return true, nil
	case store.WhoOwner:
		a, err := attr()
		if err != nil {
			return false, err
		}
		return a.UID == id.UID, nil
	case store.WhoGroup:
		a, err := attr()
		if err != nil {
			return false, err
		}
		return id.InGroup(a.GID), nil
	}

	kind, num, ok := strings.Cut(who, ":")
	if !ok {
		return false, nil
	}
	n, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return false, nil
	}
	switch kind {
	case "uid":
		return id.UID == uint32(n), nil
	case "gid":
		return id.InGroup(uint32(n)), nil
	}
	return false, nil
}
