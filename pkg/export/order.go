package export

import (
	"slices"
)

// compareSpecificity orders two clauses of the same path, most specific first.
//
// Literal patterns (IP, subnet or hostname) come before wildcards. Among
// literals the wider netmask wins, then IP patterns win over hostnames, then
// the longer address family wins. Among wildcards the pattern whose first
// '*' appears later wins. Anything left equal keeps file order.
func compareSpecificity(a, b *Export) int {
	aw, bw := a.Client.IsWildcard(), b.Client.IsWildcard()
	switch {
	case !aw && bw:
		return -1
	case aw && !bw:
		return 1
	case aw && bw:
		return b.Client.firstStar() - a.Client.firstStar()
	}

	if d := b.Client.Mask() - a.Client.Mask(); d != 0 {
		return d
	}
	aip, bip := a.Client.Kind == PatternSubnet, b.Client.Kind == PatternSubnet
	switch {
	case aip && !bip:
		return -1
	case !aip && bip:
		return 1
	}
	return b.Client.addressLen() - a.Client.addressLen()
}

// sortBySpecificity sorts clauses in place; ties keep their relative order.
func sortBySpecificity(exports []*Export) {
	slices.SortStableFunc(exports, compareSpecificity)
}
