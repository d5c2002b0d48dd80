package access

import (
	"strconv"
	"strings"
)

// Mask is an NFSv4 style access mask (RFC 7530 ACE4_* bit values).
type Mask uint32

const (
	ReadData        Mask = 0x00000001
	ListDirectory   Mask = 0x00000001
	WriteData       Mask = 0x00000002
	AddFile         Mask = 0x00000002
	AppendData      Mask = 0x00000004
	AddSubdirectory Mask = 0x00000004
	ReadNamedAttrs  Mask = 0x00000008
	WriteNamedAttrs Mask = 0x00000010
	Execute         Mask = 0x00000020
	DeleteChild     Mask = 0x00000040
	ReadAttributes  Mask = 0x00000080
	WriteAttributes Mask = 0x00000100
	Delete          Mask = 0x00010000
	ReadACL         Mask = 0x00020000
	WriteACL        Mask = 0x00040000
	WriteOwner      Mask = 0x00080000
	Synchronize     Mask = 0x00100000
)

const (
	// Mutating is every bit that modifies an object or a directory
	Mutating = WriteData | AppendData | WriteNamedAttrs | DeleteChild |
		WriteAttributes | Delete | WriteACL | WriteOwner

	// All is every defined bit
	All = ReadData | WriteData | AppendData | ReadNamedAttrs | WriteNamedAttrs |
		Execute | DeleteChild | ReadAttributes | WriteAttributes | Delete |
		ReadACL | WriteACL | WriteOwner | Synchronize
)

var maskNames = []struct {
	bit  Mask
	name string
}{
	{ReadData, "READ_DATA"},
	{WriteData, "WRITE_DATA"},
	{AppendData, "APPEND_DATA"},
	{ReadNamedAttrs, "READ_NAMED_ATTRS"},
	{WriteNamedAttrs, "WRITE_NAMED_ATTRS"},
	{Execute, "EXECUTE"},
	{DeleteChild, "DELETE_CHILD"},
	{ReadAttributes, "READ_ATTRIBUTES"},
	{WriteAttributes, "WRITE_ATTRIBUTES"},
	{Delete, "DELETE"},
	{ReadACL, "READ_ACL"},
	{WriteACL, "WRITE_ACL"},
	{WriteOwner, "WRITE_OWNER"},
	{Synchronize, "SYNCHRONIZE"},
}

// Mutates reports whether m contains any mutating bit.
func (m Mask) Mutates() bool {
	return m&Mutating != 0
}

// Has reports whether every bit of o is set in m.
func (m Mask) Has(o Mask) bool {
	return m&o == o
}

// Bits splits m into its single-bit components.
func (m Mask) Bits() []Mask {
	var out []Mask
	for b := Mask(1); b != 0 && b <= m; b <<= 1 {
		if m&b != 0 {
			out = append(out, b)
		}
	}
	return out
}

func (m Mask) String() string {
	if m == 0 {
		return "NONE"
	}
	var parts []string
	rest := m
	for _, n := range maskNames {
		if m&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}
