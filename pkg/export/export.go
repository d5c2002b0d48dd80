// Package export implements the export table: parsing of export rules,
// client pattern matching, export index computation and the registry that
// resolves the most specific export for a path (or export index) and a
// client address.
//
// The registry publishes immutable snapshots through an atomic pointer, so
// resolution never takes a lock and a reload is all-or-nothing.
package export

import (
	"fmt"
	"strings"

	"github.com/marmos91/dittofs-exports/pkg/auth"
)

// IOMode is the read/write policy of an export.
type IOMode int

const (
	IOModeRO IOMode = iota
	IOModeRW
)

func (m IOMode) String() string {
	if m == IOModeRW {
		return "rw"
	}
	return "ro"
}

// LayoutType is a pNFS layout type an export may hand out.
type LayoutType int

const (
	LayoutNFSv41Files LayoutType = iota + 1
	LayoutOSD2Objects
	LayoutBlockVolume
	LayoutFlexFiles
	LayoutSCSI
)

var layoutNames = map[LayoutType]string{
	LayoutNFSv41Files: "nfsv4_1_files",
	LayoutOSD2Objects: "osd2_objects",
	LayoutBlockVolume: "blocks",
	LayoutFlexFiles:   "flex_files",
	LayoutSCSI:        "scsi",
}

func (t LayoutType) String() string {
	if name, ok := layoutNames[t]; ok {
		return name
	}
	return fmt.Sprintf("layout(%d)", int(t))
}

// ParseLayoutType parses a layout type name (case-insensitive).
func ParseLayoutType(s string) (LayoutType, error) {
	for t, name := range layoutNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown layout type %q", s)
}

// Default option values of a client clause.
const (
	DefaultAnonUID = auth.NobodyUID
	DefaultAnonGID = auth.NobodyGID
)

// Export is one (path, client pattern, policy) rule.
//
// Exports are immutable once built; a reload produces new values.
type Export struct {
	// Path is the normalized export path
	Path string

	// Client selects which clients the rule applies to
	Client ClientPattern

	IOMode     IOMode
	RootSquash bool
	AllSquash  bool
	AnonUID    uint32
	AnonGID    uint32
	CheckACL   bool

	// Sec is the minimum security flavor a request must use
	Sec auth.Flavor

	DCap    bool
	PNFS    bool
	AllRoot bool

	// Secure requires requests to originate from a privileged port
	Secure bool

	LayoutTypes []LayoutType

	// Index is the export index of Path
	Index int32

	// Source is "file:line" of the rule
	Source string
}

// newExport returns a clause with default options.
func newExport(path string, client ClientPattern) *Export {
	p := NormalizePath(path)
	return &Export{
		Path:        p,
		Client:      client,
		IOMode:      IOModeRO,
		RootSquash:  true,
		AnonUID:     DefaultAnonUID,
		AnonGID:     DefaultAnonGID,
		Sec:         auth.FlavorSys,
		DCap:        true,
		PNFS:        true,
		LayoutTypes: []LayoutType{LayoutNFSv41Files},
		Index:       Index(p),
	}
}

// ReadOnly reports whether the export rejects mutating operations.
func (e *Export) ReadOnly() bool {
	return e.IOMode == IOModeRO
}

// TrustsRoot reports whether a caller claiming root keeps its identity.
func (e *Export) TrustsRoot() bool {
	return !e.RootSquash
}

// Options renders the clause options in export file syntax.
func (e *Export) Options() string {
	opts := []string{e.IOMode.String()}
	if e.RootSquash {
		opts = append(opts, "root_squash")
	} else {
		opts = append(opts, "no_root_squash")
	}
	if e.AllSquash {
		opts = append(opts, "all_squash")
	}
	if e.CheckACL {
		opts = append(opts, "acl")
	} else {
		opts = append(opts, "noacl")
	}
	opts = append(opts, "sec="+e.Sec.String())
	opts = append(opts, fmt.Sprintf("anonuid=%d", e.AnonUID), fmt.Sprintf("anongid=%d", e.AnonGID))
	if !e.DCap {
		opts = append(opts, "no_dcap")
	}
	if e.AllRoot {
		opts = append(opts, "all_root")
	}
	if e.PNFS {
		lts := make([]string, len(e.LayoutTypes))
		for i, t := range e.LayoutTypes {
			lts[i] = t.String()
		}
		opts = append(opts, "pnfs", "lt="+strings.Join(lts, ":"))
	} else {
		opts = append(opts, "no_pnfs")
	}
	if e.Secure {
		opts = append(opts, "secure")
	}
	return strings.Join(opts, ",")
}

// String renders the export as one export file line.
func (e *Export) String() string {
	return fmt.Sprintf("%s %s(%s)", e.Path, e.Client.Raw, e.Options())
}
