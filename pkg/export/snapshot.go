package export

import (
	"slices"

	"github.com/marmos91/dittofs-exports/pkg/store"
)

// Snapshot is an immutable, fully indexed export table.
//
// A Snapshot is never modified after NewSnapshot returns; the registry
// replaces it as a whole on reload.
type Snapshot struct {
	// Generation increases by one with every snapshot a registry publishes
	Generation uint64

	exports []*Export
	paths   []string
	byPath  map[string][]*Export
	byIndex map[int32][]*Export
}

// NewSnapshot indexes exports. Clauses for the same path are ordered most
// specific first; clauses with equal specificity keep their input order.
func NewSnapshot(exports []*Export, generation uint64) *Snapshot {
	s := &Snapshot{
		Generation: generation,
		exports:    slices.Clone(exports),
		byPath:     make(map[string][]*Export),
		byIndex:    make(map[int32][]*Export),
	}

	for _, e := range exports {
		if _, ok := s.byPath[e.Path]; !ok {
			s.paths = append(s.paths, e.Path)
		}
		s.byPath[e.Path] = append(s.byPath[e.Path], e)
	}
	slices.Sort(s.paths)

	for _, p := range s.paths {
		clauses := s.byPath[p]
		sortBySpecificity(clauses)
		idx := clauses[0].Index
		// distinct paths sharing an index are kept apart by path order
		s.byIndex[idx] = append(s.byIndex[idx], clauses...)
	}
	return s
}

// Len returns the number of clauses in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.exports)
}

// Exports returns every clause in file order.
func (s *Snapshot) Exports() []*Export {
	return slices.Clone(s.exports)
}

// Paths returns the exported paths in lexical order.
func (s *Snapshot) Paths() []string {
	return slices.Clone(s.paths)
}

// Clauses returns the clauses for path, most specific first.
func (s *Snapshot) Clauses(path string) []*Export {
	return slices.Clone(s.byPath[NormalizePath(path)])
}

// Resolve returns the most specific clause for path that matches client.
func (s *Snapshot) Resolve(path string, client *Client) (*Export, error) {
	p := NormalizePath(path)
	if e := firstMatch(s.byPath[p], client); e != nil {
		return e, nil
	}
	return nil, store.NewError(store.ErrNoSuchExport, p, "no export for client %s", client.Addr)
}

// ResolveIndex returns the most specific clause with export index idx that
// matches client.
func (s *Snapshot) ResolveIndex(idx int32, client *Client) (*Export, error) {
	if e := firstMatch(s.byIndex[idx], client); e != nil {
		return e, nil
	}
	return nil, store.NewError(store.ErrNoSuchExport, "", "no export with index %d for client %s", idx, client.Addr)
}

// ExportsFor returns, for every exported path, the best clause visible to
// client. The result is ordered by path.
func (s *Snapshot) ExportsFor(client *Client) []*Export {
	var out []*Export
	for _, p := range s.paths {
		if e := firstMatch(s.byPath[p], client); e != nil {
			out = append(out, e)
		}
	}
	return out
}

func firstMatch(clauses []*Export, client *Client) *Export {
	for _, e := range clauses {
		if e.Client.Match(client) {
			return e
		}
	}
	return nil
}
