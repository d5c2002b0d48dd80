package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittofs-exports/internal/logger"
	"github.com/marmos91/dittofs-exports/pkg/auth"
	"github.com/marmos91/dittofs-exports/pkg/metrics"
)

// FileSuffix is the suffix of export files picked up from an exports.d
// directory.
const FileSuffix = ".exports"

// Registry publishes the active export snapshot.
//
// Readers load the current snapshot with a single atomic read and never
// block; reloads build a complete snapshot before swapping it in, so a
// resolution sees either the old table or the new one.
type Registry struct {
	current  atomic.Pointer[Snapshot]
	gen      atomic.Uint64
	resolver Resolver
	metrics  metrics.ExportMetrics

	// reloadMu serializes reloads, never readers
	reloadMu sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithResolver sets the resolver used for hostname and wildcard patterns.
func WithResolver(r Resolver) Option {
	return func(reg *Registry) { reg.resolver = r }
}

// WithMetrics sets the metrics sink. A nil value disables metrics.
func WithMetrics(m metrics.ExportMetrics) Option {
	return func(reg *Registry) {
		if m != nil {
			reg.metrics = m
		}
	}
}

// NewRegistry returns a registry holding an empty snapshot.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{metrics: metrics.NewNoopExportMetrics()}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(NewSnapshot(nil, r.gen.Add(1)))
	return r
}

// Snapshot returns the active snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Load publishes a new snapshot built from exports and returns it.
func (r *Registry) Load(exports []*Export) *Snapshot {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	s := NewSnapshot(exports, r.gen.Add(1))
	r.current.Store(s)
	r.metrics.RecordReload(s.Len(), 0, nil)
	return s
}

// LoadString parses text and publishes the result. Clause errors are
// logged and returned; the valid clauses are published regardless.
func (r *Registry) LoadString(text, source string) (*Snapshot, []error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	exports, errs := Parse(strings.NewReader(text), source)
	logParseErrors(errs)
	s := NewSnapshot(exports, r.gen.Add(1))
	r.current.Store(s)
	r.metrics.RecordReload(s.Len(), len(errs), nil)
	return s, errs
}

// ReloadFile rebuilds the snapshot from file and, if dir is not empty, from
// every *.exports file in dir (in lexical order).
//
// A clause that fails to parse is logged and dropped. A file that cannot be
// read fails the whole reload and leaves the active snapshot untouched.
func (r *Registry) ReloadFile(file, dir string) (*Snapshot, []error, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	sources, err := exportSources(file, dir)
	if err != nil {
		r.metrics.RecordReload(0, 0, err)
		return nil, nil, err
	}

	var (
		exports []*Export
		errs    []error
	)
	for _, src := range sources {
		f, err := os.Open(src)
		if err != nil {
			err = fmt.Errorf("open export file: %w", err)
			r.metrics.RecordReload(0, 0, err)
			return nil, nil, err
		}
		e, fileErrs := Parse(f, src)
		closeErr := f.Close()
		if readErr := fatalParseError(fileErrs); readErr != nil {
			r.metrics.RecordReload(0, 0, readErr)
			return nil, nil, readErr
		}
		if closeErr != nil {
			logger.Warn("Failed to close export file %s: %v", src, closeErr)
		}
		exports = append(exports, e...)
		errs = append(errs, fileErrs...)
	}

	logParseErrors(errs)
	s := NewSnapshot(exports, r.gen.Add(1))
	r.current.Store(s)
	r.metrics.RecordReload(s.Len(), len(errs), nil)
	logger.Info("Loaded %d export clauses for %d paths from %d files (generation %d)",
		s.Len(), len(s.paths), len(sources), s.Generation)
	return s, errs, nil
}

// exportSources lists the files making up the export table.
func exportSources(file, dir string) ([]string, error) {
	var sources []string
	if file != "" {
		sources = append(sources, file)
	}
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read exports directory: %w", err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), FileSuffix) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			sources = append(sources, filepath.Join(dir, n))
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no export file configured")
	}
	return sources, nil
}

// fatalParseError returns the read error of a Parse run, if any.
func fatalParseError(errs []error) error {
	for _, err := range errs {
		if errors.Is(err, ErrUnreadable) {
			return err
		}
	}
	return nil
}

func logParseErrors(errs []error) {
	for _, err := range errs {
		logger.Warn("Dropping export clause: %v", err)
	}
}

// Resolve returns the most specific export for path visible to addr.
func (r *Registry) Resolve(ctx context.Context, path string, addr auth.ClientAddress) (*Export, error) {
	e, err := r.Snapshot().Resolve(path, NewClient(ctx, addr, r.resolver))
	r.recordResolve(err)
	return e, err
}

// ResolveIndex returns the most specific export with index idx visible to addr.
func (r *Registry) ResolveIndex(ctx context.Context, idx int32, addr auth.ClientAddress) (*Export, error) {
	e, err := r.Snapshot().ResolveIndex(idx, NewClient(ctx, addr, r.resolver))
	r.recordResolve(err)
	return e, err
}

// ExportsFor returns the best clause per path visible to addr.
func (r *Registry) ExportsFor(ctx context.Context, addr auth.ClientAddress) []*Export {
	return r.Snapshot().ExportsFor(NewClient(ctx, addr, r.resolver))
}

// Exports returns every clause of the active snapshot in file order.
func (r *Registry) Exports() []*Export {
	return r.Snapshot().Exports()
}

// NewClient prepares addr for matching with the registry's resolver.
func (r *Registry) NewClient(ctx context.Context, addr auth.ClientAddress) *Client {
	return NewClient(ctx, addr, r.resolver)
}

func (r *Registry) recordResolve(err error) {
	if err != nil {
		r.metrics.RecordResolve("miss")
		return
	}
	r.metrics.RecordResolve("hit")
}
