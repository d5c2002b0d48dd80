package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittofs-exports/pkg/auth"
	"github.com/marmos91/dittofs-exports/pkg/config"
	"github.com/marmos91/dittofs-exports/pkg/export"
	"github.com/marmos91/dittofs-exports/pkg/handle"
	"github.com/marmos91/dittofs-exports/pkg/pseudofs"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

func clientFlag(fs *pflag.FlagSet) *string {
	return fs.String("client", "", "client address (IP or IP:port)")
}

func parseClient(s string) (auth.ClientAddress, error) {
	if s == "" {
		return auth.ClientAddress{}, errors.New("--client is required")
	}
	return auth.ParseClientAddress(s)
}

func runExportsCheck(args []string) error {
	fs := newFlagSet("exports check")
	client := clientFlag(fs)

	return withCommand(fs, args, func(cfg *config.Config) error {
		if fs.NArg() != 1 {
			return errors.New("usage: exports check <path> --client IP")
		}
		addr, err := parseClient(*client)
		if err != nil {
			return err
		}
		r, err := newRegistry(cfg, config.InitializeMetrics(cfg))
		if err != nil {
			return err
		}

		p := export.NormalizePath(fs.Arg(0))
		e, err := r.Resolve(context.Background(), p, addr)
		if err != nil {
			return fmt.Errorf("%s is not exported to %s: %w", p, addr, err)
		}
		fmt.Printf("%s\n", e)
		fmt.Printf("  index:  %d\n", e.Index)
		fmt.Printf("  source: %s\n", e.Source)
		return nil
	})
}

// dumpEntry is the YAML form of an export clause.
type dumpEntry struct {
	Path    string `yaml:"path"`
	Client  string `yaml:"client"`
	Kind    string `yaml:"kind"`
	Index   int32  `yaml:"index"`
	Options string `yaml:"options"`
	Source  string `yaml:"source,omitempty"`
}

type dump struct {
	Generation uint64      `yaml:"generation"`
	Exports    []dumpEntry `yaml:"exports"`
}

func writeDump(w io.Writer, snap *export.Snapshot) error {
	d := dump{Generation: snap.Generation}
	for _, e := range snap.Exports() {
		d.Exports = append(d.Exports, dumpEntry{
			Path:    e.Path,
			Client:  e.Client.Raw,
			Kind:    e.Client.Kind.String(),
			Index:   e.Index,
			Options: e.Options(),
			Source:  e.Source,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

func runExportsDump(args []string) error {
	fs := newFlagSet("exports dump")
	client := fs.String("client", "", "only show the clauses visible to this client")

	return withCommand(fs, args, func(cfg *config.Config) error {
		r, err := newRegistry(cfg, config.InitializeMetrics(cfg))
		if err != nil {
			return err
		}

		snap := r.Snapshot()
		if *client != "" {
			addr, err := parseClient(*client)
			if err != nil {
				return err
			}
			snap = export.NewSnapshot(r.ExportsFor(context.Background(), addr), snap.Generation)
		}
		return writeDump(os.Stdout, snap)
	})
}

func runExportsTree(args []string) error {
	fs := newFlagSet("exports tree")
	fs.String("store", "", "backing store type (memory, badger)")
	client := clientFlag(fs)
	uid := fs.Uint32("uid", 0, "caller uid")
	gid := fs.Uint32("gid", 0, "caller gid")

	return withCommand(fs, args, func(cfg *config.Config) error {
		addr, err := parseClient(*client)
		if err != nil {
			return err
		}

		ctx := context.Background()
		s, err := newStack(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		actx := &auth.Context{
			Context:  ctx,
			Flavor:   auth.FlavorSys,
			Identity: auth.Identity{UID: *uid, GID: *gid},
			Client:   addr,
		}
		return printTree(os.Stdout, s.fs, actx)
	})
}

// printTree prints the pseudo filesystem seen by actx. Mountpoints are
// printed with their export index and not descended into.
func printTree(w io.Writer, fs *pseudofs.FS, actx *auth.Context) error {
	root, err := fs.GetRoot(actx)
	if err != nil {
		return err
	}
	if !root.IsPseudo() {
		_, err := fmt.Fprintf(w, "/ -> export %d\n", root.ExportIndex)
		return err
	}
	if _, err := fmt.Fprintln(w, "/"); err != nil {
		return err
	}
	return printDir(w, fs, actx, root, 1)
}

func printDir(w io.Writer, fs *pseudofs.FS, actx *auth.Context, dir handle.Handle, depth int) error {
	var (
		cookie   uint64
		verifier store.Verifier
	)
	for {
		list, err := fs.ReadDir(actx, dir, cookie, verifier, 64)
		if err != nil {
			return err
		}
		for _, e := range list.Entries {
			indent := strings.Repeat("  ", depth)
			if e.Handle.IsPseudo() {
				if _, err := fmt.Fprintf(w, "%s%s/\n", indent, e.Name); err != nil {
					return err
				}
				if err := printDir(w, fs, actx, e.Handle, depth+1); err != nil {
					return err
				}
				continue
			}
			if _, err := fmt.Fprintf(w, "%s%s/ -> export %d\n", indent, e.Name, e.Handle.ExportIndex); err != nil {
				return err
			}
		}
		if list.EOF || len(list.Entries) == 0 {
			return nil
		}
		cookie = list.Entries[len(list.Entries)-1].Cookie
		verifier = list.Verifier
	}
}
