package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/marmos91/dittofs-exports/internal/logger"
	"github.com/marmos91/dittofs-exports/pkg/access"
	"github.com/marmos91/dittofs-exports/pkg/auth"
	"github.com/marmos91/dittofs-exports/pkg/config"
	"github.com/marmos91/dittofs-exports/pkg/export"
	"github.com/marmos91/dittofs-exports/pkg/handle"
	"github.com/marmos91/dittofs-exports/pkg/pseudofs"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// stack is the fully wired export and namespace stack.
type stack struct {
	metrics  *config.MetricsResult
	stores   *config.Stores
	registry *export.Registry
	access   *access.Controller

	// fs is the entry point of the protocol layer; in this process it only
	// backs the startup namespace report and the admin commands
	fs *pseudofs.FS
}

// newRegistry loads the export table configured in cfg.
func newRegistry(cfg *config.Config, m *config.MetricsResult) (*export.Registry, error) {
	r := export.NewRegistry(export.WithMetrics(m.Export))
	_, errs, err := r.ReloadFile(cfg.Exports.File, cfg.Exports.Dir)
	if err != nil {
		return nil, fmt.Errorf("load exports: %w", err)
	}
	if len(errs) > 0 {
		logger.Warn("%d export clauses were dropped", len(errs))
	}
	return r, nil
}

// newStack opens the store and wires every layer on top of it.
func newStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	m := config.InitializeMetrics(cfg)

	registry, err := newRegistry(cfg, m)
	if err != nil {
		return nil, err
	}

	stores, err := config.CreateStores(ctx, cfg, m)
	if err != nil {
		return nil, err
	}

	// A memory store starts empty; give every export a directory to mount
	if cfg.Store.Type == "memory" {
		for _, p := range registry.Snapshot().Paths() {
			if _, err := store.MkdirAll(ctx, stores.Backend, p, store.CreateAttr{Mode: 0755}); err != nil {
				_ = stores.Close()
				return nil, fmt.Errorf("create export path %s: %w", p, err)
			}
		}
	}

	ac := access.NewController(registry, stores.Cached,
		access.WithACLChecker(access.NewStoreACLChecker(stores.Cached)),
		access.WithMetrics(m.Access),
		access.WithDenialLogging(cfg.Access.LogDenials),
		access.WithDenialLogRate(cfg.Access.DenialLogRate, cfg.Access.DenialLogBurst),
	)
	codec := handle.NewCodec(cfg.Exports.Generation)

	return &stack{
		metrics:  m,
		stores:   stores,
		registry: registry,
		access:   ac,
		fs:       pseudofs.New(stores.Cached, registry, ac, codec),
	}, nil
}

// namespaceFor renders the pseudo filesystem a root caller at client sees.
func (r *stack) namespaceFor(ctx context.Context, client string) (string, error) {
	addr, err := auth.ParseClientAddress(client)
	if err != nil {
		return "", err
	}
	actx := &auth.Context{Context: ctx, Flavor: auth.FlavorSys, Client: addr}

	var buf bytes.Buffer
	if err := printTree(&buf, r.fs, actx); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *stack) Close() error {
	return r.stores.Close()
}
