package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/dittofs-exports/internal/logger"
	"github.com/marmos91/dittofs-exports/pkg/config"
	"github.com/marmos91/dittofs-exports/pkg/export"
)

func runServe(args []string) error {
	fs := newFlagSet("serve")
	fs.String("store", "", "backing store type (memory, badger)")
	fs.Bool("metrics", false, "expose Prometheus metrics")

	return withCommand(fs, args, serve)
}

func serve(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	started := time.Now()

	logger.Info("Starting dittofs-exports (store=%s, generation=%d)", cfg.Store.Type, cfg.Exports.Generation)

	s, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("Failed to close store: %v", err)
		}
	}()

	snap := s.registry.Snapshot()
	logger.Info("Serving %d export clauses (generation %d)", snap.Len(), snap.Generation)
	if logger.IsEnabled(logger.LevelDebug) {
		if tree, err := s.namespaceFor(ctx, "127.0.0.1"); err != nil {
			logger.Debug("No namespace for 127.0.0.1: %v", err)
		} else {
			logger.Debug("Namespace for 127.0.0.1:\n%s", tree)
		}
	}

	errCh := make(chan error, 2)

	if cfg.Exports.Watch {
		w := export.NewWatcher(s.registry, cfg.Exports.File, cfg.Exports.Dir)
		w.SetDebounce(cfg.Exports.Debounce)
		w.OnReload = func(snap *export.Snapshot, err error) {
			if err != nil {
				return
			}
			// Handles survive a reload; the namespace rebuilds lazily
			logger.Info("Export table now at generation %d", snap.Generation)
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				errCh <- fmt.Errorf("export watcher: %w", err)
			}
		}()
	}

	if s.metrics.Server != nil {
		go func() {
			if err := s.metrics.Server.Start(ctx); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		logger.Info("Metrics available at http://%s/metrics", s.metrics.Server.Addr())
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errCh:
		logger.Error("%v", runErr)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if s.metrics.Server != nil {
		if err := s.metrics.Server.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown: %v", err)
		}
	}

	for table, st := range s.stores.Cached.Stats() {
		logger.Debug("Cache table %s at shutdown: %+v", table, st)
	}
	logger.Info("Stopped after %s", time.Since(started).Round(time.Second))
	return runErr
}
