package config

import (
	"context"
	"fmt"
	"io"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittofs-exports/internal/logger"
	"github.com/marmos91/dittofs-exports/pkg/metrics"
	"github.com/marmos91/dittofs-exports/pkg/store"
	"github.com/marmos91/dittofs-exports/pkg/store/badger"
	"github.com/marmos91/dittofs-exports/pkg/store/cache"
	"github.com/marmos91/dittofs-exports/pkg/store/memory"
)

// Stores bundles the backing store and the cache wrapped around it.
type Stores struct {
	// Backend is the raw backing store
	Backend store.Store

	// Cached wraps Backend; every consumer should go through it
	Cached *cache.CachedStore

	closer io.Closer
}

// Close releases the backing store.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// CreateStores opens the configured backing store, creates the configured
// directories in it and wraps it in the metadata cache.
func CreateStores(ctx context.Context, cfg *Config, m *MetricsResult) (*Stores, error) {
	backend, closer, err := createStore(ctx, &cfg.Store, m.Store)
	if err != nil {
		return nil, err
	}

	for _, p := range cfg.Store.Paths {
		if _, err := store.MkdirAll(ctx, backend, p, store.CreateAttr{Mode: 0755}); err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, fmt.Errorf("create store path %s: %w", p, err)
		}
		logger.Debug("Store path %s ready", p)
	}

	return &Stores{
		Backend: backend,
		Cached:  cache.New(backend, cfg.Cache, m.Cache),
		closer:  closer,
	}, nil
}

// createStore creates a single backing store instance.
func createStore(ctx context.Context, cfg *StoreConfig, m metrics.StoreMetrics) (store.Store, io.Closer, error) {
	switch cfg.Type {
	case "memory":
		s, err := createMemoryStore(cfg.Memory)
		return s, nil, err
	case "badger":
		s, err := createBadgerStore(ctx, cfg.Badger, m)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

// decodeMemoryConfig decodes the memory section of the store configuration.
func decodeMemoryConfig(options map[string]any) (memory.Config, error) {
	var cfg memory.Config
	if err := mapstructure.WeakDecode(options, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid memory config: %w", err)
	}
	return cfg, nil
}

// decodeBadgerConfig decodes the badger section of the store configuration.
func decodeBadgerConfig(options map[string]any) (badger.Config, error) {
	var cfg badger.Config
	if err := mapstructure.WeakDecode(options, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid badger config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid badger config: %w", formatValidationError(err))
	}
	return cfg, nil
}

func createMemoryStore(options map[string]any) (*memory.Store, error) {
	cfg, err := decodeMemoryConfig(options)
	if err != nil {
		return nil, err
	}
	return memory.New(cfg), nil
}

func createBadgerStore(ctx context.Context, options map[string]any, m metrics.StoreMetrics) (*badger.Store, error) {
	cfg, err := decodeBadgerConfig(options)
	if err != nil {
		return nil, err
	}

	s, err := badger.New(ctx, cfg, m)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return s, nil
}
