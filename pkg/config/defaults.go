package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittofs-exports/pkg/export"
	"github.com/marmos91/dittofs-exports/pkg/store/cache"
)

// Default locations of the export table.
const (
	DefaultExportsFile = "/etc/exports"
	DefaultExportsDir  = "/etc/exports.d"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults and explicit values are preserved.
// Booleans whose default is true are defaulted by the loader instead.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyExportsDefaults(&cfg.Exports)
	applyStoreDefaults(&cfg.Store)
	applyCacheDefaults(&cfg.Cache)
	applyAccessDefaults(&cfg.Access)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyExportsDefaults(cfg *ExportsConfig) {
	if cfg.File == "" && cfg.Dir == "" {
		cfg.File = DefaultExportsFile
		cfg.Dir = DefaultExportsDir
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = export.DefaultDebounce
	}
	if cfg.Generation == 0 {
		cfg.Generation = 1
	}
}

// applyStoreDefaults sets store defaults. Defaults for every store type are
// filled in so a generated config file documents them all.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.Memory["root_mode"]; !ok {
		cfg.Memory["root_mode"] = uint32(0755)
	}
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "/var/lib/dittofs-exports"
	}
	if _, ok := cfg.Badger["block_cache_size_mb"]; !ok {
		cfg.Badger["block_cache_size_mb"] = int64(64)
	}
	if _, ok := cfg.Badger["index_cache_size_mb"]; !ok {
		cfg.Badger["index_cache_size_mb"] = int64(32)
	}
}

func applyCacheDefaults(cfg *cache.Config) {
	def := cache.DefaultConfig()
	if cfg.TTL == 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = def.MaxEntries
	}
}

func applyAccessDefaults(cfg *AccessConfig) {
	if cfg.DenialLogBurst == 0 {
		cfg.DenialLogBurst = 20
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":9090"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Exports: ExportsConfig{Watch: true},
		Cache:   cache.DefaultConfig(),
		Access:  AccessConfig{LogDenials: true, DenialLogRate: 10},
	}
	ApplyDefaults(cfg)
	return cfg
}
