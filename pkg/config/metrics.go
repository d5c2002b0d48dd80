package config

import (
	"github.com/marmos91/dittofs-exports/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// The collectors below are never nil; they are no-ops when disabled.
	Export metrics.ExportMetrics
	Access metrics.AccessMetrics
	Cache  metrics.CacheMetrics
	Store  metrics.StoreMetrics
}

// InitializeMetrics creates the metrics components based on configuration.
//
// If metrics are disabled every collector is a no-op and Server is nil.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Export: metrics.NewNoopExportMetrics(),
			Access: metrics.NewNoopAccessMetrics(),
			Cache:  metrics.NewNoopCacheMetrics(),
			Store:  metrics.NewNoopStoreMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{Listen: cfg.Metrics.Listen}),
		Export: metrics.NewExportMetrics(),
		Access: metrics.NewAccessMetrics(),
		Cache:  metrics.NewCacheMetrics(),
		Store:  metrics.NewStoreMetrics(cfg.Store.Type),
	}
}
