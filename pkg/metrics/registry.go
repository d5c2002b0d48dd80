// Package metrics provides Prometheus metrics for the export registry, the
// access controller, the metadata cache and the backing stores.
//
// All metrics are optional: if InitRegistry has not been called every
// constructor returns a no-op implementation, so components can be used with
// or without metrics collection.
//
// Usage:
//
//	// Initialize the global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	cacheMetrics := metrics.NewCacheMetrics()
//	accessMetrics := metrics.NewAccessMetrics()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry, written once
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// It must be called before creating any metrics instances. Subsequent calls
// are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry, or nil if metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
