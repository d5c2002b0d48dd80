package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreMetrics provides observability for backing store operations.
//
// Example usage:
//
//	// With metrics enabled
//	s, err := badger.New(ctx, cfg, metrics.NewStoreMetrics("badger"))
//
//	// Without metrics (no-op)
//	s, err := badger.New(ctx, cfg, nil)
type StoreMetrics interface {
	// RecordOperation records a completed store operation.
	//
	// Parameters:
	//   - operation: Operation name (e.g. "Lookup", "Create", "ReadDir")
	//   - duration: Time taken to complete the operation
	//   - err: Error if the operation failed, nil if successful
	RecordOperation(operation string, duration time.Duration, err error)
}

type storeMetrics struct {
	storeType         string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewStoreMetrics creates a Prometheus-backed StoreMetrics labelled with
// storeType, or a no-op implementation when metrics are disabled.
func NewStoreMetrics(storeType string) StoreMetrics {
	if !IsEnabled() {
		return noopStoreMetrics{}
	}

	reg := GetRegistry()

	return &storeMetrics{
		storeType: storeType,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_store_operations_total",
				Help: "Total number of backing store operations by type, operation and status",
			},
			[]string{"store", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittofs_store_operation_duration_seconds",
				Help: "Duration of backing store operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
				},
			},
			[]string{"store", "operation"},
		),
	}
}

func (m *storeMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(m.storeType, operation, statusOf(err)).Inc()
	m.operationDuration.WithLabelValues(m.storeType, operation).Observe(duration.Seconds())
}

// NewNoopStoreMetrics returns a StoreMetrics that discards everything.
func NewNoopStoreMetrics() StoreMetrics {
	return noopStoreMetrics{}
}

type noopStoreMetrics struct{}

func (noopStoreMetrics) RecordOperation(operation string, duration time.Duration, err error) {}
