package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExportMetrics provides observability for the export registry.
type ExportMetrics interface {
	// RecordReload records a reload attempt of the export table.
	//
	// Parameters:
	//   - exports: Number of clauses in the new snapshot
	//   - dropped: Number of clauses dropped because they failed to parse
	//   - err: Error if the reload failed and the old snapshot was kept
	RecordReload(exports, dropped int, err error)

	// RecordResolve records the outcome of one export resolution
	// ("hit" or "miss").
	RecordResolve(outcome string)
}

type exportMetrics struct {
	reloadsTotal    *prometheus.CounterVec
	exportsActive   prometheus.Gauge
	clausesDropped  prometheus.Counter
	resolutionTotal *prometheus.CounterVec
}

// NewExportMetrics creates a Prometheus-backed ExportMetrics, or a no-op
// implementation when metrics are disabled.
func NewExportMetrics() ExportMetrics {
	if !IsEnabled() {
		return noopExportMetrics{}
	}

	reg := GetRegistry()

	return &exportMetrics{
		reloadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_exports_reloads_total",
				Help: "Total number of export table reloads by status",
			},
			[]string{"status"},
		),
		exportsActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittofs_exports_active",
				Help: "Number of export clauses in the active snapshot",
			},
		),
		clausesDropped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittofs_exports_clauses_dropped_total",
				Help: "Total number of export clauses dropped because of parse errors",
			},
		),
		resolutionTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_exports_resolutions_total",
				Help: "Total number of export resolutions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *exportMetrics) RecordReload(exports, dropped int, err error) {
	m.reloadsTotal.WithLabelValues(statusOf(err)).Inc()
	if err != nil {
		return
	}
	m.exportsActive.Set(float64(exports))
	m.clausesDropped.Add(float64(dropped))
}

func (m *exportMetrics) RecordResolve(outcome string) {
	m.resolutionTotal.WithLabelValues(outcome).Inc()
}

// NewNoopExportMetrics returns a ExportMetrics that discards everything.
func NewNoopExportMetrics() ExportMetrics {
	return noopExportMetrics{}
}

type noopExportMetrics struct{}

func (noopExportMetrics) RecordReload(exports, dropped int, err error) {}
func (noopExportMetrics) RecordResolve(outcome string)                 {}
