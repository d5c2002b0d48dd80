package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AccessMetrics provides observability for access control decisions.
type AccessMetrics interface {
	// RecordAllowed records a granted access check.
	RecordAllowed()

	// RecordDenied records a denied access check.
	//
	// Parameters:
	//   - reason: Short denial reason (e.g. "read_only", "unix", "acl")
	RecordDenied(reason string)

	// RecordSquash records an identity substitution.
	//
	// Parameters:
	//   - kind: "root", "all" or "anonymous"
	RecordSquash(kind string)
}

type accessMetrics struct {
	decisions *prometheus.CounterVec
	denials   *prometheus.CounterVec
	squashes  *prometheus.CounterVec
}

// NewAccessMetrics creates a Prometheus-backed AccessMetrics, or a no-op
// implementation when metrics are disabled.
func NewAccessMetrics() AccessMetrics {
	if !IsEnabled() {
		return noopAccessMetrics{}
	}

	reg := GetRegistry()

	return &accessMetrics{
		decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_access_decisions_total",
				Help: "Total number of access control decisions by result",
			},
			[]string{"result"},
		),
		denials: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_access_denials_total",
				Help: "Total number of access denials by reason",
			},
			[]string{"reason"},
		),
		squashes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_access_squashed_total",
				Help: "Total number of caller identities replaced by the anonymous identity",
			},
			[]string{"kind"},
		),
	}
}

func (m *accessMetrics) RecordAllowed() {
	m.decisions.WithLabelValues("allowed").Inc()
}

func (m *accessMetrics) RecordDenied(reason string) {
	m.decisions.WithLabelValues("denied").Inc()
	m.denials.WithLabelValues(reason).Inc()
}

func (m *accessMetrics) RecordSquash(kind string) {
	m.squashes.WithLabelValues(kind).Inc()
}

// NewNoopAccessMetrics returns a AccessMetrics that discards everything.
func NewNoopAccessMetrics() AccessMetrics {
	return noopAccessMetrics{}
}

type noopAccessMetrics struct{}

func (noopAccessMetrics) RecordAllowed()             {}
func (noopAccessMetrics) RecordDenied(reason string) {}
func (noopAccessMetrics) RecordSquash(kind string)   {}
