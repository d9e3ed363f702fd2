package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RecordsWritten      *prometheus.CounterVec
	EngineFailures      *prometheus.CounterVec
	IntegrityViolations prometheus.Counter
	MaskingFallbacks    prometheus.Counter
	AppendDuration      prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		RecordsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "safeshift_audit_records_written_total",
			Help: "Total audit records persisted, by action",
		}, []string{"action"}),
		EngineFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "safeshift_audit_engine_failures_total",
			Help: "Audit engine failures that aborted the ambient transaction, by stage",
		}, []string{"stage"}),
		IntegrityViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "safeshift_audit_integrity_violations_total",
			Help: "Records that failed signature re-verification on read",
		}),
		MaskingFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "safeshift_audit_masking_fallbacks_total",
			Help: "Fields that fell back to full redaction because classification was ambiguous",
		}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "safeshift_audit_append_duration_seconds",
			Help:    "Latency of the synchronous audit write path",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) IncRecordsWritten(action string) {
	m.RecordsWritten.WithLabelValues(action).Inc()
}

func (m *Metrics) IncEngineFailure(stage string) {
	m.EngineFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncIntegrityViolations() {
	m.IntegrityViolations.Inc()
}

func (m *Metrics) IncMaskingFallbacks() {
	m.MaskingFallbacks.Inc()
}

func (m *Metrics) ObserveAppendDuration(seconds float64) {
	m.AppendDuration.Observe(seconds)
}
