package trace

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the runtime telemetry exported for the host tooling.
type Metrics struct {
	Xruns        *prometheus.CounterVec
	Recoveries   *prometheus.CounterVec
	CopyDuration *prometheus.HistogramVec
	BytesMoved   *prometheus.CounterVec
}

// NewMetrics registers the runtime collectors with reg. Passing a fresh
// registry keeps tests isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Xruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adsp_pipeline_xruns_total",
			Help: "Missed deadlines per pipeline.",
		}, []string{"pipeline"}),
		Recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adsp_pipeline_recoveries_total",
			Help: "Xrun recovery cycles per pipeline.",
		}, []string{"pipeline"}),
		CopyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adsp_pipeline_copy_seconds",
			Help:    "Duration of one pipeline copy pass.",
			Buckets: prometheus.ExponentialBuckets(10e-6, 2, 12),
		}, []string{"pipeline"}),
		BytesMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adsp_component_bytes_total",
			Help: "Bytes moved per component and direction.",
		}, []string{"comp", "dir"}),
	}
	if reg != nil {
		reg.MustRegister(m.Xruns, m.Recoveries, m.CopyDuration, m.BytesMoved)
	}
	return m
}
