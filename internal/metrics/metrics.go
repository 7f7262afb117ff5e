package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed *prometheus.CounterVec
	AlertsEmitted   *prometheus.CounterVec
	DetectFailures  *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	JobTransitions  *prometheus.CounterVec
	DetectSeconds   prometheus.Histogram
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		FramesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maskguard_frames_processed_total",
			Help: "Frames run through the detection pipeline, by source.",
		}, []string{"source"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maskguard_alerts_total",
			Help: "Accepted alerts, by source and label.",
		}, []string{"source", "label"}),
		DetectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maskguard_detect_failures_total",
			Help: "Detector invocations that failed, by source.",
		}, []string{"source"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maskguard_live_sessions_active",
			Help: "Currently connected live sessions.",
		}),
		JobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maskguard_job_transitions_total",
			Help: "Video job state transitions, by target state.",
		}, []string{"to"}),
		DetectSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "maskguard_detect_duration_seconds",
			Help:    "Latency of one detector invocation.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.FramesProcessed,
		m.AlertsEmitted,
		m.DetectFailures,
		m.ActiveSessions,
		m.JobTransitions,
		m.DetectSeconds,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
