// Package metrics exports Prometheus metrics for synthesis requests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nikhilbhutani/voiceproxy/internal/synthesis"
)

const namespace = "voiceproxy"

// Metrics implements synthesis.Recorder.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	rejectionsTotal *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "synthesis_requests_total",
				Help:      "Total number of synthesis attempts by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "synthesis_duration_seconds",
				Help:      "Duration of synthesis attempts in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "synthesis_in_flight",
				Help:      "Number of synthesis attempts currently waiting on the provider",
			},
		),
		rejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_rejections_total",
				Help:      "Total number of requests rejected before synthesis",
			},
			[]string{"code"},
		),
	}
	reg.MustRegister(m.requestsTotal, m.duration, m.inFlight, m.rejectionsTotal)
	return m
}

func (m *Metrics) SynthesisStarted() {
	m.inFlight.Inc()
}

func (m *Metrics) SynthesisFinished(kind synthesis.Kind, elapsed time.Duration) {
	m.inFlight.Dec()
	m.requestsTotal.WithLabelValues(kind.String()).Inc()
	m.duration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

// Rejected counts a request turned away with the given error code.
func (m *Metrics) Rejected(code string) {
	m.rejectionsTotal.WithLabelValues(code).Inc()
}
