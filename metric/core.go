package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core request-lifecycle metrics shared by the HAL.
// Component-specific metrics (engine fan-out, pool utilization) are
// registered separately by their owners.
type Metrics struct {
	RequestsSubmitted *prometheus.CounterVec
	RequestsCompleted *prometheus.CounterVec
	RequestsInFlight  prometheus.Gauge
	NotifyErrors      *prometheus.CounterVec
	FrameDuration     prometheus.Histogram
	PipelineState     prometheus.Gauge
	BuffersReturned   *prometheus.CounterVec
	MetadataReordered prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core HAL metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "camhal",
				Subsystem: "requests",
				Name:      "submitted_total",
				Help:      "Total capture requests admitted by process()",
			},
			[]string{"camera"},
		),

		RequestsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "camhal",
				Subsystem: "requests",
				Name:      "completed_total",
				Help:      "Total capture requests that reached terminal completion",
			},
			[]string{"camera", "status"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "camhal",
				Subsystem: "requests",
				Name:      "in_flight",
				Help:      "Capture requests currently between process() and completion",
			},
		),

		NotifyErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "camhal",
				Subsystem: "notify",
				Name:      "errors_total",
				Help:      "Error notifications delivered to the host",
			},
			[]string{"camera", "kind"},
		),

		FrameDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "camhal",
				Subsystem: "requests",
				Name:      "frame_duration_seconds",
				Help:      "Shutter-to-completion latency per frame",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
			},
		),

		PipelineState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "camhal",
				Subsystem: "pipeline",
				Name:      "state",
				Help:      "Pipeline state (0=closed, 1=configured, 2=running, 3=error)",
			},
		),

		BuffersReturned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "camhal",
				Subsystem: "buffers",
				Name:      "returned_total",
				Help:      "Output buffers returned to the host per stream",
			},
			[]string{"stream"},
		),

		MetadataReordered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "camhal",
				Subsystem: "metadata",
				Name:      "reordered_total",
				Help:      "Metadata results deferred to preserve cross-frame ordering",
			},
		),
	}
}

// RecordSubmitted increments the submitted-request counter
func (m *Metrics) RecordSubmitted(camera string) {
	m.RequestsSubmitted.WithLabelValues(camera).Inc()
}

// RecordCompleted increments the completed-request counter
func (m *Metrics) RecordCompleted(camera, status string) {
	m.RequestsCompleted.WithLabelValues(camera, status).Inc()
}

// RecordNotifyError increments the host error-notification counter
func (m *Metrics) RecordNotifyError(camera, kind string) {
	m.NotifyErrors.WithLabelValues(camera, kind).Inc()
}

// RecordFrameDuration records shutter-to-completion latency
func (m *Metrics) RecordFrameDuration(d time.Duration) {
	m.FrameDuration.Observe(d.Seconds())
}

// RecordPipelineState updates the pipeline state gauge
func (m *Metrics) RecordPipelineState(state int) {
	m.PipelineState.Set(float64(state))
}

// RecordBufferReturned increments the per-stream buffer counter
func (m *Metrics) RecordBufferReturned(stream string) {
	m.BuffersReturned.WithLabelValues(stream).Inc()
}
