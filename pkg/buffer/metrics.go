package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/camstack/camhal/metric"
)

// queueMetrics exposes queue statistics as Prometheus metrics.
type queueMetrics struct {
	depth       prometheus.Gauge
	utilization prometheus.Gauge
	pushes      prometheus.Counter
	pops        prometheus.Counter
	drops       prometheus.Counter
}

// newQueueMetrics creates and registers queue metrics under the given prefix.
func newQueueMetrics(registry *metric.MetricsRegistry, prefix string) (*queueMetrics, error) {
	m := &queueMetrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Current number of queued items",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_utilization",
			Help: "Queue fill ratio (0-1)",
		}),
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_pushes_total",
			Help: "Total items pushed onto the queue",
		}),
		pops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_pops_total",
			Help: "Total items popped from the queue",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_drops_total",
			Help: "Total items dropped due to overflow policy",
		}),
	}

	componentName := "queue"
	if err := registry.RegisterGauge(componentName, prefix+"_queue_depth", m.depth); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(componentName, prefix+"_queue_utilization", m.utilization); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(componentName, prefix+"_pushes_total", m.pushes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(componentName, prefix+"_pops_total", m.pops); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(componentName, prefix+"_drops_total", m.drops); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *queueMetrics) recordWrite(size, capacity int) {
	m.pushes.Inc()
	m.updateSize(size, capacity)
}

func (m *queueMetrics) recordRead(size, capacity int) {
	m.pops.Inc()
	m.updateSize(size, capacity)
}

func (m *queueMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *queueMetrics) updateSize(size, capacity int) {
	m.depth.Set(float64(size))
	if capacity > 0 {
		m.utilization.Set(float64(size) / float64(capacity))
	}
}
