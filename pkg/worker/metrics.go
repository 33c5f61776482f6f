package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a Pool
type Metrics struct {
	TasksSubmitted prometheus.Counter
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter
	TasksRejected  prometheus.Counter
	TasksActive    prometheus.Gauge
	TasksPending   prometheus.Gauge
	TaskDuration   prometheus.Histogram
}

// NewMetrics creates the pool collectors and registers them with reg. A nil
// registerer leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted by the pool queue.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "tasks_completed_total",
			Help:      "Tasks that finished executing, successfully or not.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "tasks_failed_total",
			Help:      "Tasks that returned an error or panicked.",
		}),
		TasksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "tasks_rejected_total",
			Help:      "Submissions refused because the pool was draining.",
		}),
		TasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "tasks_active",
			Help:      "Tasks currently executing on a worker.",
		}),
		TasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "tasks_outstanding",
			Help:      "Tasks accepted but not yet completed.",
		}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "task_duration_seconds",
			Help:      "Task execution time.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TasksSubmitted,
		m.TasksCompleted,
		m.TasksFailed,
		m.TasksRejected,
		m.TasksActive,
		m.TasksPending,
		m.TaskDuration,
	}
}

// The hooks below tolerate a nil receiver so the pool can call them unconditionally.

func (m *Metrics) accepted() {
	if m == nil {
		return
	}
	m.TasksSubmitted.Inc()
	m.TasksPending.Inc()
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.TasksRejected.Inc()
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.TasksActive.Inc()
}

func (m *Metrics) finished(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.TasksActive.Dec()
	m.TasksPending.Dec()
	m.TasksCompleted.Inc()
	if failed {
		m.TasksFailed.Inc()
	}
	m.TaskDuration.Observe(d.Seconds())
}
