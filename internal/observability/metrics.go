package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	QueuePending prometheus.Gauge
	QueueRunning prometheus.Gauge
	TaskEvents   *prometheus.CounterVec
	TaskDuration prometheus.Histogram
	NotifyErrors prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		QueuePending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending_tasks",
			Help:      "Number of tasks waiting for admission.",
		}),
		QueueRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_running_tasks",
			Help:      "Number of tasks currently executing.",
		}),
		TaskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by type.",
		}, []string{"event"}),
		TaskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration of finished tasks in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		NotifyErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Failed terminal-state notification deliveries.",
		}),
	}
}

func (m *Metrics) ObserveTaskEvent(event string) {
	m.TaskEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTaskDuration(d time.Duration) {
	m.TaskDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveQueueDepth(pending, running int) {
	m.QueuePending.Set(float64(pending))
	m.QueueRunning.Set(float64(running))
}

func (m *Metrics) ObserveNotifyError() {
	m.NotifyErrors.Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
