package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	taskTotal        *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	deliveryInFlight prometheus.Gauge
	deliveryTotal    *prometheus.CounterVec
	queueLag         *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	taskTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Total scheduled tasks handled by type and status.",
		},
		[]string{"service", "task", "status"},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Scheduled task duration in seconds by type and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "task", "status"},
	)
	deliveryInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "notification_delivery_in_flight",
			Help:      "Number of notifications currently being stored.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	deliveryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "notification_delivery_total",
			Help:      "Total consumed notifications by status.",
		},
		[]string{"service", "status"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between notification creation and delivery.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(taskTotal, taskDuration, deliveryInFlight, deliveryTotal, queueLag)

	return &WorkerMetrics{
		service:          service,
		registry:         registry,
		taskTotal:        taskTotal,
		taskDuration:     taskDuration,
		deliveryInFlight: deliveryInFlight,
		deliveryTotal:    deliveryTotal,
		queueLag:         queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

// ObserveTask records one asynq task run.
func (m *WorkerMetrics) ObserveTask(task, status string, duration time.Duration) {
	m.taskTotal.WithLabelValues(m.service, task, status).Inc()
	m.taskDuration.WithLabelValues(m.service, task, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) StartDelivery() {
	m.deliveryInFlight.Inc()
}

func (m *WorkerMetrics) FinishDelivery(err error) {
	m.deliveryInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.deliveryTotal.WithLabelValues(m.service, status).Inc()
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}
