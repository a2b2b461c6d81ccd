package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// WorkflowMetrics implements ports.WorkflowObserver and the resilience
// executor hooks.
type WorkflowMetrics struct {
	service string

	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	auditFailuresTotal *prometheus.CounterVec
	capabilityLookups  *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	retriesTotal       *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
}

func NewWorkflowMetrics(service string, registerer prometheus.Registerer) *WorkflowMetrics {
	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Transition attempts by source, target and outcome.",
		},
		[]string{"service", "from", "to", "outcome"},
	)
	transitionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transition_duration_seconds",
			Help:      "Transition pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	auditFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Audit entries that could not be written after retries.",
		},
		[]string{"service", "action"},
	)
	capabilityLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "capability_lookups_total",
			Help:      "Capability resolutions by cache result.",
		},
		[]string{"service", "cache"},
	)
	notificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "dispatch_total",
			Help:      "Owner notifications by dispatch status.",
		},
		[]string{"service", "status"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retried outbound calls by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_open",
			Help:      "1 while the circuit breaker of an operation is open or half-open.",
		},
		[]string{"service", "operation"},
	)

	registerer.MustRegister(
		transitionsTotal,
		transitionDuration,
		auditFailuresTotal,
		capabilityLookups,
		notificationsTotal,
		retriesTotal,
		breakerState,
	)

	return &WorkflowMetrics{
		service:            service,
		transitionsTotal:   transitionsTotal,
		transitionDuration: transitionDuration,
		auditFailuresTotal: auditFailuresTotal,
		capabilityLookups:  capabilityLookups,
		notificationsTotal: notificationsTotal,
		retriesTotal:       retriesTotal,
		breakerState:       breakerState,
	}
}

func (m *WorkflowMetrics) ObserveTransition(from, to domain.DocumentStatus, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.transitionsTotal.WithLabelValues(m.service, string(from), string(to), outcome).Inc()
	m.transitionDuration.WithLabelValues(m.service, outcome).Observe(duration.Seconds())
}

func (m *WorkflowMetrics) ObserveAuditFailure(action domain.AuditAction) {
	m.auditFailuresTotal.WithLabelValues(m.service, string(action)).Inc()
}

func (m *WorkflowMetrics) ObserveCapabilityLookup(cacheHit bool) {
	result := "miss"
	if cacheHit {
		result = "hit"
	}
	m.capabilityLookups.WithLabelValues(m.service, result).Inc()
}

func (m *WorkflowMetrics) ObserveNotification(status string) {
	m.notificationsTotal.WithLabelValues(m.service, status).Inc()
}

func (m *WorkflowMetrics) ObserveRetry(operation string, _ int) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *WorkflowMetrics) ObserveBreakerState(operation, _, to string) {
	value := 1.0
	if to == "closed" {
		value = 0
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}
