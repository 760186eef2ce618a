// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "approval_engine"

var (
	// eventsTotal counts committed lifecycle events by type.
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of committed workflow events",
		},
		[]string{"event_type"},
	)

	// instancesCompletedTotal counts instances reaching a terminal status.
	instancesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_completed_total",
			Help:      "Total number of instances that reached a terminal status",
		},
		[]string{"status"}, // approved, rejected, cancelled
	)

	// awaitingAssignmentTotal counts instances parked for manual assignment.
	awaitingAssignmentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "awaiting_assignment_total",
			Help:      "Total number of times an instance was parked awaiting approver assignment",
		},
	)

	// sweepDuration is a histogram of escalation sweep duration.
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "escalation_sweep_duration_seconds",
			Help:      "Duration of escalation sweeps in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// sweepInstancesTotal counts instances handled by sweeps per outcome.
	sweepInstancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_sweep_instances_total",
			Help:      "Instances handled by escalation sweeps",
		},
		[]string{"result"}, // scanned, escalated, blocked, failed
	)

	// notificationsTotal counts notification deliveries.
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of notification deliveries",
		},
		[]string{"kind", "status"}, // status: success, error
	)

	allMetrics = []prometheus.Collector{
		eventsTotal,
		instancesCompletedTotal,
		awaitingAssignmentTotal,
		sweepDuration,
		sweepInstancesTotal,
		notificationsTotal,
	}
)

// NewRegistry returns a registry holding the engine metrics and the Go
// runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordSweep records one escalation sweep.
func RecordSweep(scanned, escalated, blocked, failed int, took time.Duration) {
	sweepDuration.Observe(took.Seconds())
	sweepInstancesTotal.WithLabelValues("scanned").Add(float64(scanned))
	sweepInstancesTotal.WithLabelValues("escalated").Add(float64(escalated))
	sweepInstancesTotal.WithLabelValues("blocked").Add(float64(blocked))
	sweepInstancesTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordNotification records a notification delivery attempt.
func RecordNotification(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	notificationsTotal.WithLabelValues(kind, status).Inc()
}
