package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReservationsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reservations_created_total",
			Help: "Total number of reservations admitted",
		},
	)

	ReservationsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_rejected_total",
			Help: "Total number of reservation requests rejected, by reason",
		},
		[]string{"reason"},
	)

	ReservationsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reservations_active",
			Help: "Current reservations by status",
		},
		[]string{"status"},
	)

	ContainersStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "containers_started_total",
			Help: "Total number of containers successfully started by the reconciler",
		},
	)

	ContainersStoppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "containers_stopped_total",
			Help: "Total number of containers stopped by the reconciler",
		},
	)

	ContainersRestartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "containers_restarted_total",
			Help: "Total number of containers restarted (crash recovery or explicit restart)",
		},
	)

	ContainersOrphanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "containers_orphaned_total",
			Help: "Total number of orphaned containers cleaned up by the sweep",
		},
	)

	PortAllocationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "port_allocation_retries_total",
			Help: "Total number of port allocation attempts that found the candidate already bound",
		},
	)

	ReconcilerTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_tick_duration_seconds",
			Help:    "Duration of each reconciler tick phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)
)

func init() {
	prometheus.MustRegister(ReservationsCreatedTotal)
	prometheus.MustRegister(ReservationsRejectedTotal)
	prometheus.MustRegister(ReservationsActive)
	prometheus.MustRegister(ContainersStartedTotal)
	prometheus.MustRegister(ContainersStoppedTotal)
	prometheus.MustRegister(ContainersRestartedTotal)
	prometheus.MustRegister(ContainersOrphanedTotal)
	prometheus.MustRegister(PortAllocationRetriesTotal)
	prometheus.MustRegister(ReconcilerTickDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
