package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog metrics
	HostsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coresched_hosts_total",
			Help: "Total number of registered hosts by admin status",
		},
		[]string{"status"},
	)

	HostsCPUUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coresched_host_cpu_used",
			Help: "Live CPU-debited count per host, recomputed every scheduler tick",
		},
		[]string{"host"},
	)

	GPUsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coresched_gpus_total",
			Help: "Total number of GPUs by host and availability tag",
		},
		[]string{"host", "status"},
	)

	UsersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coresched_users_total",
			Help: "Total number of user-limit rows in the catalog",
		},
	)

	// Job metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coresched_jobs_total",
			Help: "Total number of jobs by state",
		},
		[]string{"state"},
	)

	JobsScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coresched_jobs_scheduled_total",
			Help: "Total number of jobs successfully placed on a host",
		},
	)

	JobsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coresched_jobs_failed_total",
			Help: "Total number of jobs that ended not_finished_correctly or copy_fail",
		},
	)

	JobPlacementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coresched_job_placement_duration_seconds",
			Help:    "Time taken to place a pending job on a host",
			Buckets: prometheus.DefBuckets,
		},
	)

	CopyBackDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coresched_copy_back_duration_seconds",
			Help:    "Time taken to copy a finished job's execution directory back to its origin",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coresched_scheduler_tick_duration_seconds",
			Help:    "Time taken for one scheduler tick across the full job table",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reservation metrics
	ReservationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coresched_reservations_total",
			Help: "Total number of reservations by state",
		},
		[]string{"state"},
	)

	ReservationTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coresched_reservation_tick_duration_seconds",
			Help:    "Time taken for one reservation manager tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Notifier metrics
	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coresched_notifications_sent_total",
			Help: "Total number of notification emails successfully dispatched by kind",
		},
		[]string{"kind"},
	)

	NotificationsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coresched_notifications_failed_total",
			Help: "Total number of notification emails that failed to dispatch by kind",
		},
		[]string{"kind"},
	)

	// Transport metrics
	TransportExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coresched_transport_exec_duration_seconds",
			Help:    "Time taken for a remote Exec call by host",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	TransportErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coresched_transport_errors_total",
			Help: "Total number of transport failures by host and operation",
		},
		[]string{"host", "operation"},
	)

	// History sampler metrics
	HistorySampleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coresched_history_sample_duration_seconds",
			Help:    "Time taken for one history-sampler pass across all hosts",
			Buckets: prometheus.DefBuckets,
		},
	)

	GPUUtilizationPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coresched_gpu_utilization_percent",
			Help: "Most recently sampled GPU utilization percentage by host and index",
		},
		[]string{"host", "gpu_index"},
	)
)

func init() {
	prometheus.MustRegister(HostsTotal)
	prometheus.MustRegister(HostsCPUUsed)
	prometheus.MustRegister(GPUsTotal)
	prometheus.MustRegister(UsersTotal)

	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsScheduledTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobPlacementDuration)
	prometheus.MustRegister(CopyBackDuration)
	prometheus.MustRegister(SchedulerTickDuration)

	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(ReservationTickDuration)

	prometheus.MustRegister(NotificationsSentTotal)
	prometheus.MustRegister(NotificationsFailedTotal)

	prometheus.MustRegister(TransportExecDuration)
	prometheus.MustRegister(TransportErrorsTotal)

	prometheus.MustRegister(HistorySampleDuration)
	prometheus.MustRegister(GPUUtilizationPercent)
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
