/*
Package metrics provides Prometheus metrics collection and exposition for
coresched.

The metrics package defines and registers every coresched metric using the
Prometheus client library, providing observability into host/GPU inventory,
job placement and lifecycle, reservation state, transport health, and the
history sampler. Metrics are exposed via an HTTP endpoint for scraping by
Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (hosts, jobs, GPUs)  │          │
	│  │  Counter: Monotonic increases (scheduled)   │          │
	│  │  Histogram: Distributions (tick, copy-back) │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Catalog: hosts, GPUs, users                │          │
	│  │  Jobs: state, placement, copy-back, failure │          │
	│  │  Reservations: state, tick duration         │          │
	│  │  Notifications: sent/failed by kind         │          │
	│  │  Transport: exec duration, errors           │          │
	│  │  History: sample duration, GPU utilization  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Collector:
  - Periodic, read-only fan-out: reloads hosts.csv/jobs.csv/reservations.csv
    on its own ticker (collectInterval) and republishes gauge snapshots
  - Accepts loadJobs/loadReservations as injected function values rather
    than importing pkg/scheduler/pkg/reservation directly, since both of
    those packages import pkg/metrics for instrumentation

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

Catalog Metrics:

coresched_hosts_total{status}:
  - Type: Gauge
  - Description: Total hosts by admin status
  - Example: coresched_hosts_total{status="active"} 12

coresched_host_cpu_used{host}:
  - Type: Gauge
  - Description: Live CPU-debited count per host, recomputed every scheduler tick
  - Example: coresched_host_cpu_used{host="gpu03"} 16

coresched_gpus_total{host,status}:
  - Type: Gauge
  - Description: Total GPUs by host and availability tag
  - Example: coresched_gpus_total{host="gpu03",status="available"} 6

coresched_users_total:
  - Type: Gauge
  - Description: Total user-limit rows in the catalog

Job Metrics:

coresched_jobs_total{state}:
  - Type: Gauge
  - Description: Total jobs by normalized state
  - Example: coresched_jobs_total{state="running"} 30

coresched_jobs_scheduled_total:
  - Type: Counter
  - Description: Total jobs successfully placed on a host

coresched_jobs_failed_total:
  - Type: Counter
  - Description: Total jobs that ended not_finished_correctly or copy_fail

coresched_job_placement_duration_seconds:
  - Type: Histogram
  - Description: Time to place a pending job on a host
  - Buckets: Default Prometheus buckets

coresched_copy_back_duration_seconds:
  - Type: Histogram
  - Description: Time to copy a finished job's execution directory back to its origin
  - Buckets: 1, 5, 10, 30, 60, 120, 300, 600, 1800

coresched_scheduler_tick_duration_seconds:
  - Type: Histogram
  - Description: Time for one scheduler tick across the full job table
  - Buckets: Default Prometheus buckets

Reservation Metrics:

coresched_reservations_total{state}:
  - Type: Gauge
  - Description: Total reservations by state

coresched_reservation_tick_duration_seconds:
  - Type: Histogram
  - Description: Time for one reservation manager tick

Notification Metrics:

coresched_notifications_sent_total{kind}:
  - Type: Counter
  - Description: Total notification emails successfully dispatched by kind

coresched_notifications_failed_total{kind}:
  - Type: Counter
  - Description: Total notification emails that failed to dispatch by kind

Transport Metrics:

coresched_transport_exec_duration_seconds{host}:
  - Type: Histogram
  - Description: Time for a remote Exec call by host
  - Buckets: Default Prometheus buckets

coresched_transport_errors_total{host,operation}:
  - Type: Counter
  - Description: Total transport failures by host and operation (exec, exec_detached, copy_tree)

History Metrics:

coresched_history_sample_duration_seconds:
  - Type: Histogram
  - Description: Time for one history-sampler pass across all hosts

coresched_gpu_utilization_percent{host,gpu_index}:
  - Type: Gauge
  - Description: Most recently sampled GPU utilization percentage by host and index

# Usage

Updating Gauge Metrics:

	import "github.com/anchieta/coresched/pkg/metrics"

	metrics.HostsTotal.WithLabelValues("active").Set(12)
	metrics.UsersTotal.Inc()
	metrics.UsersTotal.Dec()

Updating Counter Metrics:

	metrics.JobsScheduledTotal.Inc()
	metrics.NotificationsSentTotal.WithLabelValues("job-finished").Add(1)

Recording Histogram Observations:

	// Direct observation
	metrics.CopyBackDuration.Observe(12.5) // seconds

	// Using Timer helper
	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.JobPlacementDuration)

Using Timer with Labels:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.TransportExecDuration, host.Name)

Complete Example:

	package main

	import (
		"net/http"

		"github.com/anchieta/coresched/pkg/metrics"
	)

	func main() {
		collector := metrics.NewCollector(hostsPath, usersPath, jobsPath, reservationsPath,
			scheduler.LoadJobs, reservation.LoadReservations)
		collector.Start()

		http.Handle("/metrics", metrics.Handler())
		http.ListenAndServe(":9090", nil)
	}

# Integration Points

This package integrates with:

  - pkg/scheduler: records tick, placement, copy-back, failure, transport, and notification metrics
  - pkg/reservation: records tick, state-count, and notification metrics
  - pkg/history: records sample duration and per-GPU utilization
  - Prometheus: scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels (host count, job state,
    notification kind)
  - Avoid high-cardinality labels (job IDs, timestamps)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration
  - Supports both simple and vector histograms

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any coresched package
  - Thread-safe concurrent updates

# Troubleshooting

Missing Metrics:
  - Check: metric registered in init() function
  - Check: MustRegister called (panics if duplicate)
  - Check: the Collector's ticker has actually started (Collector.Start)

High Cardinality:
  - Cause: using job keys or timestamps as labels
  - Solution: aggregate by host/state/kind instead

Stale Metrics:
  - Cause: scheduler/reservation manager not ticking, or Collector.Start not called
  - Check: log lines from the scheduler/reservation/history ticker loops

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
