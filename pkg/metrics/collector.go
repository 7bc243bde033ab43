package metrics

import (
	"strconv"
	"time"

	"github.com/anchieta/coresched/pkg/catalog"
	"github.com/anchieta/coresched/pkg/types"
)

// collectInterval is the gauge-refresh cadence.
const collectInterval = 15 * time.Second

// Collector periodically snapshots the catalog and job/reservation tables
// into the package's Prometheus gauges. It is read-only: like pkg/history,
// it never mutates any table, only reads the files the scheduler and
// reservation manager already maintain.
type Collector struct {
	hostsPath, usersPath, jobsPath, reservationsPath string
	loadJobs                                         func(path string) ([]*types.Job, error)
	loadReservations                                 func(path string) ([]*types.Reservation, error)
	stopCh                                            chan struct{}
}

// NewCollector returns a Collector reading the given table paths. loadJobs
// and loadReservations are injected so this package never imports
// pkg/scheduler or pkg/reservation directly (both already depend on
// pkg/metrics for instrumentation, and a reverse import would cycle).
func NewCollector(hostsPath, usersPath, jobsPath, reservationsPath string,
	loadJobs func(string) ([]*types.Job, error),
	loadReservations func(string) ([]*types.Reservation, error)) *Collector {
	return &Collector{
		hostsPath:        hostsPath,
		usersPath:        usersPath,
		jobsPath:         jobsPath,
		reservationsPath: reservationsPath,
		loadJobs:         loadJobs,
		loadReservations: loadReservations,
		stopCh:           make(chan struct{}),
	}
}

// Start begins collecting metrics in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectCatalogMetrics()
	c.collectJobMetrics()
	c.collectReservationMetrics()
}

func (c *Collector) collectCatalogMetrics() {
	cat := catalog.New()
	if err := cat.Load(c.hostsPath, c.usersPath); err != nil {
		return
	}

	statusCounts := map[string]int{}
	for _, h := range cat.Hosts {
		statusCounts[h.Status]++
		HostsCPUUsed.WithLabelValues(h.Name).Set(float64(h.CPUUsed))

		gpuCounts := map[types.GPUAvailability]int{}
		for _, rec := range h.GPUs {
			gpuCounts[rec.Status]++
		}
		for status, count := range gpuCounts {
			GPUsTotal.WithLabelValues(h.Name, string(status)).Set(float64(count))
		}
	}
	for status, count := range statusCounts {
		HostsTotal.WithLabelValues(status).Set(float64(count))
	}

	UsersTotal.Set(float64(len(cat.Users)))
}

func (c *Collector) collectJobMetrics() {
	jobs, err := c.loadJobs(c.jobsPath)
	if err != nil {
		return
	}

	stateCounts := map[types.JobState]int{}
	for _, j := range jobs {
		stateCounts[j.Status.Normalize()]++
	}
	for state, count := range stateCounts {
		JobsTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectReservationMetrics() {
	rows, err := c.loadReservations(c.reservationsPath)
	if err != nil {
		return
	}

	stateCounts := map[types.ReservationState]int{}
	for _, r := range rows {
		stateCounts[r.Status]++
	}
	for state, count := range stateCounts {
		ReservationsTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

// ObserveGPUUtilization records the most recently sampled utilization
// percentage for one host/GPU pair, called by pkg/history after each
// sampling pass.
func ObserveGPUUtilization(host string, gpuIndex int, percent float64) {
	GPUUtilizationPercent.WithLabelValues(host, strconv.Itoa(gpuIndex)).Set(percent)
}
