// Package history is a ticker-driven usage sampler, independent of the job
// scheduler and reservation manager: it never touches jobs.csv, hosts.csv's
// accounting columns, or reservations.csv, and exists purely to append a
// timestamped CPU/GPU/RAM snapshot of every catalog host to a growing log.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/anchieta/coresched/pkg/catalog"
	"github.com/anchieta/coresched/pkg/log"
	"github.com/anchieta/coresched/pkg/metrics"
	"github.com/anchieta/coresched/pkg/prober"
	"github.com/anchieta/coresched/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is the hourly cadence for this kind of low-urgency
// background sampling.
const DefaultInterval = time.Hour

// Sampler periodically probes every catalog host and appends a row to a
// history CSV. It is read-only with respect to the catalog: it loads hosts
// to know what to probe but never calls Debit/Credit/Save.
type Sampler struct {
	hostsPath, usersPath, historyPath string
	prober                            *prober.Prober
	interval                          time.Duration

	logger zerolog.Logger
	stopCh chan struct{}
}

// New returns a Sampler that reads hosts from hostsPath/usersPath and
// appends rows to historyPath every interval.
func New(hostsPath, usersPath, historyPath string, p *prober.Prober, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		hostsPath:   hostsPath,
		usersPath:   usersPath,
		historyPath: historyPath,
		prober:      p,
		interval:    interval,
		logger:      log.WithComponent("history"),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the sampler's ticker loop in the background, sampling once
// immediately and then every interval.
func (s *Sampler) Start() {
	go s.run()
}

// Stop terminates the ticker loop.
func (s *Sampler) Stop() {
	close(s.stopCh)
}

func (s *Sampler) run() {
	s.Sample(context.Background())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sample(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sample performs one sampling pass: load the catalog, probe every host in
// parallel, and append one row per reachable host to the history log. It
// is exported so the CLI's one-shot `history sample` subcommand can drive
// it directly outside the ticker loop.
func (s *Sampler) Sample(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HistorySampleDuration)

	cat := catalog.New()
	if err := cat.Load(s.hostsPath, s.usersPath); err != nil {
		s.logger.Error().Err(err).Msg("failed to load catalog for sampling")
		return err
	}

	hosts := cat.HostsInOrder()
	rows := make([]*row, len(hosts))

	var wg sync.WaitGroup
	wg.Add(len(hosts))
	for i, h := range hosts {
		go func(i int, h *types.Host) {
			defer wg.Done()
			r, err := s.probeHost(ctx, h)
			if err != nil {
				s.logger.Warn().Str("host", h.Name).Err(err).Msg("sample probe failed, skipping host this round")
				return
			}
			rows[i] = r
		}(i, h)
	}
	wg.Wait()

	sampled := make([]*row, 0, len(rows))
	for _, r := range rows {
		if r != nil {
			sampled = append(sampled, r)
			for _, g := range r.gpus {
				metrics.ObserveGPUUtilization(r.host, g.Index, g.UtilizationPercent)
			}
		}
	}

	return appendHistory(s.historyPath, sampled)
}

type row struct {
	timestamp   time.Time
	host        string
	cpuPercent  float64
	ramUsedGiB  float64
	ramTotalGiB float64
	gpus        []prober.GPUInfo
}

func (s *Sampler) probeHost(ctx context.Context, h *types.Host) (*row, error) {
	cpuPct, err := s.prober.CPUUsage(ctx, h)
	if err != nil {
		return nil, err
	}
	ram, err := s.prober.RAMUsage(ctx, h)
	if err != nil {
		return nil, err
	}
	gpus, err := s.prober.GPUUsage(ctx, h)
	if err != nil {
		// GPU inventory is best-effort: a host with no nvidia-smi still
		// gets a CPU/RAM row.
		gpus = nil
	}

	return &row{
		timestamp:   time.Now(),
		host:        h.Name,
		cpuPercent:  cpuPct,
		ramUsedGiB:  ram.UsedGiB,
		ramTotalGiB: ram.TotalGiB,
		gpus:        gpus,
	}, nil
}
