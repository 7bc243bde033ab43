package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anchieta/coresched/pkg/catalog"
	"github.com/anchieta/coresched/pkg/log"
	"github.com/anchieta/coresched/pkg/metrics"
	"github.com/anchieta/coresched/pkg/notifier"
	"github.com/anchieta/coresched/pkg/prober"
	"github.com/anchieta/coresched/pkg/transport"
	"github.com/anchieta/coresched/pkg/types"
	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
)

// tickInterval is the scheduler loop's polling cadence.
const tickInterval = 5 * time.Second

// defaultCopyBackWorkers bounds the copy-back worker pool independent of
// host or job count.
const defaultCopyBackWorkers = 4

// Scheduler owns the job table and drives each row through the
// placement/execution/copy-back state machine, calling Transport, Prober,
// and Catalog. It holds no in-memory shared state beyond the table and
// the Catalog snapshot loaded at the start of each tick.
//
// The Start/Stop/run ticker shape and the run/Tick/tryPlace layering
// mirror a standard ticker-driven service. Copy-back fan-out replaces
// per-job detached goroutines with a bounded github.com/gammazero/workerpool
// pool.
type Scheduler struct {
	mu sync.Mutex

	jobsPath, hostsPath, usersPath string
	jobs                           []*types.Job
	cat                            *catalog.Catalog

	transport   transport.Transport
	prober      *prober.Prober
	notif       *notifier.Notifier
	pool        *workerpool.WorkerPool
	completions chan copyBackResult

	logger zerolog.Logger
	stopCh chan struct{}
}

// New returns a Scheduler backed by the given table paths.
func New(jobsPath, hostsPath, usersPath string, tr transport.Transport, p *prober.Prober, n *notifier.Notifier) *Scheduler {
	return &Scheduler{
		jobsPath:    jobsPath,
		hostsPath:   hostsPath,
		usersPath:   usersPath,
		transport:   tr,
		prober:      p,
		notif:       n,
		pool:        workerpool.New(defaultCopyBackWorkers),
		completions: make(chan copyBackResult, defaultCopyBackWorkers*4),
		logger:      log.WithComponent("scheduler"),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the scheduler's ticker loop in the background.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop terminates the ticker loop and waits for in-flight copy-back tasks.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.pool.StopWait()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.logger.Info().Msg("scheduler started")

	for {
		select {
		case <-ticker.C:
			if err := s.Tick(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("scheduling tick failed")
				metrics.UpdateComponent("scheduler", false, err.Error())
			} else {
				metrics.UpdateComponent("scheduler", true, "ready")
			}
		case <-s.stopCh:
			s.logger.Info().Msg("scheduler stopped")
			return
		}
	}
}

// Tick performs one scheduling cycle: reload the job and host tables,
// refresh live host state, drive every row through the state machine in
// table order, then persist both tables.
func (s *Scheduler) Tick(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulerTickDuration)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.applyCopyBackCompletions()

	jobs, err := loadJobs(s.jobsPath)
	if err != nil {
		return fmt.Errorf("scheduler: load jobs: %w", err)
	}
	s.jobs = jobs

	cat := catalog.New()
	if err := cat.Load(s.hostsPath, s.usersPath); err != nil {
		return fmt.Errorf("scheduler: load catalog: %w", err)
	}
	cat.RefreshLive(ctx, s.prober)
	s.cat = cat
	s.reconcileAccounting()

	for _, job := range s.jobs {
		switch job.Status {
		case types.JobPending:
			s.tryPlace(ctx, job)
		case types.JobRunning:
			s.pollRunning(ctx, job)
		case types.JobCopyFinished:
			s.dispatchCopyBack(job)
		case types.JobCopying:
			// No-op: the copy-back worker owns a copying row until its
			// completion is applied by applyCopyBackCompletions.
		case types.JobFinished, types.JobNotFinishedCorrectly, types.JobCopyFail:
			s.finalize(job)
		}
	}

	if err := cat.Save(s.hostsPath, s.usersPath); err != nil {
		return fmt.Errorf("scheduler: save catalog: %w", err)
	}
	if err := saveJobs(s.jobsPath, s.jobs); err != nil {
		return fmt.Errorf("scheduler: save jobs: %w", err)
	}
	return nil
}

// applyCopyBackCompletions drains every pending copyBackResult and applies
// it to the row it names in the table this tick is about to replace, then
// persists that table immediately. A copy-back can outlive the tick that
// dispatched it, so by the time it finishes s.jobs has already been
// reloaded from disk one or more times and the *types.Job pointer the
// worker started with is orphaned; writing to it and saving s.jobs would
// silently drop the completion and strand the row in copying forever.
// Matching by Key() against the table still held by the scheduler sidesteps
// that, and reloading immediately afterward folds the change back in before
// the rest of the tick runs.
func (s *Scheduler) applyCopyBackCompletions() {
	applied := false
drain:
	for {
		select {
		case res := <-s.completions:
			for _, job := range s.jobs {
				if job.Status == types.JobCopying && job.Key() == res.jobKey {
					job.Status = res.status
					job.Observation = res.observation
					applied = true
					break
				}
			}
		default:
			break drain
		}
	}
	if !applied {
		return
	}
	if err := saveJobs(s.jobsPath, s.jobs); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist jobs after copy-back completion")
	}
}

// reconcileAccounting recomputes every host's CPU-debited count and
// occupied-GPU tag from the just-reloaded job table rather than trusting
// the catalog's persisted values, so a scheduler restart reconverges even
// if the two tables were edited independently.
func (s *Scheduler) reconcileAccounting() {
	for _, h := range s.cat.Hosts {
		h.CPUUsed = 0
	}
	for _, job := range s.jobs {
		if job.Status.Terminal() || job.Host == "" {
			continue
		}
		_ = s.cat.Debit(job.Host, job.NCPU, job.GPUIndex)
	}
}

func (s *Scheduler) tryPlace(ctx context.Context, job *types.Job) {
	wantsGPU := len(job.GPURequested) > 0
	if limitCheck(s.cat, s.jobs, job.Username, wantsGPU) {
		return
	}

	p := findHost(s.cat, job.NCPU, job.GPURequested)
	if p == nil {
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.JobPlacementDuration)

	originHost, ok := s.cat.Hosts[job.OriginHost]
	if !ok {
		s.logger.Error().Str("origin_host", job.OriginHost).Msg("origin host missing from catalog")
		return
	}

	execDir := executionDir(p.host.PathExc, job.Username, job.Submit, job.OriginPath)

	if err := s.transport.CopyTree(ctx, originHost, job.OriginPath, p.host, execDir, transport.OriginToExec); err != nil {
		job.Retries++
		metrics.TransportErrorsTotal.WithLabelValues(p.host.Name, "copy_tree").Inc()
		s.logger.Warn().Err(err).Str("host", p.host.Name).Msg("transport-transient failure copying origin tree, retrying next tick")
		return
	}

	mask := coreMask(s.jobs, p.host.Name, job.NCPU)

	job.Host = p.host.Name
	job.Address = p.host.Address
	job.PathExc = execDir
	job.Taskset = mask
	job.GPUIndex = p.gpuIndex
	job.GPUName = p.gpuName

	script, err := generateLauncher(job)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to render launcher script")
		return
	}

	execTimer := metrics.NewTimer()
	_, execErr := s.transport.Exec(ctx, p.host, writeAndLaunchCommand(execDir, script))
	execTimer.ObserveDurationVec(metrics.TransportExecDuration, p.host.Name)
	if execErr != nil {
		job.Retries++
		metrics.TransportErrorsTotal.WithLabelValues(p.host.Name, "exec").Inc()
		s.logger.Warn().Err(execErr).Str("host", p.host.Name).Msg("transport-transient failure writing launcher, retrying next tick")
		return
	}

	if err := s.transport.ExecDetached(ctx, p.host, "sh "+launchCommand(execDir)); err != nil {
		job.Retries++
		metrics.TransportErrorsTotal.WithLabelValues(p.host.Name, "exec_detached").Inc()
		s.logger.Warn().Err(err).Str("host", p.host.Name).Msg("transport-transient failure launching job, retrying next tick")
		return
	}

	if out, err := s.transport.Exec(ctx, p.host, "cat "+statusFilePath(execDir)); err == nil {
		if _, pid, ok := parseRemoteStatus(out); ok {
			job.PID = pid
		}
	}

	job.Inicio = time.Now()
	job.Status = types.JobRunning
	_ = s.cat.Debit(p.host.Name, job.NCPU, p.gpuIndex)
	metrics.JobsScheduledTotal.Inc()

	jobLog := log.WithJob(job.Username, job.Submit.Format(time.RFC3339))
	jobLog.Info().Str("host", p.host.Name).Msg("placed job")

	if s.sendNotification(notifier.JobStarted, job.Email, jobFields(job), "") {
		job.NotificationStart = true
	}
}

// sendNotification wraps Notifier.Send with the sent/failed counters by
// kind; a nil notifier counts as neither.
func (s *Scheduler) sendNotification(kind notifier.Kind, to string, fields map[string]string, observation string) bool {
	if s.notif == nil {
		return true
	}
	ok := s.notif.Send(kind, to, fields, observation)
	if ok {
		metrics.NotificationsSentTotal.WithLabelValues(string(kind)).Inc()
	} else {
		metrics.NotificationsFailedTotal.WithLabelValues(string(kind)).Inc()
	}
	return ok
}

func (s *Scheduler) pollRunning(ctx context.Context, job *types.Job) {
	host, ok := s.cat.Hosts[job.Host]
	if !ok {
		return
	}

	out, err := s.transport.Exec(ctx, host, "cat "+statusFilePath(job.PathExc))
	if err != nil {
		job.Retries++
		s.logger.Warn().Err(err).Str("host", job.Host).Msg("transport-transient failure probing status, retrying next tick")
		return
	}

	state, pid, ok := parseRemoteStatus(out)
	if !ok {
		return
	}

	switch state {
	case types.RemoteStarted:
		// No-op: the launcher writes running right after started, so the
		// row stays running until the next poll sees that token.
	case types.RemoteCopyFinished:
		job.Status = types.JobCopyFinished
	case types.RemoteRunning:
		if !s.processAlive(ctx, host, pid) {
			job.Status = types.JobNotFinishedCorrectly
		}
	}
}

func (s *Scheduler) processAlive(ctx context.Context, host *types.Host, pid int) bool {
	out, err := s.transport.Exec(ctx, host, fmt.Sprintf("kill -0 %d 2>/dev/null && echo alive || echo dead", pid))
	if err != nil {
		// Transport-transient: assume alive so a flaky probe doesn't kill a healthy job.
		return true
	}
	return strings.Contains(out, "alive")
}

// copyBackResult is the outcome of one background copy-back. runCopyBack
// reports it over a channel rather than writing job.Status directly on
// its captured *types.Job: that pointer comes from the table snapshot of
// the tick that dispatched the work, and a copy-back that outlives one
// 5-second tick -- the whole reason it runs on a pool instead of inline --
// finds that pointer orphaned by the next reload. applyCopyBackCompletions
// looks the row up by jobKey in whatever table the scheduler currently
// holds instead.
type copyBackResult struct {
	jobKey      string
	status      types.JobState
	observation string
}

func (s *Scheduler) dispatchCopyBack(job *types.Job) {
	execHost, ok1 := s.cat.Hosts[job.Host]
	originHost, ok2 := s.cat.Hosts[job.OriginHost]
	if !ok1 || !ok2 {
		job.Status = types.JobCopyFail
		return
	}

	job.Status = types.JobCopying

	execSnapshot := *execHost
	originSnapshot := *originHost
	jobKey := job.Key()
	pid := job.PID
	pathExc := job.PathExc
	originPath := job.OriginPath
	s.pool.Submit(func() {
		s.runCopyBack(jobKey, pid, pathExc, originPath, &execSnapshot, &originSnapshot)
	})
}

// runCopyBack runs on the worker pool, concurrently with later ticks. It
// never touches s.jobs or the Scheduler's mutex directly: its only shared
// side effect is handing a copyBackResult to applyCopyBackCompletions,
// which is the sole writer of job state for copy-back outcomes.
func (s *Scheduler) runCopyBack(jobKey string, pid int, pathExc, originPath string, execHost, originHost *types.Host) {
	ctx := context.Background()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CopyBackDuration)

	_, _ = s.transport.Exec(ctx, execHost, fmt.Sprintf("echo 'copying - %d' > %s", pid, statusFilePath(pathExc)))
	err := s.transport.CopyTree(ctx, execHost, pathExc, originHost, originPath, transport.ExecToOrigin)

	result := copyBackResult{jobKey: jobKey}
	if err != nil {
		result.status = types.JobCopyFail
		result.observation = "copy-back failed: " + err.Error()
		metrics.TransportErrorsTotal.WithLabelValues(execHost.Name, "copy_tree").Inc()
		s.logger.Error().Err(err).Str("job", jobKey).Msg("copy-back failed")
	} else {
		_, _ = s.transport.Exec(ctx, execHost, fmt.Sprintf("echo 'finished - %d' > %s", pid, statusFilePath(pathExc)))
		result.status = types.JobFinished
	}

	s.completions <- result
}

// finalize runs once per terminal row, gated by NotificationEnd: it
// records the finish timestamp, best-effort copies back a row that never
// reached copy-finished, sends the terminal email, and credits the
// catalog only once delivery has succeeded; a failed send leaves the row
// uncredited and retries on the next tick.
func (s *Scheduler) finalize(job *types.Job) {
	if job.NotificationEnd {
		return
	}
	if job.Fim.IsZero() {
		job.Fim = time.Now()
	}

	var sent bool
	switch job.Status {
	case types.JobFinished:
		sent = s.sendNotification(notifier.JobFinished, job.Email, jobFields(job), job.Observation)
	case types.JobNotFinishedCorrectly:
		s.bestEffortCopyBack(job)
		metrics.JobsFailedTotal.Inc()
		sent = s.sendNotification(notifier.JobFailed, job.Email, jobFields(job), job.Observation)
	case types.JobCopyFail:
		metrics.JobsFailedTotal.Inc()
		sent = s.sendNotification(notifier.JobFailed, job.Email, jobFields(job), job.Observation)
	}

	if !sent {
		return
	}
	job.NotificationEnd = true
	_ = s.cat.Credit(job.Host, job.NCPU, job.GPUIndex)
}

func (s *Scheduler) bestEffortCopyBack(job *types.Job) {
	execHost, ok1 := s.cat.Hosts[job.Host]
	originHost, ok2 := s.cat.Hosts[job.OriginHost]
	if !ok1 || !ok2 {
		return
	}
	if err := s.transport.CopyTree(context.Background(), execHost, job.PathExc, originHost, job.OriginPath, transport.ExecToOrigin); err != nil {
		job.Observation = "copy-back failed: " + err.Error()
	}
}

func executionDir(hostRoot, username string, submit time.Time, originPath string) string {
	return fmt.Sprintf("%s/%s_%s/%s", hostRoot, username, submit.Format("20060102T150405"), filepath.Base(originPath))
}

func jobFields(job *types.Job) map[string]string {
	return map[string]string{
		"host":     job.Host,
		"job_name": job.JobName,
		"username": job.Username,
		"n_cpu":    fmt.Sprintf("%d", job.NCPU),
		"gpu_name": job.GPUName,
		"status":   string(job.Status),
	}
}
