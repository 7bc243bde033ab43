package types

import "time"

// Host represents a registered remote machine reachable over SSH.
type Host struct {
	Name           string // stable unique key
	Address        string // network address (ip or hostname)
	Username       string
	Password       string
	Status         string // operator-declared admin status string, passed through verbatim
	AllowedCPU     int    // administrative CPU budget
	CPUUsed        int    // live CPU-debited count, recomputed every tick
	AllowedGPU     []string
	PathExc        string // staging root on the host
	GPUs           map[int]*GPURecord
	LastProbeAt    time.Time
	LastProbeError string
}

// GPURecord is the live per-index state of a single GPU on a host.
type GPURecord struct {
	Index  int
	Model  string
	Status GPUAvailability
}

// GPUAvailability is the scheduling tag derived from the allow-list on every refresh.
type GPUAvailability string

const (
	GPUAvailable GPUAvailability = "available"
	GPUBlocked   GPUAvailability = "blocked"
	GPURunning   GPUAvailability = "running"
)

// NullGPUModel marks a host with no physical GPU; refresh-live emits a
// synthetic {index 0, model Null} record for such hosts.
const NullGPUModel = "Null"

// UserLimit caps per-user concurrency. A row named "default" supplies fallbacks.
type UserLimit struct {
	Username  string
	JobCap    int // simultaneous_jobs_limit; <=0 means unlimited
	GPUJobCap int // gpu_limit; <=0 means unlimited
	CPUCap    int // cpu_limit; <=0 means unlimited
}

// DefaultUserLimit is returned by Catalog.UserLimit when neither the named
// user nor a "default" row exists.
var DefaultUserLimit = UserLimit{Username: "default", JobCap: 2, GPUJobCap: 0, CPUCap: 0}

// JobState is the state-machine position of a Job.
type JobState string

const (
	JobPending              JobState = "pending"
	JobRunning              JobState = "running"
	JobCopyFinished         JobState = "copy_finished"
	JobCopying              JobState = "copying"
	JobFinished             JobState = "finished"
	JobNotFinishedCorrectly JobState = "not_finished_correctly"
	JobCopyFail             JobState = "copy_fail"
)

// Normalize treats an empty or unrecognized state as pending.
func (s JobState) Normalize() JobState {
	switch s {
	case JobPending, JobRunning, JobCopyFinished, JobCopying, JobFinished, JobNotFinishedCorrectly, JobCopyFail:
		return s
	default:
		return JobPending
	}
}

// Terminal reports whether a job in this state is done being driven by the scheduler tick.
func (s JobState) Terminal() bool {
	return s == JobFinished || s == JobNotFinishedCorrectly || s == JobCopyFail
}

// NonTerminal reports whether a job in this state still holds its resources
// (CPU mask, GPU index) against the catalog -- used by invariants 1-3.
func (s JobState) NonTerminal() bool {
	return !s.Terminal()
}

// RemoteStatus is the single-line token written to labmonitor.status by the
// launcher. Distinct from JobState: it is what the remote
// process reports, not what the scheduler has recorded locally.
type RemoteStatus string

const (
	RemoteStarted              RemoteStatus = "started"
	RemoteRunning              RemoteStatus = "running"
	RemoteCopyFinished         RemoteStatus = "copy_finished"
	RemoteCopying              RemoteStatus = "copying"
	RemoteFinished             RemoteStatus = "finished"
	RemoteCopyFail             RemoteStatus = "copy_fail"
	RemoteNotFinishedCorrectly RemoteStatus = "not_finished_correctly"
)

// Job is one user submission.
type Job struct {
	Submit       time.Time // monotonic tiebreaker + part of the row key
	Username     string
	JobName      string
	ScriptName   string
	OriginHost   string
	OriginPath   string
	NCPU         int
	GPURequested []string // possibly {"all"}
	Email        string

	// Placement result, filled in on the pending->running transition.
	Host     string
	Address  string
	PathExc  string
	Taskset  []int
	GPUIndex int // -1 if no GPU assigned
	GPUName  string

	PID    int
	Inicio time.Time
	Fim    time.Time

	NotificationStart bool // Y/N -- "job-started" sent
	NotificationEnd   bool // Y/N -- "job-finished" or "job-failed" sent

	Status JobState

	Observation string
	Retries     int
}

// Key returns the row identity used for table lookups: submit timestamp + user.
func (j *Job) Key() string {
	return j.Submit.Format(time.RFC3339Nano) + "|" + j.Username
}

// ReservationState is the calendar-interval status of a Reservation.
type ReservationState string

const (
	ReservationWaiting  ReservationState = "waiting"
	ReservationRunning  ReservationState = "running"
	ReservationFinished ReservationState = "finished"
)

// Reservation is one calendar-interval hold on a host's CPU and optional GPU.
type Reservation struct {
	Host     string
	Address  string
	Username string
	Status   ReservationState
	Inicio   time.Time // start, inclusive
	Fim      time.Time // end, inclusive (end-of-day semantics)
	NCPU     int
	GPUName  string
	GPUIndex int // -1 if no GPU held
	Email    string

	NotificationFirstDay bool
	NotificationLastDay  bool
}
