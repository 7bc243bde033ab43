/*
Package types defines the core data structures shared by the catalog, the
job scheduler, and the reservation manager.

This package contains every fundamental type representing the system's
domain model: hosts, per-user limits, jobs, and reservations. These types
are used by all other packages for state management and persistence; no
other package defines a competing notion of these entities.

# Architecture

The types package is the foundation of the shared data model. It defines:

  - Host inventory (network address, credentials, CPU/GPU allow-lists, live
    per-tick accounting)
  - Per-user limits (concurrent job cap, concurrent GPU-job cap, CPU cap)
  - Job lifecycle (submission, placement result, state machine, timestamps)
  - Reservation lifecycle (calendar interval, held resources, notification
    idempotency flags)

All types are designed to be:
  - Serializable to the on-disk CSV schemas (the column mapping is
    hand-written in the catalog, scheduler and reservation packages; the
    structs carry no struct tags)
  - Self-documenting (clear field names and comments)
  - Validated through typed enum states rather than bare strings

# Core Types

Host Inventory:
  - Host: registered remote machine, allow-lists, live CPU/GPU accounting
  - GPURecord: one GPU index's model name and scheduling tag
  - GPUAvailability: available, blocked, or running

User Limits:
  - UserLimit: per-user job cap, GPU-job cap, CPU cap
  - DefaultUserLimit: built-in fallback {2, unlimited, unlimited}

Job Lifecycle:
  - Job: one submission with resource request, placement result, timestamps
  - JobState: pending, running, copy_finished, copying, finished,
    not_finished_correctly, copy_fail
  - RemoteStatus: the token the launcher writes to labmonitor.status --
    distinct from JobState because it is the remote process's self-report,
    not the scheduler's local record of it

Reservation Lifecycle:
  - Reservation: one calendar-interval hold on a host's CPU/GPU
  - ReservationState: waiting, running, finished

# State Machine

Jobs follow this state machine:

	pending -> running -> copy_finished -> copying -> finished
	   |          |
	   |          +--> not_finished_correctly
	   +--> (stays pending; retried next tick)

copy_fail is reached from copying, when the inbound copy-back fails, and
from copy_finished, when the execution or origin host is missing from the
catalog; it is terminal and requires operator intervention.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants so the compiler catches typos,
	while the underlying string is exactly the on-disk CSV token:
	  type JobState string
	  const (
	      JobPending JobState = "pending"
	      JobRunning JobState = "running"
	  )

Empty-state normalization:

	JobState.Normalize() maps an empty or unrecognized string to pending,
	matching the source dataframe's untyped sentinel handling.

# Thread Safety

Types in this package carry no internal synchronization. Mutation is the
responsibility of the owning package: catalog owns Host/UserLimit, the
scheduler owns Job, the reservation manager owns Reservation.
*/
package types
