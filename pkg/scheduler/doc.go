/*
Package scheduler drives the job table through the placement, execution,
and copy-back state machine.

# Architecture

The scheduler operates on a fixed 5-second tick, reloading both the job
table and the host/user catalog from disk at the start of every cycle:

	┌────────────────────────────────────────────────────────────┐
	│                     Scheduler Tick                         │
	│                    (Every 5 seconds)                        │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. Reload jobs.csv and hosts.csv/users.csv                │
	│  2. RefreshLive: probe every host's GPU table                │
	│  3. reconcileAccounting: recompute CPU-debited from jobs    │
	│  4. Drive every row through its state's handler             │
	│  5. Persist both tables                                     │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	    ┌────────────┼────────────┬───────────────┐
	    ▼             ▼            ▼               ▼
	pending       running     copy_finished    finished /
	tryPlace      pollRunning dispatchCopyBack not_finished_correctly /
	                                           copy_fail
	                                           finalize

# Core Components

Scheduler: the tick-driven engine that owns the job table.

	sched := scheduler.New(jobsPath, hostsPath, usersPath, tr, prober, notif)
	sched.Start()  // begins the 5-second tick loop
	defer sched.Stop()

The scheduler keeps no state across ticks beyond what it just loaded from
disk: a crash between any two ticks leaves the tables in a consistent,
resumable state.

# State Machine

## pending -> running

tryPlace checks the submitting user's concurrency limits, searches the
catalog in file order for a host with enough free CPU (and, if requested,
an available matching GPU), copies the origin tree to a generated
execution directory, computes a CPU core mask disjoint from every other
non-terminal job on that host, renders and launches the remote script,
and debits the catalog. Any transport failure at this stage leaves the
job in pending for the next tick to retry.

## running -> copy_finished / not_finished_correctly

pollRunning reads the remote status file. A "running" line is followed by
a liveness check (kill -0) against the recorded PID: a process that is no
longer there without having reached copy_finished is not_finished_correctly.

## copy_finished -> copying -> finished / copy_fail

The tick dispatcher flips a copy_finished row to copying synchronously
and hands the actual remote-status-flip and tree copy to a bounded
github.com/gammazero/workerpool pool, so multiple copy-backs run
concurrently without spawning one goroutine per job. Because the worker
only ever writes a row already in state copying, it never races the next
tick's dispatcher over the same row.

## terminal -> notified

finalize is idempotent on NotificationEnd: it sends the terminal email
exactly once, attempts a best-effort copy-back for rows that never
reached copy_finished, and only credits the catalog once notification
has been delivered; a failed send leaves the row for the next tick.

# Design Patterns

## Reload-every-tick

Unlike a design that keeps the job table resident in memory, this
scheduler treats jobs.csv and hosts.csv as the source of truth on every
tick. This is what makes reconcileAccounting meaningful: CPU-debited
and per-GPU availability are derived from the job table every cycle
rather than carried forward, so they self-heal after an unexpected
process restart or an operator hand-edit of either file.

## Bounded copy-back pool

Earlier designs that spawn one detached goroutine per finishing job scale
their background work with job volume. Routing copy-back through a fixed
pool bounds outbound SFTP connections regardless of how many jobs finish
in the same tick.

# See Also

  - pkg/catalog - host/user table and live GPU refresh
  - pkg/transport - the SSH/SFTP capability surface this package drives
  - pkg/notifier - job-started/finished/failed email dispatch
  - pkg/reservation - the sibling calendar-interval state machine
*/
package scheduler
