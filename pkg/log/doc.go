/*
Package log provides structured logging for the scheduler and reservation
manager using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, a configurable level, and helper functions
for the common one-line logging calls scattered through the supervisors.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│  Global Logger (zerolog.Logger, set by log.Init)          │
	│      │                                                    │
	│      ├── WithComponent("scheduler" | "reservation" | ...) │
	│      ├── WithHost(name)                                   │
	│      ├── WithJob(username, submit)                        │
	│      └── WithReservation(username, host)                  │
	└────────────────────────────────────────────────────────────┘

# Log Levels

  - Debug: per-host probe detail, placement candidate scoring
  - Info: job/reservation state transitions, emails sent
  - Warn: transport-transient failures that will be retried next tick
  - Error: persist-failed, copy-failed, and other non-retriable-this-tick faults
  - Fatal: configuration errors at startup only (catalog file unreadable, etc.)

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Str("host", host.Name).Msg("placed job")

	jobLog := log.WithJob(job.Username, job.Submit.Format(time.RFC3339))
	jobLog.Warn().Err(err).Msg("transport-transient failure, retrying next tick")

# Integration Points

  - pkg/scheduler: logs placement decisions, launch failures, crash recovery
  - pkg/reservation: logs status transitions and boundary-email dispatch
  - pkg/history: logs catalog-load and per-host probe failures
  - pkg/notifier: logs delivery failures (idempotency flag stays N)

# Design Patterns

Global logger, component-scoped children: a single package-level Logger is
initialized once at process start; every subsystem gets a child logger via
WithComponent so every line carries a "component" field without threading a
logger through every function signature.
*/
package log
