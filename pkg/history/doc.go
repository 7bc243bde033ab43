// Package history implements an independent periodic usage sampler that
// is an ambient collaborator of the core scheduling system: a ticker loop
// that reuses the shared Prober to snapshot every catalog host's CPU,
// RAM, and GPU usage and appends one row per host to a long-lived CSV
// log.
//
// It follows a sample-every-hour-then-append-to-a-growing-log design,
// using a ticker loop with an immediate first sample in place of a
// Prometheus fan-out, since this sampler's output is a durable log
// rather than a live gauge.
//
// The sampler never mutates hosts.csv, jobs.csv, or reservations.csv: it
// loads the catalog purely to discover what to probe, keeping it a
// genuinely independent collaborator rather than a third writer racing
// the scheduler and reservation manager over the same tables.
package history
