/*
Package transport executes commands on remote hosts over SSH and copies
directory trees between them. It is the lowest leaf in the dependency
order: Transport -> Prober -> Catalog -> Notifier -> (Reservation
Manager, Job Scheduler).

# Contract

Transport never interprets stdout and never decides what to run; every
command string is supplied by the caller (the Prober builds probe
commands, the Job Scheduler builds launcher and status-file commands).
Session lifetime is scoped to a single call except ExecDetached, whose
remote child must outlive the SSH session that started it.

# Design notes

Exec/scp operations are reworked as an explicit Go interface so every
caller can be tested against a fake instead of dialing real SSH; the
dial/session lifecycle (connect, defer close, run, collect output)
mirrors a connect/request-credential pattern adapted from mTLS+gRPC to
password-authenticated SSH+SFTP.

# Error Kinds

Exec/ExecDetached/CopyTree all return one of three sentinel errors
(ErrConnect, ErrExec, ErrCopy), wrapped with %w so callers classify
failures with errors.Is rather than string matching.
*/
package transport
