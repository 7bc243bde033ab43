/*
Package notifier formats and dispatches the seven per-event emails the
reservation manager and job scheduler send: shared header and footer, a
sorted table of job/reservation fields, and an optional free-text
observation block.

# Design notes

The YAML-config-driven setup is load-once, pass-by-value configuration
rather than a package-level global. Delivery is github.com/emersion/go-smtp's
client with STARTTLS, authenticated with github.com/emersion/go-sasl's
PLAIN mechanism; each message gets a unique Message-Id via
github.com/google/uuid.

# Idempotency contract

Send returns a bool, never an error: callers (the scheduler and
reservation manager) only ever need to know whether to flip their
notification flag from N to Y. A failed send leaves the flag at N so the
next tick retries -- delivery failure is not itself an error condition
for the owning tick.
*/
package notifier
