/*
Package prober builds structured host telemetry by issuing remote exec
calls over a transport.Transport and parsing their output into
field-degrading records: a probe that cannot parse part of its output
returns a sentinel for that field rather than failing outright, because
a host with unreadable GPU output is still schedulable on CPU.

# Design notes

Each probe is a method on Prober returning a typed record, mirroring a
Checker/Check(ctx) decomposition but issuing a real remote command
through Transport instead of a local TCP/HTTP/exec check, and returning
a typed record instead of a boolean healthy flag.

# Probes

  - CPUUsage:  "top -bn1" one-shot, sums user+system into a percentage.
  - GPUUsage:  nvidia-smi query-gpu + query-compute-apps, correlated by
    row position.
  - RAMUsage:  "free -g", used/free/total in GiB.
  - DiskUsage: "df -BG", filtered against an excluded-mount-prefix list.
  - Users:     /etc/passwd filtered to the human uid range, plus groups.
  - LoggedIn:  "w -h" session rows.

GPUAvailability is a pure function, not a probe: it turns a GPUUsage
result and a host's allow-list into the per-index available/blocked
table the catalog's refresh-live applies on top of.
*/
package prober
