/*
Package reservation owns the reservation table and drives each row
through waiting -> running -> finished, emitting the first-day and
last-day boundary emails exactly once per row.

# Design notes

A time.NewTicker drives periodic work, select waits on the ticker and a
stop channel, and Start/Stop wrap the loop for callers that want it
backgrounded. Tick iterates the table in file order, one row at a time.

# Idempotency

NotificationFirstDay and NotificationLastDay are monotone: Tick only ever
flips N -> Y, and only after notifier.Notifier.Send reports success. A
failed send is silently retried on the next tick because the flag never
moved.

# File format

Reservations are a CSV table with a rename-to-_old backup on every save.
The "notification_fist_day" column name is intentional: it is the exact
header the external file format specifies, kept verbatim for on-disk
compatibility rather than "corrected" to "first_day".
*/
package reservation
