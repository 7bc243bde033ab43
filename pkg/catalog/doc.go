/*
Package catalog is the machine registry and user-limits registry: a
host table keyed by name, a user-limits table keyed by username, both
backed by CSV files with the rename-to-_old crash-safety rule, plus the
live-refresh and debit/credit operations the scheduler drives placement
through.

# Design notes

The store exposes whole-table Load/Save plus HostsInOrder, RefreshLive,
Debit, Credit and UserLimit; it has no per-entity Create/Get/List/Update/
Delete methods. The backing store is encoding/csv rather than a key-value
database --
no dataframe or CSV-marshaling library fits this shape, so the column
(un)marshaling in this package is hand-written; see DESIGN.md for that
stdlib justification. RefreshLive's per-host fan-out uses a plain
sync.WaitGroup since the only primitive needed is launch-N/wait-for-N.

# Dynamic GPU columns

A host's hosts-file row carries GPU_{i}_Name / GPU_{i}_status column
pairs for every GPU index up to the highest one any host in the table
currently carries. Save
recomputes the column set from the current maximum index across all
hosts every time, so newly discovered GPU indices grow the header and
vacant cells write as empty strings.
*/
package catalog
