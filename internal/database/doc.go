// Package database opens the shared SQLite file used by the entity store and
// the job queue.
//
// Open applies connection pragmas through the DSN so every pooled connection
// gets WAL, foreign keys, and a busy timeout, then runs the embedded
// migrations. RetryOnBusy and WithTx absorb SQLITE_BUSY contention between
// independent worker processes. Timestamps are written in a fixed-width UTC
// layout so lexical comparisons in SQL match chronological order.
package database
