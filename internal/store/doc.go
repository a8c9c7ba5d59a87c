// Package store provides SQLite-backed durable storage for the evreplay event log.
//
// The store holds three tables:
//   - events: the append-only log, one row per event, keyed by seq
//   - snapshots: at most one materialized state, superseded atomically
//   - meta: the log origin and record layout version
//
// # Invariants
//
// Sequences are assigned by the store, never by callers. They form a
// contiguous run starting at the log origin: 0 for a fresh log, advanced
// only by Compact once a snapshot covers the dropped prefix. Rows are never
// updated in place.
//
// Every event row carries a checksum over (seq, kind, version, payload)
// computed by internal/ir. The store writes it; the replay engine verifies it.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: A committed append survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Write and flush failures are reported as ir.Error values with code
// DURABILITY_FAILURE so the upgrade controller can refuse a code swap.
package store
