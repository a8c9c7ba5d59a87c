// Package engine implements the deterministic replay engine.
//
// Replay rebuilds a state value by folding log events, in strictly
// increasing sequence order, through a Machine. Work is metered in
// abstract work units: each call to Replay spends at most its Budget and
// returns a Cursor from which a later call resumes. That explicit cursor is
// the only way to continue a replay; there is no suspended execution.
//
// # Determinism
//
// Machine.Apply must be a pure function of (state, event):
//   - no wall-clock reads
//   - no I/O or calls to other services
//   - no decisions that depend on Go map iteration order
//
// Under that contract two replays of the same log always produce states
// with identical canonical encodings, however the work is sliced.
//
// # Failure
//
// Anything that would make the result depend on something other than the
// log is a REPLAY_DIVERGENCE: a sequence gap or reordering, a checksum
// mismatch, an event the schema registry cannot decode, or a fold error.
// Running out of budget is not an error for Replay; the partial result is
// returned with Exhausted set. ReplayToEnd, which must reach the log end,
// reports it as RESOURCE_EXHAUSTION.
package engine
