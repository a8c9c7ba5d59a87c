// Package harness runs upgrade scenarios against the minter on a real
// SQLite log and records a trace for golden comparison.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: upgrade_commit
//	description: "Deposits survive an upgrade that lowers the fee"
//	settings:
//	  snapshot_every: 2
//	install:
//	  version: 1.0.0
//	  config: { network: regtest, ledger_id: ckbtc, ... }
//	steps:
//	  - append:
//	      kind: received_utxos
//	      payload: { to: { owner: alice, subaccount: "" }, utxos: [...] }
//	  - upgrade:
//	      version: 1.1.0
//	      overrides: { kyt_fee: 5 }
//	    expect:
//	      outcome: committed
//	assertions:
//	  - type: code_version
//	    value: 1.1.0
//
// # Step Types
//
//   - append: an event submitted through the live controller
//   - write: an event written straight to the log, bypassing the controller
//     (foreign writers, corrupt history)
//   - upgrade: a host code swap with the given trigger
//   - fault: arm or clear log faults (append, flush)
//   - checkpoint: force a snapshot
//   - compact: drop the log prefix covered by the latest snapshot
//   - restart: rebuild a fresh controller of the current version from the log
//
// # Assertion Types
//
//   - code_version, next_sequence, phase, upgrade_count: scalar checks
//   - balance: the balance of an account
//   - config: one key of the overridable configuration
//   - log_kinds: the kinds of every event in the log, in order
//
// Attempt ids are sequential ("attempt-1", ...) so traces are reproducible.
// Every rolled back upgrade is also checked for an unchanged state digest and
// sequence.
package harness
