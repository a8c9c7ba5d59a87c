// Package minter is a Bitcoin-minter audit log folded by the replay engine.
//
// The minter records every state change as an event: deposits received,
// deposits ignored, KYT checks, accepted withdrawals, and the install and
// upgrade events that carry its configuration. Its state is never persisted
// except inside snapshots; an upgrade rebuilds it from the log.
//
// Two kinds have changed shape over time and exercise the migration path of
// the schema registry:
//   - received_utxos v1 named the beneficiary by owner only; v2 uses an
//     {owner, subaccount} account.
//   - checked_utxo v1 carried a clean flag; v2 carries a status and the
//     KYT provider that produced it.
package minter
