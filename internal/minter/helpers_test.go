package minter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/schema"
)

var (
	alice = Account{Owner: "alice"}
	bob   = Account{Owner: "bob", Subaccount: "savings"}
)

func testConfig() Config {
	return Config{
		Network:              NetworkRegtest,
		LedgerID:             "ckbtc-ledger",
		MinConfirmations:     6,
		KytFee:               100,
		Mode:                 ModeGeneralAvailability,
		RetrieveBtcMinAmount: 10_000,
	}
}

func utxo(txid string, vout, value int64) Utxo {
	return Utxo{Txid: txid, Vout: vout, Value: value, Height: 100}
}

func initialized(t *testing.T) *State {
	t.Helper()
	s, err := Machine{}.Apply(NewState(), Init{Config: testConfig()})
	require.NoError(t, err)
	return s
}

func fold(t *testing.T, s *State, events ...schema.DomainEvent) *State {
	t.Helper()
	var err error
	for _, ev := range events {
		s, err = Machine{}.Apply(s, ev)
		require.NoError(t, err, "fold %s", ev.EventKind())
	}
	return s
}

func mustRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

// memLog is an in-memory engine.Source.
type memLog struct {
	events []ir.Event
}

func (m *memLog) append(t *testing.T, ev schema.DomainEvent) {
	t.Helper()
	p, err := Payload(ev)
	require.NoError(t, err)
	v, ok := Version(ev.EventKind())
	require.True(t, ok)
	m.appendRaw(ev.EventKind(), v, p)
}

func (m *memLog) appendRaw(kind string, version uint32, payload []byte) {
	seq := uint64(len(m.events))
	m.events = append(m.events, ir.Event{
		Seq:      seq,
		Kind:     kind,
		Version:  version,
		Payload:  payload,
		Checksum: ir.EventChecksum(seq, kind, version, payload),
	})
}

func (m *memLog) Read(_ context.Context, from uint64, limit int) ([]ir.Event, error) {
	out := []ir.Event{}
	for _, ev := range m.events {
		if ev.Seq >= from && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}
