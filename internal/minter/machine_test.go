package minter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/schema"
)

func TestApply_Deposits(t *testing.T) {
	s := fold(t, initialized(t),
		ReceivedUtxos{To: alice, Utxos: []Utxo{utxo("aa", 0, 50_000), utxo("aa", 1, 80)}},
		ReceivedUtxos{To: bob, Utxos: []Utxo{utxo("bb", 0, 1_000)}},
	)

	assert.Equal(t, int64(49_900), s.Balance(alice), "dust below the fee credits nothing")
	assert.Equal(t, int64(900), s.Balance(bob))
	assert.Equal(t, int64(51_080), s.TotalDeposited)
	assert.Equal(t, int64(50_800), s.TotalCredited)
	assert.Equal(t, int64(0), s.Deposits["aa:1"].Credited)
	assert.Contains(t, s.Balances, "bob.savings")
}

func TestApply_Withdrawals(t *testing.T) {
	s := fold(t, initialized(t),
		ReceivedUtxos{To: alice, Utxos: []Utxo{utxo("aa", 0, 50_000)}},
		RetrieveBtcAccepted{BlockIndex: 3, Amount: 10_000, Address: "bcrt1q", From: alice},
		RetrieveBtcAccepted{BlockIndex: 7, Amount: 20_000, Address: "bcrt1q", From: alice},
	)
	assert.Equal(t, int64(19_900), s.Balance(alice))
	assert.Equal(t, int64(30_000), s.TotalWithdrawn)
	assert.Len(t, s.Withdrawals, 2)
}

func TestApply_Upgrade(t *testing.T) {
	s := fold(t, initialized(t), Upgrade{
		CodeVersion: "1.1.0",
		Config:      ir.IRObject{KeyKytFee: ir.IRInt(7), KeyMode: ir.IRString(ModeRestricted)},
	})
	assert.Equal(t, int64(7), s.Config.KytFee)
	assert.Equal(t, ModeRestricted, s.Config.Mode)
	assert.Equal(t, "ckbtc-ledger", s.Config.LedgerID)
	assert.Equal(t, "1.1.0", s.CodeVersion)
	assert.Equal(t, int64(1), s.UpgradeCount)
}

func TestApply_Checked(t *testing.T) {
	s := fold(t, initialized(t),
		CheckedUtxo{Utxo: utxo("aa", 0, 1), Status: StatusTainted, Provider: "p1"},
		CheckedUtxo{Utxo: utxo("aa", 0, 1), Status: StatusClean, Provider: "p2"},
	)
	assert.Equal(t, Check{Status: StatusClean, Provider: "p2"}, s.Checked["aa:0"])
}

func TestApply_Rejects(t *testing.T) {
	deposit := ReceivedUtxos{To: alice, Utxos: []Utxo{utxo("aa", 0, 50_000)}}

	tests := []struct {
		name    string
		setup   []schema.DomainEvent
		event   schema.DomainEvent
		wantErr string
	}{
		{
			name:    "double init",
			event:   Init{Config: testConfig()},
			wantErr: "already initialized",
		},
		{
			name:    "duplicate outpoint",
			setup:   []schema.DomainEvent{deposit},
			event:   deposit,
			wantErr: "already deposited",
		},
		{
			name:    "duplicate outpoint within event",
			event:   ReceivedUtxos{To: alice, Utxos: []Utxo{utxo("aa", 0, 1), utxo("aa", 0, 2)}},
			wantErr: "already deposited",
		},
		{
			name:    "deposit of ignored outpoint",
			setup:   []schema.DomainEvent{IgnoredUtxo{Utxo: utxo("aa", 0, 1)}},
			event:   deposit,
			wantErr: "was ignored",
		},
		{
			name:    "ignore deposited outpoint",
			setup:   []schema.DomainEvent{deposit},
			event:   IgnoredUtxo{Utxo: utxo("aa", 0, 50_000)},
			wantErr: "was deposited",
		},
		{
			name:    "deposits in read_only",
			setup:   []schema.DomainEvent{Upgrade{CodeVersion: "1.0.1", Config: ir.IRObject{KeyMode: ir.IRString(ModeReadOnly)}}},
			event:   deposit,
			wantErr: "deposits disabled",
		},
		{
			name:    "withdrawal in restricted",
			setup:   []schema.DomainEvent{deposit, Upgrade{CodeVersion: "1.0.1", Config: ir.IRObject{KeyMode: ir.IRString(ModeRestricted)}}},
			event:   RetrieveBtcAccepted{BlockIndex: 1, Amount: 10_000, Address: "a", From: alice},
			wantErr: "withdrawals disabled",
		},
		{
			name:    "withdrawal below minimum",
			setup:   []schema.DomainEvent{deposit},
			event:   RetrieveBtcAccepted{BlockIndex: 1, Amount: 9_999, Address: "a", From: alice},
			wantErr: "below minimum",
		},
		{
			name:    "overdraft",
			setup:   []schema.DomainEvent{deposit},
			event:   RetrieveBtcAccepted{BlockIndex: 1, Amount: 60_000, Address: "a", From: alice},
			wantErr: "balance",
		},
		{
			name: "block index not increasing",
			setup: []schema.DomainEvent{deposit,
				RetrieveBtcAccepted{BlockIndex: 5, Amount: 10_000, Address: "a", From: alice}},
			event:   RetrieveBtcAccepted{BlockIndex: 5, Amount: 10_000, Address: "a", From: alice},
			wantErr: "not after",
		},
		{
			name:    "upgrade breaks config",
			event:   Upgrade{CodeVersion: "1.0.1", Config: ir.IRObject{KeyKytFee: ir.IRInt(10_000)}},
			wantErr: "kyt_fee",
		},
		{
			name:    "upgrade with unknown key",
			event:   Upgrade{CodeVersion: "1.0.1", Config: ir.IRObject{"network": ir.IRString(NetworkMainnet)}},
			wantErr: "unknown config key",
		},
		{
			name:    "unknown check status",
			event:   CheckedUtxo{Utxo: utxo("aa", 0, 1), Status: "maybe"},
			wantErr: "unknown status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fold(t, initialized(t), tt.setup...)
			_, err := Machine{}.Apply(s, tt.event)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApply_BeforeInit(t *testing.T) {
	_, err := Machine{}.Apply(NewState(), IgnoredUtxo{Utxo: utxo("aa", 0, 1)})
	assert.ErrorContains(t, err, "before init")

	bad := testConfig()
	bad.Network = "signet"
	_, err = Machine{}.Apply(NewState(), Init{Config: bad})
	assert.ErrorContains(t, err, "unknown network")
}

func TestClone_IsDeep(t *testing.T) {
	s := fold(t, initialized(t), ReceivedUtxos{To: alice, Utxos: []Utxo{utxo("aa", 0, 50_000)}})
	cp := Machine{}.Clone(s)
	fold(t, cp,
		ReceivedUtxos{To: bob, Utxos: []Utxo{utxo("bb", 0, 5_000)}},
		RetrieveBtcAccepted{BlockIndex: 1, Amount: 10_000, Address: "a", From: alice},
	)

	assert.Equal(t, int64(49_900), s.Balance(alice))
	assert.NotContains(t, s.Balances, bob.Key())
	assert.Empty(t, s.Withdrawals)
}
