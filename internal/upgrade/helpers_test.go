package upgrade_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/minter"
	"github.com/roach88/evreplay/internal/override"
	"github.com/roach88/evreplay/internal/schema"
	"github.com/roach88/evreplay/internal/store"
	"github.com/roach88/evreplay/internal/testutil"
	"github.com/roach88/evreplay/internal/upgrade"
)

const serviceID = "ckbtc-minter"

var (
	alice = minter.Account{Owner: "alice"}
	bob   = minter.Account{Owner: "bob", Subaccount: "savings"}
)

func testConfig() minter.Config {
	return minter.Config{
		Network:              minter.NetworkRegtest,
		LedgerID:             "ckbtc-ledger",
		MinConfirmations:     6,
		KytFee:               100,
		Mode:                 minter.ModeGeneralAvailability,
		RetrieveBtcMinAmount: 10_000,
		MaxTimeInQueueNanos:  0,
	}
}

type fixture struct {
	store *store.Store
	log   *testutil.FaultyLog
	cfg   upgrade.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "minter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &fixture{
		store: st,
		log:   testutil.NewFaultyLog(st),
		cfg: upgrade.Config{
			ServiceID: serviceID,
			IDs:       upgrade.NewFixedGenerator("attempt-1", "attempt-2", "attempt-3"),
			Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
}

func module(t *testing.T, version string) upgrade.Module[*minter.State] {
	t.Helper()
	m, err := minter.NewModule(version)
	require.NoError(t, err)
	return m
}

func (f *fixture) controller(t *testing.T, version string) *upgrade.Controller[*minter.State] {
	t.Helper()
	c, err := upgrade.New(module(t, version), f.log, f.cfg)
	require.NoError(t, err)
	return c
}

func payload(t *testing.T, ev schema.DomainEvent) []byte {
	t.Helper()
	p, err := minter.Payload(ev)
	require.NoError(t, err)
	return p
}

func appendEvent(t *testing.T, c *upgrade.Controller[*minter.State], ev schema.DomainEvent) ir.Event {
	t.Helper()
	v, ok := minter.Version(ev.EventKind())
	require.True(t, ok)
	out, err := c.Append(context.Background(), ev.EventKind(), v, payload(t, ev))
	require.NoError(t, err)
	return out
}

// installed returns a Running controller whose log holds init plus three
// business events.
func (f *fixture) installed(t *testing.T, version string) *upgrade.Controller[*minter.State] {
	t.Helper()
	ctx := context.Background()
	c := f.controller(t, version)
	_, err := c.Install(ctx, minter.KindInit, minter.InitVersion, payload(t, minter.Init{Config: testConfig()}))
	require.NoError(t, err)

	appendEvent(t, c, minter.ReceivedUtxos{To: alice, Utxos: []minter.Utxo{
		{Txid: "aa", Vout: 0, Value: 50_000, Height: 10},
		{Txid: "aa", Vout: 1, Value: 25_000, Height: 10},
	}})
	appendEvent(t, c, minter.CheckedUtxo{
		Utxo: minter.Utxo{Txid: "aa", Vout: 0, Value: 50_000, Height: 10}, Status: minter.StatusClean, Provider: "kyt-1",
	})
	appendEvent(t, c, minter.RetrieveBtcAccepted{BlockIndex: 1, Amount: 20_000, Address: "bcrt1qxyz", From: alice})
	return c
}

func trigger(t *testing.T, version string, overrides ir.IRObject) upgrade.Trigger {
	t.Helper()
	var arg []byte
	if overrides != nil {
		var err error
		arg, err = override.EncodeArgs(&override.Args{Overrides: overrides})
		require.NoError(t, err)
	}
	return upgrade.Trigger{
		TargetServiceID: serviceID,
		CodeVersion:     version,
		InstallArg:      arg,
		Mode:            upgrade.ModeUpgrade,
	}
}

func digest(t *testing.T, c *upgrade.Controller[*minter.State]) string {
	t.Helper()
	d, err := c.StateDigest()
	require.NoError(t, err)
	return d
}

func nextSeq(t *testing.T, st *store.Store) uint64 {
	t.Helper()
	n, err := st.NextSequence(context.Background())
	require.NoError(t, err)
	return n
}
