package minter

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evreplay/internal/engine"
	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/schema"
)

// buildHistory turns generated op codes into a valid minter log. Ops the
// state machine would reject are skipped.
func buildHistory(t *testing.T, ops []int64) *memLog {
	log := &memLog{}
	s := NewState()
	accounts := []Account{alice, bob}
	var block int64

	try := func(ev schema.DomainEvent) {
		next, err := Machine{}.Apply(s.Clone(), ev)
		if err != nil {
			return
		}
		s = next
		log.append(t, ev)
	}

	try(Init{Config: testConfig()})
	for i, op := range ops {
		acct := accounts[i%len(accounts)]
		switch op % 4 {
		case 0:
			try(ReceivedUtxos{To: acct, Utxos: []Utxo{utxo(fmt.Sprintf("tx%d", i), 0, 1_000+op*37)}})
		case 1:
			block++
			try(RetrieveBtcAccepted{BlockIndex: block, Amount: 10_000 + op%5_000, Address: "bcrt1q", From: acct})
		case 2:
			try(IgnoredUtxo{Utxo: utxo(fmt.Sprintf("ig%d", i), op%3, op)})
		default:
			status := StatusClean
			if op%2 == 0 {
				status = StatusTainted
			}
			try(CheckedUtxo{Utxo: utxo(fmt.Sprintf("tx%d", i-1), 0, 1), Status: status, Provider: "kyt"})
		}
	}
	return log
}

func stateDigest(t *testing.T, s *State) string {
	data, err := Codec{}.Encode(s)
	require.NoError(t, err)
	return ir.StateDigest(data)
}

// TestSnapshotEquivalence verifies a snapshot taken after any prefix,
// restored through the codec, replays to the same state as a full replay.
func TestSnapshotEquivalence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	ctx := context.Background()
	reg := mustRegistry(t)

	properties.Property("snapshot at every k matches full replay", prop.ForAll(
		func(ops []int64) bool {
			log := buildHistory(t, ops)
			eng := engine.New[*State](reg, Machine{})

			full, err := eng.Replay(ctx, nil, engine.Cursor{}, log, engine.Unlimited)
			if err != nil || !full.EndOfLog {
				return false
			}
			want := stateDigest(t, full.State)

			for k := uint64(0); k < uint64(len(log.events)); k++ {
				prefix, err := eng.Replay(ctx, nil, engine.Cursor{}, &memLog{events: log.events[:k+1]}, engine.Unlimited)
				if err != nil {
					return false
				}
				data, err := Codec{}.Encode(prefix.State)
				if err != nil {
					return false
				}
				restored, err := Codec{}.Decode(data)
				if err != nil {
					return false
				}
				rest, err := eng.Replay(ctx, &restored, engine.Cursor{NextSequence: k + 1}, log, engine.Unlimited)
				if err != nil {
					return false
				}
				if stateDigest(t, rest.State) != want {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(24, gen.Int64Range(0, 20_000)),
	))

	properties.TestingRun(t)
}

// TestChecksHoldOnEveryHistory verifies the upgrade predicates accept any
// state the machine can reach.
func TestChecksHoldOnEveryHistory(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	ctx := context.Background()
	reg := mustRegistry(t)

	properties.Property("checks pass", prop.ForAll(
		func(ops []int64) bool {
			res, err := engine.New[*State](reg, Machine{}).Replay(ctx, nil, engine.Cursor{}, buildHistory(t, ops), engine.Unlimited)
			if err != nil {
				return false
			}
			_, err = runChecks(res.State)
			return err == nil
		},
		gen.SliceOf(gen.Int64Range(0, 20_000)),
	))

	properties.TestingRun(t)
}
