package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/evreplay/internal/engine"
	"github.com/roach88/evreplay/internal/minter"
	"github.com/roach88/evreplay/internal/snapshot"
	"github.com/roach88/evreplay/internal/store"
	"github.com/roach88/evreplay/internal/upgrade"
)

// Replay modes of the independent rebuild.
const (
	ReplayFull     = "full"     // from the origin with an empty state
	ReplaySnapshot = "snapshot" // from the latest snapshot; the log is compacted
)

// ReplayResult compares the live rebuild with an independent one.
type ReplayResult struct {
	Mode          string  `json:"mode"`
	Origin        uint64  `json:"origin"`
	NextSequence  uint64  `json:"next_sequence"`
	SnapshotUpTo  *uint64 `json:"snapshot_up_to,omitempty"`
	Applied       uint64  `json:"applied"`
	Spent         uint64  `json:"spent"`
	LiveDigest    string  `json:"live_digest"`
	ReplayDigest  string  `json:"replay_digest"`
	Deterministic bool    `json:"deterministic"`
}

func (r ReplayResult) String() string {
	status := "✓ Replay verified deterministic"
	if !r.Deterministic {
		status = "✗ Determinism verification failed"
	}
	return fmt.Sprintf("Replay (%s): seq %d..%d, %d event(s), %d work units\n  Live:   %s\n  Replay: %s\n%s",
		r.Mode, r.Origin, r.NextSequence, r.Applied, r.Spent, r.LiveDigest, r.ReplayDigest, status)
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := rootOpts

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the event log and verify determinism",
		Long: `Rebuild the state twice and compare digests.

The first rebuild is the live recovery (latest snapshot plus log tail).
The second is independent: a full replay from sequence 0 when the log is
complete, or a fresh restore of the snapshot when it has been compacted.

Exit codes:
  0 - Both rebuilds produced the same state
  1 - The digests differ, or the log cannot be replayed
  2 - Command error (database not found, etc.)

Examples:
  evreplay replay --db ./minter.db
  evreplay replay --db ./minter.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	return cmd
}

func runReplay(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	live, err := opts.recoverLive(ctx, st)
	if err != nil {
		return fail(f, nil, "failed to recover service", err)
	}
	liveDigest, err := live.StateDigest()
	if err != nil {
		return fail(f, nil, "failed to digest state", err)
	}

	mod, err := module(live.CodeVersion())
	if err != nil {
		return err
	}
	result, err := replayIndependently(ctx, opts, st, mod)
	if err != nil {
		return fail(f, nil, "replay failed", err)
	}
	result.LiveDigest = liveDigest
	result.Deterministic = result.ReplayDigest == liveDigest && result.NextSequence == live.CurrentSequence()

	if !result.Deterministic {
		if err := f.Failure(result, "E_DETERMINISM", "determinism verification failed", nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return f.Success(result)
}

// replayIndependently rebuilds the state without the controller.
func replayIndependently(ctx context.Context, opts *RootOptions, st *store.Store, mod upgrade.Module[*minter.State]) (ReplayResult, error) {
	cfg := opts.Config
	origin, err := st.Origin(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	result := ReplayResult{Mode: ReplayFull, Origin: origin}

	var (
		base   **minter.State
		cursor engine.Cursor
	)
	if origin > 0 {
		mgr := snapshot.New[*minter.State](st, mod.Codec, snapshot.Config{Logger: opts.Logger})
		snap, err := mgr.LoadLatest(ctx)
		if err != nil {
			return ReplayResult{}, err
		}
		if snap == nil {
			return ReplayResult{}, fmt.Errorf("log starts at %d but no snapshot covers the prefix", origin)
		}
		state, c, err := mgr.Restore(*snap)
		if err != nil {
			return ReplayResult{}, err
		}
		upTo := snap.UpToSequence
		result.Mode = ReplaySnapshot
		result.SnapshotUpTo = &upTo
		base, cursor = &state, c
	}

	eng := engine.New[*minter.State](mod.Registry, mod.Machine,
		engine.WithChunkSize(cfg.Replay.ChunkSize),
		engine.WithLogger(opts.Logger),
	)
	res, err := eng.ReplayToEnd(ctx, base, cursor, st,
		engine.Budget{Limit: cfg.Replay.SliceBudget},
		engine.Budget{Limit: cfg.Replay.TotalBudget},
	)
	if err != nil {
		return ReplayResult{}, err
	}
	digest, err := snapshot.Digest(mod.Codec, res.State)
	if err != nil {
		return ReplayResult{}, err
	}

	result.NextSequence = res.Cursor.NextSequence
	result.Applied = res.Applied
	result.Spent = res.Spent
	result.ReplayDigest = digest
	return result, nil
}
