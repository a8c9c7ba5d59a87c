package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// SnapshotResult describes a stored snapshot.
type SnapshotResult struct {
	UpToSequence uint64 `json:"up_to_sequence"`
	Format       uint32 `json:"format"`
	Bytes        int    `json:"bytes"`
	Digest       string `json:"digest"`
}

func (r SnapshotResult) String() string {
	return fmt.Sprintf("✓ Snapshot up to seq %d (format %d, %d bytes)\n  Digest: %s",
		r.UpToSequence, r.Format, r.Bytes, r.Digest)
}

// CompactResult is the output of the compact command.
type CompactResult struct {
	Removed int64  `json:"removed"`
	Origin  uint64 `json:"origin"`
}

func (r CompactResult) String() string {
	return fmt.Sprintf("✓ Removed %d event(s); log now starts at seq %d", r.Removed, r.Origin)
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := rootOpts

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write a snapshot of the live state",
		Long: `Recover the live state and store a snapshot at the last sequence,
regardless of the snapshot policy.

Examples:
  evreplay snapshot --db ./minter.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd.Context(), opts, cmd)
		},
	}

	return cmd
}

func runSnapshot(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	c, err := opts.recoverLive(ctx, st)
	if err != nil {
		return fail(f, nil, "failed to recover service", err)
	}
	snap, err := c.Checkpoint(ctx)
	if err != nil {
		return fail(f, nil, "snapshot failed", err)
	}
	return f.Success(SnapshotResult{
		UpToSequence: snap.UpToSequence,
		Format:       snap.Format,
		Bytes:        len(snap.State),
		Digest:       snap.Digest,
	})
}

// CompactOptions holds flags for the compact command.
type CompactOptions struct {
	*RootOptions
	UpTo int64 // -1 means the latest snapshot
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Drop log history covered by the snapshot",
		Long: `Delete events up to and including --up-to (default: the latest
snapshot's sequence) and advance the log origin. History no snapshot
stands in for is never dropped.

Examples:
  evreplay compact --db ./minter.db
  evreplay compact --db ./minter.db --up-to 1000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.UpTo, "up-to", -1, "last sequence to drop (default: latest snapshot)")

	return cmd
}

func runCompact(ctx context.Context, opts *CompactOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	upTo := uint64(opts.UpTo)
	if opts.UpTo < 0 {
		snap, err := st.LatestSnapshot(ctx)
		if err != nil {
			return fail(f, nil, "failed to read snapshot", err)
		}
		if snap == nil {
			return fail(f, nil, "compact failed", fmt.Errorf("no snapshot to compact to"))
		}
		upTo = snap.UpToSequence
	}

	removed, err := st.Compact(ctx, upTo)
	if err != nil {
		return fail(f, nil, "compact failed", err)
	}
	origin, err := st.Origin(ctx)
	if err != nil {
		return fail(f, nil, "failed to read log origin", err)
	}
	opts.Logger.Info("log compacted", "up_to_seq", upTo, "removed", removed, "origin", origin)
	return f.Success(CompactResult{Removed: removed, Origin: origin})
}
