package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/evreplay/internal/ir"
)

// StatusResult describes the live service rebuilt from the log.
type StatusResult struct {
	CodeVersion   string           `json:"code_version"`
	Phase         string           `json:"phase"`
	Origin        uint64           `json:"origin"`
	NextSequence  uint64           `json:"next_sequence"`
	RecordVersion string           `json:"record_version"`
	SnapshotUpTo  *uint64          `json:"snapshot_up_to,omitempty"`
	UpgradeCount  int64            `json:"upgrade_count"`
	Digest        string           `json:"digest"`
	Config        ir.IRObject      `json:"config"`
	Balances      map[string]int64 `json:"balances"`
}

func (r StatusResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Code version: %s (%s)\n", r.CodeVersion, r.Phase)
	fmt.Fprintf(&b, "Log: origin %d, next seq %d, record version %s\n", r.Origin, r.NextSequence, r.RecordVersion)
	if r.SnapshotUpTo != nil {
		fmt.Fprintf(&b, "Snapshot: up to seq %d\n", *r.SnapshotUpTo)
	} else {
		b.WriteString("Snapshot: none\n")
	}
	fmt.Fprintf(&b, "Upgrades: %d\n", r.UpgradeCount)
	fmt.Fprintf(&b, "Digest: %s\n", r.Digest)
	b.WriteString("Config:\n")
	for _, k := range r.Config.SortedKeys() {
		fmt.Fprintf(&b, "  %s: %v\n", k, r.Config[k])
	}
	b.WriteString("Balances:")
	accounts := make([]string, 0, len(r.Balances))
	for a := range r.Balances {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	for _, a := range accounts {
		fmt.Fprintf(&b, "\n  %s: %d", a, r.Balances[a])
	}
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := rootOpts

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Rebuild the service from the log and describe it",
		Long: `Recover the live state from the latest snapshot and the log tail,
then print the code version, log bounds, effective configuration and
balances.

Examples:
  evreplay status --db ./minter.db
  evreplay status --db ./minter.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts, cmd)
		},
	}

	return cmd
}

func runStatus(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
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
	origin, err := st.Origin(ctx)
	if err != nil {
		return fail(f, nil, "failed to read log origin", err)
	}
	recordVersion, err := st.RecordVersion(ctx)
	if err != nil {
		return fail(f, nil, "failed to read record version", err)
	}
	snap, err := st.LatestSnapshot(ctx)
	if err != nil {
		return fail(f, nil, "failed to read snapshot", err)
	}
	digest, err := c.StateDigest()
	if err != nil {
		return fail(f, nil, "failed to digest state", err)
	}
	state, _ := c.State()

	result := StatusResult{
		CodeVersion:   c.CodeVersion(),
		Phase:         c.Phase().String(),
		Origin:        origin,
		NextSequence:  c.CurrentSequence(),
		RecordVersion: recordVersion,
		UpgradeCount:  state.UpgradeCount,
		Digest:        digest,
		Config:        c.Config(),
		Balances:      state.Balances,
	}
	if snap != nil {
		upTo := snap.UpToSequence
		result.SnapshotUpTo = &upTo
	}
	return f.Success(result)
}
