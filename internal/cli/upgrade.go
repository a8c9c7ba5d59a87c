package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/override"
	"github.com/roach88/evreplay/internal/upgrade"
)

// UpgradeOptions holds flags for the upgrade command.
type UpgradeOptions struct {
	*RootOptions
	Overrides  string
	InstallArg string
	Target     string
	Mode       string
}

// UpgradeResult wraps the controller report for text output.
type UpgradeResult struct {
	upgrade.Report

	// From is the code version that was live before the attempt.
	From      string `json:"from"`
	Committed bool   `json:"committed"`
}

func (r UpgradeResult) String() string {
	var b strings.Builder
	if r.Committed {
		fmt.Fprintf(&b, "✓ Upgraded %s -> %s (attempt %s)\n", r.From, r.CodeVersion, r.AttemptID)
	} else {
		fmt.Fprintf(&b, "✗ Upgrade to %s rolled back at %s (attempt %s)\n", r.CodeVersion, r.FailedStage, r.AttemptID)
	}
	fmt.Fprintf(&b, "  Stages: %s\n", strings.Join(r.Stages, ", "))
	if r.SnapshotUpTo != nil {
		fmt.Fprintf(&b, "  Snapshot: up to seq %d\n", *r.SnapshotUpTo)
	}
	fmt.Fprintf(&b, "  Replay: seq %d..%d, %d event(s), %d work units", r.StartSequence, r.NextSequence, r.Applied, r.Spent)
	if r.Committed {
		fmt.Fprintf(&b, "\n  Digest: %s", r.Digest)
	}
	return b.String()
}

// NewUpgradeCommand creates the upgrade command.
func NewUpgradeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpgradeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upgrade <code-version>",
		Short: "Upgrade the service to a new code version",
		Long: `Run pre-upgrade on the live code, then post-upgrade on a fresh
instance of the target version: load the snapshot, replay the log within
budget, apply overrides, validate the state and commit the upgrade event.
Any failure rolls back to the old code with its state untouched.

Exit codes:
  0 - Upgrade committed
  1 - Upgrade rolled back
  2 - Command error (bad version, malformed overrides, etc.)

Examples:
  evreplay upgrade 1.1.0 --db ./minter.db
  evreplay upgrade 1.1.0 --db ./minter.db --overrides '{"kyt_fee": 5}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Overrides, "overrides", "", "JSON object of configuration overrides")
	cmd.Flags().StringVar(&opts.InstallArg, "install-arg", "", "raw install argument bytes (replaces --overrides)")
	cmd.Flags().StringVar(&opts.Target, "target", "", "target service id (default: configured service id)")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(upgrade.ModeUpgrade), "install mode")

	return cmd
}

func runUpgrade(ctx context.Context, opts *UpgradeOptions, version string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	t, err := opts.trigger(version)
	if err != nil {
		return err
	}
	mod, err := module(version)
	if err != nil {
		return err
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	live, err := opts.recoverLive(ctx, st)
	if err != nil {
		return fail(f, nil, "failed to recover service", err)
	}
	from := live.CodeVersion()
	host := upgrade.NewHost(live)
	f.VerboseLog("upgrading %s -> %s", from, version)

	rep, err := host.Upgrade(ctx, mod, t)
	result := UpgradeResult{Report: rep, From: from, Committed: err == nil}
	if err != nil {
		return fail(f, result, "upgrade rolled back", err)
	}
	return f.Success(result)
}

// trigger builds the upgrade trigger from the flags.
func (o *UpgradeOptions) trigger(version string) (upgrade.Trigger, error) {
	t := upgrade.Trigger{
		TargetServiceID: o.Target,
		CodeVersion:     version,
		Mode:            upgrade.Mode(o.Mode),
	}
	if t.TargetServiceID == "" {
		t.TargetServiceID = o.Config.ServiceID
	}

	switch {
	case o.InstallArg != "":
		t.InstallArg = []byte(o.InstallArg)
	case o.Overrides != "":
		obj, err := ir.UnmarshalIRObject([]byte(o.Overrides))
		if err != nil {
			return upgrade.Trigger{}, WrapExitError(ExitCommandError, "invalid overrides", err)
		}
		arg, err := override.EncodeArgs(&override.Args{Overrides: obj})
		if err != nil {
			return upgrade.Trigger{}, WrapExitError(ExitCommandError, "invalid overrides", err)
		}
		t.InstallArg = arg
	}
	return t, nil
}
