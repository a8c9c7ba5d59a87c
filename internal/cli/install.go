package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/minter"
)

// InstallOptions holds flags for the install command.
type InstallOptions struct {
	*RootOptions
	InitFile string
}

// InstallResult is the output of a successful install.
type InstallResult struct {
	Seq         uint64 `json:"seq"`
	CodeVersion string `json:"code_version"`
	Digest      string `json:"digest"`
}

func (r InstallResult) String() string {
	return fmt.Sprintf("✓ Installed %s at seq %d\n  Digest: %s", r.CodeVersion, r.Seq, r.Digest)
}

// NewInstallCommand creates the install command.
func NewInstallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InstallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the service on an empty log",
		Long: `Write the init event that fixes the initial minter configuration.

The init file is YAML (or JSON) with the minter configuration fields:
network, ledger_id, min_confirmations, kyt_fee, mode,
retrieve_btc_min_amount and max_time_in_queue_nanos.

Examples:
  evreplay install --db ./minter.db --init ./init.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.InitFile, "init", "", "path to the initial minter configuration (required)")
	_ = cmd.MarkFlagRequired("init")

	return cmd
}

func runInstall(ctx context.Context, opts *InstallOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	payload, err := readInitPayload(opts.InitFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read init file", err)
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	c, err := opts.newController(st, InitialVersion)
	if err != nil {
		return err
	}
	ev, err := c.Install(ctx, minter.KindInit, minter.InitVersion, payload)
	if err != nil {
		return fail(f, nil, "install failed", err)
	}
	digest, err := c.StateDigest()
	if err != nil {
		return fail(f, nil, "install failed", err)
	}
	return f.Success(InstallResult{Seq: ev.Seq, CodeVersion: c.CodeVersion(), Digest: digest})
}

// readInitPayload returns the canonical init payload for the config at path.
func readInitPayload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg, err := ir.FromNative(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ir.MarshalCanonical(ir.IRObject{"config": cfg})
}
