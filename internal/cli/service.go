package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/evreplay/internal/minter"
	"github.com/roach88/evreplay/internal/store"
	"github.com/roach88/evreplay/internal/upgrade"
)

// InitialVersion is the code version a log runs at until its first upgrade
// commits. Later versions are recorded in the log by the upgrade event.
const InitialVersion = "1.0.0"

// openStore opens the configured event log.
func (o *RootOptions) openStore() (*store.Store, error) {
	o.Logger.Debug("opening database", "path", o.Config.DB)
	st, err := store.Open(o.Config.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func (o *RootOptions) closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		o.Logger.Error("error closing database", "error", err)
	}
}

// module builds the minter at version. A bad version is a command error.
func module(version string) (upgrade.Module[*minter.State], error) {
	mod, err := minter.NewModule(version)
	if err != nil {
		return upgrade.Module[*minter.State]{}, WrapExitError(ExitCommandError, "invalid code version", err)
	}
	return mod, nil
}

// newController returns an Idle controller running the minter at version.
func (o *RootOptions) newController(st *store.Store, version string) (*upgrade.Controller[*minter.State], error) {
	mod, err := module(version)
	if err != nil {
		return nil, err
	}
	c, err := upgrade.New(mod, st, o.Config.Upgrade(o.Logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create controller", err)
	}
	return c, nil
}

// recoverLive rebuilds the running service from the log, at the code
// version the log records.
func (o *RootOptions) recoverLive(ctx context.Context, st *store.Store) (*upgrade.Controller[*minter.State], error) {
	c, err := o.newController(st, InitialVersion)
	if err != nil {
		return nil, err
	}
	if err := c.Recover(ctx); err != nil {
		return nil, err
	}

	state, _ := c.State()
	if state.CodeVersion == "" || state.CodeVersion == InitialVersion {
		return c, nil
	}
	o.Logger.Debug("log records a newer code version", "code_version", state.CodeVersion)
	live, err := o.newController(st, state.CodeVersion)
	if err != nil {
		return nil, fmt.Errorf("recorded version: %w", err)
	}
	if err := live.Recover(ctx); err != nil {
		return nil, err
	}
	return live, nil
}

// fail reports err and returns the ExitError for it. Typed evreplay errors
// and other runtime failures exit with ExitFailure; errors that already
// carry an exit code keep it.
func fail(f *OutputFormatter, data any, message string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	if outErr := f.ReportError(data, err); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, message, err)
}
