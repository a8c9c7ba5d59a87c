package minter

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/roach88/evreplay/internal/upgrade"
)

// NewModule assembles the minter as upgradeable code at version.
func NewModule(version string) (upgrade.Module[*State], error) {
	if _, err := semver.StrictNewVersion(version); err != nil {
		return upgrade.Module[*State]{}, fmt.Errorf("minter version %q: %w", version, err)
	}
	reg, err := NewRegistry()
	if err != nil {
		return upgrade.Module[*State]{}, err
	}
	ov, err := NewOverrideValidator()
	if err != nil {
		return upgrade.Module[*State]{}, fmt.Errorf("compile overrides: %w", err)
	}
	return upgrade.Module[*State]{
		Version:         version,
		Registry:        reg,
		Machine:         Machine{},
		Codec:           Codec{},
		Overrides:       ov,
		Defaults:        Defaults,
		RecordedVersion: RecordedVersion,
		UpgradeEvent:    UpgradeEvent,
		ReservedKinds:   []string{KindUpgrade},
		Checks:          Checks(ov),
	}, nil
}
