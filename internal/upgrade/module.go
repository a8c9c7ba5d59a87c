package upgrade

import (
	"fmt"

	"github.com/roach88/evreplay/internal/engine"
	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/override"
	"github.com/roach88/evreplay/internal/schema"
	"github.com/roach88/evreplay/internal/snapshot"
)

// Check is a named state validation predicate run before commit.
type Check[S any] struct {
	Name string
	Fn   func(state S) error
}

// Module is one version of the service code: everything the controller
// needs to rebuild, reconfigure and validate its state.
type Module[S any] struct {
	// Version is the semantic version of this code.
	Version string

	Registry  *schema.Registry
	Machine   engine.Machine[S]
	Codec     snapshot.Codec[S]
	Overrides *override.Validator

	// Defaults returns the overridable configuration of state.
	Defaults func(state S) ir.IRObject

	// RecordedVersion returns the code version recorded in state by the
	// last committed upgrade, or "" if there was none.
	RecordedVersion func(state S) string

	// UpgradeEvent builds the event appended when an upgrade commits.
	// Folding it must leave RecordedVersion equal to codeVersion.
	UpgradeEvent func(codeVersion string, effective ir.IRObject) (kind string, version uint32, payload []byte, err error)

	// ReservedKinds are written only by an upgrade commit. Install and
	// Append refuse them.
	ReservedKinds []string

	Checks []Check[S]
}

func (m Module[S]) validate() error {
	switch {
	case m.Version == "":
		return fmt.Errorf("module: version is required")
	case m.Registry == nil:
		return fmt.Errorf("module %s: registry is required", m.Version)
	case m.Machine == nil:
		return fmt.Errorf("module %s: machine is required", m.Version)
	case m.Codec == nil:
		return fmt.Errorf("module %s: codec is required", m.Version)
	case m.Overrides == nil:
		return fmt.Errorf("module %s: override validator is required", m.Version)
	case m.Defaults == nil || m.RecordedVersion == nil || m.UpgradeEvent == nil:
		return fmt.Errorf("module %s: Defaults, RecordedVersion and UpgradeEvent are required", m.Version)
	}
	return nil
}

func (m Module[S]) reserved(kind string) bool {
	for _, k := range m.ReservedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// runChecks returns a STATE_VALIDATION error for the first failing check.
func (m Module[S]) runChecks(state S) error {
	for _, c := range m.Checks {
		if err := c.Fn(state); err != nil {
			return ir.NewStateError(c.Name, fmt.Sprintf("state check %q failed", c.Name), err)
		}
	}
	return nil
}
