package upgrade

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/roach88/evreplay/internal/ir"
)

// Mode is the install mode requested by the governance collaborator.
type Mode string

const (
	ModeInstall   Mode = "install"
	ModeReinstall Mode = "reinstall"
	ModeUpgrade   Mode = "upgrade"
)

// Trigger is the payload that starts PostUpgrade.
type Trigger struct {
	TargetServiceID string `json:"target_service_id" yaml:"target_service_id"`
	CodeVersion     string `json:"code_version" yaml:"code_version"`
	InstallArg      []byte `json:"install_arg" yaml:"install_arg"`
	Mode            Mode   `json:"mode" yaml:"mode"`
}

// validate checks the trigger is an upgrade of serviceID to moduleVersion
// and returns the parsed code version.
func (t Trigger) validate(serviceID, moduleVersion string) (*semver.Version, error) {
	if t.TargetServiceID != serviceID {
		return nil, ir.NewTriggerError(
			fmt.Sprintf("trigger targets service %q, this is %q", t.TargetServiceID, serviceID))
	}
	if t.Mode != ModeUpgrade {
		return nil, ir.NewTriggerError(fmt.Sprintf("mode %q is not %q", t.Mode, ModeUpgrade))
	}
	v, err := semver.NewVersion(t.CodeVersion)
	if err != nil {
		return nil, &ir.Error{
			Code:    ir.ErrCodeTrigger,
			Message: fmt.Sprintf("code version %q is not a semantic version", t.CodeVersion),
			Err:     err,
		}
	}
	if t.CodeVersion != moduleVersion {
		return nil, ir.NewTriggerError(
			fmt.Sprintf("trigger installs %s but the running code is %s", t.CodeVersion, moduleVersion))
	}
	return v, nil
}
