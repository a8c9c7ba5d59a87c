package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one upgrade scenario.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// ServiceID is the service the log belongs to. Defaults to DefaultServiceID.
	ServiceID string `yaml:"service_id,omitempty"`

	Settings Settings `yaml:"settings,omitempty"`

	// Install is the initial code version and minter configuration.
	Install Install `yaml:"install"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultServiceID is used when a scenario names no service.
const DefaultServiceID = "ckbtc-minter"

// Settings are controller settings. Zero values take controller defaults.
type Settings struct {
	SliceBudget    uint64 `yaml:"slice_budget,omitempty"`
	TotalBudget    uint64 `yaml:"total_budget,omitempty"`
	SnapshotEvery  uint64 `yaml:"snapshot_every,omitempty"`
	AllowDowngrade bool   `yaml:"allow_downgrade,omitempty"`
}

// Install starts the service.
type Install struct {
	Version string         `yaml:"version"`
	Config  map[string]any `yaml:"config"`
}

// Step is one scenario action. Exactly one of the action fields is set.
type Step struct {
	Append     *EventStep   `yaml:"append,omitempty"`
	Write      *EventStep   `yaml:"write,omitempty"`
	Upgrade    *UpgradeStep `yaml:"upgrade,omitempty"`
	Fault      *FaultStep   `yaml:"fault,omitempty"`
	Checkpoint bool         `yaml:"checkpoint,omitempty"`
	Compact    bool         `yaml:"compact,omitempty"`
	Restart    bool         `yaml:"restart,omitempty"`

	// Expect is the expected outcome. If nil, success is expected.
	Expect *Expect `yaml:"expect,omitempty"`
}

// EventStep is an event to append.
type EventStep struct {
	Kind string `yaml:"kind"`

	// Version is the payload version; 0 means the current version.
	Version uint32 `yaml:"version,omitempty"`

	// Payload is encoded as canonical JSON. Raw, when set, is used verbatim.
	Payload map[string]any `yaml:"payload,omitempty"`
	Raw     string         `yaml:"raw,omitempty"`
}

// UpgradeStep is an upgrade trigger. Target and Mode default to the
// scenario service and "upgrade".
type UpgradeStep struct {
	Version    string         `yaml:"version"`
	Overrides  map[string]any `yaml:"overrides,omitempty"`
	InstallArg *string        `yaml:"install_arg,omitempty"`
	Target     string         `yaml:"target,omitempty"`
	Mode       string         `yaml:"mode,omitempty"`
}

// FaultStep arms log faults. Clear disarms all of them first.
type FaultStep struct {
	Append string `yaml:"append,omitempty"`
	Flush  string `yaml:"flush,omitempty"`
	Clear  bool   `yaml:"clear,omitempty"`
}

// Expect is an expected step outcome.
type Expect struct {
	// Outcome is ok, error, committed or rolled_back.
	Outcome string `yaml:"outcome"`

	// Code and Stage, when set, must match the returned error.
	Code  string `yaml:"code,omitempty"`
	Stage string `yaml:"stage,omitempty"`
}

// Step outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

// Assertion checks the final state.
type Assertion struct {
	Type    string   `yaml:"type"`
	Account string   `yaml:"account,omitempty"`
	Key     string   `yaml:"key,omitempty"`
	Value   any      `yaml:"value,omitempty"`
	Values  []string `yaml:"values,omitempty"`
}

// Assertion type constants.
const (
	AssertCodeVersion  = "code_version"
	AssertNextSequence = "next_sequence"
	AssertPhase        = "phase"
	AssertUpgradeCount = "upgrade_count"
	AssertBalance      = "balance"
	AssertConfig       = "config"
	AssertLogKinds     = "log_kinds"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.ServiceID == "" {
		scenario.ServiceID = DefaultServiceID
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Install.Version == "" {
		return fmt.Errorf("install.version is required")
	}
	if s.Install.Config == nil {
		return fmt.Errorf("install.config is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, s *Step) error {
	n := 0
	for _, set := range []bool{s.Append != nil, s.Write != nil, s.Upgrade != nil, s.Fault != nil, s.Checkpoint, s.Compact, s.Restart} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, n)
	}

	for _, ev := range []*EventStep{s.Append, s.Write} {
		if ev != nil && ev.Kind == "" {
			return fmt.Errorf("steps[%d]: kind is required", i)
		}
	}
	if s.Upgrade != nil && s.Upgrade.Version == "" {
		return fmt.Errorf("steps[%d]: upgrade.version is required", i)
	}

	if s.Expect != nil {
		switch s.Expect.Outcome {
		case OutcomeOK, OutcomeError, OutcomeCommitted, OutcomeRolledBack:
		default:
			return fmt.Errorf("steps[%d].expect: unknown outcome %q", i, s.Expect.Outcome)
		}
	}
	return nil
}

func validateAssertion(i int, a *Assertion) error {
	switch a.Type {
	case AssertCodeVersion, AssertNextSequence, AssertPhase, AssertUpgradeCount:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for %s", i, a.Type)
		}
	case AssertBalance:
		if a.Account == "" || a.Value == nil {
			return fmt.Errorf("assertions[%d]: account and value are required for balance", i)
		}
	case AssertConfig:
		if a.Key == "" || a.Value == nil {
			return fmt.Errorf("assertions[%d]: key and value are required for config", i)
		}
	case AssertLogKinds:
		if len(a.Values) == 0 {
			return fmt.Errorf("assertions[%d]: values are required for log_kinds", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
