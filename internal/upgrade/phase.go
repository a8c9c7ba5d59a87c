package upgrade

// Phase is a controller lifecycle phase.
type Phase int

const (
	// PhaseIdle is a constructed controller with no live state.
	PhaseIdle Phase = iota

	// PhaseRunning accepts appends and may snapshot.
	PhaseRunning

	// PhasePreUpgrade has flushed the log and refuses appends.
	PhasePreUpgrade

	// PhasePostUpgrade is rebuilding state inside new code.
	PhasePostUpgrade

	// PhaseRetired was replaced by a successor that committed.
	PhaseRetired
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseRunning:
		return "Running"
	case PhasePreUpgrade:
		return "PreUpgrade"
	case PhasePostUpgrade:
		return "PostUpgrade"
	case PhaseRetired:
		return "Retired"
	default:
		return "Unknown"
	}
}

// Upgrade stage names, as reported in errors and reports.
const (
	StagePreUpgrade   = "pre_upgrade"
	StagePrelude      = "prelude"
	StageLoadSnapshot = "load_snapshot"
	StageReplay       = "replay"
	StageBudget       = "budget"
	StageOverrides    = "overrides"
	StageValidate     = "validate_state"
	StageCommit       = "commit"
)
