package ir

// Version constants for wire formats and the engine.
const (
	// RecordVersion is the version of the event and snapshot row layout.
	RecordVersion = "1"

	// EngineVersion is the evreplay engine version.
	EngineVersion = "0.1.0"
)
