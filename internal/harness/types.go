package harness

// TraceEntry records what one step did.
type TraceEntry struct {
	Step    int    `json:"step"`
	Op      string `json:"op"`
	Outcome string `json:"outcome"`

	Kind string  `json:"kind,omitempty"`
	Seq  *uint64 `json:"seq,omitempty"`

	Code  string `json:"code,omitempty"`
	Stage string `json:"stage,omitempty"`

	Version         string   `json:"version,omitempty"`
	Attempt         string   `json:"attempt,omitempty"`
	PreviousVersion string   `json:"previous_version,omitempty"`
	Stages          []string `json:"stages,omitempty"`
	Applied         *uint64  `json:"applied,omitempty"`
	NextSequence    *uint64  `json:"next_sequence,omitempty"`
	SnapshotUpTo    *uint64  `json:"snapshot_up_to,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEntry `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEntry{}, Errors: []string{}}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEntry) {
	r.Trace = append(r.Trace, e)
}

func u64(v uint64) *uint64 { return &v }

// toCanonical converts an entry to native values MarshalCanonical accepts.
func (e TraceEntry) toCanonical() map[string]any {
	m := map[string]any{
		"step":    e.Step,
		"op":      e.Op,
		"outcome": e.Outcome,
	}
	set := func(key, v string) {
		if v != "" {
			m[key] = v
		}
	}
	setN := func(key string, v *uint64) {
		if v != nil {
			m[key] = int64(*v)
		}
	}
	set("kind", e.Kind)
	setN("seq", e.Seq)
	set("code", e.Code)
	set("stage", e.Stage)
	set("version", e.Version)
	set("attempt", e.Attempt)
	set("previous_version", e.PreviousVersion)
	if len(e.Stages) > 0 {
		stages := make([]any, len(e.Stages))
		for i, s := range e.Stages {
			stages[i] = s
		}
		m["stages"] = stages
	}
	setN("applied", e.Applied)
	setN("next_sequence", e.NextSequence)
	setN("snapshot_up_to", e.SnapshotUpTo)
	return m
}
