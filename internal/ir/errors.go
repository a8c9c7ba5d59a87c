package ir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error is the typed failure returned by every evreplay component.
//
// During PostUpgrade none of these are recovered locally: any Error aborts
// the whole upgrade so the host can roll code and state back together.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Stage names the upgrade stage that failed, when known.
	Stage string

	// Sequence is the log position involved, when HasSequence is set.
	Sequence    uint64
	HasSequence bool

	// Details contains additional context (e.g. the rejected override key).
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes failures.
type ErrorCode string

const (
	// ErrCodeDurability indicates a log write or flush did not persist.
	ErrCodeDurability ErrorCode = "DURABILITY_FAILURE"

	// ErrCodeDivergence indicates history the current code cannot replay:
	// unknown schema version, gap, reordering or corruption.
	ErrCodeDivergence ErrorCode = "REPLAY_DIVERGENCE"

	// ErrCodeExhausted indicates the replay budget ran out before the log end.
	ErrCodeExhausted ErrorCode = "RESOURCE_EXHAUSTION"

	// ErrCodeConfig indicates a bad upgrade override key or value.
	ErrCodeConfig ErrorCode = "CONFIG_VALIDATION"

	// ErrCodeState indicates the reconstructed state failed a validation predicate.
	ErrCodeState ErrorCode = "STATE_VALIDATION"

	// ErrCodeTrigger indicates a malformed or misdirected upgrade trigger.
	ErrCodeTrigger ErrorCode = "INVALID_TRIGGER"

	// ErrCodePhase indicates a lifecycle call made in the wrong phase.
	ErrCodePhase ErrorCode = "INVALID_PHASE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var ctx []string
	if e.Stage != "" {
		ctx = append(ctx, "stage="+e.Stage)
	}
	if e.HasSequence {
		ctx = append(ctx, fmt.Sprintf("seq=%d", e.Sequence))
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ctx = append(ctx, k+"="+e.Details[k])
		}
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithStage returns a copy of e tagged with the given stage.
// An existing stage is kept: the innermost stage is the most precise.
func (e *Error) WithStage(stage string) *Error {
	cp := *e
	if cp.Stage == "" {
		cp.Stage = stage
	}
	return &cp
}

// AtSequence returns a copy of e tagged with a log position.
func (e *Error) AtSequence(seq uint64) *Error {
	cp := *e
	cp.Sequence = seq
	cp.HasSequence = true
	return &cp
}

// NewDurabilityFailure creates an Error for a write/flush that did not persist.
func NewDurabilityFailure(message string, err error) *Error {
	return &Error{Code: ErrCodeDurability, Message: message, Err: err}
}

// NewDivergence creates an Error for history the current code cannot replay.
func NewDivergence(message string, err error) *Error {
	return &Error{Code: ErrCodeDivergence, Message: message, Err: err}
}

// NewExhaustion creates an Error for a replay budget that ran out.
func NewExhaustion(spent, limit, reached, end uint64) *Error {
	return &Error{
		Code:    ErrCodeExhausted,
		Message: fmt.Sprintf("replay budget exhausted before log end (%d >= %d work units)", spent, limit),
		Details: map[string]string{
			"spent":       fmt.Sprintf("%d", spent),
			"limit":       fmt.Sprintf("%d", limit),
			"reached_seq": fmt.Sprintf("%d", reached),
			"log_end":     fmt.Sprintf("%d", end),
		},
	}
}

// NewConfigError creates an Error for a rejected override key or value.
func NewConfigError(key, message string, err error) *Error {
	e := &Error{Code: ErrCodeConfig, Message: message, Err: err}
	if key != "" {
		e.Details = map[string]string{"key": key}
	}
	return e
}

// NewStateError creates an Error for a failed state validation predicate.
func NewStateError(check, message string, err error) *Error {
	return &Error{
		Code:    ErrCodeState,
		Message: message,
		Details: map[string]string{"check": check},
		Err:     err,
	}
}

// NewTriggerError creates an Error for a malformed upgrade trigger.
func NewTriggerError(message string) *Error {
	return &Error{Code: ErrCodeTrigger, Message: message}
}

// NewPhaseError creates an Error for a lifecycle call made in the wrong phase.
func NewPhaseError(op, phase string) *Error {
	return &Error{
		Code:    ErrCodePhase,
		Message: fmt.Sprintf("%s not allowed in phase %s", op, phase),
	}
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not an *Error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StageOf returns the stage carried by err, or "".
func StageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// IsDurabilityFailure returns true if err is a DURABILITY_FAILURE.
func IsDurabilityFailure(err error) bool {
	return CodeOf(err) == ErrCodeDurability
}

// IsReplayDivergence returns true if err is a REPLAY_DIVERGENCE.
func IsReplayDivergence(err error) bool {
	return CodeOf(err) == ErrCodeDivergence
}

// IsResourceExhaustion returns true if err is a RESOURCE_EXHAUSTION.
func IsResourceExhaustion(err error) bool {
	return CodeOf(err) == ErrCodeExhausted
}

// IsConfigValidation returns true if err is a CONFIG_VALIDATION failure.
func IsConfigValidation(err error) bool {
	return CodeOf(err) == ErrCodeConfig
}
