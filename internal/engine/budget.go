package engine

import (
	"math"

	"github.com/roach88/evreplay/internal/ir"
)

// Budget caps the work units one replay call may spend.
type Budget struct {
	Limit uint64
}

// Unlimited is a budget no log can exhaust.
var Unlimited = Budget{Limit: math.MaxUint64}

// CostFunc estimates the work units needed to decode and apply one event.
// It must be deterministic and should be at least 1.
type CostFunc func(ev ir.Event) uint64

// DefaultCost charges one unit per event plus one per KiB of payload.
func DefaultCost(ev ir.Event) uint64 {
	return 1 + uint64(len(ev.Payload))/1024
}

// meter tracks spending against a budget.
//
// Unlike a step quota that fails after the limit is crossed, the meter
// refuses a charge that would cross it, so a slice never overspends.
type meter struct {
	limit uint64
	spent uint64
}

func newMeter(b Budget) *meter {
	return &meter{limit: b.Limit}
}

// charge spends cost if it fits in what remains and reports whether it did.
func (m *meter) charge(cost uint64) bool {
	if cost > m.remaining() {
		return false
	}
	m.spent += cost
	return true
}

func (m *meter) remaining() uint64 {
	return m.limit - m.spent
}
