package upgrade

import (
	"context"
	"fmt"
	"sync"
)

// Host runs one live controller and performs code swaps.
//
// An upgrade is all-or-nothing from the host's view: either the new
// controller committed and replaces the old one, or the old one resumes
// with its state untouched.
type Host[S any] struct {
	mu      sync.Mutex
	current *Controller[S]
}

// NewHost wraps a Running controller.
func NewHost[S any](c *Controller[S]) *Host[S] {
	return &Host[S]{current: c}
}

// Current returns the live controller.
func (h *Host[S]) Current() *Controller[S] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Upgrade swaps the live controller for one running module.
//
// The new controller shares the old one's log and configuration. The
// returned report is meaningful whenever PostUpgrade ran, including on
// failure.
func (h *Host[S]) Upgrade(ctx context.Context, module Module[S], t Trigger) (Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	old := h.current
	next, err := New(module, old.log, old.cfg)
	if err != nil {
		return Report{}, fmt.Errorf("upgrade: %w", err)
	}

	if err := old.PreUpgrade(ctx); err != nil {
		return Report{}, err
	}

	rep, err := next.PostUpgrade(ctx, t)
	if err != nil {
		if rerr := old.ResumeAfterRollback(); rerr != nil {
			old.logger.Error("resume after rollback failed", "error", rerr)
		}
		return rep, err
	}

	old.retire()
	h.current = next
	return rep, nil
}
