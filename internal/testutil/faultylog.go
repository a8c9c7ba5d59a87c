// Package testutil provides fault injection for log-backed tests.
package testutil

import (
	"context"
	"sync"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/store"
)

// FaultyLog wraps a store and fails selected operations on demand.
//
// Faults fire before the underlying store is touched, so a failed Append
// never persists.
//
// Thread-safety: all methods are safe for concurrent use.
type FaultyLog struct {
	*store.Store

	mu        sync.Mutex
	appendErr error
	appendsOK int
	flushErr  error
	readErr   error
	afterRead func(events []ir.Event)
	appends   int
	flushes   int
	readCalls int
}

// NewFaultyLog wraps st with no faults armed.
func NewFaultyLog(st *store.Store) *FaultyLog {
	return &FaultyLog{Store: st}
}

// FailAppend makes every Append after the next n successful ones return err.
// A nil err disarms the fault.
func (f *FaultyLog) FailAppend(err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendErr = err
	f.appendsOK = n
}

// FailFlush makes Flush return err until disarmed with nil.
func (f *FaultyLog) FailFlush(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushErr = err
}

// FailRead makes Read return err until disarmed with nil.
func (f *FaultyLog) FailRead(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// AfterRead installs a hook called with the result of every successful Read.
func (f *FaultyLog) AfterRead(fn func(events []ir.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterRead = fn
}

// Append forwards to the store unless an append fault is armed.
func (f *FaultyLog) Append(ctx context.Context, kind string, version uint32, payload []byte) (ir.Event, error) {
	f.mu.Lock()
	f.appends++
	if f.appendErr != nil {
		if f.appendsOK == 0 {
			err := f.appendErr
			f.mu.Unlock()
			return ir.Event{}, ir.NewDurabilityFailure("append", err)
		}
		f.appendsOK--
	}
	f.mu.Unlock()
	return f.Store.Append(ctx, kind, version, payload)
}

// Flush forwards to the store unless a flush fault is armed.
func (f *FaultyLog) Flush(ctx context.Context) error {
	f.mu.Lock()
	f.flushes++
	err := f.flushErr
	f.mu.Unlock()
	if err != nil {
		return ir.NewDurabilityFailure("flush", err)
	}
	return f.Store.Flush(ctx)
}

// Read forwards to the store unless a read fault is armed.
func (f *FaultyLog) Read(ctx context.Context, from uint64, limit int) ([]ir.Event, error) {
	f.mu.Lock()
	f.readCalls++
	err, hook := f.readErr, f.afterRead
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	events, err := f.Store.Read(ctx, from, limit)
	if err == nil && hook != nil {
		hook(events)
	}
	return events, err
}

// Counts returns how many times Append, Flush and Read were called.
func (f *FaultyLog) Counts() (appends, flushes, reads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appends, f.flushes, f.readCalls
}
