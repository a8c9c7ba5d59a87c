// Package snapshot materializes replay state at chosen log positions so an
// upgrade replays only the suffix of the log.
//
// A snapshot at up_to_sequence k holds the state produced by every event
// with seq <= k. Replaying the events after k onto it must reproduce the
// state of a full replay; the snapshot manager guarantees the encoding side
// of that (digest, format) and the replay engine the folding side.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/evreplay/internal/engine"
	"github.com/roach88/evreplay/internal/ir"
)

// Codec serializes a state value. Encode must be deterministic: equal
// states encode to identical bytes.
type Codec[S any] interface {
	Encode(state S) ([]byte, error)
	Decode(data []byte) (S, error)

	// Format identifies the encoding. A snapshot written under another
	// format cannot be restored.
	Format() uint32
}

// Store persists snapshots. store.Store implements it.
type Store interface {
	SaveSnapshot(ctx context.Context, snap ir.Snapshot) error
	LatestSnapshot(ctx context.Context) (*ir.Snapshot, error)
}

// Policy decides when MaybeSnapshot writes.
type Policy struct {
	// Every is the number of events appended since the last snapshot
	// that triggers a new one. Zero disables automatic snapshots.
	Every uint64
}

// Config configures a Manager.
type Config struct {
	Policy Policy
	Logger *slog.Logger
}

// Manager takes and restores snapshots for one state type.
type Manager[S any] struct {
	store  Store
	codec  Codec[S]
	policy Policy
	logger *slog.Logger

	// covered is the first sequence not covered by the latest snapshot.
	// loaded is false until it has been read from the store.
	covered uint64
	loaded  bool
}

// New creates a Manager.
func New[S any](st Store, codec Codec[S], cfg Config) *Manager[S] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager[S]{
		store:  st,
		codec:  codec,
		policy: cfg.Policy,
		logger: logger,
	}
}

// Codec returns the codec the manager encodes with.
func (m *Manager[S]) Codec() Codec[S] {
	return m.codec
}

// MaybeSnapshot writes a snapshot of state at upTo when the policy says
// enough events have accumulated. It returns nil when the policy declines.
//
// Only call this during normal operation: a snapshot taken mid-upgrade
// could capture a state that the upgrade later rolls back.
func (m *Manager[S]) MaybeSnapshot(ctx context.Context, state S, upTo uint64) (*ir.Snapshot, error) {
	if m.policy.Every == 0 {
		return nil, nil
	}
	if !m.loaded {
		if _, err := m.LoadLatest(ctx); err != nil {
			return nil, err
		}
	}
	if upTo+1 < m.covered || upTo+1-m.covered < m.policy.Every {
		return nil, nil
	}
	return m.Force(ctx, state, upTo)
}

// Force writes a snapshot of state at upTo regardless of policy.
func (m *Manager[S]) Force(ctx context.Context, state S, upTo uint64) (*ir.Snapshot, error) {
	data, err := m.codec.Encode(state)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot state: %w", err)
	}

	snap := ir.Snapshot{
		UpToSequence: upTo,
		Format:       m.codec.Format(),
		State:        data,
	}
	snap.Digest = ir.SnapshotDigest(snap.UpToSequence, snap.Format, snap.State)

	if err := m.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot at %d: %w", upTo, err)
	}
	m.covered = snap.NextSequence()
	m.loaded = true

	m.logger.Info("snapshot saved",
		"up_to_seq", upTo,
		"format", snap.Format,
		"bytes", len(data),
	)
	return &snap, nil
}

// LoadLatest returns the latest stored snapshot, or nil when none exists.
func (m *Manager[S]) LoadLatest(ctx context.Context) (*ir.Snapshot, error) {
	snap, err := m.store.LatestSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	m.loaded = true
	m.covered = 0
	if snap != nil {
		m.covered = snap.NextSequence()
	}
	return snap, nil
}

// Restore decodes snap into a replay base and the cursor to resume from.
// A digest or format mismatch is a REPLAY_DIVERGENCE.
func (m *Manager[S]) Restore(snap ir.Snapshot) (S, engine.Cursor, error) {
	var zero S
	if snap.Format != m.codec.Format() {
		return zero, engine.Cursor{}, ir.NewDivergence(
			fmt.Sprintf("snapshot format %d, codec expects %d", snap.Format, m.codec.Format()), nil).
			AtSequence(snap.UpToSequence)
	}
	if !snap.Verify() {
		return zero, engine.Cursor{}, ir.NewDivergence("snapshot digest mismatch", nil).AtSequence(snap.UpToSequence)
	}
	state, err := m.codec.Decode(snap.State)
	if err != nil {
		return zero, engine.Cursor{}, ir.NewDivergence("decode snapshot state", err).AtSequence(snap.UpToSequence)
	}
	return state, engine.Cursor{NextSequence: snap.NextSequence()}, nil
}

// Digest returns the state digest of state under codec.
// Equal digests mean bit-identical canonical encodings.
func Digest[S any](codec Codec[S], state S) (string, error) {
	data, err := codec.Encode(state)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return ir.StateDigest(data), nil
}
