package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/evreplay/internal/ir"
)

// SaveSnapshot stores snap and removes every older snapshot in the same
// transaction, so readers see either the previous snapshot or the new one.
//
// The snapshot must verify, must not cover sequences that were never
// appended and must reach the log origin. It may not go back behind the
// latest stored snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap ir.Snapshot) error {
	if !snap.Verify() {
		return fmt.Errorf("save snapshot: digest does not match contents")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.NewDurabilityFailure("save snapshot: begin transaction", err)
	}
	defer tx.Rollback()

	next, err := nextSequence(ctx, tx)
	if err != nil {
		return ir.NewDurabilityFailure("save snapshot: read log end", err)
	}
	if snap.UpToSequence >= next {
		return fmt.Errorf("save snapshot: up_to_sequence %d is past the log end %d", snap.UpToSequence, next)
	}
	origin, err := readOrigin(ctx, tx)
	if err != nil {
		return ir.NewDurabilityFailure("save snapshot: read origin", err)
	}
	if snap.UpToSequence+1 < origin {
		return fmt.Errorf("save snapshot: up_to_sequence %d is behind the log origin %d", snap.UpToSequence, origin)
	}
	latest, err := latestSnapshot(ctx, tx)
	if err != nil {
		return ir.NewDurabilityFailure("save snapshot: read latest", err)
	}
	if latest != nil && snap.UpToSequence < latest.UpToSequence {
		return fmt.Errorf("save snapshot: up_to_sequence %d is older than the stored snapshot at %d",
			snap.UpToSequence, latest.UpToSequence)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (up_to_seq, format, state, digest)
		VALUES (?, ?, ?, ?)
	`, int64(snap.UpToSequence), int64(snap.Format), snap.State, snap.Digest)
	if err != nil {
		return ir.NewDurabilityFailure("save snapshot: write", err).AtSequence(snap.UpToSequence)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshots WHERE up_to_seq <> ?", int64(snap.UpToSequence)); err != nil {
		return ir.NewDurabilityFailure("save snapshot: supersede", err)
	}

	if err := tx.Commit(); err != nil {
		return ir.NewDurabilityFailure("save snapshot: commit", err)
	}
	return nil
}

// LatestSnapshot returns the current snapshot, or nil when none exists.
// The digest is not checked here; the snapshot manager verifies on restore.
func (s *Store) LatestSnapshot(ctx context.Context) (*ir.Snapshot, error) {
	return latestSnapshot(ctx, s.db)
}

func latestSnapshot(ctx context.Context, q queryer) (*ir.Snapshot, error) {
	var (
		snap   ir.Snapshot
		upTo   int64
		format int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT up_to_seq, format, state, digest
		FROM snapshots
		ORDER BY up_to_seq DESC
		LIMIT 1
	`).Scan(&upTo, &format, &snap.State, &snap.Digest)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest snapshot: %w", err)
	}
	snap.UpToSequence = uint64(upTo)
	snap.Format = uint32(format)
	return &snap, nil
}

// Compact drops every event with seq <= upTo and advances the origin to
// upTo+1. A stored snapshot must already cover upTo; history that no
// snapshot stands in for is never dropped.
//
// Returns the number of events removed. Compacting below the current origin
// is a no-op.
func (s *Store) Compact(ctx context.Context, upTo uint64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ir.NewDurabilityFailure("compact: begin transaction", err)
	}
	defer tx.Rollback()

	origin, err := readOrigin(ctx, tx)
	if err != nil {
		return 0, err
	}
	if upTo < origin {
		return 0, nil
	}

	snap, err := latestSnapshot(ctx, tx)
	if err != nil {
		return 0, err
	}
	if snap == nil || snap.UpToSequence < upTo {
		return 0, fmt.Errorf("compact: no snapshot covers sequence %d", upTo)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM events WHERE seq <= ?", int64(upTo))
	if err != nil {
		return 0, ir.NewDurabilityFailure("compact: delete prefix", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("compact: rows affected: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaOrigin, fmt.Sprintf("%d", upTo+1))
	if err != nil {
		return 0, ir.NewDurabilityFailure("compact: advance origin", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, ir.NewDurabilityFailure("compact: commit", err)
	}
	return removed, nil
}
