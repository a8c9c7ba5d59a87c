package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/evreplay/internal/ir"
)

// Append assigns the next sequence number to a new event and persists it
// before returning. The checksum is computed here so callers cannot forge
// one for a position they do not own.
//
// Any failure to write or commit is an ir.Error with code DURABILITY_FAILURE;
// on failure nothing is appended.
func (s *Store) Append(ctx context.Context, kind string, version uint32, payload []byte) (ir.Event, error) {
	if kind == "" {
		return ir.Event{}, fmt.Errorf("append: kind is required")
	}
	if version == 0 {
		return ir.Event{}, fmt.Errorf("append %s: version must be >= 1", kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Event{}, ir.NewDurabilityFailure("append: begin transaction", err)
	}
	defer tx.Rollback()

	seq, err := nextSequence(ctx, tx)
	if err != nil {
		return ir.Event{}, ir.NewDurabilityFailure("append: assign sequence", err)
	}

	ev := ir.Event{
		Seq:     seq,
		Kind:    kind,
		Version: version,
		Payload: append([]byte{}, payload...),
	}
	ev.Checksum = ir.EventChecksum(ev.Seq, ev.Kind, ev.Version, ev.Payload)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (seq, kind, version, payload, checksum)
		VALUES (?, ?, ?, ?, ?)
	`,
		int64(ev.Seq),
		ev.Kind,
		int64(ev.Version),
		ev.Payload,
		ev.Checksum,
	)
	if err != nil {
		return ir.Event{}, ir.NewDurabilityFailure("append: write event", err).AtSequence(seq)
	}

	if err := tx.Commit(); err != nil {
		return ir.Event{}, ir.NewDurabilityFailure("append: commit", err).AtSequence(seq)
	}

	return ev, nil
}

// Read returns up to limit events with seq >= from, ordered by seq.
// It returns an empty slice (not nil) at the end of the log.
//
// Reading below the origin is a REPLAY_DIVERGENCE: that history was
// compacted away and only a snapshot can stand in for it.
func (s *Store) Read(ctx context.Context, from uint64, limit int) ([]ir.Event, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("read events: limit must be positive, got %d", limit)
	}

	origin, err := s.Origin(ctx)
	if err != nil {
		return nil, err
	}
	if from < origin {
		return nil, ir.NewDivergence(
			fmt.Sprintf("read below log origin %d", origin), nil).AtSequence(from)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, version, payload, checksum
		FROM events
		WHERE seq >= ?
		ORDER BY seq ASC
		LIMIT ?
	`, int64(from), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]ir.Event, 0, limit)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// scanEvent scans a single row into an Event.
func scanEvent(rows *sql.Rows) (ir.Event, error) {
	var (
		ev      ir.Event
		seq     int64
		version int64
	)
	if err := rows.Scan(&seq, &ev.Kind, &version, &ev.Payload, &ev.Checksum); err != nil {
		return ir.Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Seq = uint64(seq)
	ev.Version = uint32(version)
	if ev.Payload == nil {
		ev.Payload = []byte{}
	}
	return ev, nil
}

// Iterator walks the log lazily in bounded chunks.
//
// An iterator is finite: Next returns an empty chunk once it reaches the end
// of the log as it stood when that chunk was read. It is restartable: a new
// iterator from any Position resumes exactly where an earlier one stopped.
type Iterator struct {
	store *Store
	next  uint64
	chunk int
	done  bool
}

// Iterate returns an iterator starting at from that reads chunk events at a
// time. A non-positive chunk defaults to 256.
func (s *Store) Iterate(from uint64, chunk int) *Iterator {
	if chunk <= 0 {
		chunk = 256
	}
	return &Iterator{store: s, next: from, chunk: chunk}
}

// Next returns the next chunk of events. An empty chunk means the end of the log.
func (it *Iterator) Next(ctx context.Context) ([]ir.Event, error) {
	if it.done {
		return []ir.Event{}, nil
	}
	events, err := it.store.Read(ctx, it.next, it.chunk)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		it.done = true
		return events, nil
	}
	it.next = events[len(events)-1].Seq + 1
	return events, nil
}

// Position returns the sequence the next chunk will start at.
func (it *Iterator) Position() uint64 {
	return it.next
}
