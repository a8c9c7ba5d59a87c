package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/schema"
)

// DefaultChunkSize is the number of events pulled from the source per read.
const DefaultChunkSize = 256

// Machine is a deterministic state machine over decoded events.
type Machine[S any] interface {
	// Initial returns the empty state used when there is no snapshot.
	Initial() S

	// Clone returns a deep copy. Replay clones its base once so Apply may
	// update the working state in place.
	Clone(state S) S

	// Apply folds one event into state and returns the result.
	// An error means the event cannot be folded onto this state.
	Apply(state S, ev schema.DomainEvent) (S, error)
}

// Source supplies bounded chunks of the log. Read returns up to limit events
// with seq >= from in sequence order, and a short or empty chunk at the end.
// store.Store implements Source.
type Source interface {
	Read(ctx context.Context, from uint64, limit int) ([]ir.Event, error)
}

// Cursor is the position replay resumes from.
type Cursor struct {
	NextSequence uint64 `json:"next_sequence"`
}

// Result is the outcome of one replay call.
type Result[S any] struct {
	// State after every applied event.
	State S

	// Cursor points at the first event not applied.
	Cursor Cursor

	// Applied is the number of events folded.
	Applied uint64

	// Spent is the work units consumed; never more than the budget.
	Spent uint64

	// Exhausted is set when the next event did not fit in the budget.
	Exhausted bool

	// EndOfLog is set when the source had no more events.
	EndOfLog bool
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	chunkSize int
	cost      CostFunc
	logger    *slog.Logger
}

// WithChunkSize sets how many events are read from the source at a time.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithCostFunc replaces DefaultCost.
func WithCostFunc(fn CostFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.cost = fn
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Engine replays events through a Machine. It holds no replay state of its
// own and may be reused for any number of replays.
type Engine[S any] struct {
	registry *schema.Registry
	machine  Machine[S]
	opts     options
}

// New creates an engine that decodes with registry and folds with machine.
func New[S any](registry *schema.Registry, machine Machine[S], opts ...Option) *Engine[S] {
	o := options{
		chunkSize: DefaultChunkSize,
		cost:      DefaultCost,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[S]{registry: registry, machine: machine, opts: o}
}

// Machine returns the state machine the engine folds with.
func (e *Engine[S]) Machine() Machine[S] {
	return e.machine
}

// Replay applies events from cursor onwards to a copy of base (or to the
// machine's initial state when base is nil) until the source is exhausted
// or the next event would exceed budget.
//
// base is never modified. On error the partial state is discarded.
func (e *Engine[S]) Replay(ctx context.Context, base *S, cursor Cursor, src Source, budget Budget) (Result[S], error) {
	state := e.start(base)
	return e.slice(ctx, state, cursor, src, newMeter(budget))
}

// ReplayToEnd runs bounded slices of at most slice work units each until
// the log end. Reaching neither the end nor progress within total is a
// RESOURCE_EXHAUSTION: a slice that applies nothing would repeat forever.
func (e *Engine[S]) ReplayToEnd(ctx context.Context, base *S, cursor Cursor, src Source, slice, total Budget) (Result[S], error) {
	state := e.start(base)
	overall := newMeter(total)
	agg := Result[S]{State: state, Cursor: cursor}
	slices := 0

	for {
		limit := min(slice.Limit, overall.remaining())
		res, err := e.slice(ctx, agg.State, agg.Cursor, src, newMeter(Budget{Limit: limit}))
		if err != nil {
			return Result[S]{}, err
		}
		slices++
		overall.spent += res.Spent
		agg.State = res.State
		agg.Cursor = res.Cursor
		agg.Applied += res.Applied
		agg.Spent = overall.spent

		if res.EndOfLog {
			agg.EndOfLog = true
			e.opts.logger.Info("replay reached log end",
				"next_seq", agg.Cursor.NextSequence,
				"applied", agg.Applied,
				"spent", agg.Spent,
				"slices", slices,
			)
			return agg, nil
		}
		if res.Applied == 0 {
			agg.Exhausted = true
			end := agg.Cursor.NextSequence
			if tail, err := src.Read(ctx, agg.Cursor.NextSequence, e.opts.chunkSize); err == nil && len(tail) > 0 {
				end = tail[len(tail)-1].Seq + 1
			}
			return agg, ir.NewExhaustion(overall.spent, total.Limit, agg.Cursor.NextSequence, end).
				AtSequence(agg.Cursor.NextSequence)
		}
	}
}

func (e *Engine[S]) start(base *S) S {
	if base == nil {
		return e.machine.Initial()
	}
	return e.machine.Clone(*base)
}

// slice is one bounded pass. state is owned by the caller and updated in place.
func (e *Engine[S]) slice(ctx context.Context, state S, cursor Cursor, src Source, m *meter) (Result[S], error) {
	next := cursor.NextSequence
	var applied uint64

	done := func(exhausted, end bool) Result[S] {
		e.opts.logger.Debug("replay slice",
			"from_seq", cursor.NextSequence,
			"next_seq", next,
			"applied", applied,
			"spent", m.spent,
			"exhausted", exhausted,
			"end_of_log", end,
		)
		return Result[S]{
			State:     state,
			Cursor:    Cursor{NextSequence: next},
			Applied:   applied,
			Spent:     m.spent,
			Exhausted: exhausted,
			EndOfLog:  end,
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return Result[S]{}, fmt.Errorf("replay: %w", err)
		}

		chunk, err := src.Read(ctx, next, e.opts.chunkSize)
		if err != nil {
			if ir.CodeOf(err) != "" {
				return Result[S]{}, err
			}
			return Result[S]{}, ir.NewDivergence("read log", err).AtSequence(next)
		}
		if len(chunk) == 0 {
			return done(false, true), nil
		}

		for _, ev := range chunk {
			if ev.Seq != next {
				msg := "sequence gap"
				if ev.Seq < next {
					msg = "sequence out of order"
				}
				return Result[S]{}, ir.NewDivergence(
					fmt.Sprintf("%s: expected %d, got %d", msg, next, ev.Seq), nil).AtSequence(next)
			}
			if !ev.Verify() {
				return Result[S]{}, ir.NewDivergence("checksum mismatch for "+ev.String(), nil).AtSequence(ev.Seq)
			}

			if !m.charge(e.opts.cost(ev)) {
				return done(true, false), nil
			}

			dev, err := e.registry.Decode(ev.Kind, ev.Version, ev.Payload)
			if err != nil {
				return Result[S]{}, tagSequence(err, ev.Seq)
			}
			state, err = e.machine.Apply(state, dev)
			if err != nil {
				return Result[S]{}, ir.NewDivergence("fold "+ev.String(), err).AtSequence(ev.Seq)
			}
			next++
			applied++
		}

		if len(chunk) < e.opts.chunkSize {
			return done(false, true), nil
		}
	}
}

func tagSequence(err error, seq uint64) error {
	var e *ir.Error
	if errors.As(err, &e) {
		return e.AtSequence(seq)
	}
	return ir.NewDivergence("decode", err).AtSequence(seq)
}
