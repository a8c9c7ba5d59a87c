package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/roach88/evreplay/internal/engine"
	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/override"
	"github.com/roach88/evreplay/internal/snapshot"
)

// Log is the durable event log the controller writes to and replays from.
// store.Store implements it.
type Log interface {
	engine.Source
	snapshot.Store

	Append(ctx context.Context, kind string, version uint32, payload []byte) (ir.Event, error)
	Flush(ctx context.Context) error
	NextSequence(ctx context.Context) (uint64, error)
	Origin(ctx context.Context) (uint64, error)
}

// Default budgets in work units.
const (
	DefaultSliceBudget = 50_000
	DefaultTotalBudget = 5_000_000
)

// Config configures a Controller. Zero values take defaults.
type Config struct {
	// ServiceID is the identity upgrade triggers must target.
	ServiceID string

	// SliceBudget caps one replay slice; TotalBudget caps a whole rebuild.
	SliceBudget engine.Budget
	TotalBudget engine.Budget

	// ChunkSize is the number of events read per log query.
	ChunkSize int

	// Cost overrides engine.DefaultCost.
	Cost engine.CostFunc

	// Snapshot is the snapshot policy applied in the Running phase.
	Snapshot snapshot.Policy

	// AllowDowngrade permits committing a code version older than the
	// one recorded in the state.
	AllowDowngrade bool

	IDs    IDGenerator
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SliceBudget.Limit == 0 {
		c.SliceBudget = engine.Budget{Limit: DefaultSliceBudget}
	}
	if c.TotalBudget.Limit == 0 {
		c.TotalBudget = engine.Budget{Limit: DefaultTotalBudget}
	}
	if c.IDs == nil {
		c.IDs = UUIDv7Generator{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Report describes one PostUpgrade attempt, successful or not.
type Report struct {
	AttemptID       string      `json:"attempt_id"`
	CodeVersion     string      `json:"code_version"`
	PreviousVersion string      `json:"previous_version"`
	Stages          []string    `json:"stages"`
	FailedStage     string      `json:"failed_stage,omitempty"`
	SnapshotUpTo    *uint64     `json:"snapshot_up_to,omitempty"`
	StartSequence   uint64      `json:"start_sequence"`
	NextSequence    uint64      `json:"next_sequence"`
	Applied         uint64      `json:"applied"`
	Spent           uint64      `json:"spent"`
	Effective       ir.IRObject `json:"effective,omitempty"`
	Digest          string      `json:"digest,omitempty"`
}

// Controller owns the live state of one code version.
//
// All methods are serialized by a mutex: the whole of PostUpgrade is one
// critical section and no caller observes a half-built state.
type Controller[S any] struct {
	mu sync.Mutex

	module    Module[S]
	log       Log
	cfg       Config
	engine    *engine.Engine[S]
	snapshots *snapshot.Manager[S]
	logger    *slog.Logger

	phase    Phase
	state    S
	hasState bool
	cursor   engine.Cursor
}

// New creates an Idle controller for module over log.
func New[S any](module Module[S], log Log, cfg Config) (*Controller[S], error) {
	if err := module.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("controller: log is required")
	}
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With("service", cfg.ServiceID, "code_version", module.Version)

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.ChunkSize > 0 {
		opts = append(opts, engine.WithChunkSize(cfg.ChunkSize))
	}
	if cfg.Cost != nil {
		opts = append(opts, engine.WithCostFunc(cfg.Cost))
	}

	return &Controller[S]{
		module:    module,
		log:       log,
		cfg:       cfg,
		engine:    engine.New(module.Registry, module.Machine, opts...),
		snapshots: snapshot.New(log, module.Codec, snapshot.Config{Policy: cfg.Snapshot, Logger: logger}),
		logger:    logger,
	}, nil
}

// Install starts a fresh service: the log must be empty. The install event
// is folded and checked before it is appended.
func (c *Controller[S]) Install(ctx context.Context, kind string, version uint32, payload []byte) (ir.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseIdle {
		return ir.Event{}, ir.NewPhaseError("install", c.phase.String())
	}
	if err := c.checkWritable(kind); err != nil {
		return ir.Event{}, err
	}
	next, err := c.log.NextSequence(ctx)
	if err != nil {
		return ir.Event{}, fmt.Errorf("install: %w", err)
	}
	origin, err := c.log.Origin(ctx)
	if err != nil {
		return ir.Event{}, fmt.Errorf("install: %w", err)
	}
	if next != origin {
		return ir.Event{}, &ir.Error{Code: ir.ErrCodePhase, Message: "install requires an empty log"}
	}

	dev, err := c.module.Registry.Decode(kind, version, payload)
	if err != nil {
		return ir.Event{}, err
	}
	state, err := c.module.Machine.Apply(c.module.Machine.Initial(), dev)
	if err != nil {
		return ir.Event{}, fmt.Errorf("install: %w", err)
	}
	if err := c.module.runChecks(state); err != nil {
		return ir.Event{}, err
	}

	ev, err := c.log.Append(ctx, kind, version, payload)
	if err != nil {
		return ir.Event{}, err
	}

	c.goLive(state, engine.Cursor{NextSequence: ev.Seq + 1})
	c.logger.Info("service installed", "seq", ev.Seq)
	if _, err := c.snapshots.MaybeSnapshot(ctx, c.state, ev.Seq); err != nil {
		c.logger.Warn("snapshot failed", "seq", ev.Seq, "error", err)
	}
	return ev, nil
}

// Recover rebuilds the live state after a process restart of the same
// code: snapshot plus replay under the full budget, then the state checks.
// Nothing is written to the log.
func (c *Controller[S]) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseIdle {
		return ir.NewPhaseError("recover", c.phase.String())
	}

	state, res, snap, err := c.rebuild(ctx)
	if err != nil {
		return err
	}
	if snap == nil && res.Applied == 0 {
		return &ir.Error{Code: ir.ErrCodePhase, Message: "recover requires a non-empty log"}
	}
	if err := c.module.runChecks(state); err != nil {
		return withStage(err, StageValidate)
	}

	c.goLive(state, res.Cursor)
	c.logger.Info("state recovered", "next_seq", res.Cursor.NextSequence, "applied", res.Applied)
	return nil
}

// Append folds a new event into the live state and persists it.
//
// The event is folded into a copy first: an event the state machine rejects
// is never written. If the write fails the live state is rebuilt from the
// durable log, so it never runs ahead of what was persisted.
func (c *Controller[S]) Append(ctx context.Context, kind string, version uint32, payload []byte) (ir.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseRunning {
		return ir.Event{}, ir.NewPhaseError("append", c.phase.String())
	}
	if err := c.checkWritable(kind); err != nil {
		return ir.Event{}, err
	}

	dev, err := c.module.Registry.Decode(kind, version, payload)
	if err != nil {
		return ir.Event{}, err
	}
	candidate, err := c.module.Machine.Apply(c.module.Machine.Clone(c.state), dev)
	if err != nil {
		return ir.Event{}, fmt.Errorf("append %s/v%d: %w", kind, version, err)
	}

	ev, err := c.log.Append(ctx, kind, version, payload)
	if err != nil {
		c.resync(ctx, "append failed")
		return ir.Event{}, err
	}
	if ev.Seq != c.cursor.NextSequence {
		// Another writer advanced the log; the candidate may be wrong.
		c.resync(ctx, "log advanced by another writer")
		return ev, nil
	}

	c.state = candidate
	c.cursor = engine.Cursor{NextSequence: ev.Seq + 1}

	if _, err := c.snapshots.MaybeSnapshot(ctx, c.state, ev.Seq); err != nil {
		c.logger.Warn("snapshot failed", "seq", ev.Seq, "error", err)
	}
	return ev, nil
}

func (c *Controller[S]) checkWritable(kind string) error {
	if c.module.reserved(kind) {
		return &ir.Error{Code: ir.ErrCodePhase, Message: fmt.Sprintf("%s events are written only by an upgrade commit", kind)}
	}
	return nil
}

// resync replaces the live state with a rebuild from the log. If that also
// fails the controller drops to Idle rather than serve a state it cannot
// vouch for.
func (c *Controller[S]) resync(ctx context.Context, reason string) {
	state, res, _, err := c.rebuild(ctx)
	if err != nil {
		c.logger.Error("resync failed, controller idle", "reason", reason, "error", err)
		c.dropState(PhaseIdle)
		return
	}
	c.logger.Warn("live state rebuilt from log", "reason", reason, "next_seq", res.Cursor.NextSequence)
	c.state = state
	c.cursor = res.Cursor
}

// Checkpoint writes a snapshot of the live state regardless of policy.
func (c *Controller[S]) Checkpoint(ctx context.Context) (*ir.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseRunning {
		return nil, ir.NewPhaseError("checkpoint", c.phase.String())
	}
	if c.cursor.NextSequence == 0 {
		return nil, fmt.Errorf("checkpoint: log is empty")
	}
	return c.snapshots.Force(ctx, c.state, c.cursor.NextSequence-1)
}

// PreUpgrade makes every acknowledged event durable before the host swaps
// code. On failure the controller stays Running and the swap must not
// happen.
func (c *Controller[S]) PreUpgrade(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseRunning {
		return ir.NewPhaseError("pre-upgrade", c.phase.String())
	}
	if err := c.log.Flush(ctx); err != nil {
		c.logger.Error("pre-upgrade flush failed, upgrade blocked", "error", err)
		if !ir.IsDurabilityFailure(err) {
			err = ir.NewDurabilityFailure("pre-upgrade flush", err)
		}
		return withStage(err, StagePreUpgrade)
	}

	c.phase = PhasePreUpgrade
	c.logger.Info("pre-upgrade checkpoint complete", "next_seq", c.cursor.NextSequence)
	return nil
}

// ResumeAfterRollback returns to Running after the host discarded an
// upgrade attempt.
func (c *Controller[S]) ResumeAfterRollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhasePreUpgrade {
		return ir.NewPhaseError("resume", c.phase.String())
	}
	c.phase = PhaseRunning
	c.logger.Info("resumed after rollback")
	return nil
}

// retire marks the controller replaced by a committed successor.
func (c *Controller[S]) retire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropState(PhaseRetired)
}

// PostUpgrade rebuilds the state inside new code and commits it.
//
// Stages run in order: prelude, load_snapshot, replay, budget, overrides,
// validate_state, commit. A failure at any stage returns an *ir.Error
// tagged with that stage, leaves the controller Idle with no state, and
// writes nothing to the log. The upgrade event is appended only in commit,
// after everything else has passed.
func (c *Controller[S]) PostUpgrade(ctx context.Context, t Trigger) (rep Report, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseIdle {
		return Report{}, ir.NewPhaseError("post-upgrade", c.phase.String())
	}

	rep = Report{AttemptID: c.cfg.IDs.Generate(), CodeVersion: t.CodeVersion}
	logger := c.logger.With("attempt_id", rep.AttemptID)
	c.phase = PhasePostUpgrade

	stage := StagePrelude
	defer func() {
		if err == nil {
			return
		}
		rep.FailedStage = stage
		err = withStage(err, stage)
		c.dropState(PhaseIdle)
		logger.Error("upgrade failed, rolling back", "stage", stage, "error", err)
	}()
	pass := func() { rep.Stages = append(rep.Stages, stage) }

	newVersion, err := t.validate(c.cfg.ServiceID, c.module.Version)
	if err != nil {
		return rep, err
	}
	pass()

	// (a)-(c): snapshot, bounded replay, budget.
	stage = StageLoadSnapshot
	base, cursor, snap, err := c.loadBase(ctx)
	if err != nil {
		return rep, err
	}
	if snap != nil {
		upTo := snap.UpToSequence
		rep.SnapshotUpTo = &upTo
	}
	rep.StartSequence = cursor.NextSequence
	pass()

	stage = StageReplay
	next, err := c.log.NextSequence(ctx)
	if err != nil {
		return rep, ir.NewDurabilityFailure("read log end", err)
	}
	if snap == nil && next == cursor.NextSequence {
		return rep, ir.NewTriggerError("nothing to upgrade: the log is empty")
	}
	res, err := c.engine.ReplayToEnd(ctx, base, cursor, c.log, c.cfg.SliceBudget, c.cfg.TotalBudget)
	if ir.IsResourceExhaustion(err) {
		stage = StageBudget
	}
	if err != nil {
		return rep, err
	}
	rep.Applied, rep.Spent, rep.NextSequence = res.Applied, res.Spent, res.Cursor.NextSequence
	pass()

	stage = StageBudget
	if !res.EndOfLog {
		return rep, ir.NewExhaustion(res.Spent, c.cfg.TotalBudget.Limit, res.Cursor.NextSequence, next)
	}
	pass()

	// (d) overrides: the upgrade event is built and folded, not yet written.
	stage = StageOverrides
	state := res.State
	rep.PreviousVersion = c.module.RecordedVersion(state)
	args, err := override.DecodeArgs(t.InstallArg)
	if err != nil {
		return rep, err
	}
	effective, err := c.module.Overrides.ValidateAndMerge(c.module.Defaults(state), args)
	if err != nil {
		return rep, err
	}
	rep.Effective = effective
	kind, version, payload, err := c.module.UpgradeEvent(t.CodeVersion, effective)
	if err != nil {
		return rep, ir.NewConfigError("", "build upgrade event", err)
	}
	dev, err := c.module.Registry.Decode(kind, version, payload)
	if err != nil {
		return rep, err
	}
	state, err = c.module.Machine.Apply(state, dev)
	if err != nil {
		return rep, ir.NewConfigError("", "effective configuration rejected by state machine", err)
	}
	pass()

	// (e) validate_state.
	stage = StageValidate
	if err := c.checkDowngrade(rep.PreviousVersion, newVersion); err != nil {
		return rep, err
	}
	if err := c.module.runChecks(state); err != nil {
		return rep, err
	}
	pass()

	// (f) commit.
	stage = StageCommit
	if now, err := c.log.NextSequence(ctx); err != nil {
		return rep, ir.NewDurabilityFailure("read log end", err)
	} else if now != res.Cursor.NextSequence {
		return rep, ir.NewDivergence(
			fmt.Sprintf("log advanced during upgrade (%d != %d)", now, res.Cursor.NextSequence), nil)
	}
	ev, err := c.log.Append(ctx, kind, version, payload)
	if err != nil {
		return rep, err
	}
	c.goLive(state, engine.Cursor{NextSequence: ev.Seq + 1})
	rep.NextSequence = c.cursor.NextSequence
	if rep.Digest, err = snapshot.Digest(c.module.Codec, c.state); err != nil {
		// The event is durable; the digest is only for the report.
		logger.Warn("state digest failed", "error", err)
		err = nil
	}
	pass()

	logger.Info("upgrade committed",
		"previous_version", rep.PreviousVersion,
		"upgrade_seq", ev.Seq,
		"applied", rep.Applied,
		"spent", rep.Spent,
	)
	return rep, nil
}

// loadBase restores the latest snapshot, or starts from the log origin.
func (c *Controller[S]) loadBase(ctx context.Context) (*S, engine.Cursor, *ir.Snapshot, error) {
	snap, err := c.snapshots.LoadLatest(ctx)
	if err != nil {
		return nil, engine.Cursor{}, nil, ir.NewDivergence("load snapshot", err)
	}
	if snap == nil {
		origin, err := c.log.Origin(ctx)
		if err != nil {
			return nil, engine.Cursor{}, nil, ir.NewDivergence("read log origin", err)
		}
		if origin != 0 {
			return nil, engine.Cursor{}, nil, ir.NewDivergence(
				fmt.Sprintf("log starts at %d but no snapshot covers the prefix", origin), nil)
		}
		return nil, engine.Cursor{NextSequence: origin}, nil, nil
	}
	state, cursor, err := c.snapshots.Restore(*snap)
	if err != nil {
		return nil, engine.Cursor{}, nil, err
	}
	return &state, cursor, snap, nil
}

// rebuild is load_snapshot plus a full bounded replay.
func (c *Controller[S]) rebuild(ctx context.Context) (S, engine.Result[S], *ir.Snapshot, error) {
	var zero S
	base, cursor, snap, err := c.loadBase(ctx)
	if err != nil {
		return zero, engine.Result[S]{}, nil, withStage(err, StageLoadSnapshot)
	}
	res, err := c.engine.ReplayToEnd(ctx, base, cursor, c.log, c.cfg.SliceBudget, c.cfg.TotalBudget)
	if err != nil {
		stage := StageReplay
		if ir.IsResourceExhaustion(err) {
			stage = StageBudget
		}
		return zero, engine.Result[S]{}, nil, withStage(err, stage)
	}
	return res.State, res, snap, nil
}

func (c *Controller[S]) checkDowngrade(previous string, next *semver.Version) error {
	if previous == "" || c.cfg.AllowDowngrade {
		return nil
	}
	prev, err := semver.NewVersion(previous)
	if err != nil {
		return ir.NewStateError("code_version", fmt.Sprintf("recorded code version %q is not semantic", previous), err)
	}
	if next.LessThan(prev) {
		return ir.NewStateError("code_version",
			fmt.Sprintf("downgrade from %s to %s not allowed", prev, next), nil)
	}
	return nil
}

// withStage tags err with stage. Untyped errors become divergences: they
// came from the log or the state machine and the upgrade cannot proceed.
func withStage(err error, stage string) error {
	var e *ir.Error
	if errors.As(err, &e) {
		return e.WithStage(stage)
	}
	return ir.NewDivergence("unexpected failure", err).WithStage(stage)
}

func (c *Controller[S]) goLive(state S, cursor engine.Cursor) {
	c.state = state
	c.hasState = true
	c.cursor = cursor
	c.phase = PhaseRunning
}

func (c *Controller[S]) dropState(phase Phase) {
	var zero S
	c.state = zero
	c.hasState = false
	c.cursor = engine.Cursor{}
	c.phase = phase
}

// Phase returns the current lifecycle phase.
func (c *Controller[S]) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// CodeVersion returns the version of the code this controller runs.
func (c *Controller[S]) CodeVersion() string {
	return c.module.Version
}

// PayloadVersion returns the version this code writes for kind.
func (c *Controller[S]) PayloadVersion(kind string) (uint32, bool) {
	return c.module.Registry.Current(kind)
}

// CurrentSequence returns the next sequence to be applied, which equals the
// number of events folded into the live state since the origin.
func (c *Controller[S]) CurrentSequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor.NextSequence
}

// StateDigest returns the digest of the canonical encoding of the live state.
func (c *Controller[S]) StateDigest() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasState {
		return "", ir.NewPhaseError("state digest", c.phase.String())
	}
	return snapshot.Digest(c.module.Codec, c.state)
}

// Config returns the overridable configuration of the live state, or nil
// when there is none.
func (c *Controller[S]) Config() ir.IRObject {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasState {
		return nil
	}
	return c.module.Defaults(c.state)
}

// State returns the live state for read-only use.
func (c *Controller[S]) State() (S, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.hasState
}
