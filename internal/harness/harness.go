package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/evreplay/internal/engine"
	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/minter"
	"github.com/roach88/evreplay/internal/override"
	"github.com/roach88/evreplay/internal/snapshot"
	"github.com/roach88/evreplay/internal/store"
	"github.com/roach88/evreplay/internal/testutil"
	"github.com/roach88/evreplay/internal/upgrade"
)

// Harness executes one scenario.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	log      *testutil.FaultyLog
	cfg      upgrade.Config
	host     *upgrade.Host[*minter.State]
	modules  map[string]upgrade.Module[*minter.State]
}

// sequentialIDs yields attempt-1, attempt-2, ...
type sequentialIDs struct{ n int }

func (g *sequentialIDs) Generate() string {
	g.n++
	return fmt.Sprintf("attempt-%d", g.n)
}

// Run executes a scenario against a fresh log in a temporary directory.
//
// The returned error covers harness failures (bad payloads, I/O). Failed
// expectations and assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "evreplay-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	serviceID := scenario.ServiceID
	if serviceID == "" {
		serviceID = DefaultServiceID
	}
	s := scenario.Settings
	h := &Harness{
		scenario: scenario,
		store:    st,
		log:      testutil.NewFaultyLog(st),
		cfg: upgrade.Config{
			ServiceID:      serviceID,
			SliceBudget:    engine.Budget{Limit: s.SliceBudget},
			TotalBudget:    engine.Budget{Limit: s.TotalBudget},
			Snapshot:       snapshot.Policy{Every: s.SnapshotEvery},
			AllowDowngrade: s.AllowDowngrade,
			IDs:            &sequentialIDs{},
			Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
		modules: make(map[string]upgrade.Module[*minter.State]),
	}

	ctx := context.Background()
	result := NewResult()

	if err := h.install(ctx, result); err != nil {
		return nil, err
	}
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] %s: %v", i, a.Type, err))
		}
	}
	return result, nil
}

func (h *Harness) module(version string) (upgrade.Module[*minter.State], error) {
	if m, ok := h.modules[version]; ok {
		return m, nil
	}
	m, err := minter.NewModule(version)
	if err != nil {
		return upgrade.Module[*minter.State]{}, err
	}
	h.modules[version] = m
	return m, nil
}

func (h *Harness) install(ctx context.Context, result *Result) error {
	mod, err := h.module(h.scenario.Install.Version)
	if err != nil {
		return err
	}
	c, err := upgrade.New(mod, h.log, h.cfg)
	if err != nil {
		return err
	}
	payload, err := canonical(map[string]any{"config": h.scenario.Install.Config})
	if err != nil {
		return fmt.Errorf("install payload: %w", err)
	}
	ev, err := c.Install(ctx, minter.KindInit, minter.InitVersion, payload)
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	h.host = upgrade.NewHost(c)
	result.add(TraceEntry{Op: "install", Outcome: OutcomeOK, Version: mod.Version, Seq: u64(ev.Seq)})
	return nil
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	var (
		entry TraceEntry
		err   error
	)
	switch {
	case step.Append != nil:
		entry, err = h.appendEvent(ctx, step.Append, true)
	case step.Write != nil:
		entry, err = h.appendEvent(ctx, step.Write, false)
	case step.Upgrade != nil:
		entry, err = h.upgrade(ctx, step.Upgrade)
	case step.Fault != nil:
		entry = h.fault(step.Fault)
	case step.Checkpoint:
		entry = h.checkpoint(ctx)
	case step.Compact:
		entry = h.compact(ctx)
	case step.Restart:
		entry, err = h.restart(ctx)
	}
	if err != nil {
		return err
	}
	entry.Step = n
	result.add(entry)

	want := Expect{Outcome: OutcomeOK}
	if step.Upgrade != nil {
		want.Outcome = OutcomeCommitted
	}
	if step.Expect != nil {
		want = *step.Expect
	}
	if entry.Outcome != want.Outcome {
		result.AddError(fmt.Sprintf("step %d (%s): outcome %s, want %s (code=%s stage=%s)",
			n, entry.Op, entry.Outcome, want.Outcome, entry.Code, entry.Stage))
		return nil
	}
	if want.Code != "" && entry.Code != want.Code {
		result.AddError(fmt.Sprintf("step %d (%s): code %s, want %s", n, entry.Op, entry.Code, want.Code))
	}
	if want.Stage != "" && entry.Stage != want.Stage {
		result.AddError(fmt.Sprintf("step %d (%s): stage %s, want %s", n, entry.Op, entry.Stage, want.Stage))
	}
	return nil
}

func (h *Harness) appendEvent(ctx context.Context, step *EventStep, live bool) (TraceEntry, error) {
	entry := TraceEntry{Op: "write", Kind: step.Kind}
	if live {
		entry.Op = "append"
	}

	version := step.Version
	if version == 0 {
		v, ok := minter.Version(step.Kind)
		if live {
			v, ok = h.host.Current().PayloadVersion(step.Kind)
		}
		if !ok {
			return entry, fmt.Errorf("unknown kind %q needs an explicit version", step.Kind)
		}
		version = v
	}
	payload := []byte(step.Raw)
	if step.Raw == "" {
		var err error
		if payload, err = canonical(step.Payload); err != nil {
			return entry, fmt.Errorf("%s payload: %w", step.Kind, err)
		}
	}

	var (
		ev  ir.Event
		err error
	)
	if live {
		ev, err = h.host.Current().Append(ctx, step.Kind, version, payload)
	} else {
		ev, err = h.store.Append(ctx, step.Kind, version, payload)
	}
	if err != nil {
		entry.Outcome = OutcomeError
		entry.Code = codeOf(err)
		return entry, nil
	}
	entry.Outcome = OutcomeOK
	entry.Seq = u64(ev.Seq)
	return entry, nil
}

func (h *Harness) upgrade(ctx context.Context, step *UpgradeStep) (TraceEntry, error) {
	entry := TraceEntry{Op: "upgrade", Version: step.Version}

	mod, err := h.module(step.Version)
	if err != nil {
		return entry, err
	}
	t := upgrade.Trigger{
		TargetServiceID: h.cfg.ServiceID,
		CodeVersion:     step.Version,
		Mode:            upgrade.ModeUpgrade,
	}
	if step.Target != "" {
		t.TargetServiceID = step.Target
	}
	if step.Mode != "" {
		t.Mode = upgrade.Mode(step.Mode)
	}
	switch {
	case step.InstallArg != nil:
		t.InstallArg = []byte(*step.InstallArg)
	case step.Overrides != nil:
		v, err := ir.FromNative(step.Overrides)
		if err != nil {
			return entry, fmt.Errorf("overrides: %w", err)
		}
		if t.InstallArg, err = override.EncodeArgs(&override.Args{Overrides: v.(ir.IRObject)}); err != nil {
			return entry, err
		}
	}

	old := h.host.Current()
	digest, _ := old.StateDigest()
	seq := old.CurrentSequence()

	rep, err := h.host.Upgrade(ctx, mod, t)
	entry.Attempt = rep.AttemptID
	entry.Stages = rep.Stages
	if err != nil {
		entry.Outcome = OutcomeRolledBack
		entry.Code = codeOf(err)
		entry.Stage = ir.StageOf(err)
		if problem := checkRolledBack(h.host, old, digest, seq); problem != "" {
			return entry, errors.New(problem)
		}
		return entry, nil
	}

	entry.Outcome = OutcomeCommitted
	entry.PreviousVersion = rep.PreviousVersion
	entry.Applied = u64(rep.Applied)
	entry.NextSequence = u64(rep.NextSequence)
	entry.SnapshotUpTo = rep.SnapshotUpTo
	return entry, nil
}

// checkRolledBack verifies a failed upgrade left the old code serving the
// same state.
func checkRolledBack(host *upgrade.Host[*minter.State], old *upgrade.Controller[*minter.State], digest string, seq uint64) string {
	if host.Current() != old {
		return "failed upgrade replaced the live controller"
	}
	if old.Phase() != upgrade.PhaseRunning {
		return fmt.Sprintf("old controller in phase %s after rollback", old.Phase())
	}
	after, _ := old.StateDigest()
	if after != digest || old.CurrentSequence() != seq {
		return "old controller state changed during a failed upgrade"
	}
	return ""
}

func (h *Harness) fault(step *FaultStep) TraceEntry {
	if step.Clear {
		h.log.FailAppend(nil, 0)
		h.log.FailFlush(nil)
	}
	if step.Append != "" {
		h.log.FailAppend(errors.New(step.Append), 0)
	}
	if step.Flush != "" {
		h.log.FailFlush(errors.New(step.Flush))
	}
	return TraceEntry{Op: "fault", Outcome: OutcomeOK}
}

func (h *Harness) checkpoint(ctx context.Context) TraceEntry {
	snap, err := h.host.Current().Checkpoint(ctx)
	if err != nil {
		return TraceEntry{Op: "checkpoint", Outcome: OutcomeError, Code: codeOf(err)}
	}
	return TraceEntry{Op: "checkpoint", Outcome: OutcomeOK, Seq: u64(snap.UpToSequence)}
}

func (h *Harness) compact(ctx context.Context) TraceEntry {
	entry := TraceEntry{Op: "compact", Outcome: OutcomeError}
	snap, err := h.store.LatestSnapshot(ctx)
	if err != nil {
		entry.Code = codeOf(err)
		return entry
	}
	if snap == nil {
		entry.Code = "ERROR"
		return entry
	}
	if _, err := h.store.Compact(ctx, snap.UpToSequence); err != nil {
		entry.Code = codeOf(err)
		return entry
	}
	entry.Outcome = OutcomeOK
	entry.Seq = u64(snap.UpToSequence)
	return entry
}

// restart replaces the live controller with one recovered from the log, as
// after a process restart, and checks both agree.
func (h *Harness) restart(ctx context.Context) (TraceEntry, error) {
	entry := TraceEntry{Op: "restart"}
	live := h.host.Current()

	mod, err := h.module(live.CodeVersion())
	if err != nil {
		return entry, err
	}
	c, err := upgrade.New(mod, h.log, h.cfg)
	if err != nil {
		return entry, err
	}
	if err := c.Recover(ctx); err != nil {
		entry.Outcome = OutcomeError
		entry.Code = codeOf(err)
		entry.Stage = ir.StageOf(err)
		return entry, nil
	}

	want, _ := live.StateDigest()
	got, _ := c.StateDigest()
	if want != got {
		return entry, fmt.Errorf("recovered state differs from live state")
	}
	h.host = upgrade.NewHost(c)
	entry.Outcome = OutcomeOK
	entry.NextSequence = u64(c.CurrentSequence())
	return entry, nil
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	c := h.host.Current()
	state, ok := c.State()

	var got any
	switch a.Type {
	case AssertCodeVersion:
		got = c.CodeVersion()
	case AssertNextSequence:
		got = int64(c.CurrentSequence())
	case AssertPhase:
		got = c.Phase().String()
	case AssertUpgradeCount:
		if !ok {
			return fmt.Errorf("no live state")
		}
		got = state.UpgradeCount
	case AssertBalance:
		if !ok {
			return fmt.Errorf("no live state")
		}
		got = state.Balances[a.Account]
	case AssertConfig:
		v, found := c.Config()[a.Key]
		if !found {
			return fmt.Errorf("no config key %q", a.Key)
		}
		got = v
	case AssertLogKinds:
		origin, err := h.store.Origin(ctx)
		if err != nil {
			return err
		}
		events, err := h.store.Read(ctx, origin, 10_000)
		if err != nil {
			return err
		}
		kinds := make([]any, len(events))
		for i, ev := range events {
			kinds[i] = ev.Kind
		}
		want := make([]any, len(a.Values))
		for i, k := range a.Values {
			want[i] = k
		}
		return compare(want, kinds)
	}
	return compare(a.Value, got)
}

// compare matches values by their canonical encodings, so YAML ints and
// IR values compare equal.
func compare(want, got any) error {
	w, err := canonical(want)
	if err != nil {
		return fmt.Errorf("expected value: %w", err)
	}
	g, err := canonical(got)
	if err != nil {
		return fmt.Errorf("actual value: %w", err)
	}
	if string(w) != string(g) {
		return fmt.Errorf("got %s, want %s", g, w)
	}
	return nil
}

func canonical(v any) ([]byte, error) {
	val, err := ir.FromNative(v)
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(val)
}

func codeOf(err error) string {
	if code := ir.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}
