package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/schema"
)

// add is the only event kind of the test machine.
type add struct {
	N int64 `json:"n"`
}

func (add) EventKind() string { return "add" }

// tally is the test state: a running sum plus the order events arrived in.
type tally struct {
	Sum   int64
	Order []int64
}

type tallyMachine struct{}

func (tallyMachine) Initial() tally { return tally{} }

func (tallyMachine) Clone(s tally) tally {
	return tally{Sum: s.Sum, Order: append([]int64(nil), s.Order...)}
}

func (tallyMachine) Apply(s tally, ev schema.DomainEvent) (tally, error) {
	a := ev.(add)
	if a.N < 0 {
		return s, errors.New("negative add")
	}
	s.Sum += a.N
	s.Order = append(s.Order, a.N)
	return s, nil
}

func testRegistry() *schema.Registry {
	r := schema.New()
	r.MustRegister("add", 1, func(raw []byte) (schema.DomainEvent, error) {
		var a add
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	})
	return r
}

// sliceSource serves events from memory.
type sliceSource struct {
	events []ir.Event
	reads  int
}

func (s *sliceSource) Read(_ context.Context, from uint64, limit int) ([]ir.Event, error) {
	s.reads++
	out := []ir.Event{}
	for _, ev := range s.events {
		if ev.Seq >= from && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func makeEvent(seq uint64, kind string, payload string) ir.Event {
	ev := ir.Event{Seq: seq, Kind: kind, Version: 1, Payload: []byte(payload)}
	ev.Checksum = ir.EventChecksum(ev.Seq, ev.Kind, ev.Version, ev.Payload)
	return ev
}

// addLog builds a contiguous log from origin with one add event per value.
func addLog(origin uint64, values ...int64) *sliceSource {
	src := &sliceSource{}
	for i, v := range values {
		src.events = append(src.events, makeEvent(origin+uint64(i), "add", fmt.Sprintf(`{"n":%d}`, v)))
	}
	return src
}

func rangeValues(n int) []int64 {
	vals := make([]int64, n)
	for i := range vals {
		vals[i] = int64(i + 1)
	}
	return vals
}
