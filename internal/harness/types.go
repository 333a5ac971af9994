package harness

import (
	"maps"
	"slices"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/execlog"
	"github.com/roach88/effectcore/internal/ir"
)

// TraceEvent is the deterministic view of one execution record.
type TraceEvent struct {
	Seq       int64
	Task      string
	Kind      string
	Depth     int
	Resources []string
	Outcome   effect.Outcome
}

func traceEvent(rec execlog.Record) TraceEvent {
	rs := effect.Dedup(rec.Resources)
	resources := make([]string, len(rs))
	for i, r := range rs {
		resources[i] = string(r)
	}
	return TraceEvent{
		Seq:       rec.Seq,
		Task:      rec.Task,
		Kind:      rec.Kind.String(),
		Depth:     rec.Depth,
		Resources: resources,
		Outcome:   rec.Outcome,
	}
}

// Touches reports whether the record involved r.
func (e TraceEvent) Touches(r string) bool {
	return slices.Contains(e.Resources, r)
}

// Object is the canonical form used in golden files.
func (e TraceEvent) Object() ir.Object {
	rs := make(ir.Array, len(e.Resources))
	for i, r := range e.Resources {
		rs[i] = ir.String(r)
	}
	return ir.Obj(
		ir.O("seq", ir.Int(e.Seq)),
		ir.O("task", ir.String(e.Task)),
		ir.O("kind", ir.String(e.Kind)),
		ir.O("depth", ir.Int(e.Depth)),
		ir.O("resources", rs),
		ir.O("outcome", e.Outcome.Object()),
	)
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool
	// Trace has one event per execution record, in seq order.
	Trace []TraceEvent
	// Outcomes holds the caller-visible outcome of each step.
	Outcomes []effect.Outcome
	Errors   []string
	// Final is the resource state after the last step.
	Final map[effect.ResourceID]ir.Value
}

// NewResult returns a passing, empty result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Final:  make(map[effect.ResourceID]ir.Value),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// FinalObject is Final as a canonical object.
func (r *Result) FinalObject() ir.Object {
	obj := make(ir.Object, len(r.Final))
	for _, k := range slices.Sorted(maps.Keys(r.Final)) {
		obj[string(k)] = r.Final[k]
	}
	return obj
}
