package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/execlog"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/internal/ir"
	"github.com/roach88/effectcore/state"
)

// AssertionError is returned when an assertion fails. It carries the full
// trace for debugging.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s%s %v -> %s\n",
				event.Seq, strings.Repeat("  ", event.Depth), event.Kind, event.Resources, event.Outcome)
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the log and the state the
// scenario started from.
type AssertionContext struct {
	Ctx     context.Context
	Store   execlog.Store
	Initial *state.Snapshot
	Handler handler.Handler
}

// EvaluateAssertions evaluates every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		case AssertReplay:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: replay requires a log store", i)
			} else {
				err = assertReplay(actx, result)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Kind == a.Kind && (a.Resource == "" || event.Touches(a.Resource)) {
			return nil
		}
	}
	expected := a.Kind
	if a.Resource != "" {
		expected += " on " + a.Resource
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that kinds first appear in the given order.
// Other records may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Kind]; !seen {
			positions[event.Kind] = i + 1
		}
	}

	for _, kind := range a.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all kinds present: %v", a.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Kinds); i++ {
		prev, curr := a.Kinds[i-1], a.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Kind == a.Kind {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks a resource's final value. Without expect it only
// checks that the resource exists.
func assertFinalState(result *Result, a Assertion) error {
	actual, ok := result.Final[effect.ResourceID(a.Resource)]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("resource %s present", a.Resource),
			Actual:   "resource not found",
		}
	}
	if a.Expect == nil {
		return nil
	}
	expected, err := ir.FromGo(a.Expect)
	if err != nil {
		return fmt.Errorf("final_state %s: expect: %w", a.Resource, err)
	}
	if !matchValue(actual, expected) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %s", a.Resource, render(expected)),
			Actual:   render(actual),
		}
	}
	return nil
}

// assertReplay verifies the log's hash chain and replays it from the
// initial state.
func assertReplay(actx *AssertionContext, result *Result) error {
	ctx := actx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := execlog.Verify(ctx, actx.Store); err != nil {
		return &AssertionError{Type: AssertReplay, Expected: "log verifies", Actual: err.Error()}
	}
	report, err := execlog.Replay(ctx, actx.Store, actx.Initial, actx.Handler)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if !report.OK() {
		lines := make([]string, len(report.Mismatches))
		for i, m := range report.Mismatches {
			lines[i] = m.String()
		}
		return &AssertionError{
			Type:     AssertReplay,
			Expected: "no mismatches",
			Actual:   strings.Join(lines, "; "),
			Trace:    result.Trace,
		}
	}
	if diff := cmp.Diff(result.Final, report.Final); diff != "" {
		return &AssertionError{
			Type:     AssertReplay,
			Expected: "replayed state equals live state",
			Actual:   diff,
		}
	}
	return nil
}

// checkExpect validates a step outcome against its expect clause.
func checkExpect(exp *ExpectClause, out effect.Outcome) error {
	if exp == nil {
		return nil
	}
	if string(out.Status()) != exp.Status {
		return fmt.Errorf("expected status %s, got %s", exp.Status, out)
	}
	if exp.Error != "" && string(out.Kind()) != exp.Error {
		return fmt.Errorf("expected error %s, got %s", exp.Error, out)
	}
	if exp.Value == nil {
		return nil
	}
	expected, err := ir.FromGo(exp.Value)
	if err != nil {
		return fmt.Errorf("expect value: %w", err)
	}
	if !matchValue(out.Value(), expected) {
		return fmt.Errorf("value mismatch (-want +got):\n%s", cmp.Diff(expected, out.Value()))
	}
	return nil
}

// matchValue compares with subset semantics for objects: every expected
// key must be present and match; extra keys are ignored.
func matchValue(actual, expected ir.Value) bool {
	want, ok := expected.(ir.Object)
	if !ok {
		return cmp.Equal(actual, expected)
	}
	got, ok := actual.(ir.Object)
	if !ok {
		return false
	}
	for k, v := range want {
		av, present := got[k]
		if !present || !matchValue(av, v) {
			return false
		}
	}
	return true
}

func render(v ir.Value) string {
	b, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
