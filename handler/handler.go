// Package handler implements deterministic effect handlers and their static
// composition.
//
// A Handler answers one effect with an Outcome. Handlers are combined once,
// at construction, with Composite and Compose; there is no runtime
// registry. A handler that does not serve an effect answers
// Failure(NotApplicable) and the enclosing Composite moves on to its
// fallback.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/internal/ir"
	"github.com/roach88/effectcore/state"
)

// ErrNoNested is returned by Env.Nested when the env was built without an
// executor to re-enter.
var ErrNoNested = errors.New("nested effects not supported in this env")

// RejectedError is returned by Env.Nested when the nested effect was refused
// before its handler ran: a missing capability, an acquisition the task may
// not make, the depth limit, a cycle, or an aborted run. The refusal is
// logged, and replay returns a RejectedError with the same Kind and message
// without re-running anything, so handlers should branch on Kind rather
// than on Err.
type RejectedError struct {
	Kind    effect.ErrorKind
	Message string
	// Err is the executor's error. Replay leaves it nil.
	Err error
}

func (e *RejectedError) Error() string { return e.Message }

func (e *RejectedError) Unwrap() error { return e.Err }

// Outcome is the logged form of the refusal.
func (e *RejectedError) Outcome() effect.Outcome { return effect.Rejected(e.Kind, e.Message) }

// Handler is a deterministic implementation of one or more effect variants.
// Failures are returned as outcomes, never as panics.
type Handler interface {
	Handle(ctx context.Context, env Env, e effect.Effect) effect.Outcome
}

// Func adapts a function to Handler.
type Func func(ctx context.Context, env Env, e effect.Effect) effect.Outcome

func (f Func) Handle(ctx context.Context, env Env, e effect.Effect) effect.Outcome {
	return f(ctx, env, e)
}

// Env is a handler's view of the world: the resources its task holds, and a
// hook to run further effects under the same task.
type Env interface {
	Task() string
	Get(r effect.ResourceID) (ir.Value, bool, error)
	Put(r effect.ResourceID, v ir.Value) error
	Delete(r effect.ResourceID) error
	// Nested runs e under the same task before this handler returns. Its
	// writes are visible here at once; they reach the store, and its record
	// the log, together with the outermost effect of the task. A refusal
	// comes back as *RejectedError.
	Nested(ctx context.Context, e effect.Effect) (effect.Outcome, error)
	// Fork returns a child env whose writes reach this one only on Commit.
	Fork() Env
	Commit()
}

// NestedFunc re-enters the executor for a nested effect.
type NestedFunc func(ctx context.Context, e effect.Effect) (effect.Outcome, error)

// StagedEnv is the Env the executor and replay hand to handlers.
type StagedEnv struct {
	stage  *state.Stage
	task   string
	nested NestedFunc
}

// NewEnv wraps stage for task. A nil nested makes Nested fail with
// ErrNoNested.
func NewEnv(stage *state.Stage, task string, nested NestedFunc) *StagedEnv {
	return &StagedEnv{stage: stage, task: task, nested: nested}
}

// Stage exposes the buffered writes to the executor.
func (e *StagedEnv) Stage() *state.Stage { return e.stage }

func (e *StagedEnv) Task() string { return e.task }

func (e *StagedEnv) Get(r effect.ResourceID) (ir.Value, bool, error) { return e.stage.Get(r) }

func (e *StagedEnv) Put(r effect.ResourceID, v ir.Value) error { return e.stage.Put(r, v) }

func (e *StagedEnv) Delete(r effect.ResourceID) error { return e.stage.Delete(r) }

// Nested refuses effects on resources this env has already written, since
// the outer writes would silently replace the nested ones.
func (e *StagedEnv) Nested(ctx context.Context, eff effect.Effect) (effect.Outcome, error) {
	if e.nested == nil {
		return effect.Outcome{}, ErrNoNested
	}
	for _, r := range eff.Resources() {
		if e.stage.Staged(r) {
			eff.Continuation().Discard()
			return effect.Failuref(effect.Conflict, "nested %s touches %s which has uncommitted writes", eff.Kind(), r), nil
		}
	}
	return e.nested(ctx, eff)
}

func (e *StagedEnv) Fork() Env {
	return &StagedEnv{stage: e.stage.Fork(), task: e.task, nested: e.nested}
}

func (e *StagedEnv) Commit() { e.stage.Merge() }

// NotApplicableTo is the outcome a handler returns for effects it does not
// serve.
func NotApplicableTo(e effect.Effect) effect.Outcome {
	return effect.Failuref(effect.NotApplicable, "no handler for %s", e.Kind())
}

// retryable is the failure class on which Composite tries its fallback.
func retryable(o effect.Outcome) bool {
	return o.Is(effect.NotApplicable) || o.Is(effect.NotFound)
}

// envFailure turns an env access error into an outcome.
func envFailure(err error) effect.Outcome {
	if errors.Is(err, state.ErrNotLocked) {
		return effect.Failure(effect.InvalidInput, err.Error())
	}
	return effect.Failure(effect.Conflict, fmt.Sprintf("state: %v", err))
}
