package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/execlog"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/lock"
	"github.com/roach88/effectcore/state"
)

// DefaultMaxDepth bounds how deep handlers may nest effects.
const DefaultMaxDepth = 16

// TemporalValidator is the host's check that an effect's temporal context
// is still valid. It is consulted after the capability check and before any
// resource is acquired.
type TemporalValidator func(effect.Effect, effect.TemporalContext) bool

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Phase transitions are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// WithValidator installs the temporal validator. Without one every temporal
// context is accepted.
func WithValidator(v TemporalValidator) Option {
	return func(x *Executor) { x.validate = v }
}

// WithAcquireTimeout bounds the wait for each individual resource.
// Zero, the default, waits until the context ends.
func WithAcquireTimeout(d time.Duration) Option {
	return func(x *Executor) { x.timeout = d }
}

// WithMaxInFlight limits how many top-level effects execute at once.
// Nested effects do not count against the limit.
func WithMaxInFlight(n int64) Option {
	return func(x *Executor) {
		if n > 0 {
			x.inflight = semaphore.NewWeighted(n)
		}
	}
}

// WithState sets the resource state store. The default is an empty store.
func WithState(s *state.Store) Option {
	return func(x *Executor) { x.state = s }
}

// WithMaxDepth sets the nesting limit. Zero disables it.
//
// Default: DefaultMaxDepth.
func WithMaxDepth(n int) Option {
	return func(x *Executor) { x.maxDepth = n }
}

// WithSharedObserve makes Observe effects take their target in shared mode,
// so concurrent observers of one resource do not queue behind each other.
// Writers keep their FIFO position.
func WithSharedObserve() Option {
	return func(x *Executor) { x.sharedObserve = true }
}

// Executor runs effects against a lock manager, a handler and a log.
// It is safe for concurrent use; independent tasks touching disjoint
// resources proceed in parallel.
type Executor struct {
	locks   *lock.Manager
	handler handler.Handler
	log     *execlog.Log
	state   *state.Store

	validate      TemporalValidator
	timeout       time.Duration
	inflight      *semaphore.Weighted
	maxDepth      int
	sharedObserve bool
	logger        *zap.Logger
}

// New returns an executor. locks, h and log are required.
func New(locks *lock.Manager, h handler.Handler, log *execlog.Log, opts ...Option) (*Executor, error) {
	if locks == nil || h == nil || log == nil {
		return nil, fmt.Errorf("executor: lock manager, handler and log are required")
	}
	x := &Executor{
		locks:    locks,
		handler:  h,
		log:      log,
		maxDepth: DefaultMaxDepth,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.state == nil {
		st, err := state.New()
		if err != nil {
			return nil, fmt.Errorf("executor: %w", err)
		}
		x.state = st
	}
	return x, nil
}

// State returns the resource state the executor commits to.
func (x *Executor) State() *state.Store { return x.state }

// Log returns the execution log.
func (x *Executor) Log() *execlog.Log { return x.log }

// Result describes one execution.
type Result struct {
	EffectID string
	// Outcome is what the caller sees: the handler's outcome after the
	// continuation, or the handler's failure unchanged.
	Outcome effect.Outcome
	// Raw is the handler's own outcome, as logged.
	Raw effect.Outcome
	// Record is the hash of the appended record, empty if nothing was
	// logged.
	Record string
	Seq    int64
	Depth  int
	// Phases lists every phase entered, ending in ResourcesReleased or
	// Failed.
	Phases []Phase
}

// Phase returns the last phase entered.
func (r Result) Phase() Phase {
	if len(r.Phases) == 0 {
		return Submitted
	}
	return r.Phases[len(r.Phases)-1]
}

// Logged reports whether a record was appended.
func (r Result) Logged() bool { return r.Record != "" }

// Execute runs e for task with the caller's capabilities.
//
// A non-nil error means the executor could not run the effect to a logged
// outcome: see the package documentation for the cases. Handler failures
// are reported in Result.Outcome with a nil error.
func (x *Executor) Execute(ctx context.Context, task lock.TaskID, e effect.Effect, caps effect.CapabilitySet) (Result, error) {
	if x.inflight != nil {
		if err := x.inflight.Acquire(ctx, 1); err != nil {
			e.Continuation().Discard()
			return Result{Phases: []Phase{Submitted, Failed}}, fmt.Errorf("execute: wait for slot: %w", err)
		}
		defer x.inflight.Release(1)
	}
	return x.run(ctx, rootFrame(task, caps), nil, e)
}

// run executes e in a new frame below parent. The root frame passed by
// Execute carries the task and capabilities but holds nothing. caller is
// the execution whose handler submitted e, nil for a top-level effect.
func (x *Executor) run(ctx context.Context, parent *frame, caller *execution, e effect.Effect) (res Result, err error) {
	var base state.Reader = x.state
	if caller != nil {
		base = caller.view
	}
	ex := &execution{
		x:      x,
		e:      e,
		caller: caller,
		frame:  parent.child(),
		view:   state.NewOverlay(base),
		logger: x.logger.With(zap.String("task", string(parent.task))),
	}
	ex.res.Depth = ex.frame.depth
	ex.enter(Submitted)

	defer func() {
		if p := recover(); p != nil {
			// Not a handler panic: those are recovered in invoke. Free the
			// resources before letting it continue.
			_ = ex.release()
			panic(p)
		}
	}()

	id, err := effect.ID(e)
	if err != nil {
		return ex.fail(fmt.Errorf("execute: %w", err))
	}
	ex.res.EffectID = id
	ex.frame.effectID = id
	ex.logger = ex.logger.With(
		zap.String("effect", shortID(id)),
		zap.Stringer("kind", e.Kind()),
		zap.Int("depth", ex.frame.depth),
	)

	if missing := ex.frame.caps.Missing(e.RequiredCapabilities()); len(missing) > 0 {
		return ex.fail(&CapabilityError{Task: ex.frame.task, EffectID: id, Kind: e.Kind(), Missing: missing})
	}
	ex.enter(CapabilityChecked)

	if x.validate != nil && !x.validate(e, e.Temporal()) {
		ex.res.Raw = effect.Failuref(effect.TemporalInvalid, "temporal context %s rejected", shortID(e.Temporal().Hash()))
		ex.res.Outcome = ex.res.Raw
		if caller != nil {
			caller.rejected(e, id, effect.Rejected(effect.TemporalInvalid, ex.res.Raw.Message()))
		}
		return ex.fail(nil)
	}

	resources := effect.Dedup(e.Resources())
	ex.enter(ResourcesAcquiring)
	if err := ex.acquire(ctx, resources); err != nil {
		return ex.fail(err)
	}

	inputs := make(map[effect.ResourceID]string, len(resources))
	for _, r := range resources {
		if inputs[r], err = ex.view.Hash(r); err != nil {
			return ex.fail(fmt.Errorf("execute: %w", err))
		}
	}

	stage := state.NewStage(ex.view, resources)
	env := handler.NewEnv(stage, string(ex.frame.task), ex.nested)

	ex.enter(HandlerExecuting)
	raw, err := ex.invoke(ctx, env)
	if err != nil {
		stage.Discard()
		return ex.fail(err)
	}
	ex.res.Raw = raw

	final := raw
	if raw.IsSuccess() {
		ex.enter(ContinuationApplying)
		if final, err = ex.applyContinuation(raw); err != nil {
			stage.Discard()
			return ex.fail(err)
		}
		ex.view.Add(stage.Writes()...)
	} else {
		e.Continuation().Discard()
	}

	draft := execlog.Draft{
		EffectID:       id,
		Kind:           e.Kind(),
		Payload:        e.Payload(),
		Temporal:       e.Temporal(),
		Resources:      resources,
		InputHashes:    inputs,
		Outcome:        raw,
		ContinuationID: e.Continuation().ID(),
		Task:           string(ex.frame.task),
		Depth:          ex.frame.depth,
	}
	if caller != nil {
		ex.res.Outcome = final
		ex.handOff(draft)
		if !raw.IsSuccess() {
			ex.enter(Failed)
		}
		return ex.res, nil
	}

	var undo []state.Write
	if raw.IsSuccess() {
		if undo, err = x.commit(ex.view.Writes()); err != nil {
			return ex.fail(err)
		}
	}

	// The effect has run; only the append stands between it and its
	// callers, so the caller's cancellation no longer applies.
	recs, err := x.log.AppendAll(context.WithoutCancel(ctx), append(ex.drafts, draft))
	if err != nil {
		if undo != nil {
			err = multierr.Append(err, x.state.Apply(undo))
		}
		return ex.fail(err)
	}
	rec := recs[len(recs)-1]
	ex.res.Record = rec.Hash
	ex.res.Seq = rec.Seq
	ex.res.Outcome = final
	ex.enter(Logged)

	if err := ex.release(); err != nil {
		return ex.fail(err)
	}
	if !raw.IsSuccess() {
		ex.enter(Failed)
		ex.logger.Debug("effect failed", zap.String("error_kind", string(raw.Kind())))
		return ex.res, nil
	}
	ex.enter(ResourcesReleased)
	return ex.res, nil
}

// commit applies writes to the store and returns the writes that undo
// them.
func (x *Executor) commit(writes []state.Write) ([]state.Write, error) {
	undo := make([]state.Write, 0, len(writes))
	for _, w := range writes {
		v, ok, err := x.state.Get(w.Resource)
		if err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		undo = append(undo, state.Write{Resource: w.Resource, Value: v, Delete: !ok})
	}
	if err := x.state.Apply(writes); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return undo, nil
}

func (x *Executor) modeFor(e effect.Effect) lock.Mode {
	if x.sharedObserve && e.Kind() == effect.KindObserve {
		return lock.ModeShared
	}
	return lock.ModeExclusive
}

func (x *Executor) lockOne(ctx context.Context, task lock.TaskID, r effect.ResourceID, mode lock.Mode) (*lock.Guard, error) {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}
	if mode == lock.ModeShared {
		return x.locks.AcquireShared(ctx, task, r)
	}
	return x.locks.Acquire(ctx, task, r)
}

// execution is the state of one run call.
type execution struct {
	x      *Executor
	e      effect.Effect
	caller *execution
	frame  *frame
	guards *lock.GuardSet
	// view holds the writes of finished nested effects. The handler's stage
	// reads through it.
	view   *state.Overlay
	// drafts are the records of finished or refused nested effects, in the
	// order they ended. The top-level execution appends them ahead of its
	// own record; an abort drops them.
	drafts []execlog.Draft
	res    Result
	logger *zap.Logger
}

func (ex *execution) enter(p Phase) {
	ex.res.Phases = append(ex.res.Phases, p)
	ex.logger.Debug("phase", zap.Stringer("phase", p))
}

// fail releases whatever is held, discards the continuation and ends the
// execution in Failed.
func (ex *execution) fail(err error) (Result, error) {
	ex.e.Continuation().Discard()
	if rerr := ex.release(); rerr != nil {
		err = multierr.Append(err, rerr)
	}
	ex.enter(Failed)

	switch {
	case err == nil:
		ex.logger.Debug("effect rejected", zap.String("error_kind", string(ex.res.Outcome.Kind())))
	case lock.IsTimeout(err), lock.IsCancelled(err):
		ex.logger.Warn("resource wait interrupted", zap.Error(err))
	default:
		ex.logger.Debug("effect aborted", zap.Error(err))
	}
	return ex.res, err
}

func (ex *execution) release() error {
	if ex.guards == nil {
		return nil
	}
	err := ex.guards.Release()
	ex.guards = nil
	return err
}

// acquire takes the effect's resources in canonical order. Resources
// already held further up the task are reused; new ones must sort after
// all of them.
func (ex *execution) acquire(ctx context.Context, resources []effect.ResourceID) error {
	task := ex.frame.task
	mode := ex.x.modeFor(ex.e)
	parent := ex.frame.parent
	top, nested := parent.highest()

	ex.guards = lock.NewGuardSet()
	for _, r := range resources {
		if held, ok := parent.holding(r); ok {
			if held == lock.ModeShared && mode == lock.ModeExclusive {
				return &OrderViolationError{Task: task, Resource: r, Held: r, Upgrade: true}
			}
			continue
		}
		if nested && effect.Compare(r, top) <= 0 {
			return &OrderViolationError{Task: task, Resource: r, Held: top}
		}
		g, err := ex.x.lockOne(ctx, task, r, mode)
		if err != nil {
			return err
		}
		ex.guards.Add(g)
		ex.frame.held[r] = mode
	}
	return nil
}

func (ex *execution) invoke(ctx context.Context, env handler.Env) (out effect.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerPanicError{Task: ex.frame.task, EffectID: ex.res.EffectID, Value: p, Stack: debug.Stack()}
		}
	}()
	return ex.x.handler.Handle(ctx, env, ex.e), nil
}

func (ex *execution) applyContinuation(raw effect.Outcome) (out effect.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerPanicError{Task: ex.frame.task, EffectID: ex.res.EffectID, Value: p, Stack: debug.Stack()}
		}
	}()
	return ex.e.Continuation().Apply(raw)
}

// handOff passes a finished nested effect to its caller: its writes if it
// succeeded, its records and its guards. They are committed, appended and
// released with the top-level effect, so a caller that aborts takes them
// down with it.
func (ex *execution) handOff(d execlog.Draft) {
	c := ex.caller
	if d.Outcome.IsSuccess() {
		c.view.Add(ex.view.Writes()...)
	}
	c.drafts = append(append(c.drafts, ex.drafts...), d)
	if ex.guards != nil {
		for _, g := range ex.guards.Guards() {
			c.guards.Add(g)
		}
		ex.guards = nil
	}
	for r, m := range ex.frame.held {
		c.frame.held[r] = m
	}
	ex.logger.Debug("nested effect handed to caller", zap.String("status", string(d.Outcome.Status())))
}

// rejected records a nested effect refused before its handler ran, so that
// replay can give the handler the same refusal.
func (ex *execution) rejected(e effect.Effect, id string, out effect.Outcome) {
	ex.drafts = append(ex.drafts, execlog.Draft{
		EffectID:       id,
		Kind:           e.Kind(),
		Payload:        e.Payload(),
		Temporal:       e.Temporal(),
		Outcome:        out,
		ContinuationID: e.Continuation().ID(),
		Task:           string(ex.frame.task),
		Depth:          ex.frame.depth + 1,
	})
}

// nested runs an effect submitted by this execution's handler.
func (ex *execution) nested(ctx context.Context, e effect.Effect) (effect.Outcome, error) {
	id, err := effect.ID(e)
	if err != nil {
		e.Continuation().Discard()
		return effect.Outcome{}, err
	}
	depth := ex.frame.depth + 1
	if limit := ex.x.maxDepth; limit > 0 && depth > limit {
		e.Continuation().Discard()
		return ex.refuse(e, id, newDepthError(ex.frame.task, depth, limit))
	}
	if ex.frame.executing(id) {
		e.Continuation().Discard()
		return ex.refuse(e, id, newCycleError(ex.frame.task, id))
	}

	res, err := ex.x.run(ctx, ex.frame, ex, e)
	if err != nil {
		return ex.refuse(e, id, err)
	}
	return res.Outcome, nil
}

// refuse logs err as the nested effect's rejection and hands it to the
// handler as *handler.RejectedError.
func (ex *execution) refuse(e effect.Effect, id string, err error) (effect.Outcome, error) {
	kind := effect.Conflict
	if IsCapabilityError(err) {
		kind = effect.CapabilityMissing
	}
	rej := &handler.RejectedError{Kind: kind, Message: err.Error(), Err: err}
	ex.rejected(e, id, rej.Outcome())
	return effect.Outcome{}, rej
}
