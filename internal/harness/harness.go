package harness

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/execlog"
	"github.com/roach88/effectcore/execlog/sqlitestore"
	"github.com/roach88/effectcore/executor"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/internal/testutil"
	"github.com/roach88/effectcore/lock"
	"github.com/roach88/effectcore/state"
)

// Option configures Run.
type Option func(*options)

type options struct {
	functions map[string]handler.Function
	handler   handler.Handler
	logger    *zap.Logger
	tasks     testutil.TaskGenerator
}

// WithFunctions makes functions reachable through Invoke steps. Ignored
// when WithHandler is given.
func WithFunctions(fns map[string]handler.Function) Option {
	return func(o *options) { o.functions = fns }
}

// WithHandler replaces the standard handler chain.
func WithHandler(h handler.Handler) Option {
	return func(o *options) { o.handler = h }
}

// WithLogger sets the logger passed to the executor, lock manager and log.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTaskGenerator supplies task ids for steps that do not name one.
func WithTaskGenerator(g testutil.TaskGenerator) Option {
	return func(o *options) { o.tasks = g }
}

// Harness holds one scenario's executor and its collaborators.
type Harness struct {
	store   *sqlitestore.Store
	log     *execlog.Log
	state   *state.Store
	initial *state.Snapshot
	exec    *executor.Executor
	handler handler.Handler
	tasks   testutil.TaskGenerator
	caps    effect.CapabilitySet
	logger  *zap.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory SQLite log and a fresh state
// store. Steps are submitted one at a time in file order; assertions are
// evaluated after the last step.
//
// A returned error means the scenario could not be run at all. Failed
// expectations and assertions are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := newHarness(ctx, scenario, opts)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		out, err := h.step(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Effect, err)
		}
		result.Outcomes = append(result.Outcomes, out)
		if err := checkExpect(step.Expect, out); err != nil {
			result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Effect, err))
		}
	}

	records, err := h.log.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	for _, rec := range records {
		result.Trace = append(result.Trace, traceEvent(rec))
	}
	if result.Final, err = h.state.Dump(); err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}

	actx := &AssertionContext{
		Ctx:     ctx,
		Store:   h.store,
		Initial: h.initial,
		Handler: h.handler,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario, opts []Option) (*Harness, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	values, err := initialValues(scenario.Initial)
	if err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}
	st, err := state.FromValues(values)
	if err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}

	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	log, err := execlog.Open(ctx, store, execlog.WithLogger(o.logger))
	if err != nil {
		store.Close()
		return nil, err
	}

	h := &Harness{
		store:   store,
		log:     log,
		state:   st,
		initial: st.Snapshot(),
		handler: o.handler,
		tasks:   o.tasks,
		logger:  o.logger,
	}
	if h.handler == nil {
		h.handler = handler.Standard(o.functions)
	}
	if h.tasks == nil {
		h.tasks = testutil.NewFixedTask(lock.TaskID(scenario.Task))
	}
	if len(scenario.Capabilities) > 0 {
		h.caps = effect.NewCapabilitySet()
		for _, c := range scenario.Capabilities {
			h.caps[effect.Capability(c)] = struct{}{}
		}
	}

	xopts := []executor.Option{
		executor.WithState(st),
		executor.WithLogger(o.logger),
	}
	if scenario.SharedObserve {
		xopts = append(xopts, executor.WithSharedObserve())
	}
	if scenario.MaxDepth > 0 {
		xopts = append(xopts, executor.WithMaxDepth(scenario.MaxDepth))
	}
	h.exec, err = executor.New(lock.New(lock.WithLogger(o.logger)), h.handler, log, xopts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return h, nil
}

// step submits one step. Missing capabilities come back as a
// CapabilityMissing outcome so scenarios can expect them; any other
// executor error aborts the run.
func (h *Harness) step(ctx context.Context, step Step) (effect.Outcome, error) {
	e, err := step.build()
	if err != nil {
		return effect.Outcome{}, err
	}
	caps := h.caps
	if caps == nil {
		caps = effect.NewCapabilitySet(e.RequiredCapabilities()...)
	}
	task := lock.TaskID(step.Task)
	if task == "" {
		task = h.tasks.Next()
	}

	res, err := h.exec.Execute(ctx, task, e, caps)
	if errors.Is(err, executor.ErrCapability) {
		return effect.Failure(effect.CapabilityMissing, err.Error()), nil
	}
	if err != nil {
		return effect.Outcome{}, err
	}
	h.logger.Debug("step executed",
		zap.String("task", string(task)),
		zap.Stringer("kind", e.Kind()),
		zap.Int64("seq", res.Seq),
		zap.Stringer("outcome", res.Outcome))
	return res.Outcome, nil
}
