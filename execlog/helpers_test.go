package execlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/internal/ir"
	"github.com/roach88/effectcore/state"
)

// runner applies effects to a store and logs them in the executor's order,
// nested records first, without locks. Nested writes reach the store at
// once, which matches the executor whenever the outer effect succeeds.
type runner struct {
	t   *testing.T
	log *Log
	st  *state.Store
	h   handler.Handler
}

func newRunner(t *testing.T, log *Log, values map[effect.ResourceID]ir.Value, h handler.Handler) *runner {
	t.Helper()
	st, err := state.FromValues(values)
	require.NoError(t, err)
	return &runner{t: t, log: log, st: st, h: h}
}

func (r *runner) run(e effect.Effect) (Record, effect.Outcome) {
	r.t.Helper()
	rec, out, err := r.apply(context.Background(), e, "task-1", 0)
	require.NoError(r.t, err)
	return rec, out
}

func (r *runner) apply(ctx context.Context, e effect.Effect, task string, depth int) (Record, effect.Outcome, error) {
	resources := effect.Dedup(e.Resources())
	inputs := make(map[effect.ResourceID]string, len(resources))
	for _, res := range resources {
		h, err := r.st.Hash(res)
		if err != nil {
			return Record{}, effect.Outcome{}, err
		}
		inputs[res] = h
	}

	stage := state.NewStage(r.st, resources)
	env := handler.NewEnv(stage, task, func(ctx context.Context, nested effect.Effect) (effect.Outcome, error) {
		_, out, err := r.apply(ctx, nested, task, depth+1)
		if err != nil {
			return effect.Outcome{}, err
		}
		if !out.IsSuccess() {
			nested.Continuation().Discard()
			return out, nil
		}
		return nested.Continuation().Apply(out)
	})
	out := r.h.Handle(ctx, env, e)
	if out.IsSuccess() {
		if err := r.st.Apply(stage.Writes()); err != nil {
			return Record{}, effect.Outcome{}, err
		}
	}

	id, err := effect.ID(e)
	if err != nil {
		return Record{}, effect.Outcome{}, err
	}
	rec, err := r.log.Append(ctx, Draft{
		EffectID:       id,
		Kind:           e.Kind(),
		Payload:        e.Payload(),
		Temporal:       e.Temporal(),
		Resources:      resources,
		InputHashes:    inputs,
		Outcome:        out,
		ContinuationID: e.Continuation().ID(),
		Task:           task,
		Depth:          depth,
	})
	return rec, out, err
}

func deposit(t *testing.T, account effect.ResourceID, amount int64) effect.Effect {
	t.Helper()
	e, err := effect.NewDeposit(account, amount)
	require.NoError(t, err)
	return e
}

func withdraw(t *testing.T, account effect.ResourceID, amount int64) effect.Effect {
	t.Helper()
	e, err := effect.NewWithdraw(account, amount)
	require.NoError(t, err)
	return e
}

func transfer(t *testing.T, from, to effect.ResourceID, amount int64) effect.Effect {
	t.Helper()
	e, err := effect.NewTransfer(from, to, amount)
	require.NoError(t, err)
	return e
}

func balances(kv ...any) map[effect.ResourceID]ir.Value {
	out := make(map[effect.ResourceID]ir.Value, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[effect.ResourceID(kv[i].(string))] = ir.Int(int64(kv[i+1].(int)))
	}
	return out
}
