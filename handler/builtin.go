package handler

import (
	"context"
	"maps"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/internal/ir"
)

// Observer handles Observe: it returns the target's value and the effect's
// temporal positions without writing anything.
func Observer() Handler {
	return Func(func(_ context.Context, env Env, e effect.Effect) effect.Outcome {
		obs, ok := e.(*effect.Observe)
		if !ok {
			return NotApplicableTo(e)
		}
		v, present, err := env.Get(obs.Target)
		if err != nil {
			return envFailure(err)
		}
		if !present {
			return effect.Failuref(effect.NotFound, "resource %s", obs.Target)
		}
		return effect.Success(ir.Obj(
			ir.O("value", v),
			ir.O("temporal", obs.Temporal().Object()),
		))
	})
}

// Acquirer handles AcquireResource. An absent resource is registered to the
// owner; a resource already claimed by the same owner succeeds without a
// write; a resource claimed by anyone else is a Conflict.
func Acquirer() Handler {
	return Func(func(_ context.Context, env Env, e effect.Effect) effect.Outcome {
		acq, ok := e.(*effect.AcquireResource)
		if !ok {
			return NotApplicableTo(e)
		}
		v, present, err := env.Get(acq.Resource)
		if err != nil {
			return envFailure(err)
		}
		if !present {
			claim := ir.Obj(ir.O("owner", ir.String(acq.Owner)))
			if err := env.Put(acq.Resource, claim); err != nil {
				return envFailure(err)
			}
			return effect.Success(ir.Obj(ir.O("owner", ir.String(acq.Owner)), ir.O("registered", ir.Bool(true))))
		}
		rec, isObj := v.(ir.Object)
		if !isObj {
			return effect.Failuref(effect.Conflict, "resource %s is not claimable", acq.Resource)
		}
		owner, _ := rec.Str("owner")
		if owner != acq.Owner {
			return effect.Failuref(effect.Conflict, "resource %s is owned by %q", acq.Resource, owner)
		}
		return effect.Success(ir.Obj(ir.O("owner", ir.String(owner)), ir.O("registered", ir.Bool(false))))
	})
}

// Function is a named deterministic operation reachable through Invoke.
type Function func(ctx context.Context, env Env, args ir.Object, targets []effect.ResourceID) effect.Outcome

// Invoker handles Invoke by looking up the function name in a table fixed
// at construction. Unknown names are NotApplicable so a later Invoker in the
// chain may serve them.
func Invoker(table map[string]Function) Handler {
	fixed := maps.Clone(table)
	return Func(func(ctx context.Context, env Env, e effect.Effect) effect.Outcome {
		inv, ok := e.(*effect.Invoke)
		if !ok {
			return NotApplicableTo(e)
		}
		fn, ok := fixed[inv.Function]
		if !ok {
			return effect.Failuref(effect.NotApplicable, "no function %q", inv.Function)
		}
		return fn(ctx, env, inv.Args.Clone(), inv.Resources())
	})
}
