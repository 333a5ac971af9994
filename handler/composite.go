package handler

import (
	"context"

	"github.com/roach88/effectcore/effect"
)

type composite struct {
	primary  Handler
	fallback Handler
}

// Composite tries primary and, if it answers NotApplicable or NotFound,
// runs fallback on the original env. Writes made by primary are discarded
// before fallback runs; effects primary ran through Env.Nested are not.
//
// Composite is associative: Composite(a, Composite(b, c)) and
// Composite(Composite(a, b), c) produce the same outcome and writes for
// every input.
func Composite(primary, fallback Handler) Handler {
	return composite{primary: primary, fallback: fallback}
}

func (c composite) Handle(ctx context.Context, env Env, e effect.Effect) effect.Outcome {
	child := env.Fork()
	out := c.primary.Handle(ctx, child, e)
	if retryable(out) {
		return c.fallback.Handle(ctx, env, e)
	}
	if out.IsSuccess() {
		child.Commit()
	}
	return out
}

// Compose right-folds hs with Composite. With no handlers the result
// answers NotApplicable to everything.
func Compose(hs ...Handler) Handler {
	switch len(hs) {
	case 0:
		return Func(func(_ context.Context, _ Env, e effect.Effect) effect.Outcome {
			return NotApplicableTo(e)
		})
	case 1:
		return hs[0]
	default:
		return Composite(hs[0], Compose(hs[1:]...))
	}
}

// ForKind restricts h to effects of kind.
func ForKind(kind effect.Kind, h Handler) Handler {
	return Func(func(ctx context.Context, env Env, e effect.Effect) effect.Outcome {
		if e.Kind() != kind {
			return NotApplicableTo(e)
		}
		return h.Handle(ctx, env, e)
	})
}

// Standard composes the built-in handlers with the given invoke table.
func Standard(functions map[string]Function, opts ...LedgerOption) Handler {
	return Compose(Ledger(opts...), Observer(), Acquirer(), Invoker(functions))
}
