package handler

import (
	"context"
	"math"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/internal/ir"
)

// LedgerOption configures Ledger.
type LedgerOption func(*ledger)

// CreateOnDeposit lets a deposit open an account that does not exist yet.
func CreateOnDeposit() LedgerOption {
	return func(l *ledger) { l.createOnDeposit = true }
}

type ledger struct {
	createOnDeposit bool
}

// Ledger handles Deposit, Withdraw and Transfer over integer balances.
// Successful outcomes carry the new balance of every touched account.
func Ledger(opts ...LedgerOption) Handler {
	l := &ledger{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *ledger) Handle(_ context.Context, env Env, e effect.Effect) effect.Outcome {
	switch e := e.(type) {
	case *effect.Deposit:
		bal, out, ok := l.balance(env, e.Account, l.createOnDeposit)
		if !ok {
			return out
		}
		if bal > math.MaxInt64-e.Amount {
			return effect.Failuref(effect.InvalidInput, "deposit of %d overflows balance of %s", e.Amount, e.Account)
		}
		if err := env.Put(e.Account, ir.Int(bal+e.Amount)); err != nil {
			return envFailure(err)
		}
		return effect.Success(ir.Obj(ir.O("balance", ir.Int(bal+e.Amount))))

	case *effect.Withdraw:
		bal, out, ok := l.balance(env, e.Account, false)
		if !ok {
			return out
		}
		if bal < e.Amount {
			return effect.Failuref(effect.InsufficientFunds, "%s has %d, withdraw needs %d", e.Account, bal, e.Amount)
		}
		if err := env.Put(e.Account, ir.Int(bal-e.Amount)); err != nil {
			return envFailure(err)
		}
		return effect.Success(ir.Obj(ir.O("balance", ir.Int(bal-e.Amount))))

	case *effect.Transfer:
		from, out, ok := l.balance(env, e.From, false)
		if !ok {
			return out
		}
		to, out, ok := l.balance(env, e.To, l.createOnDeposit)
		if !ok {
			return out
		}
		if from < e.Amount {
			return effect.Failuref(effect.InsufficientFunds, "%s has %d, transfer needs %d", e.From, from, e.Amount)
		}
		if to > math.MaxInt64-e.Amount {
			return effect.Failuref(effect.InvalidInput, "transfer of %d overflows balance of %s", e.Amount, e.To)
		}
		if err := env.Put(e.From, ir.Int(from-e.Amount)); err != nil {
			return envFailure(err)
		}
		if err := env.Put(e.To, ir.Int(to+e.Amount)); err != nil {
			return envFailure(err)
		}
		return effect.Success(ir.Obj(
			ir.O("from", ir.Int(from-e.Amount)),
			ir.O("to", ir.Int(to+e.Amount)),
		))

	default:
		return NotApplicableTo(e)
	}
}

// balance reads an account balance. Missing accounts read as zero when
// create is set.
func (l *ledger) balance(env Env, account effect.ResourceID, create bool) (int64, effect.Outcome, bool) {
	v, ok, err := env.Get(account)
	if err != nil {
		return 0, envFailure(err), false
	}
	if !ok {
		if create {
			return 0, effect.Outcome{}, true
		}
		return 0, effect.Failuref(effect.NotFound, "account %s", account), false
	}
	n, isInt := v.(ir.Int)
	if !isInt {
		return 0, effect.Failuref(effect.InvalidInput, "account %s holds %T, not a balance", account, v), false
	}
	return int64(n), effect.Outcome{}, true
}
