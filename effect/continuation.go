package effect

import (
	"sync/atomic"

	"github.com/roach88/effectcore/internal/ir"
)

const identityName = "identity"

var identityID = ir.MustHash(ir.DomainContinuation, ir.Obj(
	ir.O("name", ir.String(identityName)),
	ir.O("captured", ir.Object{}),
))

// Continuation transforms a handler outcome into the caller-visible result.
// It can be applied at most once.
//
// Identity is content addressed over the name and the captured state, so two
// continuations built from the same code and captures share an ID. The name
// stands in for the code; callers must not reuse a name for different logic.
//
// A nil *Continuation behaves as Identity and is never consumed.
type Continuation struct {
	id   string
	name string
	fn   func(Outcome) Outcome
	used atomic.Bool
}

// NewContinuation builds a continuation named name that captured the given
// state. A nil fn returns the outcome unchanged.
func NewContinuation(name string, captured ir.Object, fn func(Outcome) Outcome) (*Continuation, error) {
	if captured == nil {
		captured = ir.Object{}
	}
	id, err := ir.Hash(ir.DomainContinuation, ir.Obj(
		ir.O("name", ir.String(name)),
		ir.O("captured", captured),
	))
	if err != nil {
		return nil, err
	}
	if fn == nil {
		fn = func(o Outcome) Outcome { return o }
	}
	return &Continuation{id: id, name: name, fn: fn}, nil
}

// Identity returns a fresh continuation that passes outcomes through.
func Identity() *Continuation {
	return &Continuation{id: identityID, name: identityName, fn: func(o Outcome) Outcome { return o }}
}

// ID is the content hash of k.
func (k *Continuation) ID() string {
	if k == nil {
		return identityID
	}
	return k.id
}

func (k *Continuation) Name() string {
	if k == nil {
		return identityName
	}
	return k.name
}

// Consumed reports whether k has been applied, discarded or composed.
func (k *Continuation) Consumed() bool {
	return k != nil && k.used.Load()
}

// Apply consumes k and transforms o. A second call returns a
// *ContinuationReuseError without running the function.
func (k *Continuation) Apply(o Outcome) (Outcome, error) {
	if k == nil {
		return o, nil
	}
	if !k.used.CompareAndSwap(false, true) {
		return Outcome{}, k.reuseError()
	}
	return k.fn(o), nil
}

// Discard consumes k without running it. Used when the handler fails and
// the continuation is skipped.
func (k *Continuation) Discard() {
	if k != nil {
		k.used.Store(true)
	}
}

// AndThen composes k and next sequentially: the result applies k then next.
// Both inputs are consumed. The composed ID hashes both parts in order.
func (k *Continuation) AndThen(next *Continuation) (*Continuation, error) {
	if k == nil {
		k = Identity()
	}
	if next == nil {
		next = Identity()
	}
	if !k.used.CompareAndSwap(false, true) {
		return nil, k.reuseError()
	}
	if !next.used.CompareAndSwap(false, true) {
		k.used.Store(false)
		return nil, next.reuseError()
	}

	id, err := ir.Hash(ir.DomainContinuation, ir.Obj(
		ir.O("first", ir.String(k.id)),
		ir.O("then", ir.String(next.id)),
	))
	if err != nil {
		return nil, err
	}
	first, then := k.fn, next.fn
	return &Continuation{
		id:   id,
		name: k.name + "+" + next.name,
		fn:   func(o Outcome) Outcome { return then(first(o)) },
	}, nil
}

func (k *Continuation) reuseError() error {
	return &ContinuationReuseError{ContinuationID: k.id, Name: k.name}
}
