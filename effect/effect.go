package effect

import (
	"fmt"
	"slices"

	"github.com/roach88/effectcore/internal/ir"
)

// Effect is one operation from the closed vocabulary. Only the variants in
// this package implement it.
type Effect interface {
	Kind() Kind
	// Resources lists the resources touched, as declared. Callers sort
	// with Dedup before acquiring.
	Resources() []ResourceID
	// RequiredCapabilities is sorted and duplicate free.
	RequiredCapabilities() []Capability
	Payload() ir.Object
	Continuation() *Continuation
	Temporal() TemporalContext

	sealedEffect()
}

// Option configures the parts shared by every variant.
type Option func(*header)

// WithCapabilities adds required capabilities beyond the kind's default.
func WithCapabilities(caps ...Capability) Option {
	return func(h *header) {
		h.caps = append(h.caps, caps...)
	}
}

// WithContinuation attaches k. Without it the effect resolves to the raw
// handler outcome.
func WithContinuation(k *Continuation) Option {
	return func(h *header) {
		h.cont = k
	}
}

// WithTemporal attaches an opaque temporal context.
func WithTemporal(tc TemporalContext) Option {
	return func(h *header) {
		h.temporal = tc.Clone()
	}
}

type header struct {
	caps     []Capability
	cont     *Continuation
	temporal TemporalContext
}

func newHeader(k Kind, opts []Option) header {
	h := header{caps: []Capability{defaultCapability(k)}}
	for _, opt := range opts {
		opt(&h)
	}
	slices.Sort(h.caps)
	h.caps = slices.Compact(h.caps)
	return h
}

func (h *header) RequiredCapabilities() []Capability { return slices.Clone(h.caps) }
func (h *header) Continuation() *Continuation        { return h.cont }
func (h *header) Temporal() TemporalContext          { return h.temporal.Clone() }
func (h *header) sealedEffect()                      {}

// Deposit credits Amount to Account.
type Deposit struct {
	header
	Account ResourceID
	Amount  int64
}

// NewDeposit validates and builds a Deposit.
func NewDeposit(account ResourceID, amount int64, opts ...Option) (*Deposit, error) {
	if err := account.Validate(); err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}
	return &Deposit{header: newHeader(KindDeposit, opts), Account: account, Amount: amount}, nil
}

func (*Deposit) Kind() Kind                { return KindDeposit }
func (e *Deposit) Resources() []ResourceID { return []ResourceID{e.Account} }
func (e *Deposit) Payload() ir.Object {
	return ir.Obj(ir.O("account", ir.String(e.Account)), ir.O("amount", ir.Int(e.Amount)))
}

// Withdraw debits Amount from Account.
type Withdraw struct {
	header
	Account ResourceID
	Amount  int64
}

// NewWithdraw validates and builds a Withdraw.
func NewWithdraw(account ResourceID, amount int64, opts ...Option) (*Withdraw, error) {
	if err := account.Validate(); err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}
	return &Withdraw{header: newHeader(KindWithdraw, opts), Account: account, Amount: amount}, nil
}

func (*Withdraw) Kind() Kind                { return KindWithdraw }
func (e *Withdraw) Resources() []ResourceID { return []ResourceID{e.Account} }
func (e *Withdraw) Payload() ir.Object {
	return ir.Obj(ir.O("account", ir.String(e.Account)), ir.O("amount", ir.Int(e.Amount)))
}

// Transfer moves Amount from From to To.
type Transfer struct {
	header
	From   ResourceID
	To     ResourceID
	Amount int64
}

// NewTransfer validates and builds a Transfer. From and To must differ.
func NewTransfer(from, to ResourceID, amount int64, opts ...Option) (*Transfer, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if from == to {
		return nil, fmt.Errorf("%w: transfer from %q to itself", ErrInvalidEffect, from)
	}
	if err := positive(amount); err != nil {
		return nil, err
	}
	return &Transfer{header: newHeader(KindTransfer, opts), From: from, To: to, Amount: amount}, nil
}

func (*Transfer) Kind() Kind                { return KindTransfer }
func (e *Transfer) Resources() []ResourceID { return []ResourceID{e.From, e.To} }
func (e *Transfer) Payload() ir.Object {
	return ir.Obj(
		ir.O("from", ir.String(e.From)),
		ir.O("to", ir.String(e.To)),
		ir.O("amount", ir.Int(e.Amount)),
	)
}

// Observe reads Target without modifying it.
type Observe struct {
	header
	Target ResourceID
}

// NewObserve builds an Observe.
func NewObserve(target ResourceID, opts ...Option) (*Observe, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return &Observe{header: newHeader(KindObserve, opts), Target: target}, nil
}

func (*Observe) Kind() Kind                { return KindObserve }
func (e *Observe) Resources() []ResourceID { return []ResourceID{e.Target} }
func (e *Observe) Payload() ir.Object {
	return ir.Obj(ir.O("target", ir.String(e.Target)))
}

// AcquireResource claims Resource for Owner, registering it if absent.
type AcquireResource struct {
	header
	Resource ResourceID
	Owner    string
}

// NewAcquireResource builds an AcquireResource.
func NewAcquireResource(resource ResourceID, owner string, opts ...Option) (*AcquireResource, error) {
	if err := resource.Validate(); err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrInvalidEffect)
	}
	return &AcquireResource{header: newHeader(KindAcquireResource, opts), Resource: resource, Owner: owner}, nil
}

func (*AcquireResource) Kind() Kind                { return KindAcquireResource }
func (e *AcquireResource) Resources() []ResourceID { return []ResourceID{e.Resource} }
func (e *AcquireResource) Payload() ir.Object {
	return ir.Obj(ir.O("resource", ir.String(e.Resource)), ir.O("owner", ir.String(e.Owner)))
}

// Invoke calls a named deterministic function over Targets.
type Invoke struct {
	header
	Function string
	Args     ir.Object
	Targets  []ResourceID
}

// NewInvoke builds an Invoke. Targets may be empty.
func NewInvoke(function string, args ir.Object, targets []ResourceID, opts ...Option) (*Invoke, error) {
	if function == "" {
		return nil, fmt.Errorf("%w: empty function name", ErrInvalidEffect)
	}
	for _, r := range targets {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	if args == nil {
		args = ir.Object{}
	}
	return &Invoke{
		header:   newHeader(KindInvoke, opts),
		Function: function,
		Args:     args.Clone(),
		Targets:  slices.Clone(targets),
	}, nil
}

func (*Invoke) Kind() Kind                { return KindInvoke }
func (e *Invoke) Resources() []ResourceID { return slices.Clone(e.Targets) }
func (e *Invoke) Payload() ir.Object {
	targets := make(ir.Array, len(e.Targets))
	for i, r := range e.Targets {
		targets[i] = ir.String(r)
	}
	return ir.Obj(
		ir.O("function", ir.String(e.Function)),
		ir.O("args", e.Args.Clone()),
		ir.O("targets", targets),
	)
}

func positive(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidEffect, amount)
	}
	return nil
}

// ID returns the content hash of e. Two effects with the same kind, payload,
// resources, capabilities, continuation identity and temporal context share
// an ID.
func ID(e Effect) (string, error) {
	resources := Dedup(e.Resources())
	rs := make(ir.Array, len(resources))
	for i, r := range resources {
		rs[i] = ir.String(r)
	}
	caps := e.RequiredCapabilities()
	cs := make(ir.Array, len(caps))
	for i, c := range caps {
		cs[i] = ir.String(c)
	}
	return ir.Hash(ir.DomainEffect, ir.Obj(
		ir.O("kind", ir.String(e.Kind().String())),
		ir.O("payload", e.Payload()),
		ir.O("resources", rs),
		ir.O("capabilities", cs),
		ir.O("continuation", ir.String(e.Continuation().ID())),
		ir.O("temporal", ir.String(e.Temporal().Hash())),
	))
}

// MustID is like ID but panics on error.
func MustID(e Effect) string {
	id, err := ID(e)
	if err != nil {
		panic(err)
	}
	return id
}

// Decode rebuilds an effect from its kind and canonical payload, as stored
// in an execution record. The rebuilt effect carries opts instead of the
// original continuation.
func Decode(kind Kind, payload ir.Object, opts ...Option) (Effect, error) {
	str := func(key string) (string, error) {
		s, ok := payload.Str(key)
		if !ok {
			return "", fmt.Errorf("%w: %s payload missing string %q", ErrInvalidEffect, kind, key)
		}
		return s, nil
	}
	num := func(key string) (int64, error) {
		n, ok := payload.Int64(key)
		if !ok {
			return 0, fmt.Errorf("%w: %s payload missing int %q", ErrInvalidEffect, kind, key)
		}
		return n, nil
	}

	switch kind {
	case KindDeposit, KindWithdraw:
		account, err := str("account")
		if err != nil {
			return nil, err
		}
		amount, err := num("amount")
		if err != nil {
			return nil, err
		}
		if kind == KindDeposit {
			return NewDeposit(ResourceID(account), amount, opts...)
		}
		return NewWithdraw(ResourceID(account), amount, opts...)
	case KindTransfer:
		from, err := str("from")
		if err != nil {
			return nil, err
		}
		to, err := str("to")
		if err != nil {
			return nil, err
		}
		amount, err := num("amount")
		if err != nil {
			return nil, err
		}
		return NewTransfer(ResourceID(from), ResourceID(to), amount, opts...)
	case KindObserve:
		target, err := str("target")
		if err != nil {
			return nil, err
		}
		return NewObserve(ResourceID(target), opts...)
	case KindAcquireResource:
		resource, err := str("resource")
		if err != nil {
			return nil, err
		}
		owner, err := str("owner")
		if err != nil {
			return nil, err
		}
		return NewAcquireResource(ResourceID(resource), owner, opts...)
	case KindInvoke:
		function, err := str("function")
		if err != nil {
			return nil, err
		}
		args, _ := payload["args"].(ir.Object)
		raw, _ := payload["targets"].(ir.Array)
		targets := make([]ResourceID, 0, len(raw))
		for _, v := range raw {
			s, ok := v.(ir.String)
			if !ok {
				return nil, fmt.Errorf("%w: invoke target %v is not a string", ErrInvalidEffect, v)
			}
			targets = append(targets, ResourceID(s))
		}
		return NewInvoke(function, args, targets, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown effect kind %d", ErrInvalidEffect, uint8(kind))
	}
}
