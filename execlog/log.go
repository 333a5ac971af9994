package execlog

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/internal/ir"
)

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(lg *Log) { lg.log = l }
}

// Log is the append-only execution log. It assigns each record its global
// sequence number and its parent links, then hands it to a Store.
//
// Append is serialized by the log mutex; the store call happens inside the
// critical section so seq order, store order and chain order agree.
type Log struct {
	mu    sync.Mutex
	store Store
	clock *Clock
	heads map[effect.ResourceID]string
	log   *zap.Logger
}

// Open returns a log over store, resuming the clock and per-resource heads
// from whatever the store already holds.
func Open(ctx context.Context, store Store, opts ...Option) (*Log, error) {
	l := &Log{
		store: store,
		heads: make(map[effect.ResourceID]string),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	var last int64
	err := store.Scan(ctx, func(r Record) error {
		for _, res := range r.Resources {
			l.heads[res] = r.Hash
		}
		last = r.Seq
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	l.clock = NewClockAt(last)
	return l, nil
}

// New returns a log over a fresh MemoryStore.
func New(opts ...Option) *Log {
	l, err := Open(context.Background(), NewMemoryStore(), opts...)
	if err != nil {
		// An empty memory store cannot fail to scan.
		panic(err)
	}
	return l
}

// Store returns the underlying store.
func (l *Log) Store() Store { return l.store }

// Seq returns the last assigned sequence number.
func (l *Log) Seq() int64 { return l.clock.Current() }

// Append turns d into a record, stores it and advances the heads of the
// resources it touched. On failure nothing advances and *AppendError is
// returned.
func (l *Log) Append(ctx context.Context, d Draft) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(ctx, d)
}

// AppendAll appends drafts in order without letting another append in
// between, so an effect and the nested effects it ran occupy consecutive
// seqs. It stops at the first failure and returns the records stored
// before it along with the *AppendError.
func (l *Log) AppendAll(ctx context.Context, drafts []Draft) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(drafts))
	for _, d := range drafts {
		rec, err := l.appendLocked(ctx, d)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (l *Log) appendLocked(ctx context.Context, d Draft) (Record, error) {
	resources := effect.Dedup(d.Resources)
	parents := make(map[effect.ResourceID]string, len(resources))
	for _, r := range resources {
		parents[r] = l.headLocked(r)
	}

	outcomeHash, err := d.Outcome.Hash()
	if err != nil {
		return Record{}, &AppendError{EffectID: d.EffectID, Err: fmt.Errorf("hash outcome: %w", err)}
	}

	rec := Record{
		Seq:            l.clock.Current() + 1,
		EffectID:       d.EffectID,
		Kind:           d.Kind,
		Payload:        d.Payload.Clone(),
		Temporal:       d.Temporal.Clone(),
		Resources:      resources,
		InputHashes:    maps.Clone(d.InputHashes),
		OutcomeHash:    outcomeHash,
		Outcome:        d.Outcome,
		Parents:        parents,
		ContinuationID: d.ContinuationID,
		Task:           d.Task,
		Depth:          d.Depth,
	}
	if rec.InputHashes == nil {
		rec.InputHashes = map[effect.ResourceID]string{}
	}
	if rec.Hash, err = rec.ComputeHash(); err != nil {
		return Record{}, &AppendError{Seq: rec.Seq, EffectID: d.EffectID, Err: err}
	}

	if err := l.store.Append(ctx, rec); err != nil {
		l.log.Error("log append failed",
			zap.Int64("seq", rec.Seq),
			zap.String("effect", d.EffectID),
			zap.Error(err),
		)
		return Record{}, &AppendError{Seq: rec.Seq, EffectID: d.EffectID, Err: err}
	}

	l.clock.Next()
	for _, r := range resources {
		l.heads[r] = rec.Hash
	}
	l.log.Info("record appended",
		zap.Int64("seq", rec.Seq),
		zap.String("hash", rec.Hash),
		zap.Stringer("kind", rec.Kind),
		zap.String("status", string(rec.Outcome.Status())),
		zap.Int("depth", rec.Depth),
	)
	return rec, nil
}

// Head returns the latest record hash touching r, or ir.GenesisHash.
func (l *Log) Head(r effect.ResourceID) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headLocked(r)
}

func (l *Log) headLocked(r effect.ResourceID) string {
	if h, ok := l.heads[r]; ok {
		return h
	}
	return ir.GenesisHash
}

// Chain returns every record touching r, oldest first, by walking parent
// links back from the head.
func (l *Log) Chain(ctx context.Context, r effect.ResourceID) ([]Record, error) {
	return Chain(ctx, l.store, l.Head(r), r)
}

// Records returns every record in seq order.
func (l *Log) Records(ctx context.Context) ([]Record, error) {
	return All(ctx, l.store)
}

// Chain walks r's parent links in store from head back to genesis and
// returns the records oldest first.
func Chain(ctx context.Context, store Store, head string, r effect.ResourceID) ([]Record, error) {
	var out []Record
	for h := head; h != ir.GenesisHash; {
		rec, err := store.Get(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", r, err)
		}
		out = append(out, rec)
		h = rec.Parent(r)
	}
	slices.Reverse(out)
	return out, nil
}

// Heads computes the latest record per resource from a full scan of store.
func Heads(ctx context.Context, store Store) (map[effect.ResourceID]string, error) {
	heads := make(map[effect.ResourceID]string)
	err := store.Scan(ctx, func(rec Record) error {
		for _, r := range rec.Resources {
			heads[r] = rec.Hash
		}
		return nil
	})
	return heads, err
}
