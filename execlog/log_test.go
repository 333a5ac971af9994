package execlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/internal/ir"
)

func TestAppendAssignsSeqAndParents(t *testing.T) {
	log := New()
	r := newRunner(t, log, balances("a", 100, "b", 0), handler.Ledger())

	first, _ := r.run(deposit(t, "a", 10))
	second, _ := r.run(transfer(t, "a", "b", 30))
	third, _ := r.run(deposit(t, "b", 5))

	assert.Equal(t, []int64{1, 2, 3}, []int64{first.Seq, second.Seq, third.Seq})
	assert.Equal(t, int64(3), log.Seq())

	assert.Equal(t, ir.GenesisHash, first.Parent("a"))
	assert.Equal(t, first.Hash, second.Parent("a"))
	assert.Equal(t, ir.GenesisHash, second.Parent("b"))
	assert.Equal(t, second.Hash, third.Parent("b"))

	assert.Equal(t, second.Hash, log.Head("a"))
	assert.Equal(t, third.Hash, log.Head("b"))
	assert.Equal(t, ir.GenesisHash, log.Head("c"))
}

func TestAppendRecordsInputHashesAndOutcome(t *testing.T) {
	log := New()
	r := newRunner(t, log, balances("a", 100), handler.Ledger())

	rec, out := r.run(withdraw(t, "a", 500))

	assert.True(t, out.Is(effect.InsufficientFunds))
	assert.Equal(t, out.MustHash(), rec.OutcomeHash)
	assert.Equal(t, effect.KindWithdraw, rec.Kind)
	assert.Equal(t, []effect.ResourceID{"a"}, rec.Resources)
	assert.Equal(t, ir.StateHash(ir.Int(100), true), rec.InputHashes["a"])

	want, err := rec.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, want, rec.Hash)
}

func TestAppendDedupsResources(t *testing.T) {
	log := New()
	rec, err := log.Append(context.Background(), Draft{
		EffectID:  "e1",
		Kind:      effect.KindInvoke,
		Payload:   ir.Object{},
		Resources: []effect.ResourceID{"z", "a", "z"},
		Outcome:   effect.Success(nil),
	})
	require.NoError(t, err)

	assert.Equal(t, []effect.ResourceID{"a", "z"}, rec.Resources)
	assert.Len(t, rec.Parents, 2)
	assert.NotNil(t, rec.InputHashes)
}

func TestChainFollowsOneResource(t *testing.T) {
	ctx := context.Background()
	log := New()
	r := newRunner(t, log, balances("a", 100, "b", 0), handler.Ledger())

	r1, _ := r.run(deposit(t, "a", 1))
	r.run(deposit(t, "b", 1))
	r3, _ := r.run(transfer(t, "a", "b", 2))
	r4, _ := r.run(withdraw(t, "a", 3))

	chain, err := log.Chain(ctx, "a")
	require.NoError(t, err)

	var seqs []int64
	for _, rec := range chain {
		seqs = append(seqs, rec.Seq)
	}
	assert.Equal(t, []int64{r1.Seq, r3.Seq, r4.Seq}, seqs)

	empty, err := log.Chain(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpenResumesFromStore(t *testing.T) {
	ctx := context.Background()
	first := New()
	r := newRunner(t, first, balances("a", 100), handler.Ledger())
	r.run(deposit(t, "a", 1))
	last, _ := r.run(deposit(t, "a", 2))

	reopened, err := Open(ctx, first.Store())
	require.NoError(t, err)

	assert.Equal(t, int64(2), reopened.Seq())
	assert.Equal(t, last.Hash, reopened.Head("a"))

	next, err := reopened.Append(ctx, Draft{
		EffectID:  "e3",
		Kind:      effect.KindObserve,
		Payload:   ir.Object{},
		Resources: []effect.ResourceID{"a"},
		Outcome:   effect.Success(nil),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.Seq)
	assert.Equal(t, last.Hash, next.Parent("a"))

	heads, err := Heads(ctx, reopened.Store())
	require.NoError(t, err)
	assert.Equal(t, map[effect.ResourceID]string{"a": next.Hash}, heads)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) Append(context.Context, Record) error { return s.err }

func TestAppendFailureLeavesLogUnchanged(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	log, err := Open(ctx, &failingStore{MemoryStore: NewMemoryStore(), err: boom})
	require.NoError(t, err)

	_, err = log.Append(ctx, Draft{
		EffectID:  "e1",
		Kind:      effect.KindDeposit,
		Payload:   ir.Object{},
		Resources: []effect.ResourceID{"a"},
		Outcome:   effect.Success(nil),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLogAppend)
	assert.ErrorIs(t, err, boom)
	var appendErr *AppendError
	require.ErrorAs(t, err, &appendErr)
	assert.Equal(t, int64(1), appendErr.Seq)

	assert.Equal(t, int64(0), log.Seq())
	assert.Equal(t, ir.GenesisHash, log.Head("a"))
}

func TestAppendAllKeepsUnitTogether(t *testing.T) {
	ctx := context.Background()
	log := New()
	draft := func(id string, depth int, rs ...effect.ResourceID) Draft {
		return Draft{
			EffectID:  id,
			Kind:      effect.KindInvoke,
			Payload:   ir.Object{},
			Resources: rs,
			Outcome:   effect.Success(nil),
			Task:      "task-1",
			Depth:     depth,
		}
	}

	recs, err := log.AppendAll(ctx, []Draft{
		draft("nested", 1, "vault"),
		draft("refused", 1),
		draft("outer", 0, "job", "vault"),
	})

	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{recs[0].Seq, recs[1].Seq, recs[2].Seq})
	assert.Empty(t, recs[1].Resources)
	assert.Equal(t, recs[0].Hash, recs[2].Parent("vault"), "outer chains after its nested effect")
	assert.Equal(t, ir.GenesisHash, recs[2].Parent("job"))
	assert.Equal(t, recs[2].Hash, log.Head("vault"))

	n, err := Verify(ctx, log.Store())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	failing, err := Open(ctx, &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("disk full")})
	require.NoError(t, err)
	recs, err = failing.AppendAll(ctx, []Draft{draft("nested", 1, "vault"), draft("outer", 0, "job")})
	assert.ErrorIs(t, err, ErrLogAppend)
	assert.Empty(t, recs)
	assert.Equal(t, int64(0), failing.Seq())
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())

	resumed := NewClockAt(41)
	assert.Equal(t, int64(42), resumed.Next())
}
