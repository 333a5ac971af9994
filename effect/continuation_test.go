package effect

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/effectcore/internal/ir"
)

func addOne(o Outcome) Outcome {
	n, ok := o.Value().(ir.Int)
	if !ok {
		return o
	}
	return Success(n + 1)
}

func TestContinuationApplyOnce(t *testing.T) {
	k, err := NewContinuation("add-one", nil, addOne)
	require.NoError(t, err)
	assert.False(t, k.Consumed())

	out, err := k.Apply(Success(ir.Int(1)))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2), out.Value())
	assert.True(t, k.Consumed())

	_, err = k.Apply(Success(ir.Int(1)))
	require.ErrorIs(t, err, ErrContinuationReuse)

	var reuse *ContinuationReuseError
	require.ErrorAs(t, err, &reuse)
	assert.Equal(t, k.ID(), reuse.ContinuationID)
	assert.Equal(t, "add-one", reuse.Name)
}

func TestContinuationApplyRacesOnlyOneWins(t *testing.T) {
	var calls atomic.Int32
	k, err := NewContinuation("count", nil, func(o Outcome) Outcome {
		calls.Add(1)
		return o
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var reused atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := k.Apply(Success(nil)); err != nil {
				reused.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(31), reused.Load())
}

func TestContinuationIdentityByNameAndCapture(t *testing.T) {
	a, _ := NewContinuation("scale", ir.Obj(ir.O("factor", ir.Int(2))), nil)
	b, _ := NewContinuation("scale", ir.Obj(ir.O("factor", ir.Int(2))), nil)
	c, _ := NewContinuation("scale", ir.Obj(ir.O("factor", ir.Int(3))), nil)

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestNilContinuationIsIdentity(t *testing.T) {
	var k *Continuation
	out, err := k.Apply(Success(ir.Int(5)))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(5), out.Value())
	assert.Equal(t, Identity().ID(), k.ID())
	assert.False(t, k.Consumed())
}

func TestAndThenComposesSequentially(t *testing.T) {
	first, _ := NewContinuation("add-one", nil, addOne)
	double, _ := NewContinuation("double", nil, func(o Outcome) Outcome {
		return Success(o.Value().(ir.Int) * 2)
	})

	composed, err := first.AndThen(double)
	require.NoError(t, err)
	assert.True(t, first.Consumed())
	assert.True(t, double.Consumed())

	out, err := composed.Apply(Success(ir.Int(3)))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(8), out.Value(), "(3+1)*2")

	_, err = composed.Apply(Success(ir.Int(3)))
	assert.ErrorIs(t, err, ErrContinuationReuse)
}

func TestAndThenIDDependsOnOrder(t *testing.T) {
	mk := func(name string) *Continuation {
		k, _ := NewContinuation(name, nil, nil)
		return k
	}
	ab, err := mk("a").AndThen(mk("b"))
	require.NoError(t, err)
	ba, err := mk("b").AndThen(mk("a"))
	require.NoError(t, err)

	assert.NotEqual(t, ab.ID(), ba.ID())
}

func TestAndThenRejectsConsumedInputs(t *testing.T) {
	used, _ := NewContinuation("used", nil, nil)
	_, _ = used.Apply(Success(nil))
	fresh, _ := NewContinuation("fresh", nil, nil)

	_, err := fresh.AndThen(used)
	require.ErrorIs(t, err, ErrContinuationReuse)
	assert.False(t, fresh.Consumed(), "failed composition leaves the receiver usable")

	_, err = used.AndThen(fresh)
	assert.ErrorIs(t, err, ErrContinuationReuse)
}

func TestDiscardConsumes(t *testing.T) {
	k, _ := NewContinuation("skip", nil, nil)
	k.Discard()
	_, err := k.Apply(Success(nil))
	assert.ErrorIs(t, err, ErrContinuationReuse)
}
