package executor

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/handler"
	"github.com/roach88/effectcore/internal/ir"
	"github.com/roach88/effectcore/lock"
)

func TestExecuteSequenceRunsInOrder(t *testing.T) {
	f := newFixture(t, handler.Ledger(), balances("a", 0, "b", 0))
	d1, _ := effect.NewDeposit("a", 10)
	tr, _ := effect.NewTransfer("a", "b", 4)
	w, _ := effect.NewWithdraw("b", 1)

	results, err := f.x.ExecuteSequence(context.Background(), "task-1", allCaps, d1, tr, w)

	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, int64(i+1), res.Seq)
	}
	assert.Equal(t, ir.Int(6), f.value(t, "a"))
	assert.Equal(t, ir.Int(3), f.value(t, "b"))
}

func TestExecuteSequenceStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, handler.Ledger(), balances("a", 5))
	var calls atomic.Int32
	ok1, _ := effect.NewDeposit("a", 1)
	tooMuch, _ := effect.NewWithdraw("a", 100)
	never, _ := effect.NewDeposit("a", 1, effect.WithContinuation(counting(t, "never", &calls, nil)))

	results, err := f.x.ExecuteSequence(context.Background(), "task-1", allCaps, ok1, tooMuch, never)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[1].Outcome.Is(effect.InsufficientFunds))
	assert.True(t, never.Continuation().Consumed(), "skipped effects give up their continuation")
	assert.Zero(t, calls.Load())
	assert.Len(t, f.records(t), 2)
	assert.Equal(t, ir.Int(6), f.value(t, "a"))
}

func TestExecuteSequenceStopsAtError(t *testing.T) {
	f := newFixture(t, handler.Ledger(), balances("a", 5))
	d, _ := effect.NewDeposit("a", 1)
	w, _ := effect.NewWithdraw("a", 1)

	results, err := f.x.ExecuteSequence(context.Background(), "task-1", effect.NewCapabilitySet("ledger.withdraw"), d, w)

	assert.ErrorIs(t, err, ErrCapability)
	assert.Len(t, results, 1)
	assert.Empty(t, f.records(t))
}

func TestRunTasksIndependent(t *testing.T) {
	f := newFixture(t, handler.Ledger(), balances("a", 0, "b", 0, "c", 0))

	var tasks []Task
	for _, r := range []effect.ResourceID{"a", "b", "c"} {
		var effects []effect.Effect
		for i := 1; i <= 5; i++ {
			d, err := effect.NewDeposit(r, int64(i))
			require.NoError(t, err)
			effects = append(effects, d)
		}
		tasks = append(tasks, Task{Caps: allCaps, Effects: effects})
	}
	tasks[2].ID = "named"

	results, err := f.x.RunTasks(context.Background(), tasks...)

	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, tr := range results {
		assert.NoError(t, tr.Err)
		assert.Len(t, tr.Results, 5)
		assert.NotEmpty(t, tr.ID)
	}
	assert.Equal(t, lock.TaskID("named"), results[2].ID)
	for _, r := range []effect.ResourceID{"a", "b", "c"} {
		assert.Equal(t, ir.Int(15), f.value(t, r))
	}
	assert.Len(t, f.records(t), 15)
	f.assertIdle(t)
}

func TestRunTasksReportsFirstError(t *testing.T) {
	f := newFixture(t, handler.Ledger(), balances("a", 0, "b", 0))
	good, _ := effect.NewDeposit("a", 1)
	bad, _ := effect.NewDeposit("b", 1)

	results, err := f.x.RunTasks(context.Background(),
		Task{ID: "good", Caps: allCaps, Effects: []effect.Effect{good}},
		Task{ID: "bad", Caps: effect.NewCapabilitySet(), Effects: []effect.Effect{bad}},
	)

	assert.ErrorIs(t, err, ErrCapability)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrCapability)
	assert.Equal(t, ir.Int(1), f.value(t, "a"), "other tasks still complete")
}
