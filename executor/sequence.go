package executor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/lock"
)

// ExecuteSequence runs effects one after another for task, in the order
// given. It stops at the first error or failed outcome and returns the
// results so far; effects after the stop are not run and their
// continuations are discarded.
func (x *Executor) ExecuteSequence(ctx context.Context, task lock.TaskID, caps effect.CapabilitySet, effects ...effect.Effect) ([]Result, error) {
	results := make([]Result, 0, len(effects))
	for i, e := range effects {
		res, err := x.Execute(ctx, task, e, caps)
		results = append(results, res)
		if err != nil || !res.Outcome.IsSuccess() {
			for _, rest := range effects[i+1:] {
				rest.Continuation().Discard()
			}
			return results, err
		}
	}
	return results, nil
}

// Task is a program for RunTasks: effects run in order under one task id.
type Task struct {
	ID      lock.TaskID
	Caps    effect.CapabilitySet
	Effects []effect.Effect
}

// TaskResult is the outcome of one Task.
type TaskResult struct {
	ID      lock.TaskID
	Results []Result
	Err     error
}

// RunTasks runs each task's sequence concurrently with the others and
// waits for all of them. Results are in the order of tasks. The returned
// error is the first task error, if any; every task still runs to its own
// end.
func (x *Executor) RunTasks(ctx context.Context, tasks ...Task) ([]TaskResult, error) {
	out := make([]TaskResult, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		if t.ID == "" {
			t.ID = lock.NewTaskID()
		}
		g.Go(func() error {
			results, err := x.ExecuteSequence(ctx, t.ID, t.Caps, t.Effects...)
			out[i] = TaskResult{ID: t.ID, Results: results, Err: err}
			return err
		})
	}
	err := g.Wait()
	return out, err
}
