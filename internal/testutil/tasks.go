// Package testutil holds deterministic helpers shared by tests and the
// scenario harness.
package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/effectcore/lock"
)

// TaskGenerator hands out task ids.
type TaskGenerator interface {
	Next() lock.TaskID
}

// TaskSequence generates "<prefix>-1", "<prefix>-2", ... in call order.
//
// Unlike lock.NewTaskID, a TaskSequence can be reset, so the same scenario
// run twice produces the same task ids and therefore the same record hashes.
//
// Thread-safety: all methods are safe for concurrent use.
type TaskSequence struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewTaskSequence returns a sequence starting at 1. An empty prefix becomes
// "task".
func NewTaskSequence(prefix string) *TaskSequence {
	if prefix == "" {
		prefix = "task"
	}
	return &TaskSequence{prefix: prefix}
}

// Next returns the next id.
func (s *TaskSequence) Next() lock.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return lock.TaskID(fmt.Sprintf("%s-%d", s.prefix, s.n))
}

// Issued returns how many ids Next has returned since the last Reset.
func (s *TaskSequence) Issued() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Reset restarts the sequence. The next call to Next returns "<prefix>-1".
func (s *TaskSequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}

// FixedTask returns the same id every time, for scenarios where every
// effect belongs to one task.
//
// Thread-safety: FixedTask is immutable and safe for concurrent use.
type FixedTask struct {
	id lock.TaskID
}

// NewFixedTask returns a generator for id. If id is empty, Next returns
// "task-default".
func NewFixedTask(id lock.TaskID) FixedTask {
	if id == "" {
		id = "task-default"
	}
	return FixedTask{id: id}
}

// Next returns the fixed id.
func (f FixedTask) Next() lock.TaskID { return f.id }
