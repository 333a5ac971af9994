package executor

import (
	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/lock"
)

// frame is one level of a task's call stack. Nested effects run in a child
// frame of the execution whose handler submitted them; the root frame
// stands for the caller and holds nothing.
//
// A frame's held map is written while its own execution acquires and when a
// finished child hands its guards up. Both happen on the task's goroutine,
// so children may read their ancestors without locking.
type frame struct {
	task     lock.TaskID
	caps     effect.CapabilitySet
	depth    int
	effectID string
	parent   *frame
	held     map[effect.ResourceID]lock.Mode
}

func rootFrame(task lock.TaskID, caps effect.CapabilitySet) *frame {
	return &frame{task: task, caps: caps, depth: -1}
}

func (f *frame) child() *frame {
	return &frame{
		task:   f.task,
		caps:   f.caps,
		depth:  f.depth + 1,
		parent: f,
		held:   make(map[effect.ResourceID]lock.Mode),
	}
}

// holding reports whether f or an ancestor holds r, and in which mode.
func (f *frame) holding(r effect.ResourceID) (lock.Mode, bool) {
	for cur := f; cur != nil; cur = cur.parent {
		if m, ok := cur.held[r]; ok {
			return m, true
		}
	}
	return 0, false
}

// highest returns the greatest resource held by f and its ancestors.
func (f *frame) highest() (effect.ResourceID, bool) {
	var top effect.ResourceID
	found := false
	for cur := f; cur != nil; cur = cur.parent {
		for r := range cur.held {
			if !found || effect.Compare(r, top) > 0 {
				top, found = r, true
			}
		}
	}
	return top, found
}

// executing reports whether an effect with id is running in f or an
// ancestor.
func (f *frame) executing(id string) bool {
	for cur := f; cur != nil; cur = cur.parent {
		if cur.effectID == id {
			return true
		}
	}
	return false
}
