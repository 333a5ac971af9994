package state

import (
	"fmt"
	"slices"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/internal/ir"
)

// Stage buffers writes over a Reader and restricts access to an allowed
// resource set. Nothing reaches the underlying store until the executor
// applies Writes. A Stage is owned by one task and is not safe for
// concurrent use.
type Stage struct {
	base    Reader
	parent  *Stage
	allowed map[effect.ResourceID]struct{}
	writes  map[effect.ResourceID]Write
}

// NewStage returns a stage over base that may only touch allowed.
func NewStage(base Reader, allowed []effect.ResourceID) *Stage {
	set := make(map[effect.ResourceID]struct{}, len(allowed))
	for _, r := range allowed {
		set[r] = struct{}{}
	}
	return &Stage{base: base, allowed: set, writes: make(map[effect.ResourceID]Write)}
}

// Allowed reports whether r is in the stage's resource set.
func (s *Stage) Allowed(r effect.ResourceID) bool {
	_, ok := s.allowed[r]
	return ok
}

// Get returns the staged value of r if any, otherwise the base value.
func (s *Stage) Get(r effect.ResourceID) (ir.Value, bool, error) {
	if !s.Allowed(r) {
		return nil, false, fmt.Errorf("get %s: %w", r, ErrNotLocked)
	}
	for cur := s; cur != nil; cur = cur.parent {
		if w, ok := cur.writes[r]; ok {
			if w.Delete {
				return nil, false, nil
			}
			return ir.CloneValue(w.Value), true, nil
		}
	}
	return s.root().base.Get(r)
}

// Put stages v as the new value of r.
func (s *Stage) Put(r effect.ResourceID, v ir.Value) error {
	if !s.Allowed(r) {
		return fmt.Errorf("put %s: %w", r, ErrNotLocked)
	}
	s.writes[r] = Write{Resource: r, Value: ir.CloneValue(v)}
	return nil
}

// Delete stages removal of r.
func (s *Stage) Delete(r effect.ResourceID) error {
	if !s.Allowed(r) {
		return fmt.Errorf("delete %s: %w", r, ErrNotLocked)
	}
	s.writes[r] = Write{Resource: r, Delete: true}
	return nil
}

// Staged reports whether r has an uncommitted write in s or its parents.
func (s *Stage) Staged(r effect.ResourceID) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if _, ok := cur.writes[r]; ok {
			return true
		}
	}
	return false
}

// Fork returns a child stage that sees s's writes. The child's writes reach
// s only through Merge.
func (s *Stage) Fork() *Stage {
	return &Stage{parent: s, allowed: s.allowed, writes: make(map[effect.ResourceID]Write)}
}

// Merge folds a forked child's writes into its parent. Merging a root stage
// is a no-op.
func (s *Stage) Merge() {
	if s.parent == nil {
		return
	}
	for r, w := range s.writes {
		s.parent.writes[r] = w
	}
	clear(s.writes)
}

// Discard drops every staged write.
func (s *Stage) Discard() {
	clear(s.writes)
}

// Writes returns the staged writes in canonical resource order.
func (s *Stage) Writes() []Write {
	keys := make([]effect.ResourceID, 0, len(s.writes))
	for r := range s.writes {
		keys = append(keys, r)
	}
	slices.SortFunc(keys, effect.Compare)
	out := make([]Write, len(keys))
	for i, r := range keys {
		out[i] = s.writes[r]
	}
	return out
}

func (s *Stage) root() *Stage {
	cur := s
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}
