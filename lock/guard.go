package lock

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/roach88/effectcore/effect"
)

// noCopy makes go vet's copylocks check flag copies of a Guard.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Guard is the right to use one resource. Release it exactly once, usually
// with defer; a second Release returns *DoubleReleaseError.
type Guard struct {
	noCopy noCopy

	m        *Manager
	resource effect.ResourceID
	task     TaskID
	mode     Mode
	ticket   uint64
	released atomic.Bool
}

func newGuard(m *Manager, r effect.ResourceID, task TaskID, mode Mode, ticket uint64) *Guard {
	return &Guard{m: m, resource: r, task: task, mode: mode, ticket: ticket}
}

func (g *Guard) Resource() effect.ResourceID { return g.resource }
func (g *Guard) Task() TaskID                { return g.task }
func (g *Guard) Mode() Mode                  { return g.mode }

// Ticket is the manager-wide order in which the request was made.
func (g *Guard) Ticket() uint64 { return g.ticket }

// Released reports whether Release has been called.
func (g *Guard) Released() bool { return g.released.Load() }

// Release gives the resource back. If anyone is queued the head of the
// queue becomes the holder before Release returns.
func (g *Guard) Release() error {
	if !g.released.CompareAndSwap(false, true) {
		return &DoubleReleaseError{Resource: g.resource, Task: g.task}
	}
	g.m.release(g)
	return nil
}

// GuardSet holds guards in acquisition order.
type GuardSet struct {
	guards []*Guard
}

// NewGuardSet wraps guards already held, in the order they were acquired.
func NewGuardSet(guards ...*Guard) *GuardSet {
	return &GuardSet{guards: guards}
}

// Add appends a newly acquired guard.
func (s *GuardSet) Add(g *Guard) { s.guards = append(s.guards, g) }

func (s *GuardSet) Len() int { return len(s.guards) }

// Guards returns the guards in acquisition order.
func (s *GuardSet) Guards() []*Guard { return slices.Clone(s.guards) }

// Resources lists the guarded resources in acquisition order.
func (s *GuardSet) Resources() []effect.ResourceID {
	out := make([]effect.ResourceID, len(s.guards))
	for i, g := range s.guards {
		out[i] = g.resource
	}
	return out
}

// Holds reports whether the set guards r.
func (s *GuardSet) Holds(r effect.ResourceID) bool {
	for _, g := range s.guards {
		if g.resource == r {
			return true
		}
	}
	return false
}

// Release releases every guard in reverse acquisition order. Every guard is
// attempted even if an earlier one fails.
func (s *GuardSet) Release() error {
	var err error
	for i := len(s.guards) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.guards[i].Release())
	}
	return err
}

// AcquireAll takes every resource in rs exclusively, in canonical order and
// without duplicates. If any acquisition fails the guards already taken are
// released in reverse order and nothing is held on return.
func (m *Manager) AcquireAll(ctx context.Context, task TaskID, rs []effect.ResourceID) (*GuardSet, error) {
	set := &GuardSet{}
	for _, r := range effect.Dedup(rs) {
		g, err := m.Acquire(ctx, task, r)
		if err != nil {
			return nil, multierr.Append(
				fmt.Errorf("acquire all: %w", err),
				set.Release(),
			)
		}
		set.Add(g)
	}
	return set, nil
}
