package lock

import (
	"slices"
	"sync/atomic"

	"github.com/roach88/effectcore/effect"
)

// EntryInfo is a point-in-time view of one resource's lock state.
type EntryInfo struct {
	Resource effect.ResourceID
	Holders  []HolderInfo
	Waiters  []HolderInfo
}

// HolderInfo describes a holder or a queued request.
type HolderInfo struct {
	Task   TaskID
	Mode   Mode
	Ticket uint64
}

// Entry returns the lock state of r. The second result is false when r is
// unlocked and nobody is waiting.
func (m *Manager) Entry(r effect.ResourceID) (EntryInfo, bool) {
	sh := m.shardFor(r)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent := sh.entries[r]
	if ent == nil {
		return EntryInfo{}, false
	}
	info := EntryInfo{Resource: r}
	for _, h := range ent.holders {
		info.Holders = append(info.Holders, HolderInfo{Task: h.task, Mode: h.mode, Ticket: h.ticket})
	}
	for _, w := range ent.waiters {
		info.Waiters = append(info.Waiters, HolderInfo{Task: w.task, Mode: w.mode, Ticket: w.ticket})
	}
	return info, true
}

// HeldBy lists the resources task currently holds, in canonical order.
func (m *Manager) HeldBy(task TaskID) []effect.ResourceID {
	var out []effect.ResourceID
	for _, sh := range m.shards {
		sh.mu.Lock()
		for r, ent := range sh.entries {
			if ent.heldBy(task) {
				out = append(out, r)
			}
		}
		sh.mu.Unlock()
	}
	slices.SortFunc(out, effect.Compare)
	return out
}

// IsNext reports whether task is at the head of r's wait queue.
func (m *Manager) IsNext(task TaskID, r effect.ResourceID) bool {
	sh := m.shardFor(r)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent := sh.entries[r]
	return ent != nil && len(ent.waiters) > 0 && ent.waiters[0].task == task
}

// Stats are cumulative counters plus the current table size.
type Stats struct {
	Acquired      uint64
	Released      uint64
	Waited        uint64
	Timeouts      uint64
	Cancellations uint64
	Entries       int
}

type counters struct {
	acquired      atomic.Uint64
	released      atomic.Uint64
	waited        atomic.Uint64
	timeouts      atomic.Uint64
	cancellations atomic.Uint64
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	s := Stats{
		Acquired:      m.stats.acquired.Load(),
		Released:      m.stats.released.Load(),
		Waited:        m.stats.waited.Load(),
		Timeouts:      m.stats.timeouts.Load(),
		Cancellations: m.stats.cancellations.Load(),
	}
	for _, sh := range m.shards {
		sh.mu.Lock()
		s.Entries += len(sh.entries)
		sh.mu.Unlock()
	}
	return s
}
