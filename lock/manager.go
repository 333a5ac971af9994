package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/roach88/effectcore/effect"
)

const defaultShards = 64

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithShards sets the number of lock table shards. Values below 1 are
// ignored.
func WithShards(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.nshards = n
		}
	}
}

// Manager owns the lock table. Construct one with New and pass it to every
// executor that must coordinate; there is no package-level instance.
type Manager struct {
	log     *zap.Logger
	nshards int
	shards  []*shard
	tickets atomic.Uint64
	stats   counters
}

type shard struct {
	mu      sync.Mutex
	entries map[effect.ResourceID]*entry
}

// entry is the state of one locked resource. It exists only while the
// resource has a holder or a waiter.
type entry struct {
	holders []holder
	waiters []*waiter
}

type holder struct {
	task   TaskID
	mode   Mode
	ticket uint64
}

type waiter struct {
	task    TaskID
	mode    Mode
	ticket  uint64
	ready   chan struct{}
	granted bool
}

// New returns an empty lock manager.
func New(opts ...Option) *Manager {
	m := &Manager{log: zap.NewNop(), nshards: defaultShards}
	for _, opt := range opts {
		opt(m)
	}
	m.shards = make([]*shard, m.nshards)
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[effect.ResourceID]*entry)}
	}
	return m
}

func (m *Manager) shardFor(r effect.ResourceID) *shard {
	return m.shards[xxhash.Sum64String(string(r))%uint64(len(m.shards))]
}

// TryAcquire takes r exclusively if it is free and nobody is queued for it.
// It never blocks. An invalid resource id is never granted.
func (m *Manager) TryAcquire(task TaskID, r effect.ResourceID) (*Guard, bool) {
	if r.Validate() != nil {
		return nil, false
	}
	sh := m.shardFor(r)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent := sh.entries[r]
	if ent != nil && (ent.heldBy(task) || len(ent.waiters) > 0 || !ent.grantable(ModeExclusive)) {
		return nil, false
	}
	if ent == nil {
		ent = &entry{}
		sh.entries[r] = ent
	}
	return m.grant(ent, r, task, ModeExclusive, m.tickets.Add(1)), true
}

// Acquire takes r exclusively, waiting in FIFO order behind earlier
// requests. It returns *TimeoutError or *CancelledError if ctx ends while
// queued.
func (m *Manager) Acquire(ctx context.Context, task TaskID, r effect.ResourceID) (*Guard, error) {
	return m.acquire(ctx, task, r, ModeExclusive)
}

// AcquireShared takes r in shared mode. Shared holders coexist, but a
// shared request queues behind any earlier exclusive waiter.
func (m *Manager) AcquireShared(ctx context.Context, task TaskID, r effect.ResourceID) (*Guard, error) {
	return m.acquire(ctx, task, r, ModeShared)
}

// AcquireTimeout is Acquire bounded by d.
func (m *Manager) AcquireTimeout(ctx context.Context, task TaskID, r effect.ResourceID, d time.Duration) (*Guard, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return m.acquire(ctx, task, r, ModeExclusive)
}

func (m *Manager) acquire(ctx context.Context, task TaskID, r effect.ResourceID, mode Mode) (*Guard, error) {
	if err := r.Validate(); err != nil {
		return nil, &AcquireError{Resource: r, Task: task, Reason: err.Error()}
	}
	started := time.Now()
	if ctx.Err() != nil {
		return nil, interrupted(ctx, r, task, started)
	}

	sh := m.shardFor(r)
	sh.mu.Lock()
	ent := sh.entries[r]
	if ent == nil {
		ent = &entry{}
		sh.entries[r] = ent
	}
	if ent.heldBy(task) || ent.queued(task) {
		sh.mu.Unlock()
		return nil, &AcquireError{Resource: r, Task: task, Reason: "already held or requested by this task"}
	}
	ticket := m.tickets.Add(1)
	if len(ent.waiters) == 0 && ent.grantable(mode) {
		g := m.grant(ent, r, task, mode, ticket)
		sh.mu.Unlock()
		return g, nil
	}

	w := &waiter{task: task, mode: mode, ticket: ticket, ready: make(chan struct{})}
	ent.waiters = append(ent.waiters, w)
	m.stats.waited.Add(1)
	sh.mu.Unlock()

	m.log.Debug("waiting for resource",
		zap.String("resource", string(r)),
		zap.String("task", string(task)),
		zap.Stringer("mode", mode),
		zap.Uint64("ticket", ticket),
	)

	select {
	case <-w.ready:
		return newGuard(m, r, task, mode, ticket), nil
	case <-ctx.Done():
	}

	sh.mu.Lock()
	if w.granted {
		// Granted before ctx ended: the task is no longer queued, so the
		// cancellation does not apply.
		sh.mu.Unlock()
		return newGuard(m, r, task, mode, ticket), nil
	}
	ent.removeWaiter(w)
	m.promote(ent, r)
	if ent.idle() {
		delete(sh.entries, r)
	}
	sh.mu.Unlock()

	err := interrupted(ctx, r, task, started)
	if IsTimeout(err) {
		m.stats.timeouts.Add(1)
	} else {
		m.stats.cancellations.Add(1)
	}
	return nil, err
}

// grant makes task a holder of ent. Caller holds the shard mutex.
func (m *Manager) grant(ent *entry, r effect.ResourceID, task TaskID, mode Mode, ticket uint64) *Guard {
	ent.holders = append(ent.holders, holder{task: task, mode: mode, ticket: ticket})
	m.stats.acquired.Add(1)
	return newGuard(m, r, task, mode, ticket)
}

// promote grants the queue head, and for shared heads every consecutive
// shared waiter, while the entry allows it. Caller holds the shard mutex.
func (m *Manager) promote(ent *entry, r effect.ResourceID) {
	for len(ent.waiters) > 0 {
		head := ent.waiters[0]
		if !ent.grantable(head.mode) {
			return
		}
		ent.waiters[0] = nil
		ent.waiters = ent.waiters[1:]
		ent.holders = append(ent.holders, holder{task: head.task, mode: head.mode, ticket: head.ticket})
		head.granted = true
		close(head.ready)
		m.stats.acquired.Add(1)
		m.log.Debug("resource handed to next waiter",
			zap.String("resource", string(r)),
			zap.String("task", string(head.task)),
			zap.Uint64("ticket", head.ticket),
		)
		if head.mode == ModeExclusive {
			return
		}
	}
}

func (m *Manager) release(g *Guard) {
	sh := m.shardFor(g.resource)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent := sh.entries[g.resource]
	if ent == nil {
		return
	}
	for i, h := range ent.holders {
		if h.ticket == g.ticket {
			ent.holders = append(ent.holders[:i], ent.holders[i+1:]...)
			break
		}
	}
	m.stats.released.Add(1)
	m.promote(ent, g.resource)
	if ent.idle() {
		delete(sh.entries, g.resource)
	}
}

func (e *entry) grantable(mode Mode) bool {
	if len(e.holders) == 0 {
		return true
	}
	if mode == ModeExclusive {
		return false
	}
	for _, h := range e.holders {
		if h.mode == ModeExclusive {
			return false
		}
	}
	return true
}

func (e *entry) heldBy(task TaskID) bool {
	for _, h := range e.holders {
		if h.task == task {
			return true
		}
	}
	return false
}

func (e *entry) queued(task TaskID) bool {
	for _, w := range e.waiters {
		if w.task == task {
			return true
		}
	}
	return false
}

func (e *entry) removeWaiter(w *waiter) {
	for i, cur := range e.waiters {
		if cur == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

func (e *entry) idle() bool {
	return len(e.holders) == 0 && len(e.waiters) == 0
}
