package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/effectcore/effect"
)

// waitQueued blocks until r has n waiters.
func waitQueued(t *testing.T, m *Manager, r effect.ResourceID, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, ok := m.Entry(r)
		return ok && len(info.Waiters) == n
	}, 2*time.Second, time.Millisecond)
}

func TestTryAcquire(t *testing.T) {
	m := New()

	g, ok := m.TryAcquire("t1", "R1")
	require.True(t, ok)

	_, ok = m.TryAcquire("t2", "R1")
	assert.False(t, ok, "held resource")

	require.NoError(t, g.Release())
	g2, ok := m.TryAcquire("t2", "R1")
	require.True(t, ok)
	require.NoError(t, g2.Release())
}

func TestTryAcquireRejectsInvalidResource(t *testing.T) {
	m := New()

	g, ok := m.TryAcquire("t1", "")
	assert.False(t, ok)
	assert.Nil(t, g)
	_, held := m.Entry("")
	assert.False(t, held)
	assert.Zero(t, m.Stats().Acquired)
}

func TestTryAcquireRespectsQueue(t *testing.T) {
	m := New()
	ctx := context.Background()

	holder, err := m.Acquire(ctx, "holder", "R1")
	require.NoError(t, err)

	granted := make(chan *Guard)
	go func() {
		g, err := m.Acquire(ctx, "waiter", "R1")
		assert.NoError(t, err)
		granted <- g
	}()
	waitQueued(t, m, "R1", 1)

	require.NoError(t, holder.Release())
	g := <-granted
	_, ok := m.TryAcquire("late", "R1")
	assert.False(t, ok)
	require.NoError(t, g.Release())
}

func TestMutualExclusion(t *testing.T) {
	m := New()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := m.Acquire(ctx, TaskID(fmt.Sprintf("t%d", i)), "R1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(100 * time.Microsecond)
			inside.Add(-1)
			assert.NoError(t, g.Release())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, m.Stats().Entries)
}

func TestFIFOFairness(t *testing.T) {
	m := New()
	ctx := context.Background()

	holder, err := m.Acquire(ctx, "holder", "R1")
	require.NoError(t, err)

	const n = 8
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := m.Acquire(ctx, TaskID(fmt.Sprintf("w%d", i)), "R1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			assert.NoError(t, g.Release())
		}(i)
		// Enqueue strictly one after another.
		waitQueued(t, m, "R1", i+1)
	}

	assert.True(t, m.IsNext("w0", "R1"))
	require.NoError(t, holder.Release())
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestSecondWaiterBlocksUntilRelease(t *testing.T) {
	m := New()
	ctx := context.Background()

	first, err := m.Acquire(ctx, "first", "R1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		g, err := m.Acquire(ctx, "second", "R1")
		assert.NoError(t, err)
		close(acquired)
		assert.NoError(t, g.Release())
	}()
	waitQueued(t, m, "R1", 1)

	select {
	case <-acquired:
		t.Fatal("second acquired while first held the resource")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, first.Release())
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second never acquired")
	}
}

func TestAcquireAllNoDeadlock(t *testing.T) {
	m := New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var completed atomic.Int32
	for i := 0; i < 1000; i++ {
		rs := []effect.ResourceID{"R1", "R2"}
		if i%2 == 1 {
			rs = []effect.ResourceID{"R2", "R1"}
		}
		wg.Add(1)
		go func(i int, rs []effect.ResourceID) {
			defer wg.Done()
			set, err := m.AcquireAll(ctx, TaskID(fmt.Sprintf("t%d", i)), rs)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, []effect.ResourceID{"R1", "R2"}, set.Resources())
			completed.Add(1)
			assert.NoError(t, set.Release())
		}(i, rs)
	}
	wg.Wait()

	assert.Equal(t, int32(1000), completed.Load())
	assert.Equal(t, 0, m.Stats().Entries)
}

func TestAcquireAllDedupsAndReleasesOnFailure(t *testing.T) {
	m := New()
	ctx := context.Background()

	blocker, err := m.Acquire(ctx, "blocker", "R3")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = m.AcquireAll(short, "t", []effect.ResourceID{"R3", "R1", "R2", "R1"})
	require.ErrorIs(t, err, ErrTimeout)

	assert.Empty(t, m.HeldBy("t"), "partial acquisitions are rolled back")
	_, held := m.Entry("R1")
	assert.False(t, held)
	require.NoError(t, blocker.Release())
}

func TestDoubleRelease(t *testing.T) {
	m := New()
	g, err := m.Acquire(context.Background(), "t", "R1")
	require.NoError(t, err)

	require.NoError(t, g.Release())
	err = g.Release()
	require.ErrorIs(t, err, ErrDoubleRelease)

	var dre *DoubleReleaseError
	require.ErrorAs(t, err, &dre)
	assert.Equal(t, effect.ResourceID("R1"), dre.Resource)
	assert.Equal(t, uint64(1), m.Stats().Released, "second release has no effect")
}

func TestGuardSetReleasesInReverseOrder(t *testing.T) {
	m := New()
	set, err := m.AcquireAll(context.Background(), "t", []effect.ResourceID{"b", "a", "c"})
	require.NoError(t, err)
	assert.Equal(t, []effect.ResourceID{"a", "b", "c"}, m.HeldBy("t"))

	guards := set.Guards()
	require.NoError(t, guards[2].Release())

	err = set.Release()
	require.ErrorIs(t, err, ErrDoubleRelease, "already-released guard is reported")
	for _, g := range guards {
		assert.True(t, g.Released())
	}
	assert.Empty(t, m.HeldBy("t"))
}

func TestAcquireTimeoutScenario(t *testing.T) {
	m := New()
	ctx := context.Background()

	holder, err := m.Acquire(ctx, "holder", "R1")
	require.NoError(t, err)
	go func() {
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, holder.Release())
	}()

	start := time.Now()
	_, err = m.AcquireTimeout(ctx, "impatient", "R1", 10*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, 50*time.Millisecond)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, TaskID("impatient"), te.Task)

	// The timed-out waiter left the queue, so a new caller gets the
	// resource once the holder is done.
	g, err := m.AcquireTimeout(ctx, "next", "R1", 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, g.Release())
	assert.Equal(t, uint64(1), m.Stats().Timeouts)
}

func TestCancelKeepsFIFOForOthers(t *testing.T) {
	m := New()
	ctx := context.Background()

	holder, err := m.Acquire(ctx, "holder", "R1")
	require.NoError(t, err)

	order := make(chan TaskID, 3)
	enqueue := func(ctx context.Context, task TaskID) chan error {
		done := make(chan error, 1)
		go func() {
			g, err := m.Acquire(ctx, task, "R1")
			if err == nil {
				order <- task
				err = g.Release()
			}
			done <- err
		}()
		return done
	}

	aDone := enqueue(ctx, "A")
	waitQueued(t, m, "R1", 1)
	bCtx, cancelB := context.WithCancel(ctx)
	bDone := enqueue(bCtx, "B")
	waitQueued(t, m, "R1", 2)
	cDone := enqueue(ctx, "C")
	waitQueued(t, m, "R1", 3)

	cancelB()
	err = <-bDone
	require.ErrorIs(t, err, ErrCancelled)
	assert.True(t, errors.Is(err, context.Canceled))

	info, ok := m.Entry("R1")
	require.True(t, ok)
	require.Len(t, info.Waiters, 2)
	assert.Equal(t, TaskID("A"), info.Waiters[0].Task)
	assert.Equal(t, TaskID("C"), info.Waiters[1].Task)

	require.NoError(t, holder.Release())
	require.NoError(t, <-aDone)
	require.NoError(t, <-cDone)
	assert.Equal(t, TaskID("A"), <-order)
	assert.Equal(t, TaskID("C"), <-order)
}

func TestGrantWinsOverLateCancellation(t *testing.T) {
	m := New()

	for i := range 50 {
		r := effect.ResourceID(fmt.Sprintf("R%d", i))
		holder, err := m.Acquire(context.Background(), "holder", r)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		type result struct {
			g   *Guard
			err error
		}
		done := make(chan result, 1)
		go func() {
			g, err := m.Acquire(ctx, "waiter", r)
			done <- result{g, err}
		}()
		waitQueued(t, m, r, 1)

		// Grant first, then cancel: both are ready when the waiter wakes.
		require.NoError(t, holder.Release())
		cancel()

		res := <-done
		require.NoError(t, res.err, "granted waiter must keep its guard")
		require.NotNil(t, res.g)
		assert.Equal(t, []effect.ResourceID{r}, m.HeldBy("waiter"))
		require.NoError(t, res.g.Release())
		_, held := m.Entry(r)
		assert.False(t, held)
	}
}

func TestAcquireWithDoneContext(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Acquire(ctx, "t", "R1")
	assert.ErrorIs(t, err, ErrCancelled)
	_, held := m.Entry("R1")
	assert.False(t, held)
}

func TestAcquireRejectsSelfAndEmpty(t *testing.T) {
	m := New()
	ctx := context.Background()

	g, err := m.Acquire(ctx, "t", "R1")
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "t", "R1")
	assert.ErrorIs(t, err, ErrAcquireFailed, "a task waiting on itself would never wake")
	require.NoError(t, g.Release())

	_, err = m.Acquire(ctx, "t", "")
	assert.ErrorIs(t, err, ErrAcquireFailed)
}

func TestSharedModeWriterFairness(t *testing.T) {
	m := New()
	ctx := context.Background()

	r1, err := m.AcquireShared(ctx, "reader1", "R1")
	require.NoError(t, err)
	r2, err := m.AcquireShared(ctx, "reader2", "R1")
	require.NoError(t, err, "shared holders coexist")

	writerDone := make(chan struct{})
	var writerHeld atomic.Bool
	go func() {
		g, err := m.Acquire(ctx, "writer", "R1")
		assert.NoError(t, err)
		writerHeld.Store(true)
		time.Sleep(5 * time.Millisecond)
		writerHeld.Store(false)
		assert.NoError(t, g.Release())
		close(writerDone)
	}()
	waitQueued(t, m, "R1", 1)

	lateDone := make(chan bool)
	go func() {
		g, err := m.AcquireShared(ctx, "reader3", "R1")
		assert.NoError(t, err)
		lateDone <- writerHeld.Load()
		assert.NoError(t, g.Release())
	}()
	waitQueued(t, m, "R1", 2)

	info, _ := m.Entry("R1")
	assert.Len(t, info.Holders, 2)
	assert.Equal(t, ModeExclusive, info.Waiters[0].Mode)
	assert.Equal(t, ModeShared, info.Waiters[1].Mode)

	require.NoError(t, r1.Release())
	require.NoError(t, r2.Release())

	<-writerDone
	assert.False(t, <-lateDone, "late reader never overlaps the writer")
}

func TestSharedHeadGrantsConsecutiveReaders(t *testing.T) {
	m := New()
	ctx := context.Background()

	w, err := m.Acquire(ctx, "writer", "R1")
	require.NoError(t, err)

	var granted sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		granted.Add(1)
		go func(i int) {
			g, err := m.AcquireShared(ctx, TaskID(fmt.Sprintf("r%d", i)), "R1")
			assert.NoError(t, err)
			granted.Done()
			<-release
			assert.NoError(t, g.Release())
		}(i)
		waitQueued(t, m, "R1", i+1)
	}

	require.NoError(t, w.Release())
	granted.Wait()

	info, _ := m.Entry("R1")
	assert.Len(t, info.Holders, 3)
	close(release)
}

func TestStatsAndNewTaskID(t *testing.T) {
	m := New(WithShards(4))
	g, err := m.Acquire(context.Background(), NewTaskID(), "R1")
	require.NoError(t, err)

	s := m.Stats()
	assert.Equal(t, uint64(1), s.Acquired)
	assert.Equal(t, 1, s.Entries)
	require.NoError(t, g.Release())
	assert.Equal(t, 0, m.Stats().Entries)

	a, b := NewTaskID(), NewTaskID()
	assert.NotEqual(t, a, b)
	assert.Len(t, string(a), 36)
}
