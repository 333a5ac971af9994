package execlog

import "sync/atomic"

// Clock hands out the log's global sequence numbers.
//
// Records are ordered by seq, never by wall-clock time, so a replay sees
// exactly the order the executor committed.
//
// Clock is safe for concurrent use, though Log only advances it while
// holding its own mutex so seq order matches append order.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt resumes a clock after start. Used when reopening a persisted
// log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
