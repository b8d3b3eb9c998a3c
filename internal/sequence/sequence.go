// Package sequence defines listen sequence numbers and the process-wide
// clock that issues them.
//
// Sequence numbers are the cache's recency stamps: every target refresh and
// every document touch records the current value, and eviction later compares
// stamps instead of wall-clock times. Stamps only ever increase, so a smaller
// stamp always means "less recently used".
package sequence

import "sync/atomic"

// Number is a listen sequence number. Valid numbers start at 1;
// the zero value is Invalid and sorts before every issued number,
// so an upper bound of Invalid selects nothing.
type Number uint64

// Invalid is the zero sequence number. It is never issued by a Clock.
const Invalid Number = 0

// Clock issues monotonically increasing sequence numbers.
// It is safe for concurrent use.
type Clock struct {
	last atomic.Uint64
}

// NewClock creates a Clock that resumes after last.
// Pass the store's highest persisted sequence number on startup so
// stamps stay monotonic across restarts.
func NewClock(last Number) *Clock {
	c := &Clock{}
	c.last.Store(uint64(last))
	return c
}

// Next returns the next sequence number. The first call on a fresh
// clock returns 1.
func (c *Clock) Next() Number {
	return Number(c.last.Add(1))
}

// Last returns the most recently issued sequence number, or Invalid
// if none has been issued yet.
func (c *Clock) Last() Number {
	return Number(c.last.Load())
}
