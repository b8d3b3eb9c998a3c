package lru

import (
	"container/heap"

	"github.com/driftdb-io/driftcache/internal/sequence"
)

// maxHeap is a max-heap of sequence numbers.
type maxHeap []sequence.Number

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) {
	*h = append(*h, x.(sequence.Number))
}

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// rollingBuffer keeps the smallest capacity sequence numbers offered to
// it. Duplicates are kept with their multiplicity, so tied stamps each
// take a slot.
//
// The buffer is a max-heap of at most capacity entries: while the buffer
// has room every offer is kept, and once full an offer only displaces the
// current maximum when it is smaller. Each offer is O(log capacity), so a
// full selection scan stays a single pass.
type rollingBuffer struct {
	capacity int
	heap     maxHeap
}

func newRollingBuffer(capacity int) *rollingBuffer {
	b := &rollingBuffer{capacity: capacity}
	if capacity > 0 {
		b.heap = make(maxHeap, 0, capacity)
	}
	return b
}

// Offer adds seq to the buffer, displacing the largest kept number when
// the buffer is full and seq is smaller.
func (b *rollingBuffer) Offer(seq sequence.Number) {
	if b.capacity <= 0 {
		return
	}
	if len(b.heap) < b.capacity {
		heap.Push(&b.heap, seq)
		return
	}
	if seq < b.heap[0] {
		b.heap[0] = seq
		heap.Fix(&b.heap, 0)
	}
}

// Max returns the largest kept number, which after a full scan is the nth
// smallest of everything offered. Returns sequence.Invalid when the buffer
// is empty, so using it as an inclusive upper bound selects nothing.
func (b *rollingBuffer) Max() sequence.Number {
	if len(b.heap) == 0 {
		return sequence.Invalid
	}
	return b.heap[0]
}

// Len returns the number of kept sequence numbers.
func (b *rollingBuffer) Len() int {
	return len(b.heap)
}
