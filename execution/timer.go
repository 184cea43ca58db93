package execution

import (
	"container/heap"
	"time"
)

// timerEntry pairs a deadline with the WorkItem to run once it passes.
type timerEntry struct {
	deadline time.Time
	item     WorkItem
}

// timerHeap is a min-heap keyed by deadline, popped exclusively by the
// pool's timer goroutine.
type timerHeap []timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)        { *h = append(*h, x.(timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	out := old[n-1]
	old[n-1] = timerEntry{}
	*h = old[:n-1]
	return out
}

var _ = heap.Interface(&timerHeap{})
