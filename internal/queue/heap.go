package queue

import (
	"container/heap"
)

// entry is a pending task as seen by the heaps. It records its position in
// both the global heap and its target heap so it can be removed from either
// in O(log n).
type entry struct {
	rec       *QueuedTask
	seq       uint64
	globalIdx int
	targetIdx int
}

// before reports whether a should be dequeued before b: higher priority
// first, then earlier creation, then earlier admission.
func before(a, b *entry) bool {
	if a.rec.Task.Priority != b.rec.Task.Priority {
		return a.rec.Task.Priority > b.rec.Task.Priority
	}
	if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
		return a.rec.CreatedAt.Before(b.rec.CreatedAt)
	}
	return a.seq < b.seq
}

// taskHeap implements heap.Interface. global selects which index field of
// the entry it maintains.
type taskHeap struct {
	items  []*entry
	global bool
}

var _ heap.Interface = (*taskHeap)(nil)

func (h *taskHeap) Len() int           { return len(h.items) }
func (h *taskHeap) Less(i, j int) bool { return before(h.items[i], h.items[j]) }

func (h *taskHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.setIndex(i)
	h.setIndex(j)
}

func (h *taskHeap) Push(x any) {
	h.items = append(h.items, x.(*entry))
	h.setIndex(len(h.items) - 1)
}

func (h *taskHeap) Pop() any {
	n := len(h.items)
	e := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	if h.global {
		e.globalIdx = -1
	} else {
		e.targetIdx = -1
	}
	return e
}

func (h *taskHeap) setIndex(i int) {
	if h.global {
		h.items[i].globalIdx = i
	} else {
		h.items[i].targetIdx = i
	}
}

func (h *taskHeap) peek() *entry {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}
