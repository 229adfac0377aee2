// Package queue implements a container/heap-compatible dual-order
// priority queue, adapted from the teacher's queue package: the same
// Items-slice-plus-Order-flag shape, but keyed on the HNSW stable total
// order (distance, then id) instead of distance alone, so ties break
// deterministically regardless of heap internals.
package queue

import "container/heap"

// Item is a single entry in the queue: a graph node id and its distance
// to whatever query the queue was seeded for.
type Item struct {
	ID       uint32
	Distance float64
	index    int // maintained by heap.Interface, unused by callers
}

// Compare implements the HNSW stable total order: ascending distance,
// ties broken by ascending id. A negative result means a sorts before b.
func Compare(a, b Item) int {
	if a.Distance < b.Distance {
		return -1
	}
	if a.Distance > b.Distance {
		return 1
	}
	if a.ID < b.ID {
		return -1
	}
	if a.ID > b.ID {
		return 1
	}
	return 0
}

// Queue implements heap.Interface. When Max is false it is a min-heap
// over the stable total order (used for the beam search candidate
// frontier); when Max is true it is a max-heap over the same order (used
// for the bounded result set).
type Queue struct {
	Max   bool
	Items []Item
}

var _ heap.Interface = (*Queue)(nil)

func (q *Queue) Len() int { return len(q.Items) }

func (q *Queue) Less(i, j int) bool {
	c := Compare(q.Items[i], q.Items[j])
	if q.Max {
		return c > 0
	}
	return c < 0
}

func (q *Queue) Swap(i, j int) {
	q.Items[i], q.Items[j] = q.Items[j], q.Items[i]
	q.Items[i].index = i
	q.Items[j].index = j
}

func (q *Queue) Push(x any) {
	item := x.(Item)
	item.index = len(q.Items)
	q.Items = append(q.Items, item)
}

func (q *Queue) Pop() any {
	old := q.Items
	n := len(old)
	item := old[n-1]
	q.Items = old[:n-1]
	return item
}

// Top returns the root of the heap without removing it. The queue must
// be non-empty.
func (q *Queue) Top() Item {
	return q.Items[0]
}

// Reset empties the queue for reuse, keeping its backing array.
func (q *Queue) Reset(max bool) {
	q.Max = max
	q.Items = q.Items[:0]
}
