package sink

import (
	"container/heap"
	"context"
	"slices"
)

// TopK keeps the k most similar pairs. Ties prefer smaller ids so the result
// does not depend on emit order.
type TopK struct {
	k int
	h pairHeap
}

func NewTopK(k int) *TopK {
	return &TopK{k: k, h: make(pairHeap, 0, k+1)}
}

func (t *TopK) Emit(_ context.Context, p Pair) error {
	if t.k <= 0 {
		return nil
	}
	heap.Push(&t.h, p)
	if t.h.Len() > t.k {
		heap.Pop(&t.h)
	}
	return nil
}

func (t *TopK) Close(context.Context) error { return nil }

// Pairs returns the kept pairs, most similar first.
func (t *TopK) Pairs() []Pair {
	out := slices.Clone([]Pair(t.h))
	slices.SortFunc(out, func(a, b Pair) int {
		if worse(a, b) {
			return 1
		}
		if worse(b, a) {
			return -1
		}
		return 0
	})
	return out
}

// worse orders pairs for eviction: lower similarity first, then larger ids.
func worse(a, b Pair) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity < b.Similarity
	}
	if a.Probe != b.Probe {
		return a.Probe > b.Probe
	}
	return a.Indexed > b.Indexed
}

// pairHeap is a min-heap on worse, so the root is the next pair to evict.
type pairHeap []Pair

func (h pairHeap) Len() int { return len(h) }

func (h pairHeap) Less(i, j int) bool { return worse(h[i], h[j]) }

func (h pairHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pairHeap) Push(x any) {
	*h = append(*h, x.(Pair))
}

func (h *pairHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
