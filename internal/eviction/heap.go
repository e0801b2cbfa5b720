package eviction

// timeHeap is a min-heap of visit timestamps (as UnixNano), implementing
// container/heap.Interface. It may hold duplicate values: each visit_once
// call pushes exactly one entry, so two paths visited at the same instant
// contribute two equal heap entries.
type timeHeap []int64

func (h timeHeap) Len() int            { return len(h) }
func (h timeHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h timeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }

func (h *timeHeap) Push(x any) {
	*h = append(*h, x.(int64))
}

func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]

	return v
}
