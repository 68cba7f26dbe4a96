package hnsw

import "container/heap"

// Compile time check to ensure priorityQueue satisfies the heap interface.
var _ heap.Interface = (*priorityQueue)(nil)

// queueItem is one candidate in a priority queue, ordered by distance.
type queueItem struct {
	label    uint32
	distance float32
	index    int
}

// priorityQueue is a min-heap of candidates by distance, or a max-heap when
// descending is set (used to keep the ef-sized working set bounded).
type priorityQueue struct {
	descending bool
	items      []*queueItem
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	if pq.descending {
		return pq.items[i].distance > pq.items[j].distance
	}
	return pq.items[i].distance < pq.items[j].distance
}

func (pq *priorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].index, pq.items[j].index = i, j
}

func (pq *priorityQueue) Push(x any) {
	item, _ := x.(*queueItem)
	item.index = len(pq.items)
	pq.items = append(pq.items, item)
}

func (pq *priorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	if n == 0 {
		return nil
	}
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	pq.items = old[:n-1]
	return item
}

// top returns the root of the heap without removing it.
func (pq *priorityQueue) top() *queueItem {
	return pq.items[0]
}
