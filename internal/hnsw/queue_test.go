package hnsw

import (
	"container/heap"
	"testing"
)

var distances = []float32{0.4, 9, 0.001, 0.0534, 0.234, 2.03, 2.042, 2.532, 1.0009, 0.329}

func TestPriorityQueue_MinOrder(t *testing.T) {
	pq := &priorityQueue{}
	heap.Init(pq)
	for i, d := range distances {
		heap.Push(pq, &queueItem{label: uint32(i), distance: d})
	}
	prev := float32(-1)
	for pq.Len() > 0 {
		item, _ := heap.Pop(pq).(*queueItem)
		if item.distance < prev {
			t.Fatalf("min-heap out of order: %f after %f", item.distance, prev)
		}
		prev = item.distance
	}
}

func TestPriorityQueue_MaxOrder(t *testing.T) {
	pq := &priorityQueue{descending: true}
	heap.Init(pq)
	for i, d := range distances {
		heap.Push(pq, &queueItem{label: uint32(i), distance: d})
	}
	if pq.top().distance != 9 {
		t.Errorf("top of max-heap = %f, want 9", pq.top().distance)
	}
	prev := float32(100)
	for pq.Len() > 0 {
		item, _ := heap.Pop(pq).(*queueItem)
		if item.distance > prev {
			t.Fatalf("max-heap out of order: %f after %f", item.distance, prev)
		}
		prev = item.distance
	}
}
