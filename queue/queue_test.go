package queue

import (
	"container/heap"
	"testing"
)

func TestHeapOrdersByPriorityThenFIFO(t *testing.T) {
	h := &entryHeap{}
	heap.Init(h)

	heap.Push(h, &entry{jobID: "a", priority: 1, seq: 1})
	heap.Push(h, &entry{jobID: "b", priority: 5, seq: 2})
	heap.Push(h, &entry{jobID: "c", priority: 5, seq: 1})
	heap.Push(h, &entry{jobID: "d", priority: 0, seq: 3})

	var order []string
	for h.Len() > 0 {
		e := heap.Pop(h).(*entry)
		order = append(order, string(e.jobID))
	}

	want := []string{"c", "b", "a", "d"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order length: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: want %s, got %s (%v)", i, want[i], order[i], order)
		}
	}
}
