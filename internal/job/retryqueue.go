package job

import (
	"container/heap"
	"time"
)

// delayQueue orders job ids by the time they become ready to run. It is not
// goroutine-safe; the orchestrator guards it with its own mutex.
type delayQueue struct {
	items delayHeap
}

type delayItem struct {
	jobID   string
	readyAt time.Time
}

func newDelayQueue() *delayQueue {
	q := &delayQueue{}
	heap.Init(&q.items)
	return q
}

func (q *delayQueue) Len() int { return q.items.Len() }

// Push schedules the job to become ready at readyAt.
func (q *delayQueue) Push(jobID string, readyAt time.Time) {
	heap.Push(&q.items, delayItem{jobID: jobID, readyAt: readyAt})
}

// PopReady removes and returns the earliest job whose ready time has passed.
func (q *delayQueue) PopReady(now time.Time) (string, bool) {
	if q.items.Len() == 0 {
		return "", false
	}
	if q.items[0].readyAt.After(now) {
		return "", false
	}
	it := heap.Pop(&q.items).(delayItem)
	return it.jobID, true
}

// NextReadyAt returns the earliest scheduled ready time.
func (q *delayQueue) NextReadyAt() (time.Time, bool) {
	if q.items.Len() == 0 {
		return time.Time{}, false
	}
	return q.items[0].readyAt, true
}

type delayHeap []delayItem

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h delayHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)         { *h = append(*h, x.(delayItem)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
