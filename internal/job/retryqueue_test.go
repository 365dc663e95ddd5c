package job

import (
	"testing"
	"time"
)

func TestDelayQueueOrdersByReadyTime(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	q := newDelayQueue()
	q.Push("late", now.Add(time.Minute))
	q.Push("early", now.Add(time.Second))
	q.Push("mid", now.Add(30*time.Second))

	var got []string
	for {
		id, ok := q.PopReady(now.Add(2 * time.Minute))
		if !ok {
			break
		}
		got = append(got, id)
	}
	want := []string{"early", "mid", "late"}
	if len(got) != len(want) {
		t.Fatalf("popped %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("popped %v, want %v", got, want)
		}
	}
}

func TestDelayQueueHoldsFutureItems(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	q := newDelayQueue()
	q.Push("future", now.Add(time.Minute))

	if id, ok := q.PopReady(now); ok {
		t.Fatalf("popped %q before its ready time", id)
	}
	at, ok := q.NextReadyAt()
	if !ok || !at.Equal(now.Add(time.Minute)) {
		t.Fatalf("NextReadyAt = %v, %v", at, ok)
	}
	if _, ok := q.PopReady(now.Add(time.Minute)); !ok {
		t.Fatal("item must be ready at its scheduled time")
	}
	if q.Len() != 0 {
		t.Fatalf("queue length = %d after drain", q.Len())
	}
}
