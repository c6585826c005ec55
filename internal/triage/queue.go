package triage

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// ErrInvalidAlert is returned by Enqueue for an alert without a defined priority.
var ErrInvalidAlert = xerrors.New("alert priority is undefined")

// QueueHooks are optional callbacks invoked outside the queue lock.
type QueueHooks struct {
	OnEnqueue  func(a *Alert)
	OnDispatch func(d *Dispatch)
}

// Queue is the shared alert holding area. Pop order is priority ascending
// (CRITICAL first), then CreatedAt ascending, then admission order.
// Producers and the dispatching consumer may call it concurrently; nothing
// blocks waiting for alerts.
type Queue struct {
	mu    sync.Mutex
	items alertHeap
	seq   uint64

	now   func() time.Time
	hooks QueueHooks

	processed atomic.Uint64
	breaches  [vitals.Low + 1]atomic.Uint64 // indexed by priority
}

// NewQueue creates an empty queue. A nil clock defaults to time.Now.
func NewQueue(now func() time.Time, hooks QueueHooks) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{now: now, hooks: hooks}
}

// Enqueue admits an alert in O(log n). A zero CreatedAt is stamped with the
// queue clock and a CreatedAt in the future is clamped to now.
func (q *Queue) Enqueue(a Alert) error {
	if !a.Priority.Valid() {
		return ErrInvalidAlert
	}
	now := q.now()
	if a.CreatedAt.IsZero() || a.CreatedAt.After(now) {
		a.CreatedAt = now
	}

	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &queued{alert: a, seq: q.seq})
	q.mu.Unlock()

	if q.hooks.OnEnqueue != nil {
		q.hooks.OnEnqueue(&a)
	}
	return nil
}

// DequeueNext removes the most urgent alert. ok is false when the queue is
// empty; that is a normal result, not an error.
func (q *Queue) DequeueNext() (d Dispatch, ok bool) {
	q.mu.Lock()
	if q.items.Len() == 0 {
		q.mu.Unlock()
		return Dispatch{}, false
	}
	item := heap.Pop(&q.items).(*queued)
	q.mu.Unlock()

	d = q.dispatch(item.alert)
	return d, true
}

// DrainAll dequeues until empty and returns the dispatches in pop order.
func (q *Queue) DrainAll() []Dispatch {
	var out []Dispatch
	for {
		d, ok := q.DequeueNext()
		if !ok {
			return out
		}
		out = append(out, d)
	}
}

// Len returns the number of queued alerts.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Processed returns the number of alerts dequeued so far.
func (q *Queue) Processed() uint64 {
	return q.processed.Load()
}

// Breaches returns SLA breach counts per priority.
func (q *Queue) Breaches() map[vitals.Priority]uint64 {
	out := make(map[vitals.Priority]uint64, len(vitals.Priorities))
	for _, p := range vitals.Priorities {
		out[p] = q.breaches[p].Load()
	}
	return out
}

func (q *Queue) dispatch(a Alert) Dispatch {
	now := q.now()
	elapsed := now.Sub(a.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	d := Dispatch{
		Alert:        a,
		DispatchedAt: now,
		Elapsed:      elapsed,
		WithinSLA:    elapsed <= a.Priority.SLA(),
	}

	q.processed.Add(1)
	if !d.WithinSLA {
		q.breaches[a.Priority].Add(1)
	}
	if q.hooks.OnDispatch != nil {
		q.hooks.OnDispatch(&d)
	}
	return d
}

type queued struct {
	alert Alert
	seq   uint64
}

// alertHeap implements heap.Interface over the queue's total order.
type alertHeap []*queued

func (h alertHeap) Len() int { return len(h) }

func (h alertHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.alert.Priority != b.alert.Priority {
		return a.alert.Priority < b.alert.Priority
	}
	if !a.alert.CreatedAt.Equal(b.alert.CreatedAt) {
		return a.alert.CreatedAt.Before(b.alert.CreatedAt)
	}
	return a.seq < b.seq
}

func (h alertHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *alertHeap) Push(x any) { *h = append(*h, x.(*queued)) }

func (h *alertHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
