package service

import (
	"container/heap"
	"sync"
	"time"
)

// ExpiryKind tells the sweeper which record a deadline belongs to.
type ExpiryKind int

const (
	ExpireLock ExpiryKind = iota
	ExpireBooking
)

type expiryItem struct {
	kind ExpiryKind
	id   string
	at   time.Time
}

type expiryHeap []expiryItem

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiryItem)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// ExpiryQueue is an in-process min-heap of lock and booking deadlines.  It
// lets the sweeper wake exactly when the earliest deadline passes instead
// of waiting for its next poll.  Entries are hints: the sweeper re-checks
// the record before acting, and the poll covers entries lost on restart.
type ExpiryQueue struct {
	mu    sync.Mutex
	items expiryHeap
	wake  chan struct{}
}

// NewExpiryQueue returns an empty queue.
func NewExpiryQueue() *ExpiryQueue {
	return &ExpiryQueue{wake: make(chan struct{}, 1)}
}

// ScheduleLock registers a lock deadline.
func (q *ExpiryQueue) ScheduleLock(lockID string, at time.Time) { q.push(ExpireLock, lockID, at) }

// ScheduleBooking registers a booking payment deadline.
func (q *ExpiryQueue) ScheduleBooking(bookingID string, at time.Time) {
	q.push(ExpireBooking, bookingID, at)
}

func (q *ExpiryQueue) push(kind ExpiryKind, id string, at time.Time) {
	if q == nil {
		return
	}
	q.mu.Lock()
	heap.Push(&q.items, expiryItem{kind: kind, id: id, at: at})
	earliest := q.items[0].id == id
	q.mu.Unlock()
	if earliest {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// Wake fires when a new earliest deadline is scheduled.
func (q *ExpiryQueue) Wake() <-chan struct{} { return q.wake }

// Next returns the earliest pending deadline.
func (q *ExpiryQueue) Next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].at, true
}

// Len reports the number of pending deadlines.
func (q *ExpiryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// popDue removes and returns every entry due at or before now.
func (q *ExpiryQueue) popDue(now time.Time) []expiryItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []expiryItem
	for len(q.items) > 0 && !q.items[0].at.After(now) {
		due = append(due, heap.Pop(&q.items).(expiryItem))
	}
	return due
}
