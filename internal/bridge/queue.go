package bridge

import (
	"sync"
)

// Queue is a thread-safe fixed-capacity ring buffer. Pushing into a full
// queue overwrites the oldest item.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int

	// Stats
	totalReceived int64
	totalSent     int64
	dropped       int64
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item. Returns true if the oldest item was dropped to make room.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if q.count == q.capacity {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.dropped++
		dropped = true
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.totalReceived++

	return dropped
}

// Poll removes up to limit of the oldest items and reports whether more
// remain. A non-positive limit drains the queue.
func (q *Queue[T]) Poll(limit int) ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	if limit > 0 && limit < n {
		n = limit
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = q.buf[q.head]
		var zero T
		q.buf[q.head] = zero // Clear reference for GC
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.totalSent++
	}

	return result, q.count > 0
}

// Clear discards every queued item.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head, q.tail, q.count = 0, 0, 0
	return n
}

// Len returns the current number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:         q.count,
		Capacity:      q.capacity,
		TotalReceived: q.totalReceived,
		TotalSent:     q.totalSent,
		Dropped:       q.dropped,
	}
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count         int   `json:"count"`
	Capacity      int   `json:"capacity"`
	TotalReceived int64 `json:"totalReceived"`
	TotalSent     int64 `json:"totalSent"`
	Dropped       int64 `json:"dropped"`
}
