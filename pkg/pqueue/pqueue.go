// Package pqueue provides a sorted double-ended queue ordered by a comparator.
//
// The queue is tuned for workloads where most inserts arrive in order (append
// at the tail in O(1)) and removals happen from the head. Out-of-order inserts
// fall back to a binary search plus a shift. Consumed head slots are reclaimed
// once they make up most of the backing slice.
//
// A Queue is not safe for concurrent use and must not be mutated while a
// snapshot taken from it is being walked by index.
package pqueue

// compactThreshold is the number of consumed head slots tolerated before the
// backing slice is compacted
const compactThreshold = 1024

// Queue is an ordered queue of T
type Queue[T any] struct {
	items []T
	head  int
	cmp   func(a, b T) int
}

// New creates a queue ordered by cmp, which returns a negative number when a
// sorts before b, zero when they are equal and a positive number otherwise
func New[T any](cmp func(a, b T) int) *Queue[T] {
	return &Queue[T]{cmp: cmp}
}

// Enqueue inserts item keeping the queue sorted. Items equal to existing
// entries are placed after them.
func (q *Queue[T]) Enqueue(item T) {
	if q.Empty() || q.cmp(item, q.items[len(q.items)-1]) >= 0 {
		q.items = append(q.items, item)
		return
	}

	idx := q.head + q.Search(item)
	var zero T
	q.items = append(q.items, zero)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = item
}

// Search returns the position, relative to the head, at which item would be
// inserted. Ties resolve to the position after all equal elements.
func (q *Queue[T]) Search(item T) int {
	low := q.head
	high := len(q.items) - 1

	for low <= high {
		mid := low + (high-low)/2
		if q.cmp(item, q.items[mid]) < 0 {
			high = mid - 1
		} else {
			low = mid + 1
		}
	}

	return low - q.head
}

// Dequeue removes and returns the smallest item
func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if q.Empty() {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	if q.head > len(q.items)-1 {
		q.Clear()
	} else if q.head > compactThreshold && q.head > len(q.items)/2 {
		q.compact()
	}

	return item, true
}

// Peek returns the smallest item without removing it
func (q *Queue[T]) Peek() (T, bool) {
	if q.Empty() {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Get returns the item at position i relative to the head
func (q *Queue[T]) Get(i int) (T, bool) {
	if i < 0 || i >= q.Len() {
		var zero T
		return zero, false
	}
	return q.items[q.head+i], true
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}

// Empty reports whether the queue holds no items
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Clear drops every item
func (q *Queue[T]) Clear() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}

// ToSlice returns a copy of the queued items in order
func (q *Queue[T]) ToSlice() []T {
	out := make([]T, q.Len())
	copy(out, q.items[q.head:])
	return out
}

func (q *Queue[T]) compact() {
	live := make([]T, len(q.items)-q.head, cap(q.items)-q.head)
	copy(live, q.items[q.head:])
	q.items = live
	q.head = 0
}
