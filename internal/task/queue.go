package task

const asserts = false

// A Less function decides queue order: it reports whether a should be popped
// before b. It runs when a task is inserted, never afterwards; if a queued
// task's priority changes later, the queue is not re-sorted.
type Less func(a, b *Task) bool

// ByPriority orders tasks by descending effective priority. Equal priorities
// keep insertion order, so waiters of the same priority are served
// first-in-first-out.
func ByPriority(a, b *Task) bool {
	return a.Priority() > b.Priority()
}

// ByWakeTime orders tasks by ascending wake time, with ties kept in
// insertion order. Used for the sleep queue.
func ByWakeTime(a, b *Task) bool {
	return a.WakeTime < b.WakeTime
}

// An OrderedQueue is a queue of tasks kept sorted by a Less function.
// The zero value is not ready for use; call Init first.
// Callers serialize access by disabling interrupts around every operation.
type OrderedQueue struct {
	head *Task
	less Less
}

// Init sets the queue order. Must be called once before use.
func (q *OrderedQueue) Init(less Less) {
	q.less = less
}

// Push inserts t before the first queued task that t should be popped ahead
// of, keeping the queue sorted.
func (q *OrderedQueue) Push(t *Task) {
	if asserts && t.Next != nil {
		panic("task: pushing a task that is already in a queue")
	}
	p := &q.head
	for ; *p != nil; p = &(*p).Next {
		if q.less(t, *p) {
			break
		}
	}
	t.Next = *p
	*p = t
}

// Pop removes and returns the front task, or nil if the queue is empty.
func (q *OrderedQueue) Pop() *Task {
	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.Next
	t.Next = nil
	return t
}

// Peek returns the front task without removing it, or nil.
func (q *OrderedQueue) Peek() *Task {
	return q.head
}

// Empty checks if the queue is empty.
func (q *OrderedQueue) Empty() bool {
	return q.head == nil
}

// Len counts the queued tasks.
func (q *OrderedQueue) Len() int {
	n := 0
	for t := q.head; t != nil; t = t.Next {
		n++
	}
	return n
}
