// Package synch provides the kernel's synchronization primitives: counting
// semaphores, locks with priority donation, and Mesa-style condition
// variables.
//
// All three are caller-owned values initialized once with Init; the package
// never allocates or frees them. Misusing a primitive (downing a semaphore
// in an interrupt handler, releasing a lock the caller does not hold,
// recursive acquisition) is a kernel bug and panics immediately; the only
// recoverable failure in this package is TryDown/TryAcquire returning
// false.
package synch

import (
	"github.com/picokern/picokern/internal/task"
	"github.com/picokern/picokern/kernel"
)

// A Semaphore is a nonnegative counter with two atomic operations:
//
//   - Down or "P": wait for the value to become positive, then decrement it.
//   - Up or "V": increment the value and wake one waiting thread, if any.
//
// The waiters queue is ordered by effective priority, so Up always releases
// the highest-priority waiter, first-in-first-out among equals.
type Semaphore struct {
	k       *kernel.Kernel
	value   int
	waiters task.OrderedQueue
}

// Init sets the semaphore's initial value. Must be called once before use.
func (s *Semaphore) Init(k *kernel.Kernel, value int) {
	if value < 0 {
		panic("synch: semaphore initialized to a negative value")
	}
	s.k = k
	s.value = value
	s.waiters.Init(task.ByPriority)
}

// Down waits for the value to become positive, then atomically decrements
// it. Down may sleep, so it must not be called from an interrupt handler. It
// may be called with interrupts off; if it sleeps, the next scheduled thread
// will usually turn them back on.
func (s *Semaphore) Down() {
	intr := s.k.Intr()
	if intr.In() {
		panic("synch: semaphore Down from interrupt context")
	}
	old := intr.Disable()
	for s.value == 0 {
		s.waiters.Push(s.k.Current())
		s.k.Block()
	}
	s.value--
	intr.Restore(old)
}

// TryDown decrements the value and returns true only if the value is
// positive; otherwise it returns false without side effects. Safe to call
// from an interrupt handler.
func (s *Semaphore) TryDown() bool {
	intr := s.k.Intr()
	old := intr.Disable()
	ok := s.value > 0
	if ok {
		s.value--
	}
	intr.Restore(old)
	return ok
}

// Up increments the value and wakes the highest-priority waiting thread, if
// any. Safe to call from an interrupt handler. If a thread was woken, the
// caller gives up the rest of its quantum so that a higher-priority waiter
// can take the CPU right away; from a handler the yield is deferred to the
// interrupt's return.
func (s *Semaphore) Up() {
	intr := s.k.Intr()
	old := intr.Disable()
	var woken *task.Task
	if w := s.waiters.Pop(); w != nil {
		woken = w
		s.k.Unblock(w)
	}
	s.value++
	intr.Restore(old)
	if woken != nil {
		if intr.In() {
			intr.YieldOnReturn()
		} else {
			s.k.Yield()
		}
	}
}

// Value returns the current value of the semaphore.
func (s *Semaphore) Value() int {
	intr := s.k.Intr()
	old := intr.Disable()
	v := s.value
	intr.Restore(old)
	return v
}

// Waiters returns the number of threads blocked on the semaphore.
func (s *Semaphore) Waiters() int {
	intr := s.k.Intr()
	old := intr.Disable()
	n := s.waiters.Len()
	intr.Restore(old)
	return n
}
