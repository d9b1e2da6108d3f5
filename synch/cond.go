package synch

import "github.com/picokern/picokern/kernel"

// A Cond lets one piece of code signal a condition and cooperating code
// wait for it, always in association with a lock. The monitor is "Mesa"
// style, not "Hoare" style: sending and receiving a signal are not atomic,
// so a waiter must re-check its condition after Wait returns and, if
// necessary, wait again.
//
// A given condition variable belongs to a single lock, but one lock may
// have any number of condition variables; the association is by convention
// at the call sites, never enforced structurally.
type Cond struct {
	k       *kernel.Kernel
	waiters *condWaiter
}

// Each waiter parks on its own one-shot semaphore, used for exactly one
// wait/signal round trip. The waiter's priority is snapshotted at enqueue
// time and never re-evaluated, even if donation changes the thread's
// priority while it waits.
type condWaiter struct {
	sema     Semaphore
	priority int
	next     *condWaiter
}

// Init prepares the condition variable for use. Must be called once before
// use.
func (c *Cond) Init(k *kernel.Kernel) {
	c.k = k
}

// Wait atomically releases l and waits for c to be signaled; after the
// signal, it re-acquires l before returning. The caller must hold l. Wait
// may sleep, so it must not be called from an interrupt handler.
//
// The waiter list is only ever touched with l held, so the lock itself
// protects it.
func (c *Cond) Wait(l *Lock) {
	if c.k.Intr().In() {
		panic("synch: condition wait from interrupt context")
	}
	if !l.HeldByCurrent() {
		panic("synch: condition wait without holding the lock")
	}

	var w condWaiter
	w.sema.Init(c.k, 0)
	w.priority = c.k.Current().Priority()

	// Insert ordered by the snapshotted priority, first-in-first-out among
	// equals, so Signal wakes the highest-priority waiter.
	p := &c.waiters
	for ; *p != nil; p = &(*p).next {
		if w.priority > (*p).priority {
			break
		}
	}
	w.next = *p
	*p = &w

	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal wakes one thread waiting on c, if any. The caller must hold l.
func (c *Cond) Signal(l *Lock) {
	if c.k.Intr().In() {
		panic("synch: condition signal from interrupt context")
	}
	if !l.HeldByCurrent() {
		panic("synch: condition signal without holding the lock")
	}
	if w := c.waiters; w != nil {
		c.waiters = w.next
		w.next = nil
		w.sema.Up()
	}
}

// Broadcast wakes all threads waiting on c. The caller must hold l, even
// when nobody is waiting.
func (c *Cond) Broadcast(l *Lock) {
	if c.k.Intr().In() {
		panic("synch: condition broadcast from interrupt context")
	}
	if !l.HeldByCurrent() {
		panic("synch: condition broadcast without holding the lock")
	}
	for c.waiters != nil {
		c.Signal(l)
	}
}
