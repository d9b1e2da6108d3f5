package synch

import (
	"github.com/picokern/picokern/internal/task"
	"github.com/picokern/picokern/kernel"
)

// A Lock can be held by at most one thread at a time. It is a
// specialization of a semaphore with an initial value of 1, with two
// differences: only the thread that acquired the lock may release it, and
// acquiring a lock the caller already holds is fatal (locks are not
// recursive). When these restrictions prove onerous, that is a good sign a
// semaphore should be used instead.
//
// Locks donate priority: a thread that must wait for a held lock writes its
// own effective priority into the holder, bounding priority inversion in
// the direct, single-level case. The donation is a plain overwrite: a
// later acquirer replaces an earlier donor's value even when its priority
// is lower. Release clears the donation entirely instead of falling back
// to the next-highest outstanding donor. Chained and multi-donor
// scenarios are deliberately not covered.
type Lock struct {
	holder *task.Task
	sema   Semaphore
}

// Init prepares the lock for use. Must be called once before use.
func (l *Lock) Init(k *kernel.Kernel) {
	l.sema.Init(k, 1)
}

// Acquire takes the lock, sleeping until it becomes available. The lock
// must not already be held by the caller. Acquire may sleep, so it must not
// be called from an interrupt handler.
func (l *Lock) Acquire() {
	k := l.sema.k
	intr := k.Intr()
	if intr.In() {
		panic("synch: lock acquired from interrupt context")
	}
	if l.HeldByCurrent() {
		panic("synch: recursive lock acquisition")
	}

	old := intr.Disable()
	if l.holder != nil {
		// Donate to the holder so it is scheduled ahead of everything below
		// the acquirer's priority until it releases the lock.
		l.holder.Effective = k.Current().Priority()
	}
	intr.Restore(old)

	l.sema.Down()

	old = intr.Disable()
	l.holder = k.Current()
	intr.Restore(old)
}

// TryAcquire takes the lock only if it is immediately available and reports
// whether it did. It never sleeps and never donates (the caller does not
// wait, so there is no inversion to avoid), so it may be called from an
// interrupt handler.
func (l *Lock) TryAcquire() bool {
	k := l.sema.k
	if l.HeldByCurrent() {
		panic("synch: recursive lock acquisition")
	}
	if !l.sema.TryDown() {
		return false
	}
	intr := k.Intr()
	old := intr.Disable()
	l.holder = k.Current()
	intr.Restore(old)
	return true
}

// Release gives up the lock, which the caller must hold. Any outstanding
// priority donation to the holder is cleared.
func (l *Lock) Release() {
	if !l.HeldByCurrent() {
		panic("synch: lock released by a thread that does not hold it")
	}
	intr := l.sema.k.Intr()
	old := intr.Disable()
	l.holder.Effective = 0
	l.holder = nil
	intr.Restore(old)
	l.sema.Up()
}

// HeldByCurrent reports whether the calling thread holds the lock. Asking
// whether some other thread holds it would be racy, so that query does not
// exist.
func (l *Lock) HeldByCurrent() bool {
	intr := l.sema.k.Intr()
	old := intr.Disable()
	held := l.holder == l.sema.k.Current()
	intr.Restore(old)
	return held
}
