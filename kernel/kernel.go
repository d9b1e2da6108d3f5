// Package kernel implements the thread scheduler of a simulated single-core
// preemptive kernel. Kernel threads are goroutines that take turns on the
// one simulated CPU: exactly one thread runs at a time, context switches are
// a direct hand-off, and the periodic timer interrupt drives preemption.
//
// All scheduler state is protected by disabling interrupts. There is no
// separate lock: the synchronization primitives in package synch are built
// on this scheduler, so locking the scheduler with one of them would be
// circular.
package kernel

import (
	"fmt"

	"github.com/picokern/picokern/internal/task"
	"github.com/picokern/picokern/interrupt"
)

// A Kernel is one simulated machine: an interrupt controller, a ready queue
// ordered by effective priority, and the bookkeeping the tick handler needs.
type Kernel struct {
	cfg  Config
	intr *interrupt.Controller

	ready   task.OrderedQueue
	current *task.Task
	idle    *task.Task

	// Tick statistics, updated from the timer interrupt.
	idleTicks   int64
	kernelTicks int64
	sliceTicks  int64

	stopping bool
	stopper  *task.Task
}

// New returns a kernel for the given configuration. Invalid configuration is
// fatal; machine descriptions are validated before they get here.
func New(cfg Config) *Kernel {
	cfg.setDefaults()
	cfg.check()
	k := &Kernel{cfg: cfg, intr: interrupt.New()}
	k.ready.Init(task.ByPriority)
	k.intr.OnYield(k.Yield)
	return k
}

// Intr returns the machine's interrupt controller.
func (k *Kernel) Intr() *interrupt.Controller {
	return k.intr
}

// Config returns the configuration the kernel was booted with.
func (k *Kernel) Config() Config {
	return k.cfg
}

// Start adopts the calling goroutine as the main kernel thread and spawns
// the idle thread. It must be called exactly once, before any other kernel
// operation.
func (k *Kernel) Start() {
	if k.current != nil {
		panic("kernel: started twice")
	}
	main := task.New("main", k.cfg.DefaultPriority)
	main.State = task.StateRunning
	k.current = main
	k.idle = task.New("idle", PriorityMin)
	k.idle.State = task.StateBlocked
	go k.idleLoop()
	k.tracef("start: main thread prio %d", main.Base)
}

// Current returns the running thread. From handler context this is the
// thread the interrupt preempted.
func (k *Kernel) Current() *task.Task {
	return k.current
}

// Go creates a new kernel thread running fn and makes it ready. If the new
// thread has a higher priority than the caller, the caller yields so it can
// run immediately. The thread exits when fn returns.
func (k *Kernel) Go(name string, priority int, fn func()) *task.Task {
	if k.intr.In() {
		panic("kernel: thread created from interrupt context")
	}
	if k.current == nil {
		panic("kernel: Go before Start")
	}
	if priority < PriorityMin || priority > PriorityMax {
		panic(fmt.Sprintf("kernel: priority %d out of range", priority))
	}
	t := task.New(name, priority)
	go k.taskEntry(t, fn)
	old := k.intr.Disable()
	t.State = task.StateReady
	k.ready.Push(t)
	k.tracef("new thread %s prio %d", name, priority)
	k.intr.Restore(old)
	if t.Priority() > k.current.Priority() {
		k.Yield()
	}
	return t
}

func (k *Kernel) taskEntry(t *task.Task, fn func()) {
	t.Pause()
	// The switch that scheduled this thread for the first time left
	// interrupts off.
	k.intr.Enable()
	fn()
	k.exit()
}

// exit retires the current thread and schedules the next one. Never returns.
func (k *Kernel) exit() {
	k.intr.Disable()
	cur := k.current
	cur.State = task.StateExited
	k.tracef("exit %s", cur.Name)
	next := k.nextToRun()
	k.current = next
	next.State = task.StateRunning
	k.sliceTicks = 0
	// The CPU stays "interrupts off" until next runs its pending restore;
	// this goroutine simply ends.
	next.Resume()
}

// Block suspends the current thread until another context calls Unblock on
// it. Interrupts must be off: the caller has just queued itself on whatever
// it is waiting for, and enabling interrupts before the switch could let the
// wakeup race ahead of the sleep. Returns with interrupts still off.
func (k *Kernel) Block() {
	if k.intr.In() {
		panic("kernel: blocked from interrupt context")
	}
	if k.intr.Level() != interrupt.Off {
		panic("kernel: blocked with interrupts enabled")
	}
	cur := k.current
	cur.State = task.StateBlocked
	k.switchTo(k.nextToRun())
}

// Unblock makes t runnable. It never switches threads, so it is safe from
// interrupt context; the woken thread runs when the scheduler next picks it.
// Unblocking a thread that is not blocked is fatal.
func (k *Kernel) Unblock(t *task.Task) {
	old := k.intr.Disable()
	if t.State != task.StateBlocked {
		panic(fmt.Sprintf("kernel: unblock of %s thread %s", t.State, t.Name))
	}
	t.State = task.StateReady
	k.ready.Push(t)
	k.intr.Restore(old)
}

// Yield gives up the rest of the quantum. The highest-priority ready thread
// runs next; among equal priorities the CPU rotates round-robin.
func (k *Kernel) Yield() {
	if k.intr.In() {
		panic("kernel: yield from interrupt context")
	}
	old := k.intr.Disable()
	cur := k.current
	if cur != k.idle {
		cur.State = task.StateReady
		k.ready.Push(cur)
	}
	next := k.nextToRun()
	if next != cur {
		k.switchTo(next)
	} else {
		cur.State = task.StateRunning
	}
	k.intr.Restore(old)
}

// Tick runs the per-tick scheduler bookkeeping: statistics and quantum
// accounting. The timer handler calls it once per tick.
func (k *Kernel) Tick() {
	if !k.intr.In() {
		panic("kernel: Tick outside interrupt context")
	}
	if k.current == k.idle {
		k.idleTicks++
	} else {
		k.kernelTicks++
	}
	k.sliceTicks++
	if k.sliceTicks >= int64(k.cfg.TimeSlice) {
		k.intr.YieldOnReturn()
	}
}

// IdleTicks returns the number of ticks spent in the idle thread.
func (k *Kernel) IdleTicks() int64 {
	old := k.intr.Disable()
	n := k.idleTicks
	k.intr.Restore(old)
	return n
}

// KernelTicks returns the number of ticks spent in kernel threads.
func (k *Kernel) KernelTicks() int64 {
	old := k.intr.Disable()
	n := k.kernelTicks
	k.intr.Restore(old)
	return n
}

// Shutdown retires the idle thread. Every other kernel thread must have
// exited first; shutting down with live threads is a bug.
func (k *Kernel) Shutdown() {
	if k.intr.In() {
		panic("kernel: shutdown from interrupt context")
	}
	cur := k.current
	if cur == k.idle {
		panic("kernel: shutdown from the idle thread")
	}
	old := k.intr.Disable()
	if !k.ready.Empty() {
		panic("kernel: shutdown with runnable threads")
	}
	k.stopping = true
	k.stopper = cur
	cur.State = task.StateBlocked
	k.switchTo(k.idle)
	k.intr.Restore(old)
	k.tracef("shutdown")
}

// switchTo hands the CPU to next and parks the calling thread. Interrupts
// must be off; they stay off across the switch, and the thread resumes here,
// still with interrupts off, when it is scheduled again.
func (k *Kernel) switchTo(next *task.Task) {
	prev := k.current
	k.current = next
	next.State = task.StateRunning
	k.sliceTicks = 0
	k.tracef("switch %s -> %s", prev.Name, next.Name)
	next.Resume()
	prev.Pause()
}

// nextToRun pops the highest-priority ready thread, or the idle thread.
func (k *Kernel) nextToRun() *task.Task {
	if t := k.ready.Pop(); t != nil {
		return t
	}
	return k.idle
}

func (k *Kernel) idleLoop() {
	t := k.idle
	t.Pause()
	// First scheduling leaves interrupts off; idle runs with them on.
	k.intr.Enable()
	for !k.stopping {
		k.intr.Halt()
		k.Yield()
	}
	// Hand the CPU back to the thread that requested shutdown.
	k.intr.Disable()
	t.State = task.StateExited
	stopper := k.stopper
	k.current = stopper
	stopper.State = task.StateRunning
	k.sliceTicks = 0
	stopper.Resume()
}

// Simple scheduler trace, for debugging.
func (k *Kernel) tracef(format string, args ...any) {
	if k.cfg.Trace != nil {
		fmt.Fprintf(k.cfg.Trace, "--- "+format+"\n", args...)
	}
}
