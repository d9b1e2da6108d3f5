// Package interrupt simulates the interrupt control of a single-CPU machine:
// a boolean interrupt level, a fixed vector table, and synchronous dispatch
// of raised interrupts. Disabling interrupts is the only mutual exclusion
// the kernel core has; every piece of shared kernel state is mutated inside
// a Disable/Restore window or from a handler (which always runs with
// interrupts off).
package interrupt

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is an interrupt level: On means the CPU accepts interrupts.
type State uint8

const (
	Off State = iota
	On
)

func (s State) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

// Handler is an interrupt handler. Handlers run in interrupt context: they
// must not block, and interrupts stay off for the whole dispatch.
type Handler func()

type vectorEntry struct {
	name string
	fn   Handler
}

// A Controller is the interrupt unit of one simulated CPU. Internally the
// interrupt level is a mutex: whichever context turned interrupts off owns
// the CPU until it turns them back on, and Raise waits its turn the way a
// masked interrupt line stays pending.
type Controller struct {
	mu       sync.Mutex // held while interrupts are off or a handler runs
	enabled  atomic.Bool
	handlers [256]vectorEntry

	// Goroutine a handler is being dispatched on, 0 outside dispatch.
	// Handler context cannot be inferred from the interrupt level alone:
	// the running thread keeps executing user code while a handler runs,
	// and must not mistake the handler's critical section for its own.
	dispatchGID atomic.Int64

	yieldOnReturn bool // guarded by mu
	onYield       func()

	wakeup chan struct{}
}

// New returns a controller with interrupts enabled and no handlers
// registered.
func New() *Controller {
	c := &Controller{wakeup: make(chan struct{}, 1)}
	c.enabled.Store(true)
	return c
}

// Disable turns interrupts off and returns the previous level. From handler
// context, or when the running thread already turned interrupts off, this is
// a no-op that returns Off.
func (c *Controller) Disable() State {
	if c.In() {
		return Off
	}
	if !c.enabled.Load() {
		return Off
	}
	c.mu.Lock()
	c.enabled.Store(false)
	return On
}

// Restore sets the interrupt level back to a value previously returned by
// Disable or Enable. Restoring to On delivers any yield request a handler
// left behind; this is the preemption point of the simulated CPU.
func (c *Controller) Restore(old State) {
	if old == Off {
		return
	}
	c.enable()
}

// Enable turns interrupts on and returns the previous level. Handlers must
// not enable interrupts.
func (c *Controller) Enable() State {
	if c.enabled.Load() {
		return On
	}
	c.enable()
	return Off
}

func (c *Controller) enable() {
	if c.In() {
		panic("interrupt: handler enabled interrupts")
	}
	if c.enabled.Load() {
		panic("interrupt: unbalanced interrupt enable")
	}
	resched := c.yieldOnReturn
	c.yieldOnReturn = false
	c.enabled.Store(true)
	c.mu.Unlock()
	if resched && c.onYield != nil {
		c.onYield()
	}
}

// Level returns the interrupt level as seen by the calling context.
func (c *Controller) Level() State {
	if c.In() || !c.enabled.Load() {
		return Off
	}
	return On
}

// In reports whether the calling goroutine is executing inside an interrupt
// handler.
func (c *Controller) In() bool {
	gid := c.dispatchGID.Load()
	return gid != 0 && gid == goid()
}

// YieldOnReturn requests that the interrupted thread yields the CPU as soon
// as the current handler returns. Only valid from handler context.
func (c *Controller) YieldOnReturn() {
	if !c.In() {
		panic("interrupt: YieldOnReturn outside interrupt context")
	}
	c.yieldOnReturn = true
}

// OnYield installs the function that delivers deferred yield requests. The
// scheduler registers its yield entry point here.
func (c *Controller) OnYield(fn func()) {
	c.onYield = fn
}

// Register installs a handler at a fixed vector. Registering a vector twice
// is fatal.
func (c *Controller) Register(vec uint8, name string, fn Handler) {
	if fn == nil {
		panic("interrupt: nil handler")
	}
	old := c.Disable()
	if c.handlers[vec].fn != nil {
		panic(fmt.Sprintf("interrupt: vector %#x registered twice (%s, %s)",
			vec, c.handlers[vec].name, name))
	}
	c.handlers[vec] = vectorEntry{name: name, fn: fn}
	c.Restore(old)
}

// Raise dispatches the handler registered at vec, as the hardware would on
// an asserted interrupt line. If interrupts are off, Raise blocks until they
// are turned back on, like a pending interrupt. The handler runs
// synchronously on the calling goroutine, in interrupt context.
//
// Raise must not be called with interrupts off: a CPU cannot take an
// interrupt it has masked, and a context that disabled interrupts would
// deadlock waiting for itself.
func (c *Controller) Raise(vec uint8) {
	if c.In() {
		panic("interrupt: nested Raise from a handler")
	}
	c.mu.Lock()
	h := c.handlers[vec]
	if h.fn == nil {
		c.mu.Unlock()
		panic(fmt.Sprintf("interrupt: unexpected interrupt %#x", vec))
	}
	c.dispatchGID.Store(goid())
	h.fn()
	c.dispatchGID.Store(0)
	c.mu.Unlock()

	// Wake a halted CPU, if one is waiting.
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
}

// Halt blocks until an interrupt has been dispatched. The idle thread parks
// here instead of spinning. Interrupts must be on, for the same reason a
// real hlt with interrupts masked never wakes.
func (c *Controller) Halt() {
	if c.Level() != On {
		panic("interrupt: halt with interrupts off")
	}
	<-c.wakeup
}
