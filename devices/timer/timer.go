// Package timer keeps the kernel's time. A periodic interrupt at
// Vector advances the tick counter, runs the scheduler's per-tick
// bookkeeping, and wakes sleeping threads whose time has come. Delays
// shorter than one tick are served by a calibrated busy-wait loop instead
// of the sleep queue.
package timer

import (
	"fmt"
	"io"
	"runtime"

	"github.com/picokern/picokern/internal/task"
	"github.com/picokern/picokern/interrupt"
	"github.com/picokern/picokern/kernel"
)

// Vector is the interrupt vector the timer handler is registered at.
const Vector = 0x20

// Tick frequency limits of the 8254 timer chip this driver models: below 19
// Hz the divisor overflows, above 1000 Hz ticks are too short to do useful
// work in.
const (
	MinFrequency = 19
	MaxFrequency = 1000
)

// A Timer owns the tick counter and the global sleep queue. Create exactly
// one per kernel.
type Timer struct {
	k *kernel.Kernel

	// Ticks since boot and the threads sleeping until a given tick, both
	// mutated only with interrupts off.
	ticks    int64
	sleepers task.OrderedQueue

	// Busy-wait loops per tick, measured by Calibrate.
	loopsPerTick uint64
}

// New registers the timer's interrupt handler and returns the timer. The
// kernel's configured tick frequency must be within the chip's limits.
func New(k *kernel.Kernel) *Timer {
	if hz := k.Config().TickFrequency; hz < MinFrequency || hz > MaxFrequency {
		panic(fmt.Sprintf("timer: tick frequency %d out of range [%d, %d]",
			hz, MinFrequency, MaxFrequency))
	}
	t := &Timer{k: k}
	t.sleepers.Init(task.ByWakeTime)
	k.Intr().Register(Vector, "8254 Timer", t.interrupt)
	return t
}

// Ticks returns the number of timer ticks since boot.
func (t *Timer) Ticks() int64 {
	intr := t.k.Intr()
	old := intr.Disable()
	n := t.ticks
	intr.Restore(old)
	return n
}

// Elapsed returns the number of ticks since then, which should be a value
// once returned by Ticks.
func (t *Timer) Elapsed(then int64) int64 {
	return t.Ticks() - then
}

// Sleep suspends the calling thread for approximately n ticks. It returns
// immediately for n <= 0. The enqueue and the block happen in one
// interrupts-off section so the next tick cannot slip between them and wake
// the thread before it sleeps. There is no way to cancel a sleep.
func (t *Timer) Sleep(n int64) {
	if n <= 0 {
		return
	}
	intr := t.k.Intr()
	if intr.In() {
		panic("timer: sleep from interrupt context")
	}
	old := intr.Disable()
	cur := t.k.Current()
	cur.WakeTime = t.ticks + n
	t.sleepers.Push(cur)
	t.k.Block()
	intr.Restore(old)
}

// Sleeping returns the number of threads in the sleep queue.
func (t *Timer) Sleeping() int {
	intr := t.k.Intr()
	old := intr.Disable()
	n := t.sleepers.Len()
	intr.Restore(old)
	return n
}

// Timer interrupt handler. The sleep queue is sorted by wake time, so each
// tick only inspects the prefix that is due: O(k) for k threads waking this
// tick, not O(n) over all sleepers.
func (t *Timer) interrupt() {
	t.ticks++
	t.k.Tick()
	for {
		head := t.sleepers.Peek()
		if head == nil || head.WakeTime > t.ticks {
			break
		}
		t.sleepers.Pop()
		t.k.Unblock(head)
	}
}

// Msleep suspends the calling thread for approximately ms milliseconds.
// Interrupts must be on.
func (t *Timer) Msleep(ms int64) {
	t.realTimeSleep(ms, 1000)
}

// Usleep suspends the calling thread for approximately us microseconds.
// Interrupts must be on.
func (t *Timer) Usleep(us int64) {
	t.realTimeSleep(us, 1000*1000)
}

// Nsleep suspends the calling thread for approximately ns nanoseconds.
// Interrupts must be on.
func (t *Timer) Nsleep(ns int64) {
	t.realTimeSleep(ns, 1000*1000*1000)
}

// Mdelay busy-waits for approximately ms milliseconds. Busy waiting wastes
// CPU cycles; use Msleep instead when interrupts are on.
func (t *Timer) Mdelay(ms int64) {
	t.realTimeDelay(ms, 1000)
}

// Udelay busy-waits for approximately us microseconds. Busy waiting wastes
// CPU cycles; use Usleep instead when interrupts are on.
func (t *Timer) Udelay(us int64) {
	t.realTimeDelay(us, 1000*1000)
}

// Ndelay busy-waits for approximately ns nanoseconds. Busy waiting wastes
// CPU cycles; use Nsleep instead when interrupts are on.
func (t *Timer) Ndelay(ns int64) {
	t.realTimeDelay(ns, 1000*1000*1000)
}

// Calibrate measures loopsPerTick, used to implement brief delays. It needs
// live ticks, so interrupts must be on and the tick source running.
func (t *Timer) Calibrate() {
	if t.k.Intr().Level() != interrupt.On {
		panic("timer: calibrate with interrupts off")
	}

	// Approximate loopsPerTick as the largest power of two still shorter
	// than one tick.
	t.loopsPerTick = 1 << 10
	for !t.tooManyLoops(t.loopsPerTick << 1) {
		t.loopsPerTick <<= 1
		if t.loopsPerTick == 0 {
			panic("timer: calibration overflow")
		}
	}

	// Refine the next 8 bits.
	highBit := t.loopsPerTick
	for bit := highBit >> 1; bit != highBit>>10; bit >>= 1 {
		if !t.tooManyLoops(t.loopsPerTick | bit) {
			t.loopsPerTick |= bit
		}
	}
}

// LoopsPerTick returns the calibrated busy-wait iteration count, or 0 if
// Calibrate has not run.
func (t *Timer) LoopsPerTick() uint64 {
	return t.loopsPerTick
}

// PrintStats writes tick statistics to w.
func (t *Timer) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Timer: %d ticks\n", t.Ticks())
}

// tooManyLoops reports whether loops iterations last longer than one tick.
func (t *Timer) tooManyLoops(loops uint64) bool {
	// Wait for a tick edge.
	start := t.Ticks()
	for t.Ticks() == start {
		runtime.Gosched()
	}

	start = t.Ticks()
	busyWait(int64(loops))
	return start != t.Ticks()
}

// realTimeSleep sleeps for approximately num/denom seconds: through the
// sleep queue when that is at least one full tick, through the busy-wait
// loop for sub-tick intervals where the queue cannot help.
func (t *Timer) realTimeSleep(num int64, denom int32) {
	//  (num / denom) s
	//  ------------------- = num * frequency / denom ticks.
	//  1 s / frequency ticks
	ticks := num * int64(t.k.Config().TickFrequency) / int64(denom)

	if t.k.Intr().Level() != interrupt.On {
		panic("timer: real-time sleep with interrupts off")
	}
	if ticks > 0 {
		t.Sleep(ticks)
	} else {
		t.realTimeDelay(num, denom)
	}
}

// realTimeDelay busy-waits for approximately num/denom seconds.
func (t *Timer) realTimeDelay(num int64, denom int32) {
	// Scale down by 1000 to avoid overflow.
	if denom%1000 != 0 {
		panic("timer: delay denominator not a multiple of 1000")
	}
	freq := int64(t.k.Config().TickFrequency)
	busyWait(int64(t.loopsPerTick) * num / 1000 * freq / (int64(denom) / 1000))
}

// busyWait iterates through a simple loop for brief delays. Marked
// noinline: code alignment affects timings, and inlining it differently at
// different call sites would make the calibration unpredictable.
//
//go:noinline
func busyWait(loops int64) {
	for loops > 0 {
		loops--
		// Stand-in for a compiler barrier; it also lets the simulated
		// hardware goroutines make progress while we spin.
		runtime.Gosched()
	}
}
