// Command picokern boots a simulated single-core kernel and runs one of a
// few small scenarios on it: the semaphore ping-pong self test, a priority
// donation chain, sleeping threads woken by the timer, and the calibrated
// busy-wait. It exists to exercise the kernel end to end on a live tick
// source; the per-package tests drive time synchronously instead.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/shlex"
	"github.com/mattn/go-colorable"
	flag "github.com/spf13/pflag"

	"github.com/picokern/picokern/devices/timer"
	"github.com/picokern/picokern/kernel"
	"github.com/picokern/picokern/machine"
	"github.com/picokern/picokern/synch"
)

func main() {
	var (
		machinePath = flag.String("machine", "", "machine description YAML file")
		run         = flag.String("run", "pingpong", `scenario to run: "pingpong", "donate", "alarm [ticks...]" or "delay"`)
		trace       = flag.Bool("trace", false, "print scheduler trace output")
	)
	flag.Parse()

	out := colorable.NewColorableStdout()
	if err := boot(*machinePath, *run, *trace, out); err != nil {
		fmt.Fprintln(os.Stderr, "picokern:", err)
		os.Exit(1)
	}
}

func boot(machinePath, run string, trace bool, out io.Writer) error {
	cfg := kernel.Config{}
	if machinePath != "" {
		mc, err := machine.LoadConfig(machinePath)
		if err != nil {
			return err
		}
		if mc.Trace {
			trace = true
		}
		cfg = mc.KernelConfig()
	}
	if trace {
		cfg.Trace = out
	}

	args, err := shlex.Split(run)
	if err != nil {
		return fmt.Errorf("bad -run string: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("empty -run string")
	}

	k := kernel.New(cfg)
	k.Start()
	tmr := timer.New(k)
	var pit machine.PIT
	pit.Configure(k.Intr(), timer.Vector, k.Config().TickFrequency)

	switch args[0] {
	case "pingpong":
		runPingPong(k, out)
	case "donate":
		runDonate(k, tmr, out)
	case "alarm":
		err = runAlarm(k, tmr, out, args[1:])
	case "delay":
		runDelay(tmr, out)
	default:
		err = fmt.Errorf("unknown scenario %q", args[0])
	}

	tmr.PrintStats(out)
	fmt.Fprintf(out, "Kernel: %d idle ticks, %d kernel ticks\n", k.IdleTicks(), k.KernelTicks())
	pit.Stop()
	if err == nil {
		// Scenario threads may still be parked in their final yield; let
		// them run to exit before retiring the machine.
		for i := 0; i < 8; i++ {
			k.Yield()
		}
		k.Shutdown()
	}
	return err
}

// runPingPong bounces control between two threads through a pair of
// semaphores, ten round trips.
func runPingPong(k *kernel.Kernel, out io.Writer) {
	fmt.Fprint(out, "Testing semaphores...")
	var ping, pong synch.Semaphore
	ping.Init(k, 0)
	pong.Init(k, 0)

	k.Go("pong", kernel.PriorityDefault, func() {
		for i := 0; i < 10; i++ {
			ping.Down()
			pong.Up()
		}
	})
	for i := 0; i < 10; i++ {
		ping.Up()
		pong.Down()
	}
	fmt.Fprintln(out, " done.")
}

// runDonate has a low-priority thread hold a lock while three acquirers of
// priorities 1, 5 and 3 queue up on it, then prints the order the lock is
// granted in: highest priority first. The acquirers all rank below the main
// thread, so main sleeps a tick after spawning each one to get off the CPU
// and let it reach the lock.
func runDonate(k *kernel.Kernel, tmr *timer.Timer, out io.Writer) {
	var (
		l    synch.Lock
		held synch.Semaphore
		gate synch.Semaphore
		done synch.Semaphore
	)
	l.Init(k)
	held.Init(k, 0)
	gate.Init(k, 0)
	done.Init(k, 0)

	holder := k.Go("holder", 10, func() {
		l.Acquire()
		held.Up()
		gate.Down() // hold the lock until the acquirers have queued up
		l.Release()
		done.Up()
	})
	held.Down() // wait for the holder to take the lock

	for _, prio := range []int{1, 5, 3} {
		prio := prio
		name := fmt.Sprintf("acquirer-%d", prio)
		k.Go(name, prio, func() {
			l.Acquire()
			fmt.Fprintf(out, "lock granted to priority %d\n", prio)
			l.Release()
			done.Up()
		})
		tmr.Sleep(1) // let it reach the lock and block
	}
	fmt.Fprintf(out, "holder effective priority while contended: %d\n",
		holder.Effective)

	gate.Up()
	for i := 0; i < 4; i++ {
		done.Down()
	}
}

// runAlarm puts one thread to sleep per argument and reports the tick each
// one wakes at.
func runAlarm(k *kernel.Kernel, tmr *timer.Timer, out io.Writer, args []string) error {
	durations := []int64{5, 1, 3}
	if len(args) > 0 {
		durations = durations[:0]
		for _, a := range args {
			n, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return fmt.Errorf("bad alarm duration %q", a)
			}
			durations = append(durations, n)
		}
	}

	var done synch.Semaphore
	done.Init(k, 0)
	start := tmr.Ticks()
	for i, n := range durations {
		i, n := i, n
		k.Go(fmt.Sprintf("alarm-%d", i), kernel.PriorityDefault+1, func() {
			tmr.Sleep(n)
			fmt.Fprintf(out, "thread %d slept %d ticks, woke at tick %d\n",
				i, n, tmr.Ticks())
			done.Up()
		})
	}
	for range durations {
		done.Down()
	}
	fmt.Fprintf(out, "all alarms fired within %d ticks\n", tmr.Elapsed(start))
	return nil
}

// runDelay calibrates the busy-wait loop and spins through a few sub-tick
// delays.
func runDelay(tmr *timer.Timer, out io.Writer) {
	fmt.Fprint(out, "Calibrating timer...")
	tmr.Calibrate()
	fmt.Fprintf(out, " %d loops/tick.\n", tmr.LoopsPerTick())
	for _, us := range []int64{100, 500, 1000} {
		before := tmr.Ticks()
		tmr.Udelay(us)
		fmt.Fprintf(out, "udelay(%d): %d ticks elapsed\n", us, tmr.Ticks()-before)
	}
}
