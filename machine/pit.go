// Package machine provides the simulated hardware a picokern machine runs
// on: the programmable interval timer that generates periodic tick
// interrupts, and the YAML machine description the demo binary boots from.
package machine

import (
	"fmt"
	"time"

	"github.com/picokern/picokern/interrupt"
)

// A PIT models channel 0 of an 8254 programmable interval timer wired to an
// interrupt line: once configured, it raises its vector at a fixed rate
// from a dedicated goroutine until stopped.
//
// Tests normally do not use a PIT; they raise tick interrupts synchronously
// so time advances deterministically.
type PIT struct {
	stop chan struct{}
	done chan struct{}
}

// Configure programs the timer to interrupt hz times per second on vec and
// starts it.
func (p *PIT) Configure(ctrl *interrupt.Controller, vec uint8, hz int) {
	if p.stop != nil {
		panic("machine: PIT configured twice")
	}
	if hz < 1 {
		panic(fmt.Sprintf("machine: invalid PIT frequency %d", hz))
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(ctrl, vec, time.Second/time.Duration(hz))
}

// Stop halts the tick source and waits for any in-flight interrupt to
// finish dispatching.
func (p *PIT) Stop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
}

func (p *PIT) run(ctrl *interrupt.Controller, vec uint8, period time.Duration) {
	defer close(p.done)
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-tick.C:
			ctrl.Raise(vec)
		}
	}
}
