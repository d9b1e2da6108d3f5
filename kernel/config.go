package kernel

import (
	"fmt"
	"io"
)

// Priority bounds for kernel threads. Higher numbers run first.
const (
	PriorityMin     = 0
	PriorityDefault = 31
	PriorityMax     = 63
)

// Config carries the scheduler parameters of one simulated machine.
// The zero value selects the defaults.
type Config struct {
	// TickFrequency is the timer interrupt rate in Hz. Default 100.
	TickFrequency int

	// TimeSlice is the number of ticks a thread may run before the tick
	// handler requests a yield. Default 4.
	TimeSlice int

	// DefaultPriority is the priority given to the main thread. Default 31.
	// Zero means "use the default": the main thread cannot be configured to
	// run at PriorityMin. Threads spawned with Go can.
	DefaultPriority int

	// Trace, if non-nil, receives scheduler debug output.
	Trace io.Writer
}

func (c *Config) setDefaults() {
	if c.TickFrequency == 0 {
		c.TickFrequency = 100
	}
	if c.TimeSlice == 0 {
		c.TimeSlice = 4
	}
	if c.DefaultPriority == 0 {
		c.DefaultPriority = PriorityDefault
	}
}

func (c *Config) check() {
	if c.TickFrequency < 1 {
		panic(fmt.Sprintf("kernel: invalid tick frequency %d", c.TickFrequency))
	}
	if c.TimeSlice < 1 {
		panic(fmt.Sprintf("kernel: invalid time slice %d", c.TimeSlice))
	}
	if c.DefaultPriority < PriorityMin || c.DefaultPriority > PriorityMax {
		panic(fmt.Sprintf("kernel: invalid default priority %d", c.DefaultPriority))
	}
}
