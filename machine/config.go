package machine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/picokern/picokern/devices/timer"
	"github.com/picokern/picokern/kernel"
)

// Config is a machine description: the tunable parameters of one simulated
// machine, loaded from a YAML file.
type Config struct {
	// TickFrequency is the timer interrupt rate in Hz.
	TickFrequency int `yaml:"tick-frequency-hz"`

	// TimeSlice is the number of ticks per scheduling quantum.
	TimeSlice int `yaml:"time-slice"`

	// DefaultPriority is the priority of the main thread. Zero (or a missing
	// field) keeps the kernel default; priority 0 itself is not expressible
	// in a machine description.
	DefaultPriority int `yaml:"default-priority"`

	// Trace enables scheduler trace output.
	Trace bool `yaml:"trace"`
}

// LoadConfig reads and validates a machine description. Missing fields keep
// the kernel defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("machine: %w", err)
	}
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("machine: parsing %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("machine: %s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.TickFrequency != 0 &&
		(c.TickFrequency < timer.MinFrequency || c.TickFrequency > timer.MaxFrequency) {
		return fmt.Errorf("tick-frequency-hz %d out of range [%d, %d]",
			c.TickFrequency, timer.MinFrequency, timer.MaxFrequency)
	}
	if c.TimeSlice < 0 {
		return fmt.Errorf("time-slice %d is negative", c.TimeSlice)
	}
	if c.DefaultPriority < 0 || c.DefaultPriority > kernel.PriorityMax {
		return fmt.Errorf("default-priority %d out of range [%d, %d]",
			c.DefaultPriority, kernel.PriorityMin, kernel.PriorityMax)
	}
	return nil
}

// KernelConfig converts the machine description into a kernel
// configuration. The trace writer, if any, is chosen by the caller.
func (c *Config) KernelConfig() kernel.Config {
	return kernel.Config{
		TickFrequency:   c.TickFrequency,
		TimeSlice:       c.TimeSlice,
		DefaultPriority: c.DefaultPriority,
	}
}
