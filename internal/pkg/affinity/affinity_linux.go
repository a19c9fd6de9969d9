//go:build linux

// Package affinity pins the daemon to a CPU core.
package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Supported reports whether pinning is implemented on this platform.
const Supported = true

// Pin restricts the calling process to cpu.
func Pin(cpu int) error {
	if cpu < 0 {
		return fmt.Errorf("invalid cpu %d", cpu)
	}
	if err := setMask([]int{cpu}); err != nil {
		return fmt.Errorf("failed to pin to cpu %d: %w", cpu, err)
	}
	return nil
}

func setMask(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}

// Current returns the CPUs the process may run on.
func Current() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("failed to read cpu affinity: %w", err)
	}
	var cpus []int
	for i := 0; i < 1024 && len(cpus) < set.Count(); i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
