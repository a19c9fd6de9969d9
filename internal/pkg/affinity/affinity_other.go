//go:build !linux

// Package affinity pins the daemon to a CPU core.
package affinity

import "errors"

// Supported reports whether pinning is implemented on this platform.
const Supported = false

var errUnsupported = errors.New("cpu affinity is only supported on linux")

// Pin is not available on this platform.
func Pin(cpu int) error { return errUnsupported }

// Current is not available on this platform.
func Current() ([]int, error) { return nil, errUnsupported }
