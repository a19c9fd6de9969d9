package serial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/V4T54L/hb-acquire/internal/domain"
	"github.com/V4T54L/hb-acquire/internal/pkg/logger"
)

// State is the connection state of a Device.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Opener opens the named device.
type Opener func(name string) (domain.LineSource, error)

// DeviceConfig tunes reconnection.
type DeviceConfig struct {
	Name        string
	Backoff     time.Duration
	MaxFailures int
}

// Device wraps a LineSource and reopens it after read failures, waiting Backoff
// between attempts. After MaxFailures consecutive failed opens it enters
// StateFailed and every read returns a fatal DeviceFault.
type Device struct {
	cfg    DeviceConfig
	open   Opener
	clock  clock.Clock
	logger *slog.Logger

	// OnStateChange, when set, is called after every transition.
	OnStateChange func(State)

	mu        sync.Mutex
	source    domain.LineSource
	attempted bool
	failures  int
	state     atomic.Int32
}

// NewDevice creates a new Device in StateDisconnected. No connection is made until
// the first ReadLine.
func NewDevice(cfg DeviceConfig, open Opener, clk clock.Clock, logger *slog.Logger) *Device {
	return &Device{
		cfg:    cfg,
		open:   open,
		clock:  clk,
		logger: logger.With("component", "serial", "device", cfg.Name),
	}
}

// State returns the current connection state.
func (d *Device) State() State {
	return State(d.state.Load())
}

// ReadLine returns the next raw line, connecting first if needed. A read timeout
// yields domain.ErrNoData. Connection problems are returned as *domain.DeviceFault.
func (d *Device) ReadLine(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.State() == StateFailed {
		return nil, d.exhausted(nil)
	}

	if d.source == nil {
		if err := d.connect(ctx); err != nil {
			return nil, err
		}
	}

	line, err := d.source.ReadLine()
	if err == nil || errors.Is(err, domain.ErrNoData) {
		return line, err
	}

	d.logger.Log(ctx, logger.LevelCritical, "Serial device read failed", "error", err)
	_ = d.source.Close()
	d.source = nil
	d.setState(StateDisconnected)
	return nil, &domain.DeviceFault{Op: "read", Device: d.cfg.Name, Err: err}
}

// Close releases the open connection, if any.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.source == nil {
		return nil
	}
	err := d.source.Close()
	d.source = nil
	if d.State() != StateFailed {
		d.setState(StateDisconnected)
	}
	return err
}

func (d *Device) connect(ctx context.Context) error {
	if d.attempted {
		d.setState(StateReconnecting)
		d.logger.Info("Waiting before reconnecting", "backoff", d.cfg.Backoff, "failures", d.failures)
		select {
		case <-d.clock.After(d.cfg.Backoff):
		case <-ctx.Done():
			d.setState(StateDisconnected)
			return ctx.Err()
		}
	}
	d.attempted = true

	src, err := d.open(d.cfg.Name)
	if err != nil {
		d.failures++
		d.logger.Log(ctx, logger.LevelCritical, "Failed to open serial device", "error", err, "failures", d.failures)
		if d.cfg.MaxFailures > 0 && d.failures >= d.cfg.MaxFailures {
			d.setState(StateFailed)
			return d.exhausted(err)
		}
		d.setState(StateDisconnected)
		return &domain.DeviceFault{Op: "open", Device: d.cfg.Name, Err: err}
	}

	d.source = src
	d.failures = 0
	d.setState(StateConnected)
	d.logger.Info("Serial device connected")
	return nil
}

func (d *Device) exhausted(cause error) error {
	err := domain.ErrDeviceExhausted
	if cause != nil {
		err = fmt.Errorf("%w: %w", domain.ErrDeviceExhausted, cause)
	}
	return &domain.DeviceFault{Op: "open", Device: d.cfg.Name, Fatal: true, Err: err}
}

func (d *Device) setState(s State) {
	if State(d.state.Swap(int32(s))) == s {
		return
	}
	if d.OnStateChange != nil {
		d.OnStateChange(s)
	}
}
