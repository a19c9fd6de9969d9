package serial

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/V4T54L/hb-acquire/internal/domain"
	"github.com/V4T54L/hb-acquire/internal/domain/mocks"
)

type readResult struct {
	line []byte
	err  error
}

type scriptedOpener struct {
	mu      sync.Mutex
	sources []domain.LineSource
	errs    []error
	calls   int
}

func (o *scriptedOpener) open(name string) (domain.LineSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.calls
	o.calls++
	if i < len(o.errs) && o.errs[i] != nil {
		return nil, o.errs[i]
	}
	if i < len(o.sources) {
		return o.sources[i], nil
	}
	return nil, errors.New("no such device")
}

func newTestDevice(o *scriptedOpener, maxFailures int) (*Device, *testclock.Clock) {
	clk := testclock.NewClock(time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDevice(DeviceConfig{Name: "/dev/ttyTEST", Backoff: 3 * time.Second, MaxFailures: maxFailures}, o.open, clk, logger)
	return d, clk
}

func readAsync(d *Device) <-chan readResult {
	ch := make(chan readResult, 1)
	go func() {
		line, err := d.ReadLine(context.Background())
		ch <- readResult{line, err}
	}()
	return ch
}

func TestDevice_FirstConnectHasNoBackoff(t *testing.T) {
	o := &scriptedOpener{sources: []domain.LineSource{mocks.NewMockLineSource("$hello\n")}}
	d, _ := newTestDevice(o, 3)

	if d.State() != StateDisconnected {
		t.Fatalf("expected initial state disconnected, got %s", d.State())
	}
	line, err := d.ReadLine(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "$hello\n" {
		t.Errorf("unexpected line %q", line)
	}
	if d.State() != StateConnected {
		t.Errorf("expected connected, got %s", d.State())
	}

	if _, err := d.ReadLine(context.Background()); !errors.Is(err, domain.ErrNoData) {
		t.Errorf("expected ErrNoData on silence, got %v", err)
	}
}

func TestDevice_ReconnectAfterReadFailure(t *testing.T) {
	broken := &mocks.MockLineSource{Steps: []mocks.LineStep{{Err: errors.New("input/output error")}}}
	healthy := mocks.NewMockLineSource("$back\n")
	o := &scriptedOpener{sources: []domain.LineSource{broken, healthy}}
	d, clk := newTestDevice(o, 3)

	var states []State
	d.OnStateChange = func(s State) { states = append(states, s) }

	_, err := d.ReadLine(context.Background())
	var fault *domain.DeviceFault
	if !errors.As(err, &fault) || fault.Fatal {
		t.Fatalf("expected non-fatal DeviceFault, got %v", err)
	}
	if !broken.Closed {
		t.Error("expected broken source to be closed")
	}
	if d.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", d.State())
	}

	ch := readAsync(d)
	if err := clk.WaitAdvance(3*time.Second, time.Second, 1); err != nil {
		t.Fatalf("reconnect did not wait for backoff: %v", err)
	}
	res := <-ch
	if res.err != nil || string(res.line) != "$back\n" {
		t.Fatalf("unexpected result after reconnect: %q %v", res.line, res.err)
	}

	want := []State{StateConnected, StateDisconnected, StateReconnecting, StateConnected}
	if len(states) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d: got %s, want %s", i, states[i], want[i])
		}
	}
}

func TestDevice_ExhaustsAfterMaxFailures(t *testing.T) {
	openErr := errors.New("no such file or directory")
	o := &scriptedOpener{errs: []error{openErr, openErr, openErr}}
	d, clk := newTestDevice(o, 3)

	_, err := d.ReadLine(context.Background())
	if domain.IsFatal(err) {
		t.Fatalf("first failure must not be fatal: %v", err)
	}

	for i := 2; i <= 3; i++ {
		ch := readAsync(d)
		if err := clk.WaitAdvance(3*time.Second, time.Second, 1); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		err = (<-ch).err
	}

	if !domain.IsFatal(err) {
		t.Fatalf("expected fatal fault after 3 failures, got %v", err)
	}
	if !errors.Is(err, domain.ErrDeviceExhausted) {
		t.Errorf("expected ErrDeviceExhausted, got %v", err)
	}
	if d.State() != StateFailed {
		t.Errorf("expected failed state, got %s", d.State())
	}

	// Failed is terminal; no further opens are attempted.
	if _, err := d.ReadLine(context.Background()); !domain.IsFatal(err) {
		t.Errorf("expected fatal fault in failed state, got %v", err)
	}
	if o.calls != 3 {
		t.Errorf("expected 3 open attempts, got %d", o.calls)
	}
}

func TestDevice_BackoffRespectsContext(t *testing.T) {
	o := &scriptedOpener{errs: []error{errors.New("busy")}}
	d, _ := newTestDevice(o, 5)
	_, _ = d.ReadLine(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.ReadLine(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled during backoff, got %v", err)
	}
}

type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	if c == "" {
		return 0, io.EOF
	}
	return copy(p, c), nil
}

func (r *chunkReader) Close() error { return nil }

func TestPort_PartialLineSurvivesTimeout(t *testing.T) {
	node := filepath.Join(t.TempDir(), "ttyACM0")
	if err := os.WriteFile(node, nil, 0644); err != nil {
		t.Fatalf("failed to create device node: %v", err)
	}

	p := newPort(node, &chunkReader{chunks: []string{"$1712345678,20,", "", "A,0,1,2\n"}})

	if _, err := p.ReadLine(); !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData on timeout, got %v", err)
	}
	line, err := p.ReadLine()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "$1712345678,20,A,0,1,2\n" {
		t.Errorf("unexpected line %q", line)
	}

	os.Remove(node)
	_, err = p.ReadLine()
	if err == nil || errors.Is(err, domain.ErrNoData) {
		t.Errorf("expected disconnect error once the device node is gone, got %v", err)
	}
}
