// Package serial connects to the heartbeat device and keeps the connection alive.
package serial

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tarm/serial"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

// maxPartialLine bounds the bytes kept for a line whose newline has not arrived.
const maxPartialLine = 64 * 1024

// Port is an open serial device that yields newline terminated lines. A partial
// line survives read timeouts and is completed by later reads.
type Port struct {
	name    string
	rc      io.ReadCloser
	reader  *bufio.Reader
	partial []byte
}

// OpenPort opens name at baud. Reads return after readTimeout when the device is silent.
func OpenPort(name string, baud int, readTimeout time.Duration) (*Port, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return newPort(name, p), nil
}

func newPort(name string, rc io.ReadCloser) *Port {
	return &Port{name: name, rc: rc, reader: bufio.NewReader(rc)}
}

// ReadLine implements domain.LineSource.
func (p *Port) ReadLine() ([]byte, error) {
	chunk, err := p.reader.ReadBytes('\n')
	p.partial = append(p.partial, chunk...)

	if err == nil {
		line := p.partial
		p.partial = nil
		return line, nil
	}

	if len(p.partial) > maxPartialLine {
		p.partial = nil
	}

	// tarm/serial reports an expired read timeout as io.EOF. A device node that
	// disappeared also reads as EOF, so tell the two apart.
	if errors.Is(err, io.EOF) {
		if _, statErr := os.Stat(p.name); statErr != nil {
			return nil, fmt.Errorf("serial device %s is gone: %w", p.name, statErr)
		}
		return nil, domain.ErrNoData
	}
	return nil, fmt.Errorf("failed to read from %s: %w", p.name, err)
}

// Close implements domain.LineSource.
func (p *Port) Close() error {
	return p.rc.Close()
}
