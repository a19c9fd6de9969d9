package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoData is returned by a line source when the read timeout elapsed without
	// a complete line. It is not a fault.
	ErrNoData = errors.New("no data available from device")

	// ErrInvalidEncoding marks a line that is not valid UTF-8 (DecodeFault).
	ErrInvalidEncoding = errors.New("line is not valid UTF-8")

	// ErrDeviceExhausted is wrapped by the fatal DeviceFault raised once reconnect
	// attempts pass the configured bound.
	ErrDeviceExhausted = errors.New("device reconnect attempts exhausted")

	// ErrWriterClosed is returned when writing to a capture writer without an open file.
	ErrWriterClosed = errors.New("capture writer has no open file")
)

// ParseError rejects a malformed data line (ParseFault). It is always recoverable.
type ParseError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse error: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DeviceFault reports a serial open or read failure. Fatal is set only when the
// reconnect bound has been passed.
type DeviceFault struct {
	Op     string
	Device string
	Fatal  bool
	Err    error
}

func (e *DeviceFault) Error() string {
	return fmt.Sprintf("device fault: %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceFault) Unwrap() error { return e.Err }

// StorageFault reports a local disk failure while opening, writing or rotating a
// capture file. The ingest loop cannot continue after one.
type StorageFault struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// UploadFault reports a failed remote put or tag operation. It never leaves the
// upload worker.
type UploadFault struct {
	Op        string
	Key       string
	Transient bool
	Err       error
}

func (e *UploadFault) Error() string {
	return fmt.Sprintf("upload fault: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *UploadFault) Unwrap() error { return e.Err }

// IsFatal reports whether err must stop acquisition.
func IsFatal(err error) bool {
	var storage *StorageFault
	if errors.As(err, &storage) {
		return true
	}
	var device *DeviceFault
	if errors.As(err, &device) {
		return device.Fatal
	}
	return false
}
