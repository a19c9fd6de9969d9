package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

const filePerm = 0644

// Writer owns the single open capture file of a session. All writes, resets and
// rotations come from the ingest loop; the mutex only protects Current() readers.
type Writer struct {
	dir     string
	session *domain.Session
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	file       *os.File
	current    domain.CaptureFile
	sampleRate int
	nextSeq    int
}

// NewWriter creates a Writer that places capture files in dir.
func NewWriter(dir string, session *domain.Session, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &domain.StorageFault{Op: "mkdir", Path: dir, Err: err}
	}
	return &Writer{
		dir:        dir,
		session:    session,
		logger:     logger.With("component", "capture_writer"),
		now:        time.Now,
		sampleRate: domain.UnknownSampleRate,
	}, nil
}

// Open creates the first capture file with the given sample rate, which may still
// be domain.UnknownSampleRate.
func (w *Writer) Open(sampleRate int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return fmt.Errorf("capture file %s is already open", w.current.Path)
	}
	w.sampleRate = sampleRate
	return w.openLocked()
}

// Write appends one record to the open capture file.
func (w *Writer) Write(rec domain.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return &domain.StorageFault{Op: "write", Path: w.dir, Err: domain.ErrWriterClosed}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	data = append(data, '\n')

	if _, err := w.file.Write(data); err != nil {
		return &domain.StorageFault{Op: "write", Path: w.current.Path, Err: err}
	}
	w.current.LinesWritten++
	return nil
}

// Reset adopts a newly discovered sample rate. A file that holds no records yet is
// truncated and its header rewritten; otherwise the rate applies from the next file.
func (w *Writer) Reset(sampleRate int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sampleRate = sampleRate
	if w.file == nil {
		return nil
	}
	if w.current.LinesWritten > 0 {
		w.logger.Warn("Capture file already holds records, new sample rate applies to next file",
			"path", w.current.Path, "sample_rate", sampleRate)
		return nil
	}

	if err := w.file.Truncate(0); err != nil {
		return &domain.StorageFault{Op: "truncate", Path: w.current.Path, Err: err}
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return &domain.StorageFault{Op: "seek", Path: w.current.Path, Err: err}
	}
	w.current.Metadata.SampleRate = sampleRate
	if err := w.writeHeaderLocked(); err != nil {
		return err
	}
	w.logger.Info("Reset capture file for sample rate", "path", w.current.Path, "sample_rate", sampleRate)
	return nil
}

// SetSampleRate changes the rate recorded in the headers of subsequent files.
func (w *Writer) SetSampleRate(sampleRate int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sampleRate = sampleRate
}

// Rotate closes the current file and opens the next one. The closed file is
// returned even when opening its successor fails, so the caller can still hand it
// off for upload.
func (w *Writer) Rotate() (domain.CaptureFile, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	closed, err := w.closeLocked()
	if err != nil {
		return closed, err
	}
	if err := w.openLocked(); err != nil {
		return closed, err
	}
	w.logger.Info("Rotated capture file", "closed", closed.Path, "lines", closed.LinesWritten, "opened", w.current.Path)
	return closed, nil
}

// Close flushes and closes the open file and returns its description. It is a
// no-op returning a zero CaptureFile when nothing is open.
func (w *Writer) Close() (domain.CaptureFile, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Discard deletes a closed capture file that holds no records.
func (w *Writer) Discard(file domain.CaptureFile) error {
	if file.LinesWritten > 0 {
		return fmt.Errorf("refusing to discard %s with %d records", file.Path, file.LinesWritten)
	}
	if err := os.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &domain.StorageFault{Op: "remove", Path: file.Path, Err: err}
	}
	w.logger.Debug("Discarded empty capture file", "path", file.Path)
	return nil
}

// LinesWritten returns the number of records in the open file.
func (w *Writer) LinesWritten() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.LinesWritten
}

// Current returns a copy of the open file's description.
func (w *Writer) Current() domain.CaptureFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Writer) openLocked() error {
	now := w.now()
	meta := w.session.Metadata(w.sampleRate, w.nextSeq, now)
	path := filepath.Join(w.dir, FileName(meta))

	// O_EXCL: a path that was handed off must never be reopened.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return &domain.StorageFault{Op: "open", Path: path, Err: err}
	}

	w.file = f
	w.current = domain.CaptureFile{
		Path:     path,
		Sequence: meta.Sequence,
		Metadata: meta,
	}
	if err := w.writeHeaderLocked(); err != nil {
		_ = f.Close()
		w.file = nil
		return err
	}
	w.nextSeq++
	w.logger.Debug("Opened capture file", "path", path, "sequence", meta.Sequence, "sample_rate", meta.SampleRate)
	return nil
}

func (w *Writer) writeHeaderLocked() error {
	data, err := json.Marshal(w.current.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal capture metadata: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.file.Write(data); err != nil {
		return &domain.StorageFault{Op: "write_header", Path: w.current.Path, Err: err}
	}
	return nil
}

func (w *Writer) closeLocked() (domain.CaptureFile, error) {
	if w.file == nil {
		return domain.CaptureFile{}, nil
	}

	closed := w.current
	closed.Closed = true

	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	w.current = domain.CaptureFile{}

	if syncErr != nil {
		return closed, &domain.StorageFault{Op: "sync", Path: closed.Path, Err: syncErr}
	}
	if closeErr != nil {
		return closed, &domain.StorageFault{Op: "close", Path: closed.Path, Err: closeErr}
	}
	return closed, nil
}
