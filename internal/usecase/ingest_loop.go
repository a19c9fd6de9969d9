package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/V4T54L/hb-acquire/internal/adapter/metrics"
	"github.com/V4T54L/hb-acquire/internal/domain"
)

const (
	commentMarker = "#"
	dataMarker    = "$"
)

// LineReader yields raw device lines. A silent device returns domain.ErrNoData.
type LineReader interface {
	ReadLine(ctx context.Context) ([]byte, error)
}

// CaptureWriter persists records to the active capture file.
type CaptureWriter interface {
	Open(sampleRate int) error
	Write(rec domain.Record) error
	Reset(sampleRate int) error
	SetSampleRate(sampleRate int)
	Rotate() (domain.CaptureFile, error)
	Close() (domain.CaptureFile, error)
	Discard(file domain.CaptureFile) error
	LinesWritten() int
}

// RotationPolicy decides when the active capture file is complete.
type RotationPolicy interface {
	ShouldRotate(linesWritten int) bool
}

// IngestLoopDeps wires an IngestLoop.
type IngestLoopDeps struct {
	Source    LineReader
	Parse     func(line string) (domain.Record, error)
	Writer    CaptureWriter
	Policy    RotationPolicy
	Uploader  *Uploader
	RemoteKey func(nodeID, path string) string
	Callback  domain.UploadCallback
	Session   *domain.Session
	State     *domain.SessionState
	Metrics   *metrics.AcquireMetrics
}

// IngestLoop is the single driver of acquisition: it reads device lines, validates
// them, updates session state, writes records and hands rotated files off for upload.
type IngestLoop struct {
	deps         IngestLoopDeps
	logger       *slog.Logger
	serialLogger *slog.Logger
	now          func() time.Time
}

// NewIngestLoop creates a new IngestLoop.
func NewIngestLoop(deps IngestLoopDeps, logger *slog.Logger) *IngestLoop {
	return &IngestLoop{
		deps:         deps,
		logger:       logger.With("component", "ingest_loop"),
		serialLogger: logger.With("component", "serial"),
		now:          time.Now,
	}
}

// Start opens the first capture file.
func (il *IngestLoop) Start() error {
	return il.deps.Writer.Open(il.deps.State.SampleRate())
}

// Run calls Tick until ctx is cancelled or a fatal fault occurs. Cancellation
// returns nil.
func (il *IngestLoop) Run(ctx context.Context) error {
	il.logger.Info("Ingest loop started", "capture_id", il.deps.Session.CaptureID, "node_id", il.deps.Session.NodeID)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := il.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Tick processes at most one device line. Faults confined to the line are logged
// and absorbed; only fatal faults are returned.
func (il *IngestLoop) Tick(ctx context.Context) error {
	raw, err := il.deps.Source.ReadLine(ctx)
	if err != nil {
		return il.handleReadError(ctx, err)
	}

	if !utf8.Valid(raw) {
		il.deps.Metrics.LinesTotal.WithLabelValues("decode_error").Inc()
		il.logger.Warn("Dropped undecodable line", "error", domain.ErrInvalidEncoding, "bytes", len(raw))
		return nil
	}

	line := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(line, commentMarker):
		il.deps.Metrics.LinesTotal.WithLabelValues("comment").Inc()
		il.serialLogger.Info(line)
		return nil
	case !strings.HasPrefix(line, dataMarker):
		il.deps.Metrics.LinesTotal.WithLabelValues("ignored").Inc()
		il.logger.Debug("Ignored non-data line", "line", line)
		return nil
	}

	rec, err := il.deps.Parse(strings.TrimPrefix(line, dataMarker))
	if err != nil {
		il.deps.Metrics.LinesTotal.WithLabelValues("parse_error").Inc()
		il.logger.Error("Dropped malformed line", "error", err, "line", line)
		return nil
	}
	rec.ReceivedAt = il.now().UTC()

	return il.accept(ctx, rec)
}

// Shutdown closes the active capture file and queues it for upload. An empty file
// is deleted instead.
func (il *IngestLoop) Shutdown(ctx context.Context) error {
	file, err := il.deps.Writer.Close()
	if file.Path == "" {
		return err
	}

	if file.LinesWritten == 0 {
		if discardErr := il.deps.Writer.Discard(file); discardErr != nil {
			il.logger.Warn("Failed to remove empty capture file", "path", file.Path, "error", discardErr)
		}
	} else {
		il.handoff(ctx, file)
	}
	il.deps.State.SetLinesWritten(0)
	il.deps.Metrics.LinesWritten.Set(0)
	il.logger.Info("Ingest loop shut down", "last_file", file.Path, "lines", file.LinesWritten)
	return err
}

func (il *IngestLoop) handleReadError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNoData):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case domain.IsFatal(err):
		return err
	}
	// Non-fatal device faults are logged by the device; the next Tick reconnects.
	var fault *domain.DeviceFault
	if !errors.As(err, &fault) {
		il.logger.Error("Unexpected read error", "error", err)
	}
	return nil
}

func (il *IngestLoop) accept(ctx context.Context, rec domain.Record) error {
	state := il.deps.State
	m := il.deps.Metrics

	// 1. Per-record flags.
	hadFix := state.SetGPSFix(rec.GPSFix)
	if !rec.GPSFix {
		il.logger.Warn("No GPS fix, record timestamp may be misaligned", "time", rec.Time, "lost_fix", hadFix)
	}
	if wasClipping := state.SetClipping(rec.Clipping); rec.Clipping && !wasClipping {
		il.logger.Warn("Signal clipping detected", "time", rec.Time)
	}
	m.GPSFix.Set(metrics.BoolGauge(rec.GPSFix))
	m.Clipping.Set(metrics.BoolGauge(rec.Clipping))

	// 2. Sample rate adoption and drift.
	switch current := state.SampleRate(); {
	case current == domain.UnknownSampleRate:
		state.SetSampleRate(rec.SampleRate)
		if err := il.deps.Writer.Reset(rec.SampleRate); err != nil {
			return err
		}
		m.SampleRate.Set(float64(rec.SampleRate))
		il.logger.Info("Sample rate established", "sample_rate", rec.SampleRate)
	case current != rec.SampleRate:
		il.logger.Error("Sample rate changed mid-session", "previous", current, "sample_rate", rec.SampleRate)
		state.SetSampleRate(rec.SampleRate)
		il.deps.Writer.SetSampleRate(rec.SampleRate)
		m.SampleRate.Set(float64(rec.SampleRate))
		m.SampleRateChanges.Inc()
	}

	// 3. Persist.
	if err := il.deps.Writer.Write(rec); err != nil {
		if domain.IsFatal(err) {
			il.logger.Error("Failed to write record", "error", err)
			return err
		}
		il.logger.Error("Dropped unwritable record", "error", err)
		return nil
	}
	m.LinesTotal.WithLabelValues("accepted").Inc()
	state.RecordWritten()

	lines := il.deps.Writer.LinesWritten()
	state.SetLinesWritten(lines)
	m.LinesWritten.Set(float64(lines))

	// 4. Rotate on the boundary.
	if il.deps.Policy.ShouldRotate(lines) {
		return il.rotate(ctx)
	}
	return nil
}

func (il *IngestLoop) rotate(ctx context.Context) error {
	closed, err := il.deps.Writer.Rotate()
	if closed.Path != "" {
		il.handoff(ctx, closed)
	}
	if err != nil {
		il.logger.Error("Failed to rotate capture file", "error", err)
		return err
	}

	il.deps.State.SetLinesWritten(0)
	il.deps.State.Rotated()
	il.deps.Metrics.LinesWritten.Set(0)
	il.deps.Metrics.Rotations.Inc()
	return nil
}

func (il *IngestLoop) handoff(ctx context.Context, file domain.CaptureFile) {
	key := il.deps.RemoteKey(il.deps.Session.NodeID, file.Path)
	if err := il.deps.Uploader.Upload(ctx, file.Path, key, il.deps.Callback); err != nil {
		il.logger.Error("Failed to queue capture file for upload", "path", file.Path, "error", err)
	}
}
