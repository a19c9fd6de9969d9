package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/V4T54L/hb-acquire/internal/adapter/metrics"
	"github.com/V4T54L/hb-acquire/internal/domain"
)

// StatusReporterDeps wires a StatusReporter. Publisher and DeviceState are optional.
type StatusReporterDeps struct {
	Session     *domain.Session
	State       *domain.SessionState
	Queue       *UploadQueue
	Worker      Liveness
	DeviceState func() string
	Publisher   domain.StatusPublisher
	Clock       clock.Clock
	Interval    time.Duration
	Metrics     *metrics.AcquireMetrics
}

// StatusReporter periodically logs and publishes a snapshot of the session. It
// only reads shared state.
type StatusReporter struct {
	deps   StatusReporterDeps
	logger *slog.Logger
}

// NewStatusReporter creates a new StatusReporter.
func NewStatusReporter(deps StatusReporterDeps, logger *slog.Logger) *StatusReporter {
	return &StatusReporter{
		deps:   deps,
		logger: logger.With("component", "status"),
	}
}

// Snapshot assembles the current status.
func (r *StatusReporter) Snapshot() domain.Status {
	st := r.deps.State.Snapshot(r.deps.Session, r.deps.Clock.Now())
	st.QueueDepth = r.deps.Queue.Len()
	st.UploaderAlive = r.deps.Worker.Alive()
	if r.deps.DeviceState != nil {
		st.DeviceState = r.deps.DeviceState()
	}
	return st
}

// Report logs one snapshot, refreshes gauges and publishes it when a publisher is set.
func (r *StatusReporter) Report(ctx context.Context) domain.Status {
	st := r.Snapshot()
	r.log("Status", st)
	if !st.UploaderAlive {
		r.logger.Error("Upload worker is not running", "queue_depth", st.QueueDepth)
	}
	r.publish(ctx, st)
	return st
}

// Final reports the closing snapshot at shutdown, once the upload worker has
// been stopped on purpose.
func (r *StatusReporter) Final(ctx context.Context) domain.Status {
	st := r.Snapshot()
	r.log("Final status", st)
	r.publish(ctx, st)
	return st
}

func (r *StatusReporter) log(msg string, st domain.Status) {
	r.logger.Info(msg,
		"sample_rate", st.SampleRate,
		"gps_fix", st.GPSFix,
		"clipping", st.Clipping,
		"lines_written", st.LinesWritten,
		"records", st.RecordsTotal,
		"rotations", st.Rotations,
		"queue_depth", st.QueueDepth,
		"uploader_alive", st.UploaderAlive,
		"device", st.DeviceState,
	)
}

func (r *StatusReporter) publish(ctx context.Context, st domain.Status) {
	m := r.deps.Metrics
	m.QueueDepth.Set(float64(st.QueueDepth))
	m.LinesWritten.Set(float64(st.LinesWritten))
	m.SampleRate.Set(float64(st.SampleRate))
	m.UploaderAlive.Set(metrics.BoolGauge(st.UploaderAlive))

	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.PublishStatus(ctx, st); err != nil {
			r.logger.Warn("Failed to publish status", "error", err)
		}
	}
}

// Run reports every interval until ctx is cancelled.
func (r *StatusReporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.deps.Clock.After(r.deps.Interval):
			r.Report(ctx)
		}
	}
}
