package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/V4T54L/hb-acquire/internal/adapter/metrics"
	"github.com/V4T54L/hb-acquire/internal/domain"
)

// UploadQueue is the FIFO of pending uploads shared by the ingest loop (producer)
// and the upload worker (consumer). Every change is journaled so pending jobs
// survive a restart.
type UploadQueue struct {
	journal domain.UploadJournal
	metrics *metrics.AcquireMetrics
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	jobs []domain.UploadJob
}

// NewUploadQueue creates a new, empty UploadQueue.
func NewUploadQueue(journal domain.UploadJournal, m *metrics.AcquireMetrics, logger *slog.Logger) *UploadQueue {
	return &UploadQueue{
		journal: journal,
		metrics: m,
		logger:  logger.With("component", "upload_queue"),
		now:     time.Now,
	}
}

// Push appends a job to the tail. A journal failure is logged; the job is still
// queued in memory.
func (q *UploadQueue) Push(ctx context.Context, job domain.UploadJob) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.journal.Write(ctx, q.entry(domain.JournalEnqueued, job)); err != nil {
		q.logger.Error("Failed to journal upload job, it will not survive a restart", "key", job.TargetKey, "error", err)
	}
	q.jobs = append(q.jobs, job)
	q.metrics.QueueDepth.Set(float64(len(q.jobs)))
}

// Peek returns the head of the queue without removing it.
func (q *UploadQueue) Peek() (domain.UploadJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return domain.UploadJob{}, false
	}
	return q.jobs[0], true
}

// Complete removes job, which must be the current head, after a confirmed upload.
func (q *UploadQueue) Complete(ctx context.Context, job domain.UploadJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 || !sameJob(q.jobs[0], job) {
		return fmt.Errorf("job %s is not at the head of the upload queue", job.TargetKey)
	}
	q.jobs[0] = domain.UploadJob{}
	q.jobs = q.jobs[1:]
	q.metrics.QueueDepth.Set(float64(len(q.jobs)))

	if err := q.journal.Write(ctx, q.entry(domain.JournalCompleted, job)); err != nil {
		q.logger.Error("Failed to journal upload completion", "key", job.TargetKey, "error", err)
		return nil
	}
	if len(q.jobs) == 0 {
		if err := q.journal.Truncate(ctx); err != nil {
			q.logger.Warn("Failed to truncate upload journal", "error", err)
		}
	}
	return nil
}

// Len returns the number of pending jobs.
func (q *UploadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Restore replays the journal and queues every job that was enqueued but never
// completed, in original order, ahead of anything pushed since. Jobs whose source
// file no longer exists are dropped with a warning. It returns the number restored.
func (q *UploadQueue) Restore(ctx context.Context, callback domain.UploadCallback) (int, error) {
	var pending []domain.UploadJob
	err := q.journal.Replay(ctx, func(entry domain.JournalEntry) error {
		switch entry.Op {
		case domain.JournalEnqueued:
			pending = append(pending, entry.Job)
		case domain.JournalCompleted:
			for i, job := range pending {
				if sameJob(job, entry.Job) {
					pending = append(pending[:i], pending[i+1:]...)
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replay upload journal: %w", err)
	}

	restored := pending[:0]
	for _, job := range pending {
		if _, err := os.Stat(job.SourcePath); errors.Is(err, os.ErrNotExist) {
			q.logger.Warn("Dropping journaled upload whose file is gone", "path", job.SourcePath, "key", job.TargetKey)
			continue
		}
		job.Callback = callback
		restored = append(restored, job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(restored, q.jobs...)
	q.metrics.QueueDepth.Set(float64(len(q.jobs)))

	if len(q.jobs) == 0 {
		if err := q.journal.Truncate(ctx); err != nil {
			q.logger.Warn("Failed to truncate upload journal", "error", err)
		}
	}
	if len(restored) > 0 {
		q.logger.Info("Restored pending uploads from journal", "count", len(restored))
	}
	return len(restored), nil
}

func (q *UploadQueue) entry(op domain.JournalOp, job domain.UploadJob) domain.JournalEntry {
	return domain.JournalEntry{Op: op, Job: job, RecordedAt: q.now().UTC()}
}

func sameJob(a, b domain.UploadJob) bool {
	return a.SourcePath == b.SourcePath && a.TargetKey == b.TargetKey
}

// Liveness reports whether a background actor is running.
type Liveness interface {
	Alive() bool
}

// Uploader is the entry point the ingest loop uses to hand off closed files.
type Uploader struct {
	queue   *UploadQueue
	worker  Liveness
	session *domain.Session
	logger  *slog.Logger
	now     func() time.Time
}

// NewUploader creates a new Uploader feeding queue.
func NewUploader(queue *UploadQueue, worker Liveness, session *domain.Session, logger *slog.Logger) *Uploader {
	return &Uploader{
		queue:   queue,
		worker:  worker,
		session: session,
		logger:  logger.With("component", "uploader"),
		now:     time.Now,
	}
}

// Upload queues source for transfer to key. Queueing never depends on the worker;
// a dead worker is reported as an operational fault.
func (u *Uploader) Upload(ctx context.Context, source, key string, callback domain.UploadCallback) error {
	if source == "" || key == "" {
		return errors.New("upload requires a source path and a target key")
	}

	job := domain.UploadJob{
		SourcePath: source,
		TargetKey:  key,
		CaptureID:  u.session.CaptureID.String(),
		NodeID:     u.session.NodeID,
		EnqueuedAt: u.now().UTC(),
		Callback:   callback,
	}
	u.queue.Push(ctx, job)

	if !u.worker.Alive() {
		u.logger.Error("Upload worker is not running, job queued without a consumer", "key", key, "queue_depth", u.queue.Len())
	} else {
		u.logger.Debug("Queued upload", "path", source, "key", key)
	}
	return nil
}
