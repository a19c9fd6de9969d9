package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"golang.org/x/time/rate"

	"github.com/V4T54L/hb-acquire/internal/adapter/metrics"
	"github.com/V4T54L/hb-acquire/internal/domain"
)

// UploadWorker drains the UploadQueue into the object store, one job at a time in
// queue order. A failed job stays at the head and blocks the jobs behind it until
// a later cycle succeeds.
type UploadWorker struct {
	queue        *UploadQueue
	store        domain.ObjectStore
	limiter      *rate.Limiter
	clock        clock.Clock
	pollInterval time.Duration
	metrics      *metrics.AcquireMetrics
	logger       *slog.Logger

	alive     atomic.Bool
	callbacks sync.WaitGroup
}

// NewUploadWorker creates a new UploadWorker. A nil limiter disables pacing.
func NewUploadWorker(queue *UploadQueue, store domain.ObjectStore, limiter *rate.Limiter, clk clock.Clock, pollInterval time.Duration, m *metrics.AcquireMetrics, logger *slog.Logger) *UploadWorker {
	return &UploadWorker{
		queue:        queue,
		store:        store,
		limiter:      limiter,
		clock:        clk,
		pollInterval: pollInterval,
		metrics:      m,
		logger:       logger.With("component", "upload_worker"),
	}
}

// Run drains the queue every poll interval until ctx is cancelled.
func (w *UploadWorker) Run(ctx context.Context) {
	w.setAlive(true)
	defer w.setAlive(false)

	w.logger.Info("Upload worker started", "poll_interval", w.pollInterval)
	for {
		w.Drain(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("Upload worker stopped", "pending", w.queue.Len())
			return
		case <-w.clock.After(w.pollInterval):
		}
	}
}

// Alive reports whether Run is active.
func (w *UploadWorker) Alive() bool {
	return w.alive.Load()
}

// Drain uploads queued jobs until the queue is empty, a job fails, or ctx is done.
// It returns the number of jobs completed.
func (w *UploadWorker) Drain(ctx context.Context) int {
	var done int
	for ctx.Err() == nil {
		job, ok := w.queue.Peek()
		if !ok {
			return done
		}

		if err := w.upload(ctx, job); err != nil {
			if ctx.Err() != nil {
				return done
			}
			level := slog.LevelWarn
			transient := true
			var fault *domain.UploadFault
			if errors.As(err, &fault) && !fault.Transient {
				// Credentials or bucket are misconfigured.
				level, transient = slog.LevelError, false
			}
			w.logger.Log(ctx, level, "Upload failed, will retry later", "key", job.TargetKey, "path", job.SourcePath, "error", err, "transient", transient, "pending", w.queue.Len())
			return done
		}
		done++
	}
	return done
}

// WaitCallbacks blocks until all completion callbacks started so far return.
func (w *UploadWorker) WaitCallbacks() {
	w.callbacks.Wait()
}

func (w *UploadWorker) upload(ctx context.Context, job domain.UploadJob) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	// 1. Put the object. A retried put overwrites the earlier copy.
	n, err := w.store.PutObject(ctx, job.TargetKey, job.SourcePath)
	if err != nil {
		w.metrics.UploadsTotal.WithLabelValues("put_error").Inc()
		return uploadFault("put", job.TargetKey, err)
	}
	w.metrics.UploadedBytes.Add(float64(n))

	// 2. Tag it. A tag failure retries the whole job.
	if tags := job.Tags(); len(tags) > 0 {
		if err := w.store.SetObjectTags(ctx, job.TargetKey, tags); err != nil {
			w.metrics.UploadsTotal.WithLabelValues("tag_error").Inc()
			return uploadFault("tag", job.TargetKey, err)
		}
	}

	// 3. Remove it from the queue.
	if err := w.queue.Complete(ctx, job); err != nil {
		return err
	}
	w.metrics.UploadsTotal.WithLabelValues("success").Inc()
	w.logger.Info("Uploaded capture file", "key", job.TargetKey, "bytes", n)

	// 4. Hand off to the completion callback without waiting for it.
	if job.Callback != nil {
		job.UploadedBytes = n
		job.UploadedAt = w.clock.Now().UTC()
		w.callbacks.Add(1)
		go func() {
			defer w.callbacks.Done()
			job.Callback(job)
		}()
	}
	return nil
}

func (w *UploadWorker) setAlive(v bool) {
	w.alive.Store(v)
	w.metrics.UploaderAlive.Set(metrics.BoolGauge(v))
}

func uploadFault(op, key string, err error) error {
	var fault *domain.UploadFault
	if errors.As(err, &fault) {
		return err
	}
	return &domain.UploadFault{Op: op, Key: key, Transient: true, Err: err}
}
