package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/V4T54L/hb-acquire/internal/domain"
	"github.com/V4T54L/hb-acquire/internal/domain/mocks"
)

type workerFixture struct {
	queue   *UploadQueue
	store   *mocks.MockObjectStore
	journal *mocks.MockUploadJournal
	worker  *UploadWorker
	clock   *testclock.Clock
	logs    *recordingHandler
	dir     string
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	logger, logs := newRecordingLogger()
	m := newTestMetrics()
	journal := &mocks.MockUploadJournal{}
	queue := NewUploadQueue(journal, m, logger)
	store := mocks.NewMockObjectStore()
	clk := testclock.NewClock(time.Date(2024, 4, 8, 18, 0, 0, 0, time.UTC))
	return &workerFixture{
		queue:   queue,
		store:   store,
		journal: journal,
		worker:  NewUploadWorker(queue, store, nil, clk, 5*time.Second, m, logger),
		clock:   clk,
		logs:    logs,
		dir:     t.TempDir(),
	}
}

func (f *workerFixture) push(t *testing.T, name, content string, cb domain.UploadCallback) domain.UploadJob {
	t.Helper()
	job := domain.UploadJob{
		SourcePath: writeTempFile(t, f.dir, name, content),
		TargetKey:  "HB01/" + name,
		CaptureID:  "0a1b2c3d-4e5f-6789-abcd-ef0123456789",
		NodeID:     "HB01",
		Callback:   cb,
	}
	f.queue.Push(context.Background(), job)
	return job
}

func TestUploadWorker_Drain(t *testing.T) {
	ctx := context.Background()

	t.Run("Failed Job Blocks Later Jobs Until It Succeeds", func(t *testing.T) {
		f := newWorkerFixture(t)
		j1 := f.push(t, "a.jsonl", "one", nil)
		j2 := f.push(t, "b.jsonl", "two", nil)
		j3 := f.push(t, "c.jsonl", "three", nil)
		f.store.PutErrs[j2.TargetKey] = []error{errors.New("connection reset"), errors.New("503 slow down")}

		if n := f.worker.Drain(ctx); n != 1 {
			t.Fatalf("first cycle: expected 1 upload, got %d", n)
		}
		if n := f.worker.Drain(ctx); n != 0 {
			t.Fatalf("second cycle: expected 0 uploads, got %d", n)
		}
		if got := f.store.PutCalls; got != 3 {
			t.Fatalf("job 3 must not be attempted while job 2 fails, put calls = %d", got)
		}
		if n := f.worker.Drain(ctx); n != 2 {
			t.Fatalf("third cycle: expected 2 uploads, got %d", n)
		}

		want := []string{j1.TargetKey, j2.TargetKey, j3.TargetKey}
		got := f.store.Uploaded()
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("upload %d: got %s, want %s", i, got[i], want[i])
			}
		}

		retries := f.logs.find("Upload failed, will retry later")
		if len(retries) != 2 {
			t.Fatalf("expected 2 retry logs, got %d", len(retries))
		}
		for _, r := range retries {
			if r.Attrs["key"] != j2.TargetKey {
				t.Errorf("retry logged for wrong key %v", r.Attrs["key"])
			}
		}

		if f.queue.Len() != 0 {
			t.Errorf("expected empty queue, got %d", f.queue.Len())
		}
		if f.journal.Truncates == 0 {
			t.Error("expected journal to be truncated once the queue drained")
		}
		if got := testutil.ToFloat64(f.worker.metrics.UploadsTotal.WithLabelValues("put_error")); got != 2 {
			t.Errorf("expected 2 put errors, got %v", got)
		}
	})

	t.Run("Tag Failure Retries Whole Job Idempotently", func(t *testing.T) {
		f := newWorkerFixture(t)
		job := f.push(t, "a.jsonl", "payload", nil)
		f.store.TagErrs[job.TargetKey] = []error{errors.New("tagging unavailable")}

		if n := f.worker.Drain(ctx); n != 0 {
			t.Fatalf("expected tag failure to block the job, got %d uploads", n)
		}
		if f.queue.Len() != 1 {
			t.Fatalf("expected job to stay queued, got %d", f.queue.Len())
		}

		if n := f.worker.Drain(ctx); n != 1 {
			t.Fatalf("expected retry to succeed, got %d uploads", n)
		}
		if string(f.store.Objects[job.TargetKey]) != "payload" {
			t.Errorf("unexpected object content %q", f.store.Objects[job.TargetKey])
		}
		tags := f.store.Tags[job.TargetKey]
		if tags["capture_id"] != job.CaptureID || tags["node_id"] != "HB01" {
			t.Errorf("unexpected tags %v", tags)
		}
		if f.store.PutCalls != 2 {
			t.Errorf("expected the object to be put twice, got %d", f.store.PutCalls)
		}
	})

	t.Run("Permanent Fault Is Logged At Error", func(t *testing.T) {
		f := newWorkerFixture(t)
		job := f.push(t, "a.jsonl", "payload", nil)
		f.store.PutErrs[job.TargetKey] = []error{
			&domain.UploadFault{Op: "put", Key: job.TargetKey, Transient: false, Err: errors.New("AccessDenied")},
			errors.New("connection reset"),
		}

		f.worker.Drain(ctx)
		f.worker.Drain(ctx)

		retries := f.logs.find("Upload failed, will retry later")
		if len(retries) != 2 {
			t.Fatalf("expected 2 retry logs, got %d", len(retries))
		}
		if retries[0].Level != slog.LevelError || retries[0].Attrs["transient"] != false {
			t.Errorf("permanent fault: got level %v transient %v", retries[0].Level, retries[0].Attrs["transient"])
		}
		if retries[1].Level != slog.LevelWarn || retries[1].Attrs["transient"] != true {
			t.Errorf("transient fault: got level %v transient %v", retries[1].Level, retries[1].Attrs["transient"])
		}
		if f.queue.Len() != 1 {
			t.Errorf("expected job to stay queued, got %d", f.queue.Len())
		}
	})

	t.Run("Callback Runs After Upload", func(t *testing.T) {
		f := newWorkerFixture(t)
		done := make(chan domain.UploadJob, 1)
		f.push(t, "a.jsonl", "12345", func(job domain.UploadJob) { done <- job })

		f.worker.Drain(ctx)
		f.worker.WaitCallbacks()

		select {
		case job := <-done:
			if job.UploadedBytes != 5 {
				t.Errorf("expected 5 uploaded bytes, got %d", job.UploadedBytes)
			}
			if job.UploadedAt.IsZero() {
				t.Error("expected UploadedAt to be set")
			}
		default:
			t.Fatal("callback was not invoked")
		}
	})
}

func TestUploadWorker_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newWorkerFixture(t)
	f.push(t, "a.jsonl", "one", nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(stopped)
	}()

	// Run drains once, then sleeps for the poll interval.
	if err := f.clock.WaitAdvance(5*time.Second, time.Second, 1); err != nil {
		t.Fatalf("worker did not wait for the poll interval: %v", err)
	}
	if !f.worker.Alive() {
		t.Error("expected worker to be alive while running")
	}
	f.push(t, "b.jsonl", "two", nil)
	if err := f.clock.WaitAdvance(5*time.Second, time.Second, 1); err != nil {
		t.Fatalf("worker did not return to polling: %v", err)
	}

	cancel()
	<-stopped

	if f.worker.Alive() {
		t.Error("expected worker to report not alive after Run returns")
	}
	if got := f.store.Uploaded(); len(got) < 1 || got[0] != "HB01/a.jsonl" {
		t.Errorf("unexpected uploads %v", got)
	}
}

func TestUploader_Upload(t *testing.T) {
	logger, logs := newRecordingLogger()
	queue := NewUploadQueue(&mocks.MockUploadJournal{}, newTestMetrics(), logger)
	session := domain.NewSession("HB01", "", "", time.Now())

	t.Run("Dead Worker Still Queues", func(t *testing.T) {
		u := NewUploader(queue, staticLiveness(false), session, logger)
		if err := u.Upload(context.Background(), "/data/a.jsonl", "HB01/a.jsonl", nil); err != nil {
			t.Fatalf("expected upload to be queued, got %v", err)
		}
		if queue.Len() != 1 {
			t.Errorf("expected 1 queued job, got %d", queue.Len())
		}
		faults := logs.find("Upload worker is not running, job queued without a consumer")
		if len(faults) != 1 || faults[0].Level != slog.LevelError {
			t.Errorf("expected one error log for the dead worker, got %v", faults)
		}
		job, _ := queue.Peek()
		if job.CaptureID != session.CaptureID.String() || job.NodeID != "HB01" {
			t.Errorf("job lacks session identity: %+v", job)
		}
	})

	t.Run("Missing Key Rejected", func(t *testing.T) {
		u := NewUploader(queue, staticLiveness(true), session, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err := u.Upload(context.Background(), "/data/a.jsonl", "", nil); err == nil {
			t.Error("expected an error for an empty key")
		}
	})
}
