package usecase

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/V4T54L/hb-acquire/internal/domain"
	"github.com/V4T54L/hb-acquire/internal/domain/mocks"
)

func TestUploadQueue(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("FIFO With Journal", func(t *testing.T) {
		journal := &mocks.MockUploadJournal{}
		q := NewUploadQueue(journal, newTestMetrics(), logger)

		a := domain.UploadJob{SourcePath: "/d/a", TargetKey: "n/a"}
		b := domain.UploadJob{SourcePath: "/d/b", TargetKey: "n/b"}
		q.Push(ctx, a)
		q.Push(ctx, b)

		head, ok := q.Peek()
		if !ok || head.TargetKey != "n/a" {
			t.Fatalf("expected head n/a, got %+v", head)
		}
		if err := q.Complete(ctx, b); err == nil {
			t.Error("completing a job that is not the head must fail")
		}
		if err := q.Complete(ctx, a); err != nil {
			t.Fatalf("complete failed: %v", err)
		}
		if head, _ := q.Peek(); head.TargetKey != "n/b" {
			t.Errorf("expected head n/b, got %s", head.TargetKey)
		}

		ops := []domain.JournalOp{domain.JournalEnqueued, domain.JournalEnqueued, domain.JournalCompleted}
		if len(journal.Entries) != len(ops) {
			t.Fatalf("expected %d journal entries, got %d", len(ops), len(journal.Entries))
		}
		for i, op := range ops {
			if journal.Entries[i].Op != op {
				t.Errorf("entry %d: got %s, want %s", i, journal.Entries[i].Op, op)
			}
		}

		_ = q.Complete(ctx, b)
		if q.Len() != 0 || journal.Truncates != 1 {
			t.Errorf("expected empty queue and truncated journal, len=%d truncates=%d", q.Len(), journal.Truncates)
		}
	})

	t.Run("Journal Failure Does Not Drop Job", func(t *testing.T) {
		journal := &mocks.MockUploadJournal{WriteErr: io.ErrShortWrite}
		q := NewUploadQueue(journal, newTestMetrics(), logger)
		q.Push(ctx, domain.UploadJob{SourcePath: "/d/a", TargetKey: "n/a"})
		if q.Len() != 1 {
			t.Errorf("expected job in memory despite journal failure, got %d", q.Len())
		}
	})

	t.Run("Restore Pending Jobs In Order", func(t *testing.T) {
		dir := t.TempDir()
		a := domain.UploadJob{SourcePath: writeTempFile(t, dir, "a", "a"), TargetKey: "n/a"}
		b := domain.UploadJob{SourcePath: writeTempFile(t, dir, "b", "b"), TargetKey: "n/b"}
		c := domain.UploadJob{SourcePath: writeTempFile(t, dir, "c", "c"), TargetKey: "n/c"}
		gone := domain.UploadJob{SourcePath: filepath.Join(dir, "gone"), TargetKey: "n/gone"}

		journal := &mocks.MockUploadJournal{Entries: []domain.JournalEntry{
			{Op: domain.JournalEnqueued, Job: a},
			{Op: domain.JournalEnqueued, Job: b},
			{Op: domain.JournalCompleted, Job: a},
			{Op: domain.JournalEnqueued, Job: gone},
			{Op: domain.JournalEnqueued, Job: c},
		}}
		q := NewUploadQueue(journal, newTestMetrics(), logger)

		called := false
		n, err := q.Restore(ctx, func(domain.UploadJob) { called = true })
		if err != nil {
			t.Fatalf("restore failed: %v", err)
		}
		if n != 2 || q.Len() != 2 {
			t.Fatalf("expected 2 restored jobs, got n=%d len=%d", n, q.Len())
		}

		head, _ := q.Peek()
		if head.TargetKey != "n/b" {
			t.Errorf("expected n/b first, got %s", head.TargetKey)
		}
		if head.Callback == nil {
			t.Fatal("expected callback to be attached")
		}
		head.Callback(head)
		if !called {
			t.Error("attached callback is not the one supplied")
		}
	})

	t.Run("Restore Empty Journal Truncates", func(t *testing.T) {
		journal := &mocks.MockUploadJournal{}
		q := NewUploadQueue(journal, newTestMetrics(), logger)
		if n, err := q.Restore(ctx, nil); err != nil || n != 0 {
			t.Fatalf("unexpected restore result n=%d err=%v", n, err)
		}
		if journal.Truncates != 1 {
			t.Errorf("expected journal truncation, got %d", journal.Truncates)
		}
	})
}
