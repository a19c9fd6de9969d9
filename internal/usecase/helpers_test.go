package usecase

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/hb-acquire/internal/adapter/metrics"
	"github.com/V4T54L/hb-acquire/internal/domain/mocks"
)

type logRecord struct {
	Level slog.Level
	Msg   string
	Attrs map[string]any
}

// recordingHandler keeps every log record so tests can assert on what was logged.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]logRecord
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, *recordingHandler) {
	h := &recordingHandler{mu: &sync.Mutex{}, records: &[]logRecord{}}
	return slog.New(h), h
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := logRecord{Level: r.Level, Msg: r.Message, Attrs: make(map[string]any)}
	for _, a := range h.attrs {
		rec.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[a.Key] = a.Value.Any()
		return true
	})
	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

// find returns the records with the given message.
func (h *recordingHandler) find(msg string) []logRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []logRecord
	for _, r := range *h.records {
		if r.Msg == msg {
			out = append(out, r)
		}
	}
	return out
}

func newTestMetrics() *metrics.AcquireMetrics {
	return metrics.NewAcquireMetrics(prometheus.NewRegistry())
}

// lineReader adapts a mock line source to the ingest loop's reader.
type lineReader struct {
	src *mocks.MockLineSource
}

func (r lineReader) ReadLine(context.Context) ([]byte, error) {
	return r.src.ReadLine()
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

type staticLiveness bool

func (s staticLiveness) Alive() bool { return bool(s) }
