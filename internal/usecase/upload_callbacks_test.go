package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/V4T54L/hb-acquire/internal/domain"
	"github.com/V4T54L/hb-acquire/internal/domain/mocks"
)

type fakeCompressor struct {
	paths []string
	err   error
}

func (f *fakeCompressor) Compress(path string) (string, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return "", f.err
	}
	return path + ".gz", nil
}

func TestCompletionCallback(t *testing.T) {
	job := domain.UploadJob{
		SourcePath:    "/data/a.jsonl",
		TargetKey:     "HB01/a.jsonl",
		CaptureID:     "cid",
		NodeID:        "HB01",
		UploadedBytes: 42,
		UploadedAt:    time.Date(2024, 4, 8, 18, 0, 0, 0, time.UTC),
	}

	t.Run("Catalog Then Compress", func(t *testing.T) {
		logger, _ := newRecordingLogger()
		catalog := &mocks.MockUploadCatalog{}
		compressor := &fakeCompressor{}

		NewCompletionCallback(catalog, compressor, time.Second, logger)(job)

		if len(catalog.Recorded) != 1 || catalog.Recorded[0].Key != "HB01/a.jsonl" || catalog.Recorded[0].Bytes != 42 {
			t.Errorf("unexpected catalog rows %+v", catalog.Recorded)
		}
		if len(compressor.paths) != 1 || compressor.paths[0] != "/data/a.jsonl" {
			t.Errorf("unexpected compress calls %v", compressor.paths)
		}
	})

	t.Run("Failures Are Logged", func(t *testing.T) {
		logger, logs := newRecordingLogger()
		catalog := &mocks.MockUploadCatalog{Err: errors.New("db down")}
		compressor := &fakeCompressor{err: errors.New("disk full")}

		NewCompletionCallback(catalog, compressor, time.Second, logger)(job)

		if len(logs.find("Failed to catalog upload")) != 1 {
			t.Error("expected catalog failure to be logged")
		}
		if len(logs.find("Failed to compress uploaded file, keeping original")) != 1 {
			t.Error("expected compression failure to be logged")
		}
	})

	t.Run("Optional Steps", func(t *testing.T) {
		logger, _ := newRecordingLogger()
		NewCompletionCallback(nil, nil, time.Second, logger)(job)
	})
}
