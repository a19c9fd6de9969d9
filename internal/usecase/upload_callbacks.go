package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

// FileCompressor replaces a file with a compressed copy and returns the new path.
type FileCompressor interface {
	Compress(path string) (string, error)
}

// NewCompletionCallback builds the callback run after each confirmed upload: record
// the object in the catalog, then compress the local copy. Either step may be nil.
// Failures are logged; the local file is never deleted uncompressed.
func NewCompletionCallback(catalog domain.UploadCatalog, compressor FileCompressor, timeout time.Duration, logger *slog.Logger) domain.UploadCallback {
	logger = logger.With("component", "upload_callback")

	return func(job domain.UploadJob) {
		if catalog != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := catalog.RecordUpload(ctx, domain.UploadedObject{
				Key:        job.TargetKey,
				CaptureID:  job.CaptureID,
				NodeID:     job.NodeID,
				Bytes:      job.UploadedBytes,
				UploadedAt: job.UploadedAt,
			})
			cancel()
			if err != nil {
				logger.Warn("Failed to catalog upload", "key", job.TargetKey, "error", err)
			}
		}

		if compressor != nil {
			out, err := compressor.Compress(job.SourcePath)
			if err != nil {
				logger.Warn("Failed to compress uploaded file, keeping original", "path", job.SourcePath, "error", err)
				return
			}
			logger.Debug("Compressed uploaded file", "path", out)
		}
	}
}
