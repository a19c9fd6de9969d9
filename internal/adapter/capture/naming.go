// Package capture persists records to rotating local capture files.
package capture

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

const (
	// FileExtension is the suffix of every capture file.
	FileExtension = ".jsonl"

	fileTimeLayout = "20060102_150405"
)

// FileName builds {node_id}_{YYYYMMDD_HHMMSS}_{capture_id_short}_{sequence}.jsonl.
func FileName(meta domain.CaptureMetadata) string {
	return fmt.Sprintf("%s_%s_%s_%04d%s",
		meta.NodeID,
		meta.CreatedAt.UTC().Format(fileTimeLayout),
		shortID(meta.CaptureID),
		meta.Sequence,
		FileExtension,
	)
}

// RemoteKey mirrors a local capture file under the {node_id}/ prefix.
func RemoteKey(nodeID, localPath string) string {
	return path.Join(nodeID, filepath.Base(localPath))
}

// RotationPolicy decides when the ingest loop rotates the active capture file.
type RotationPolicy struct {
	// Threshold is the number of records per file.
	Threshold int
}

// ShouldRotate reports whether a file holding linesWritten records is complete.
func (p RotationPolicy) ShouldRotate(linesWritten int) bool {
	return p.Threshold > 0 && linesWritten >= p.Threshold
}

func shortID(captureID string) string {
	id := strings.ReplaceAll(captureID, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
