package capture

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

const maxLineSize = 16 << 20

// ReadCaptureFile decodes a capture file, plain or gzip-compressed, into its
// header and records.
func ReadCaptureFile(path string) (domain.CaptureMetadata, []domain.Record, error) {
	var meta domain.CaptureMetadata

	f, err := os.Open(path)
	if err != nil {
		return meta, nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return meta, nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return meta, nil, fmt.Errorf("failed to read header of %s: %w", path, err)
		}
		return meta, nil, errors.New("capture file has no header")
	}
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return meta, nil, fmt.Errorf("failed to decode header of %s: %w", path, err)
	}

	var records []domain.Record
	for scanner.Scan() {
		var rec domain.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return meta, records, fmt.Errorf("failed to decode record %d of %s: %w", len(records), path, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return meta, records, fmt.Errorf("error scanning %s: %w", path, err)
	}
	return meta, records, nil
}
