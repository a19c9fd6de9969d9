// Package compress shrinks uploaded capture files in place.
package compress

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Extension is appended to compressed files.
const Extension = ".gz"

// Gzip replaces a file with its gzip-compressed copy.
type Gzip struct {
	level  int
	logger *slog.Logger
}

// NewGzip creates a new Gzip compressor. Level follows compress/gzip conventions.
func NewGzip(level int, logger *slog.Logger) *Gzip {
	return &Gzip{level: level, logger: logger.With("component", "compress")}
}

// Compress writes path+".gz" and removes path once the copy is durable. On any
// failure the original is left untouched.
func (g *Gzip) Compress(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	target := path + Extension
	tmp := target + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	if err := g.write(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	if err := os.Remove(path); err != nil {
		g.logger.Warn("Compressed copy written but original could not be removed", "path", path, "error", err)
	}

	g.logger.Debug("Compressed capture file", "path", target)
	return target, nil
}

func (g *Gzip) write(dst *os.File, src io.Reader) error {
	zw, err := gzip.NewWriterLevel(dst, g.level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return fmt.Errorf("failed to compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("failed to sync compressed file: %w", err)
	}
	return nil
}
