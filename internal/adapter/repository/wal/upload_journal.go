// Package wal keeps the upload queue durable as an append-only, segmented journal
// of JSON lines.
package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

const (
	segmentPrefix = "journal-"
	segmentSuffix = ".log"
	filePerm      = 0644
)

// UploadJournal implements domain.UploadJournal. Every entry is fsynced before
// Write returns.
type UploadJournal struct {
	dir            string
	maxSegmentSize int64
	logger         *slog.Logger

	mu          sync.Mutex
	segment     *os.File
	segmentSize int64
	nextIndex   uint64
}

// NewUploadJournal creates a new UploadJournal in dir, appending to the newest
// existing segment if there is one.
func NewUploadJournal(dir string, maxSegmentSize int64, logger *slog.Logger) (*UploadJournal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory %s: %w", dir, err)
	}

	j := &UploadJournal{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		logger:         logger.With("component", "upload_journal"),
	}

	if err := j.openLatestSegment(); err != nil {
		return nil, err
	}
	return j, nil
}

// Write appends an entry to the current segment.
func (j *UploadJournal) Write(ctx context.Context, entry domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	if j.segment == nil {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	n, err := j.segment.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	if err := j.segment.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal segment: %w", err)
	}
	j.segmentSize += int64(n)

	if j.maxSegmentSize > 0 && j.segmentSize >= j.maxSegmentSize {
		if err := j.rotate(); err != nil {
			j.logger.Error("Failed to rotate journal segment", "error", err)
		}
	}
	return nil
}

// Replay reads all segments oldest first and calls handler for each entry. A torn
// final line left by a crash is skipped.
func (j *UploadJournal) Replay(ctx context.Context, handler func(entry domain.JournalEntry) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	segments, err := j.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	j.logger.Info("Replaying upload journal", "segment_count", len(segments))

	for _, path := range segments {
		if err := j.replaySegment(ctx, path, handler); err != nil {
			return err
		}
	}
	return nil
}

func (j *UploadJournal) replaySegment(ctx context.Context, path string, handler func(domain.JournalEntry) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open journal segment %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var entry domain.JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			j.logger.Warn("Skipping unreadable journal entry", "segment", path, "error", err)
			continue
		}
		if err := handler(entry); err != nil {
			return fmt.Errorf("journal replay handler failed: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning journal segment %s: %w", path, err)
	}
	return nil
}

// Truncate removes every segment and starts a fresh one.
func (j *UploadJournal) Truncate(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.segment != nil {
		j.segment.Close()
		j.segment = nil
	}

	segments, err := j.sortedSegments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		if err := os.Remove(path); err != nil {
			j.logger.Error("Failed to remove journal segment", "path", path, "error", err)
		}
	}

	j.logger.Debug("Upload journal truncated", "removed", len(segments))
	return j.rotate()
}

// Close syncs and closes the current segment.
func (j *UploadJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.segment == nil {
		return nil
	}
	if err := j.segment.Sync(); err != nil {
		j.logger.Error("Failed to sync journal segment on close", "error", err)
	}
	err := j.segment.Close()
	j.segment = nil
	return err
}

func (j *UploadJournal) rotate() error {
	if j.segment != nil {
		if err := j.segment.Close(); err != nil {
			j.logger.Error("Failed to close journal segment before rotating", "error", err)
		}
		j.segment = nil
	}

	path := filepath.Join(j.dir, fmt.Sprintf("%s%020d%s", segmentPrefix, j.nextIndex, segmentSuffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create journal segment %s: %w", path, err)
	}

	j.nextIndex++
	j.segment = f
	j.segmentSize = 0
	return nil
}

func (j *UploadJournal) openLatestSegment() error {
	segments, err := j.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return j.rotate()
	}

	latest := segments[len(segments)-1]
	idx, err := segmentIndex(latest)
	if err != nil {
		return err
	}
	j.nextIndex = idx + 1

	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat journal segment %s: %w", latest, err)
	}
	if j.maxSegmentSize > 0 && stat.Size() >= j.maxSegmentSize {
		return j.rotate()
	}
	// A segment ending in a torn line is left as is so new entries are not glued to it.
	if torn, err := endsWithTornLine(latest, stat.Size()); err != nil || torn {
		if err != nil {
			j.logger.Warn("Could not inspect journal segment tail", "path", latest, "error", err)
		}
		return j.rotate()
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open journal segment %s: %w", latest, err)
	}
	j.segment = f
	j.segmentSize = stat.Size()
	j.logger.Info("Opened existing journal segment", "path", latest, "size", j.segmentSize)
	return nil
}

func (j *UploadJournal) sortedSegments() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix) {
			segments = append(segments, filepath.Join(j.dir, name))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func segmentIndex(path string) (uint64, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), segmentPrefix), segmentSuffix)
	idx, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed journal segment name %s: %w", path, err)
	}
	return idx, nil
}

func endsWithTornLine(path string, size int64) (bool, error) {
	if size == 0 {
		return false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}
