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
	"strings"
	"sync"
	"time"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

const (
	segmentPrefix = "segment-"
	filePerm      = 0644
)

// Repository implements domain.WALRepository as a directory of append-only
// newline-delimited JSON segments. Records land here when the durable store
// rejects an append; the coordinator replays them once the store recovers.
type Repository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
	replayed       []string
}

// NewRepository creates the WAL directory if needed and opens the latest
// segment for appending.
func NewRepository(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Repository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", dir, err)
	}

	w := &Repository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "wal_repository"),
	}

	if err := w.openLatestSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends a record to the current WAL segment.
func (w *Repository) Write(ctx context.Context, record *domain.TrafficRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record for WAL: %w", err)
	}
	data = append(data, '\n')

	if w.currentSegment == nil {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	totalSize, err := w.totalSize()
	if err != nil {
		return fmt.Errorf("could not verify WAL disk space: %w", err)
	}
	if totalSize+int64(len(data)) > w.maxTotalSize {
		return fmt.Errorf("WAL max total size exceeded (%d > %d)", totalSize, w.maxTotalSize)
	}

	n, err := w.currentSegment.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write to WAL segment: %w", err)
	}
	w.currentSize += int64(n)

	if w.currentSize >= w.maxSegmentSize {
		if err := w.rotate(); err != nil {
			w.logger.Error("failed to rotate WAL segment", "error", err)
		}
	}
	return nil
}

// Replay seals the segments present at call time, then reads them in write
// order and calls the handler for each record. Records written concurrently
// land in a fresh segment that this replay never reads and the following
// Truncate never removes; they stay parked for the next cycle. Undecodable
// lines are skipped; a handler failure stops the replay with every segment
// left in place.
func (w *Repository) Replay(ctx context.Context, handler func(record *domain.TrafficRecord) error) error {
	w.mu.Lock()
	sealed, err := w.sortedSegments()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if len(sealed) == 0 {
		w.mu.Unlock()
		return nil
	}
	// Rotating moves concurrent writers onto a segment outside the sealed
	// set. Sealed segments are immutable from here on, so they can be read
	// without holding the lock.
	if err := w.rotate(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	w.logger.Info("starting WAL replay", "segment_count", len(sealed))
	for _, segmentPath := range sealed {
		if err := w.replaySegment(ctx, segmentPath, handler); err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.replayed = sealed
	w.mu.Unlock()

	w.logger.Info("WAL replay completed")
	return nil
}

func (w *Repository) replaySegment(ctx context.Context, path string, handler func(record *domain.TrafficRecord) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var record domain.TrafficRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			w.logger.Warn("failed to unmarshal record from WAL, skipping", "error", err)
			continue
		}
		// Re-appending assigns a fresh store id.
		record.ID = 0
		if err := handler(&record); err != nil {
			return fmt.Errorf("replay handler failed: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return nil
}

// Truncate removes exactly the segments the last completed Replay read.
// The current segment and anything written since that replay started are
// kept. Without a completed replay this is a no-op.
func (w *Repository) Truncate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, segmentPath := range w.replayed {
		if err := os.Remove(segmentPath); err != nil && !os.IsNotExist(err) {
			w.logger.Error("failed to remove WAL segment", "path", segmentPath, "error", err)
		}
	}
	w.replayed = nil
	return nil
}

// HasPending reports whether any bytes are waiting for replay.
func (w *Repository) HasPending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	size, err := w.totalSize()
	if err != nil {
		w.logger.Error("failed to size WAL", "error", err)
		return false
	}
	return size > 0
}

func (w *Repository) rotate() error {
	if w.currentSegment != nil {
		if err := w.currentSegment.Sync(); err != nil {
			w.logger.Error("failed to sync WAL segment before rotating", "error", err)
		}
		if err := w.currentSegment.Close(); err != nil {
			w.logger.Error("failed to close WAL segment before rotating", "error", err)
		}
		w.currentSegment = nil
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s%d.log", segmentPrefix, time.Now().UnixNano()))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create new WAL segment %s: %w", path, err)
	}

	w.currentSegment = f
	w.currentSize = 0
	return nil
}

func (w *Repository) openLatestSegment() error {
	segments, err := w.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return w.rotate()
	}

	latest := segments[len(segments)-1]
	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latest, err)
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latest, err)
	}

	w.currentSegment = f
	w.currentSize = stat.Size()

	if w.currentSize >= w.maxSegmentSize {
		return w.rotate()
	}
	return nil
}

func (w *Repository) sortedSegments() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			segments = append(segments, filepath.Join(w.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (w *Repository) totalSize() (int64, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), segmentPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// Close ensures the current segment is closed gracefully.
func (w *Repository) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentSegment != nil {
		return w.currentSegment.Close()
	}
	return nil
}
