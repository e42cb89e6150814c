package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileExporter appends trace records to a JSON Lines file with size-based
// rotation.
type FileExporter struct {
	filePath        string
	maxSizeBytes    int64
	maxRotatedFiles int
	file            *os.File
	encoder         *json.Encoder
	mu              sync.Mutex
	closed          bool
}

// FileExporterOption configures a FileExporter.
type FileExporterOption func(*FileExporter)

// WithMaxSize sets the maximum file size before rotation (default 10MB).
func WithMaxSize(bytes int64) FileExporterOption {
	return func(fe *FileExporter) { fe.maxSizeBytes = bytes }
}

// WithMaxRotatedFiles sets how many rotated files to keep (default 5).
func WithMaxRotatedFiles(count int) FileExporterOption {
	return func(fe *FileExporter) { fe.maxRotatedFiles = count }
}

// NewFileExporter creates a file-based trace exporter. The parent directory
// is created if absent.
func NewFileExporter(filePath string, opts ...FileExporterOption) (*FileExporter, error) {
	fe := &FileExporter{
		filePath:        filePath,
		maxSizeBytes:    10 * 1024 * 1024,
		maxRotatedFiles: 5,
	}
	for _, opt := range opts {
		opt(fe)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	fe.file = file
	fe.encoder = json.NewEncoder(file)
	return fe, nil
}

// Export writes one record as a JSON line, rotating afterwards if needed.
func (fe *FileExporter) Export(ctx context.Context, record *Record) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return fmt.Errorf("exporter closed")
	}
	if err := fe.encoder.Encode(record); err != nil {
		return fmt.Errorf("failed to encode trace record: %w", err)
	}
	if err := fe.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate trace file: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true
	if fe.file != nil {
		return fe.file.Close()
	}
	return nil
}

func (fe *FileExporter) rotateIfNeeded() error {
	info, err := fe.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < fe.maxSizeBytes {
		return nil
	}

	if err := fe.file.Close(); err != nil {
		return err
	}
	rotated := fmt.Sprintf("%s.%d", fe.filePath, nextRotationIndex(fe.filePath))
	if err := os.Rename(fe.filePath, rotated); err != nil {
		return err
	}
	fe.pruneRotated()

	file, err := os.OpenFile(fe.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	fe.file = file
	fe.encoder = json.NewEncoder(file)
	return nil
}

func nextRotationIndex(base string) int {
	for i := 1; ; i++ {
		if _, err := os.Stat(fmt.Sprintf("%s.%d", base, i)); os.IsNotExist(err) {
			return i
		}
	}
}

func (fe *FileExporter) pruneRotated() {
	matches, err := filepath.Glob(fe.filePath + ".*")
	if err != nil {
		return
	}
	var rotated []string
	for _, m := range matches {
		if !strings.HasSuffix(m, ".tmp") {
			rotated = append(rotated, m)
		}
	}
	if len(rotated) <= fe.maxRotatedFiles {
		return
	}
	sort.Strings(rotated)
	for _, old := range rotated[:len(rotated)-fe.maxRotatedFiles] {
		os.Remove(old)
	}
}

// NoopExporter discards all records.
type NoopExporter struct{}

// NewNoopExporter creates a no-op exporter.
func NewNoopExporter() *NoopExporter { return &NoopExporter{} }

// Export discards the record.
func (n *NoopExporter) Export(ctx context.Context, record *Record) error { return nil }

// Close does nothing.
func (n *NoopExporter) Close() error { return nil }
