package metrics

import "context"

// NoopCollector discards all metrics.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordOperation does nothing.
func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

// RecordStage does nothing.
func (n *NoopCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
}

// RecordError does nothing.
func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {}

// SetStorageCount does nothing.
func (n *NoopCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {}
