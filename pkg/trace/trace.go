// Package trace exports sanitized operation traces. Records carry stage
// timings and identifiers only; never query text or node payloads.
package trace

import (
	"context"
	"time"
)

// Exporter writes trace records to a destination. Implementations must be
// safe for concurrent use.
type Exporter interface {
	// Export writes one trace record.
	Export(ctx context.Context, record *Record) error

	// Close flushes buffered records and releases resources.
	Close() error
}

// Record is one sanitized operation trace.
type Record struct {
	// Timestamp is the operation start time.
	Timestamp time.Time `json:"timestamp"`

	// OperationID uniquely identifies the operation for correlation.
	OperationID string `json:"operationId"`

	// Operation is "reason", "learn" or "maintenance".
	Operation string `json:"operation"`

	// DurationMs is the total operation duration.
	DurationMs int64 `json:"durationMs"`

	// Status is "success" or "error".
	Status string `json:"status"`

	// Spans holds per-stage timing and status.
	Spans []Span `json:"spans"`

	// ErrorType classifies the error when Status is "error": not_found,
	// invariant, io, format, timeout, budget, unknown.
	ErrorType string `json:"errorType,omitempty"`

	// Counters holds operation-level counts (paths explored, edges
	// reinforced), never content.
	Counters map[string]int64 `json:"counters,omitempty"`
}

// Span is one stage within an operation.
type Span struct {
	// Name is the stage name: route, search, render, reinforce, mine, decay.
	Name string `json:"name"`

	// DurationMs is the stage duration.
	DurationMs int64 `json:"durationMs"`

	// OK indicates success.
	OK bool `json:"ok"`

	// ErrorType classifies the failure when OK is false.
	ErrorType string `json:"errorType,omitempty"`
}
