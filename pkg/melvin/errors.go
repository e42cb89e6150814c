package melvin

import (
	"context"
	"errors"
	"strings"

	"github.com/Jak3Gil/melvin/pkg/store"
)

// Error kind labels used in metrics and traces.
const (
	ErrKindNotFound  = "not_found"
	ErrKindInvariant = "invariant"
	ErrKindIO        = "io"
	ErrKindFormat    = "format"
	ErrKindTimeout   = "timeout"
	ErrKindBudget    = "budget"
	ErrKindUnknown   = "unknown"
)

// ClassifyError maps an error to its kind label. Used to group failures by
// category in metrics and traces.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrKindTimeout
	case errors.Is(err, store.ErrNotFound):
		return ErrKindNotFound
	case errors.Is(err, store.ErrInvariant):
		return ErrKindInvariant
	case errors.Is(err, store.ErrFormat):
		return ErrKindFormat
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrKindTimeout
	case strings.Contains(msg, "budget"):
		return ErrKindBudget
	case strings.Contains(msg, "read") || strings.Contains(msg, "write") ||
		strings.Contains(msg, "open") || strings.Contains(msg, "sync") ||
		strings.Contains(msg, "permission denied") || strings.Contains(msg, "no space"):
		return ErrKindIO
	}
	return ErrKindUnknown
}
