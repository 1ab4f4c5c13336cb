// Package core carries cross-cutting context helpers: the run identifier of
// the current poll cycle and the logger attached to it.
package core

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}

// NewRunID returns a fresh identifier for one poll cycle.
func NewRunID() string {
	return "run-" + uuid.NewString()
}

func WithRunID(ctx context.Context, runID string) context.Context {
	if ctx == nil || runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// MaskSecret keeps a short recognizable prefix and hides the rest. Used
// anywhere a credential value could end up in a log line.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}
