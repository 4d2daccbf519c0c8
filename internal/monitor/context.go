package monitor

import (
	"context"

	"github.com/google/uuid"
)

type correlationKeyType struct{}

var correlationKey correlationKeyType

// WithCorrelationID returns a context carrying a fresh correlation id.
// Each process (supervisor, worker) mints its own id at startup so log lines
// across the fleet can be stitched together.
func WithCorrelationID(ctx context.Context) context.Context {
	return context.WithValue(ctx, correlationKey, uuid.NewString())
}

// CorrelationID returns the correlation id carried by ctx, or "" when unset.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}
