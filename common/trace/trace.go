// Package trace provides turn ID generation and context propagation so every
// log line emitted while handling one inbound message can be correlated.
package trace

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// traceKey is the unexported context key used to store the trace ID.
type traceKey struct{}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// GenerateID returns a new trace ID. IDs sort by creation time, which keeps
// log lines of consecutive turns in order when grepped.
func GenerateID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "t_" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}
