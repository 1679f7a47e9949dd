// Package reqid carries a request identifier through contexts so that log
// lines, spans and loader batches of one request can be correlated.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

type key struct{}

// NewContext returns a copy of parent with a new random request ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, uuid.UUID) {
	id := uuid.New()
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the request ID from ctx.
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(key{}).(uuid.UUID)
	return id, ok
}

// String returns the request ID of ctx, or "" when none is set.
func String(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.String()
	}
	return ""
}
