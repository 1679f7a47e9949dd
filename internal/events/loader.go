package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LoaderBatchStart is emitted before a loader dispatches one batch.
type LoaderBatchStart struct {
	Loader  string
	BatchID uuid.UUID
	Group   string
	// Keys is the number of distinct (id, leaf query) keys in the batch.
	Keys int
	// IDs is the number of distinct ids in the batch.
	IDs int
}

// LoaderBatchFinish is emitted after a batch completes.
type LoaderBatchFinish struct {
	Loader   string
	BatchID  uuid.UUID
	Group    string
	Keys     int
	IDs      int
	Err      error
	Duration time.Duration
}

type batchKey struct{}

// WithBatch returns a context carrying the id of the batch being dispatched.
func WithBatch(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, batchKey{}, id)
}

// BatchFromContext returns the batch id set by WithBatch.
func BatchFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(batchKey{}).(uuid.UUID)
	return id, ok
}
