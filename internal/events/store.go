package events

import (
	"time"

	"github.com/google/uuid"
)

// AggregateStart is emitted before an aggregation is sent to the database.
type AggregateStart struct {
	OpID uuid.UUID
	// BatchID is the loader batch issuing the read, or the zero UUID.
	BatchID    uuid.UUID
	Collection string
	Stages     int
}

// AggregateFinish is emitted after the aggregation cursor is drained.
type AggregateFinish struct {
	OpID       uuid.UUID
	Collection string
	Stages     int
	Documents  int
	Err        error
	Duration   time.Duration
}
