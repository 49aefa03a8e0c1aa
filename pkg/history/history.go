// Package history persists chat turns. A record's output is mutable only
// while its generation is in flight: it starts as the thinking
// placeholder, is overwritten with the full accumulated text on every
// increment, and freezes once the generation reaches a terminal state.
package history

import (
	"context"
	"time"
)

// Placeholder is the sentinel output of a record whose generation has not
// produced content yet.
const Placeholder = "* ...thinking... *"

// Record is one persisted chat turn.
type Record struct {
	ID        int64
	ChatID    int64
	UserID    int64
	IsBot     bool
	Chained   bool
	Final     bool
	Output    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the durable record store. Ids are assigned on creation and
// never reused.
type Store interface {
	// Create inserts a record and returns it with its assigned id. An
	// empty Output is replaced with the Placeholder.
	Create(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id int64) (Record, error)
	// UpdateOutput overwrites the in-progress output with the full
	// accumulated text. Fails once the record is finalized.
	UpdateOutput(ctx context.Context, id int64, output string) error
	// Finalize freezes the record with its final output. Idempotent for
	// the same output.
	Finalize(ctx context.Context, id int64, output string) error
	// Delete force-removes a record. Callers must first check the task
	// registry: deletion is not permitted while a generation is active.
	Delete(ctx context.Context, id int64) error
}
