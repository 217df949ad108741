// Package queue publishes normalized records to a message queue in bounded
// batches and consumes queued messages for the transform stage.
package queue

import "context"

// Entry is one message in a send batch. ID is positional within the batch.
type Entry struct {
	ID   string
	Body []byte
}

// EntryFailure reports a rejected entry of a send batch.
type EntryFailure struct {
	ID     string
	Reason string
}

// Transport sends batches of entries to a queue.
type Transport interface {
	// MaxBatch is the largest batch SendBatch accepts.
	MaxBatch() int
	// SendBatch returns the per-entry rejections of a batch the queue
	// accepted, or an error when the whole call failed.
	SendBatch(ctx context.Context, entries []Entry) ([]EntryFailure, error)
}
