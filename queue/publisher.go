package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

// DefaultMaxBatch is used when a transport reports no batch limit.
const DefaultMaxBatch = 10

// PublishError is returned when a sub-batch could not be fully sent. Records
// in earlier sub-batches were sent; the rest were not.
type PublishError struct {
	Failed      int
	FirstReason string
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed for %d entries: %s", e.Failed, e.FirstReason)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher sends records through a Transport in sub-batches.
type Publisher struct {
	transport Transport
}

func NewPublisher(t Transport) *Publisher {
	return &Publisher{transport: t}
}

// Publish sends records sequentially in sub-batches of the transport's
// maximum size and stops at the first sub-batch with any failed entry. It
// returns the number of records sent before that point.
func (p *Publisher) Publish(ctx context.Context, records []model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	bodies := make([][]byte, len(records))
	for i, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("encode record %d: %w", i, err)
		}
		bodies[i] = b
	}

	size := p.transport.MaxBatch()
	if size <= 0 {
		size = DefaultMaxBatch
	}

	sent := 0
	for start := 0; start < len(bodies); start += size {
		end := min(start+size, len(bodies))

		entries := make([]Entry, 0, end-start)
		for i := start; i < end; i++ {
			entries = append(entries, Entry{ID: strconv.Itoa(i - start), Body: bodies[i]})
		}

		failures, err := p.transport.SendBatch(ctx, entries)
		if err != nil {
			return sent, &PublishError{Failed: len(entries), FirstReason: err.Error(), Err: err}
		}
		if len(failures) > 0 {
			return sent, &PublishError{Failed: len(failures), FirstReason: failures[0].Reason}
		}
		sent += len(entries)
	}
	return sent, nil
}
