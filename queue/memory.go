package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

// MemoryTransport keeps sent bodies in memory. Reject, when set, decides
// per entry whether the queue refuses it.
type MemoryTransport struct {
	Batch  int
	Reject func(body []byte) string

	mu     sync.Mutex
	bodies [][]byte
	calls  int
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{Batch: DefaultMaxBatch}
}

func (t *MemoryTransport) MaxBatch() int { return t.Batch }

func (t *MemoryTransport) SendBatch(_ context.Context, entries []Entry) ([]EntryFailure, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	var failures []EntryFailure
	accepted := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if t.Reject != nil {
			if reason := t.Reject(e.Body); reason != "" {
				failures = append(failures, EntryFailure{ID: e.ID, Reason: reason})
				continue
			}
		}
		accepted = append(accepted, append([]byte(nil), e.Body...))
	}
	t.bodies = append(t.bodies, accepted...)
	return failures, nil
}

// Calls returns how many SendBatch calls were made.
func (t *MemoryTransport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Messages returns everything sent so far as queue messages with ids
// "msg-1", "msg-2", and so on.
func (t *MemoryTransport) Messages() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.Message, len(t.bodies))
	for i, b := range t.bodies {
		out[i] = model.Message{ID: fmt.Sprintf("msg-%d", i+1), Body: string(b)}
	}
	return out
}
