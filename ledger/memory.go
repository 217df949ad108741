package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

// MemoryStore is an in-process Store. It gives no protection across
// processes and is meant for tests and single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]model.LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]model.LedgerEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		e.ExpiresAt = &t
	}
	return &e, nil
}

func (s *MemoryStore) Claim(_ context.Context, key string, now, expiresAt time.Time, purgeAt *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && !e.Purged(now) && e.Status != model.StatusFailed && !e.LeaseExpired(now) {
		return 0, ErrConditionFailed
	}

	s.entries[key] = model.LedgerEntry{
		Key:       key,
		Status:    model.StatusInProgress,
		ExpiresAt: &expiresAt,
		Attempts:  e.Attempts + 1,
		UpdatedAt: now,
		PurgeAt:   purgeAt,
	}
	return e.Attempts + 1, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, attempt int, result []byte, now time.Time, purgeAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.owned(key, attempt, now)
	if !ok {
		return ErrConditionFailed
	}
	e.Status = model.StatusDone
	e.ExpiresAt = nil
	e.Result = append([]byte(nil), result...)
	e.UpdatedAt = now
	if purgeAt != nil {
		e.PurgeAt = purgeAt
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, key string, attempt int, reason string, now, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.owned(key, attempt, now)
	if !ok {
		return ErrConditionFailed
	}
	e.Status = model.StatusFailed
	e.ExpiresAt = &expiresAt
	e.Error = reason
	e.UpdatedAt = now
	s.entries[key] = e
	return nil
}

// owned must be called with the lock held.
func (s *MemoryStore) owned(key string, attempt int, now time.Time) (model.LedgerEntry, bool) {
	e, ok := s.entries[key]
	if !ok || e.Purged(now) || e.Status != model.StatusInProgress || e.Attempts != attempt {
		return model.LedgerEntry{}, false
	}
	return e, true
}
