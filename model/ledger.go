package model

import (
	"encoding/json"
	"time"
)

// Status is the state of a ledger entry.
type Status string

const (
	StatusNone       Status = "NONE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// LedgerEntry is the idempotency row for one work-unit key.
type LedgerEntry struct {
	Key       string          `json:"pk"`
	Status    Status          `json:"status"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Attempts  int             `json:"attempts"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	PurgeAt   *time.Time      `json:"purge_at,omitempty"`
}

// LeaseExpired reports whether the entry carries a lease that ended before now.
func (e *LedgerEntry) LeaseExpired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// Purged reports whether the store-level retention of the entry has passed.
func (e *LedgerEntry) Purged(now time.Time) bool {
	return e.PurgeAt != nil && !e.PurgeAt.After(now)
}
