package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

var (
	// ErrNotFound is returned by Store.Get for absent entries. Stores may
	// return entries whose purge_at has passed but which were not yet
	// dropped; the Ledger treats those as absent.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrConditionFailed is returned by a Store when a conditional write's
	// precondition does not hold.
	ErrConditionFailed = errors.New("ledger condition not met")
)

// Store is the conditional key-value store behind a Ledger. Each mutating
// method must be one atomic compare-and-set against the entry for key.
type Store interface {
	// Get returns the entry for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*model.LedgerEntry, error)

	// Claim writes IN_PROGRESS with the given lease and increments attempts,
	// provided the entry is absent, purged, FAILED, or holds a lease that
	// expired before now. It returns the new attempt count.
	Claim(ctx context.Context, key string, now, expiresAt time.Time, purgeAt *time.Time) (int, error)

	// Complete moves IN_PROGRESS at the given attempt to DONE, clearing the
	// lease and storing result.
	Complete(ctx context.Context, key string, attempt int, result []byte, now time.Time, purgeAt *time.Time) error

	// Fail moves IN_PROGRESS at the given attempt to FAILED with expiresAt
	// as the (already passed) lease.
	Fail(ctx context.Context, key string, attempt int, reason string, now, expiresAt time.Time) error
}
