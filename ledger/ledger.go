package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

// ErrLeaseLost is returned by Complete and Fail when the claim no longer owns
// the entry, because another attempt reclaimed it after the lease expired.
var ErrLeaseLost = errors.New("ledger lease lost")

// Outcome is the result of a claim attempt.
type Outcome int

const (
	Claimed Outcome = iota + 1
	AlreadyInProgress
	AlreadyDone
)

func (o Outcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case AlreadyInProgress:
		return "already_in_progress"
	case AlreadyDone:
		return "already_done"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Claim is returned by TryClaim. Attempt identifies the owning attempt when
// Outcome is Claimed; Result carries the cached result when it is AlreadyDone.
type Claim struct {
	Key     string
	Outcome Outcome
	Attempt int
	Result  json.RawMessage
}

// Ledger guards units of work with lease-based claims.
type Ledger struct {
	store     Store
	now       func() time.Time
	retention time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRetention sets how long entries are kept by the store after their last
// claim or completion. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(l *Ledger) { l.retention = d }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryClaim attempts to take the lease on key. A DONE entry short-circuits to
// AlreadyDone without a write; a failed precondition is AlreadyInProgress.
// Neither is an error.
func (l *Ledger) TryClaim(ctx context.Context, key string, lease time.Duration) (Claim, error) {
	if key == "" {
		return Claim{}, errors.New("ledger: empty key")
	}
	if lease <= 0 {
		return Claim{}, fmt.Errorf("ledger: lease must be positive, got %s", lease)
	}

	now := l.now().UTC()
	entry, err := l.get(ctx, key, now)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return Claim{}, fmt.Errorf("ledger: read %s: %w", key, err)
	case entry.Status == model.StatusDone:
		return Claim{Key: key, Outcome: AlreadyDone, Attempt: entry.Attempts, Result: entry.Result}, nil
	}

	attempt, err := l.store.Claim(ctx, key, now, now.Add(lease), l.purgeAt(now))
	if errors.Is(err, ErrConditionFailed) {
		return Claim{Key: key, Outcome: AlreadyInProgress}, nil
	}
	if err != nil {
		return Claim{}, fmt.Errorf("ledger: claim %s: %w", key, err)
	}
	return Claim{Key: key, Outcome: Claimed, Attempt: attempt}, nil
}

// Complete marks a claimed unit DONE and stores result as its cached response.
func (l *Ledger) Complete(ctx context.Context, claim Claim, result any) error {
	if claim.Outcome != Claimed {
		return fmt.Errorf("ledger: complete %s: not claimed (%s)", claim.Key, claim.Outcome)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("ledger: complete %s: encode result: %w", claim.Key, err)
	}

	now := l.now().UTC()
	err = l.store.Complete(ctx, claim.Key, claim.Attempt, data, now, l.purgeAt(now))
	if errors.Is(err, ErrConditionFailed) {
		return fmt.Errorf("ledger: complete %s attempt %d: %w", claim.Key, claim.Attempt, ErrLeaseLost)
	}
	if err != nil {
		return fmt.Errorf("ledger: complete %s: %w", claim.Key, err)
	}
	return nil
}

// Fail marks a claimed unit FAILED with a lease already in the past, so the
// next TryClaim can take it immediately.
func (l *Ledger) Fail(ctx context.Context, claim Claim, reason string) error {
	if claim.Outcome != Claimed {
		return fmt.Errorf("ledger: fail %s: not claimed (%s)", claim.Key, claim.Outcome)
	}

	now := l.now().UTC()
	err := l.store.Fail(ctx, claim.Key, claim.Attempt, reason, now, now.Add(-time.Second))
	if errors.Is(err, ErrConditionFailed) {
		return fmt.Errorf("ledger: fail %s attempt %d: %w", claim.Key, claim.Attempt, ErrLeaseLost)
	}
	if err != nil {
		return fmt.Errorf("ledger: fail %s: %w", claim.Key, err)
	}
	return nil
}

// Get returns the current entry for key, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, key string) (*model.LedgerEntry, error) {
	return l.get(ctx, key, l.now().UTC())
}

func (l *Ledger) get(ctx context.Context, key string, now time.Time) (*model.LedgerEntry, error) {
	entry, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry.Purged(now) {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (l *Ledger) purgeAt(now time.Time) *time.Time {
	if l.retention <= 0 {
		return nil
	}
	t := now.Add(l.retention)
	return &t
}
