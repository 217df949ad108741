package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS idempotency_ledger (
    pk          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    expires_at  TIMESTAMPTZ,
    attempts    INTEGER NOT NULL DEFAULT 0,
    result      JSONB,
    error       TEXT,
    updated_at  TIMESTAMPTZ NOT NULL,
    purge_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_idempotency_ledger_purge_at ON idempotency_ledger(purge_at);`

const postgresClaim = `
INSERT INTO idempotency_ledger AS l (pk, status, expires_at, attempts, updated_at, purge_at)
VALUES ($1, 'IN_PROGRESS', $2, 1, $3, $4)
ON CONFLICT (pk) DO UPDATE SET
    status     = 'IN_PROGRESS',
    expires_at = EXCLUDED.expires_at,
    attempts   = l.attempts + 1,
    result     = NULL,
    error      = NULL,
    updated_at = EXCLUDED.updated_at,
    purge_at   = EXCLUDED.purge_at
WHERE l.status = 'FAILED'
   OR (l.expires_at IS NOT NULL AND l.expires_at < EXCLUDED.updated_at)
   OR (l.purge_at IS NOT NULL AND l.purge_at <= EXCLUDED.updated_at)
RETURNING attempts`

// PostgresStore is a Store backed by a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the ledger table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*model.LedgerEntry, error) {
	var (
		e       model.LedgerEntry
		status  string
		result  []byte
		errText *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT pk, status, expires_at, attempts, result, error, updated_at, purge_at
		 FROM idempotency_ledger WHERE pk = $1`, key).
		Scan(&e.Key, &status, &e.ExpiresAt, &e.Attempts, &result, &errText, &e.UpdatedAt, &e.PurgeAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Status = model.Status(status)
	e.Result = result
	if errText != nil {
		e.Error = *errText
	}
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func (s *PostgresStore) Claim(ctx context.Context, key string, now, expiresAt time.Time, purgeAt *time.Time) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, postgresClaim, key, expiresAt, now, purgeAt).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrConditionFailed
	}
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func (s *PostgresStore) Complete(ctx context.Context, key string, attempt int, result []byte, now time.Time, purgeAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE idempotency_ledger
		 SET status = 'DONE', expires_at = NULL, result = $1, updated_at = $2, purge_at = COALESCE($3, purge_at)
		 WHERE pk = $4 AND status = 'IN_PROGRESS' AND attempts = $5`,
		string(result), now, purgeAt, key, attempt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, key string, attempt int, reason string, now, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE idempotency_ledger
		 SET status = 'FAILED', expires_at = $1, error = $2, updated_at = $3
		 WHERE pk = $4 AND status = 'IN_PROGRESS' AND attempts = $5`,
		expiresAt, reason, now, key, attempt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}
