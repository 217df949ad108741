package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const sqliteClaim = `
INSERT INTO idempotency_ledger (pk, status, expires_at, attempts, result, error, updated_at, purge_at)
VALUES (?1, 'IN_PROGRESS', ?2, 1, NULL, NULL, ?3, ?4)
ON CONFLICT(pk) DO UPDATE SET
    status     = 'IN_PROGRESS',
    expires_at = excluded.expires_at,
    attempts   = idempotency_ledger.attempts + 1,
    result     = NULL,
    error      = NULL,
    updated_at = excluded.updated_at,
    purge_at   = excluded.purge_at
WHERE idempotency_ledger.status = 'FAILED'
   OR (idempotency_ledger.expires_at IS NOT NULL AND idempotency_ledger.expires_at < excluded.updated_at)
   OR (idempotency_ledger.purge_at IS NOT NULL AND idempotency_ledger.purge_at <= excluded.updated_at)
RETURNING attempts`

const sqliteComplete = `
UPDATE idempotency_ledger
SET status = 'DONE', expires_at = NULL, result = ?1, updated_at = ?2, purge_at = COALESCE(?3, purge_at)
WHERE pk = ?4 AND status = 'IN_PROGRESS' AND attempts = ?5`

const sqliteFail = `
UPDATE idempotency_ledger
SET status = 'FAILED', expires_at = ?1, error = ?2, updated_at = ?3
WHERE pk = ?4 AND status = 'IN_PROGRESS' AND attempts = ?5`

// SQLiteStore is a Store backed by a local SQLite database. It is safe for
// concurrent use within one process and across processes sharing the file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*model.LedgerEntry, error) {
	var (
		e         model.LedgerEntry
		status    string
		expiresAt sql.NullInt64
		result    sql.NullString
		errText   sql.NullString
		updatedAt int64
		purgeAt   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT pk, status, expires_at, attempts, result, error, updated_at, purge_at
		 FROM idempotency_ledger WHERE pk = ?`, key).
		Scan(&e.Key, &status, &expiresAt, &e.Attempts, &result, &errText, &updatedAt, &purgeAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Status = model.Status(status)
	e.ExpiresAt = fromMillis(expiresAt)
	if result.Valid {
		e.Result = []byte(result.String)
	}
	e.Error = errText.String
	e.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	e.PurgeAt = fromMillis(purgeAt)
	return &e, nil
}

func (s *SQLiteStore) Claim(ctx context.Context, key string, now, expiresAt time.Time, purgeAt *time.Time) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, sqliteClaim,
		key, expiresAt.UnixMilli(), now.UnixMilli(), toMillis(purgeAt)).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrConditionFailed
	}
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, key string, attempt int, result []byte, now time.Time, purgeAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, sqliteComplete,
		string(result), now.UnixMilli(), toMillis(purgeAt), key, attempt)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *SQLiteStore) Fail(ctx context.Context, key string, attempt int, reason string, now, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, sqliteFail,
		expiresAt.UnixMilli(), reason, now.UnixMilli(), key, attempt)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConditionFailed
	}
	return nil
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
