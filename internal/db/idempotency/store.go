package idemdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"baton/internal/idempotency"
)

// Store persists idempotency records in Postgres. The unique constraint on
// key is the concurrency guard; a conflicting insert surfaces as the typed
// AlreadyExists outcome, never as a driver error.
type Store struct {
	db      *sql.DB
	lockTTL time.Duration
}

// NewStore constructs a Store with the given claim lock TTL.
func NewStore(db *sql.DB, lockTTL time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &Store{db: db, lockTTL: lockTTL}
}

// NewStoreWithSchema initializes the schema then returns the store.
func NewStoreWithSchema(ctx context.Context, db *sql.DB, lockTTL time.Duration) (*Store, error) {
	store := NewStore(db, lockTTL)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the idempotency table if it does not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS idempotency_records (
			key TEXT PRIMARY KEY,
			user_id TEXT,
			status_code INT,
			response_body BYTEA,
			locked_until TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// TryCreate claims the key for this caller. AlreadyExists means another
// attempt owns it and the caller must replay the cached response. An expired
// claim with no cached response is taken over: its owner died mid-flight and
// the redelivered event must still run.
func (s *Store) TryCreate(ctx context.Context, key, userID string) (idempotency.Outcome, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (key, user_id, locked_until)
		VALUES ($1, NULLIF($2, ''), NOW() + $3::interval)
		ON CONFLICT (key) DO UPDATE
		SET locked_until = EXCLUDED.locked_until
		WHERE idempotency_records.status_code IS NULL
		  AND idempotency_records.locked_until < NOW()`,
		key, userID, s.lockTTL.String(),
	)
	if err != nil {
		return idempotency.AlreadyExists, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return idempotency.AlreadyExists, err
	}
	if affected == 0 {
		return idempotency.AlreadyExists, nil
	}
	return idempotency.Created, nil
}

// PersistResponse caches the operation's result against the claimed key.
func (s *Store) PersistResponse(ctx context.Context, key, userID string, statusCode int, body []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET status_code = $2, response_body = $3
		WHERE key = $1`,
		key, statusCode, body,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return idempotency.ErrNotFound
	}
	return nil
}

// Release drops an unfinished claim so the event is retried on redelivery.
// Completed records are kept; they are the dedupe evidence.
func (s *Store) Release(ctx context.Context, key, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_records
		WHERE key = $1 AND status_code IS NULL`,
		key,
	)
	return err
}

// Find returns the record for the key, including any cached response.
func (s *Store) Find(ctx context.Context, key, userID string) (*idempotency.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, COALESCE(user_id, ''), COALESCE(status_code, 0), response_body, locked_until, created_at
		FROM idempotency_records
		WHERE key = $1`,
		key,
	)
	var rec idempotency.Record
	err := row.Scan(&rec.Key, &rec.UserID, &rec.StatusCode, &rec.ResponseBody, &rec.LockedUntil, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, idempotency.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
