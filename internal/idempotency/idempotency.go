package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Outcome is the typed result of a claim attempt. A duplicate key is a normal
// outcome here, never a storage error.
type Outcome int

const (
	// Created means this caller owns the key and must execute the operation.
	Created Outcome = iota
	// AlreadyExists means another attempt owns the key; replay the cached
	// response instead of re-executing.
	AlreadyExists
)

// Record is one claimed idempotency key with its cached response, if any.
type Record struct {
	Key          string
	UserID       string
	StatusCode   int
	ResponseBody []byte
	LockedUntil  time.Time
	CreatedAt    time.Time
}

// Completed reports whether a response has been cached for the key.
func (r *Record) Completed() bool {
	return r.StatusCode != 0
}

// Store claims keys and caches responses. Implementations rely on a unique
// constraint on Key as the concurrency guard. A claim whose LockedUntil has
// passed with no cached response belongs to a dead owner: TryCreate hands it
// to the next caller, and Release drops it early so redelivery need not wait
// for the lock to lapse. Completed records are never reclaimed or released.
type Store interface {
	TryCreate(ctx context.Context, key, userID string) (Outcome, error)
	PersistResponse(ctx context.Context, key, userID string, statusCode int, body []byte) error
	Find(ctx context.Context, key, userID string) (*Record, error)
	Release(ctx context.Context, key, userID string) error
}

// ErrNotFound signals no record exists for the key.
var ErrNotFound = errors.New("idempotency record not found")

// Key derives a store key from the caller, the logical operation, and the
// caller-supplied dedupe token.
func Key(caller, operation, token string) string {
	return strings.Join([]string{caller, operation, token}, ":")
}
