package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps idempotency records in memory. Used in tests and when no
// database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	lockTTL time.Duration
	now     func() time.Time
}

// NewMemoryStore constructs an in-memory store with the given claim lock TTL.
func NewMemoryStore(lockTTL time.Duration) *MemoryStore {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &MemoryStore{
		records: make(map[string]*Record),
		lockTTL: lockTTL,
		now:     time.Now,
	}
}

func (s *MemoryStore) TryCreate(ctx context.Context, key, userID string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return AlreadyExists, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if rec, ok := s.records[key]; ok {
		if rec.Completed() || now.Before(rec.LockedUntil) {
			return AlreadyExists, nil
		}
		// Expired claim with no cached response: the owner died before
		// finishing, so the key passes to this caller.
		rec.LockedUntil = now.Add(s.lockTTL)
		return Created, nil
	}
	s.records[key] = &Record{
		Key:         key,
		UserID:      userID,
		LockedUntil: now.Add(s.lockTTL),
		CreatedAt:   now,
	}
	return Created, nil
}

func (s *MemoryStore) PersistResponse(ctx context.Context, key, userID string, statusCode int, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	rec.StatusCode = statusCode
	rec.ResponseBody = append([]byte(nil), body...)
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && !rec.Completed() {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, key, userID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	out.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &out, nil
}
