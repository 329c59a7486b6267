package resilience

import (
	"context"
	"errors"
	"sync"
)

// ErrBulkheadFull indicates both the in-flight slots and the wait queue for
// an operation key are exhausted.
var ErrBulkheadFull = errors.New("bulkhead saturated")

// Bulkhead caps concurrent in-flight calls plus a bounded number of waiters.
// A caller beyond both limits is rejected immediately.
type Bulkhead struct {
	mu      sync.Mutex
	slots   chan struct{}
	maxWait int
	waiting int
}

// NewBulkhead constructs a bulkhead allowing maxConcurrent in-flight calls
// and up to maxQueue callers blocked waiting for a slot.
func NewBulkhead(maxConcurrent, maxQueue int) *Bulkhead {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	return &Bulkhead{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxQueue,
	}
}

// Acquire takes a slot, waiting in the bounded queue if none is free.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case b.slots <- struct{}{}:
		return nil
	default:
	}

	b.mu.Lock()
	if b.waiting >= b.maxWait {
		b.mu.Unlock()
		return ErrBulkheadFull
	}
	b.waiting++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.waiting--
		b.mu.Unlock()
	}()

	select {
	case b.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (b *Bulkhead) Release() {
	if b == nil {
		return
	}
	<-b.slots
}

// InFlight reports the number of occupied slots.
func (b *Bulkhead) InFlight() int {
	if b == nil {
		return 0
	}
	return len(b.slots)
}
