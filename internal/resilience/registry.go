package resilience

import (
	"sync"
	"time"
)

type registryEntry struct {
	policy   Policy
	breaker  *CircuitBreaker
	bulkhead *Bulkhead
}

// Registry holds the per-operation-key breakers and bulkheads. It is built at
// startup, shared process-wide, and safe for concurrent use; entries are
// never torn down before process exit.
type Registry struct {
	mu       sync.Mutex
	defaults Policy
	policies map[string]Policy
	entries  map[string]*registryEntry
	now      func() time.Time
	observer Observer
}

// NewRegistry constructs a registry with the given default policy.
func NewRegistry(defaults Policy) *Registry {
	return &Registry{
		defaults: defaults,
		policies: make(map[string]Policy),
		entries:  make(map[string]*registryEntry),
		now:      time.Now,
		observer: NopObserver{},
	}
}

// SetPolicy overrides the policy for one operation key. Must be called before
// the key's first invocation.
func (r *Registry) SetPolicy(operationKey string, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[operationKey] = policy
}

func (r *Registry) entry(operationKey string) *registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[operationKey]; ok {
		return e
	}
	policy, ok := r.policies[operationKey]
	if !ok {
		policy = r.defaults
	}
	key := operationKey
	e := &registryEntry{
		policy: policy,
		breaker: NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:  policy.BreakerMaxFailures,
			ResetTimeout: policy.BreakerReset,
			Now:          r.now,
			OnTransition: func(from, to BreakerStatus) {
				r.observer.BreakerTransition(key, from, to)
			},
		}),
		bulkhead: NewBulkhead(policy.BulkheadSlots, policy.BulkheadQueue),
	}
	r.entries[operationKey] = e
	return e
}

// BreakerSnapshot reports each known operation key's breaker status and
// consecutive failure count.
func (r *Registry) BreakerSnapshot() map[string]BreakerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerStatus, len(r.entries))
	for key, e := range r.entries {
		status, _ := e.breaker.Status()
		out[key] = status
	}
	return out
}
