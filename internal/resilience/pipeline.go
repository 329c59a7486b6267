package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTimeout indicates a single call exceeded its per-call deadline.
var ErrTimeout = errors.New("call timed out")

// Request describes one outbound inter-service call.
type Request struct {
	Service   string
	Operation string
	Method    string
	Path      string
	Body      []byte
}

// OperationKey returns the request's "service:operation" key, inferring it
// from the method and path shape when not set explicitly.
func (r Request) OperationKey() string {
	if r.Service != "" && r.Operation != "" {
		return r.Service + ":" + r.Operation
	}
	return InferOperationKey(r.Method, r.Path)
}

// Response is the normalized result of an outbound call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fallback reports whether the response was substituted by the pipeline.
func (r *Response) Fallback() bool {
	return r != nil && r.Header.Get(HeaderFallback) == "true"
}

// Do performs the real call. Implementations must honor ctx cancellation.
type Do func(ctx context.Context) (*Response, error)

// statusError wraps a 5xx response so the retry policy can treat it as a
// transient failure.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.status)
}

// Policy bundles the per-operation knobs.
type Policy struct {
	Timeout            time.Duration
	MaxAttempts        int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	BreakerMaxFailures int
	BreakerReset       time.Duration
	BulkheadSlots      int
	BulkheadQueue      int
	// Retryable gates silent retries. Non-idempotent commands set this false
	// and rely on the idempotency layer instead.
	Retryable bool
}

// DefaultPolicy returns the standard knobs: 25s per-call timeout, 3 attempts
// with 2s exponential base, breaker at 5 failures for 30s, bulkhead of 32
// in-flight plus 64 queued.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:            25 * time.Second,
		MaxAttempts:        3,
		BaseDelay:          2 * time.Second,
		MaxDelay:           0,
		BreakerMaxFailures: 5,
		BreakerReset:       30 * time.Second,
		BulkheadSlots:      32,
		BulkheadQueue:      64,
		Retryable:          true,
	}
}

// Pipeline wraps every outbound call with, outermost to innermost:
// bulkhead, fallback, circuit breaker, retry, timeout. The registry of
// breakers and bulkheads is process-wide: entries are created once per
// operation key, read and written concurrently, and live until process exit.
type Pipeline struct {
	registry *Registry
	observer Observer
	sleep    func(context.Context, time.Duration) error
	jitter   func(time.Duration) time.Duration
	now      func() time.Time
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithObserver wires transition observability.
func WithObserver(o Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

// WithSleep injects the backoff sleeper (tests).
func WithSleep(sleep func(context.Context, time.Duration) error) PipelineOption {
	return func(p *Pipeline) { p.sleep = sleep }
}

// WithJitter injects the backoff jitter (tests).
func WithJitter(jitter func(time.Duration) time.Duration) PipelineOption {
	return func(p *Pipeline) { p.jitter = jitter }
}

// WithNow injects the breaker clock (tests).
func WithNow(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline constructs a pipeline over the given registry.
func NewPipeline(registry *Registry, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry: registry,
		observer: NopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.registry.now = p.now
	p.registry.observer = p.observer
	return p
}

// Invoke runs the call through the full policy stack. Any failure escaping
// the inner policies (timeout, retry exhaustion, open breaker, bulkhead
// saturation) is substituted with the operation's fallback response; the
// caller always gets a response, never a raw transport error.
func (p *Pipeline) Invoke(ctx context.Context, req Request, do Do) (*Response, error) {
	key := req.OperationKey()
	entry := p.registry.entry(key)

	if err := entry.bulkhead.Acquire(ctx); err != nil {
		if errors.Is(err, ErrBulkheadFull) {
			p.observer.BulkheadRejected(key)
			return p.substitute(key, err), nil
		}
		return nil, err
	}
	defer entry.bulkhead.Release()

	resp, err := p.execute(ctx, key, entry, do)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return p.substitute(key, err), nil
	}
	return resp, nil
}

func (p *Pipeline) execute(ctx context.Context, key string, entry *registryEntry, do Do) (*Response, error) {
	var resp *Response

	retry := RetryPolicy{
		MaxAttempts: entry.policy.MaxAttempts,
		BaseDelay:   entry.policy.BaseDelay,
		MaxDelay:    entry.policy.MaxDelay,
		Sleep:       p.sleep,
		Jitter:      p.jitter,
		ShouldRetry: func(err error) bool {
			if !entry.policy.Retryable {
				return false
			}
			return retryable(err)
		},
		OnAttempt: func(attempt int, err error) {
			p.observer.RetryAttempt(key, attempt, err)
		},
	}
	if !entry.policy.Retryable {
		retry.MaxAttempts = 1
	}

	// The breaker wraps the whole retry loop so an exhausted retry counts as
	// one failure, not one per attempt.
	err := entry.breaker.Execute(func() error {
		return retry.Do(ctx, func() error {
			r, err := p.attempt(ctx, key, entry.policy.Timeout, do)
			if err != nil {
				return err
			}
			if r.StatusCode >= 500 {
				return &statusError{status: r.StatusCode}
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) attempt(ctx context.Context, key string, timeout time.Duration, do Do) (*Response, error) {
	if timeout <= 0 {
		return do(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := do(callCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			p.observer.Timeout(key)
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) substitute(key string, cause error) *Response {
	p.observer.FallbackTriggered(key, cause)
	return FallbackFor(key)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	// Timeouts and connection-level failures are transient.
	return true
}
