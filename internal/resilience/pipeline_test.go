package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

// recordingObserver counts pipeline events.
type recordingObserver struct {
	mu          sync.Mutex
	retries     int
	timeouts    int
	fallbacks   int
	rejections  int
	transitions []string
}

func (o *recordingObserver) RetryAttempt(string, int, error) {
	o.mu.Lock()
	o.retries++
	o.mu.Unlock()
}

func (o *recordingObserver) BreakerTransition(key string, from, to BreakerStatus) {
	o.mu.Lock()
	o.transitions = append(o.transitions, string(from)+"->"+string(to))
	o.mu.Unlock()
}

func (o *recordingObserver) FallbackTriggered(string, error) {
	o.mu.Lock()
	o.fallbacks++
	o.mu.Unlock()
}

func (o *recordingObserver) Timeout(string) {
	o.mu.Lock()
	o.timeouts++
	o.mu.Unlock()
}

func (o *recordingObserver) BulkheadRejected(string) {
	o.mu.Lock()
	o.rejections++
	o.mu.Unlock()
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.Timeout = 0
	return p
}

func newTestPipeline(t *testing.T, policy Policy) (*Pipeline, *recordingObserver, *sleepRecorder, *fakeClock) {
	t.Helper()
	obs := &recordingObserver{}
	rec := &sleepRecorder{}
	clock := newFakeClock()
	p := NewPipeline(NewRegistry(policy),
		WithObserver(obs),
		WithSleep(rec.sleep),
		WithJitter(identityJitter),
		WithNow(clock.Now))
	return p, obs, rec, clock
}

func catalogRequest() Request {
	return Request{Service: "catalog", Operation: "getproducts", Method: "GET", Path: "/api/catalog/products"}
}

func TestPipelinePassesThroughSuccess(t *testing.T) {
	p, obs, _, _ := newTestPipeline(t, testPolicy())

	resp, err := p.Invoke(context.Background(), catalogRequest(), func(ctx context.Context) (*Response, error) {
		return &Response{StatusCode: 200, Header: http.Header{}, Body: []byte(`[]`)}, nil
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.StatusCode != 200 || resp.Fallback() {
		t.Fatalf("expected upstream response, got %+v", resp)
	}
	if obs.fallbacks != 0 {
		t.Fatalf("no fallback expected, got %d", obs.fallbacks)
	}
}

func TestPipelineRetriesThenSubstitutesFallback(t *testing.T) {
	p, obs, rec, _ := newTestPipeline(t, testPolicy())

	calls := 0
	resp, err := p.Invoke(context.Background(), catalogRequest(), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, errors.New("connection refused")
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(rec.delays) != len(want) || rec.delays[0] != want[0] || rec.delays[1] != want[1] {
		t.Fatalf("unexpected backoff schedule: %v", rec.delays)
	}
	if !resp.Fallback() {
		t.Fatalf("expected fallback response, got %+v", resp)
	}
	if resp.Header.Get(HeaderErrorCode) != "catalog-unavailable" {
		t.Fatalf("unexpected error code: %s", resp.Header.Get(HeaderErrorCode))
	}
	if obs.retries != 3 || obs.fallbacks != 1 {
		t.Fatalf("unexpected observer counts: %+v", obs)
	}
}

func TestPipelineRetries5xx(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, testPolicy())

	calls := 0
	resp, err := p.Invoke(context.Background(), catalogRequest(), func(ctx context.Context) (*Response, error) {
		calls++
		if calls < 3 {
			return &Response{StatusCode: 502, Header: http.Header{}}, nil
		}
		return &Response{StatusCode: 200, Header: http.Header{}}, nil
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 2 retried 502s then success, got %d calls", calls)
	}
	if resp.StatusCode != 200 || resp.Fallback() {
		t.Fatalf("expected recovered response, got %+v", resp)
	}
}

func TestPipelineDoesNotRetry4xx(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, testPolicy())

	calls := 0
	resp, err := p.Invoke(context.Background(), catalogRequest(), func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{StatusCode: 404, Header: http.Header{}}, nil
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if calls != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
	if resp.StatusCode != 404 || resp.Fallback() {
		t.Fatalf("client errors pass through, got %+v", resp)
	}
}

func TestPipelineNonRetryablePolicyMakesOneAttempt(t *testing.T) {
	policy := testPolicy()
	policy.Retryable = false
	p, _, _, _ := newTestPipeline(t, policy)

	calls := 0
	resp, err := p.Invoke(context.Background(), Request{Service: "payment", Operation: "authorize"}, func(ctx context.Context) (*Response, error) {
		calls++
		return nil, errors.New("connection reset")
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable operation must not retry, got %d calls", calls)
	}
	if resp.Header.Get(HeaderErrorCode) != "payment-unavailable" {
		t.Fatalf("unexpected error code: %s", resp.Header.Get(HeaderErrorCode))
	}
}

func TestPipelineTimeoutConvertsToFallback(t *testing.T) {
	policy := testPolicy()
	policy.Timeout = 10 * time.Millisecond
	policy.MaxAttempts = 1
	p, obs, _, _ := newTestPipeline(t, policy)

	resp, err := p.Invoke(context.Background(), catalogRequest(), func(ctx context.Context) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !resp.Fallback() {
		t.Fatalf("expected fallback after timeout, got %+v", resp)
	}
	if obs.timeouts != 1 {
		t.Fatalf("expected 1 observed timeout, got %d", obs.timeouts)
	}
}

func TestPipelineBreakerOpensAfterRepeatedExhaustion(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 1
	p, obs, _, clock := newTestPipeline(t, policy)

	fail := func(ctx context.Context) (*Response, error) {
		return nil, errors.New("down")
	}
	for i := 0; i < 5; i++ {
		if _, err := p.Invoke(context.Background(), catalogRequest(), fail); err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
	}

	// Circuit is open: the call function must not run.
	called := false
	resp, err := p.Invoke(context.Background(), catalogRequest(), func(ctx context.Context) (*Response, error) {
		called = true
		return nil, errors.New("down")
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if called {
		t.Fatalf("open breaker must not invoke the call")
	}
	if !resp.Fallback() {
		t.Fatalf("expected fallback while open, got %+v", resp)
	}

	// After the cooldown one trial goes through and closes the circuit.
	clock.Advance(30 * time.Second)
	resp, err = p.Invoke(context.Background(), catalogRequest(), func(ctx context.Context) (*Response, error) {
		return &Response{StatusCode: 200, Header: http.Header{}}, nil
	})
	if err != nil || resp.Fallback() {
		t.Fatalf("expected trial success, got %+v err %v", resp, err)
	}

	found := false
	for _, tr := range obs.transitions {
		if tr == "half_open->closed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected half_open->closed transition, got %v", obs.transitions)
	}
}

func TestPipelineBulkheadSaturationSubstitutes(t *testing.T) {
	policy := testPolicy()
	policy.BulkheadSlots = 1
	policy.BulkheadQueue = 0
	p, obs, _, _ := newTestPipeline(t, policy)

	release := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_, _ = p.Invoke(context.Background(), catalogRequest(), func(ctx context.Context) (*Response, error) {
			close(running)
			<-release
			return &Response{StatusCode: 200, Header: http.Header{}}, nil
		})
	}()
	<-running

	resp, err := p.Invoke(context.Background(), catalogRequest(), func(ctx context.Context) (*Response, error) {
		t.Error("saturated bulkhead must not admit the call")
		return nil, nil
	})
	close(release)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !resp.Fallback() || resp.Header.Get(HeaderErrorCode) != "catalog-unavailable" {
		t.Fatalf("expected catalog fallback on saturation, got %+v", resp)
	}
	if obs.rejections != 1 {
		t.Fatalf("expected 1 bulkhead rejection, got %d", obs.rejections)
	}
}

func TestPipelineCallerCancellationPropagates(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, testPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Invoke(ctx, catalogRequest(), func(ctx context.Context) (*Response, error) {
		return nil, ctx.Err()
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRegistryPerOperationPolicyAndSnapshot(t *testing.T) {
	registry := NewRegistry(testPolicy())
	custom := testPolicy()
	custom.MaxAttempts = 1
	custom.BreakerMaxFailures = 1
	registry.SetPolicy("payment:authorize", custom)

	p := NewPipeline(registry, WithSleep((&sleepRecorder{}).sleep), WithJitter(identityJitter))

	_, err := p.Invoke(context.Background(), Request{Service: "payment", Operation: "authorize"}, func(ctx context.Context) (*Response, error) {
		return nil, errors.New("down")
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	snap := registry.BreakerSnapshot()
	if snap["payment:authorize"] != BreakerOpen {
		t.Fatalf("expected payment breaker open after 1 failure, got %v", snap)
	}
}
