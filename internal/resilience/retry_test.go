package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// sleepRecorder captures backoff delays instead of sleeping.
type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func identityJitter(d time.Duration) time.Duration { return d }

func TestRetryBackoffDoublesFromBase(t *testing.T) {
	rec := &sleepRecorder{}
	p := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Sleep:       rec.sleep,
		Jitter:      identityJitter,
	}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected final error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Fatalf("delay %d = %v, want %v", i, rec.delays[i], want[i])
		}
	}
}

func TestRetryJitterStaysWithinQuarterSecond(t *testing.T) {
	rec := &sleepRecorder{}
	p := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Sleep:       rec.sleep,
	}

	_ = p.Do(context.Background(), func() error { return errors.New("boom") })

	bases := []time.Duration{2 * time.Second, 4 * time.Second}
	for i, base := range bases {
		if rec.delays[i] < base || rec.delays[i] > base+250*time.Millisecond {
			t.Fatalf("delay %d = %v outside [%v, %v]", i, rec.delays[i], base, base+250*time.Millisecond)
		}
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	rec := &sleepRecorder{}
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: rec.sleep, Jitter: identityJitter}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || len(rec.delays) != 1 {
		t.Fatalf("expected 2 attempts with 1 sleep, got %d/%d", calls, len(rec.delays))
	}
}

func TestRetryHonorsShouldRetry(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep:       (&sleepRecorder{}).sleep,
		Jitter:      identityJitter,
		ShouldRetry: func(error) bool { return false },
	}

	calls := 0
	if err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("fatal")
	}); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d attempts", calls)
	}
}

func TestRetryDefaultPredicateSkipsOpenBreaker(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: (&sleepRecorder{}).sleep, Jitter: identityJitter}

	calls := 0
	if err := p.Do(context.Background(), func() error {
		calls++
		return ErrCircuitOpen
	}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("open breaker must not be retried, got %d attempts", calls)
	}
}

func TestRetryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Jitter: identityJitter}
	calls := 0
	if err := p.Do(ctx, func() error {
		calls++
		return errors.New("boom")
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("canceled context must not invoke fn, got %d calls", calls)
	}
}

func TestRetryReportsAttempts(t *testing.T) {
	var seen []int
	p := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep:       (&sleepRecorder{}).sleep,
		Jitter:      identityJitter,
		OnAttempt:   func(attempt int, err error) { seen = append(seen, attempt) },
	}

	_ = p.Do(context.Background(), func() error { return errors.New("boom") })
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Fatalf("unexpected attempt reports: %v", seen)
	}
}
