package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type memOutbox struct {
	pending  []Record
	sent     []int64
	fetchErr error
	markErr  error
}

func (m *memOutbox) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if limit > len(m.pending) {
		limit = len(m.pending)
	}
	return m.pending[:limit], nil
}

func (m *memOutbox) MarkSent(ctx context.Context, id int64) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.sent = append(m.sent, id)
	return nil
}

type recordingPublisher struct {
	published []string
	failAfter int
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if p.err != nil && len(p.published) >= p.failAfter {
		return p.err
	}
	p.published = append(p.published, topic+"/"+key)
	return nil
}

func pendingRecords(n int) []Record {
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Record{
			ID:      int64(i + 1),
			EventID: fmt.Sprintf("ev-%d", i+1),
			Topic:   "baton.checkout",
			Key:     "corr-1",
			Payload: []byte(`{}`),
		})
	}
	return out
}

func TestDrainPublishesInOrderAndMarksSent(t *testing.T) {
	store := &memOutbox{pending: pendingRecords(3)}
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, 0, 0, nil, nil)

	sent, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sent != 3 {
		t.Fatalf("sent = %d, want 3", sent)
	}
	if len(pub.published) != 3 || pub.published[0] != "baton.checkout/corr-1" {
		t.Fatalf("unexpected publishes: %v", pub.published)
	}
	want := []int64{1, 2, 3}
	if len(store.sent) != len(want) {
		t.Fatalf("marked = %v, want %v", store.sent, want)
	}
	for i, id := range want {
		if store.sent[i] != id {
			t.Fatalf("marked = %v, want %v", store.sent, want)
		}
	}
}

func TestDrainStopsBatchOnPublishFailure(t *testing.T) {
	store := &memOutbox{pending: pendingRecords(3)}
	pub := &recordingPublisher{failAfter: 1, err: errors.New("broker down")}
	d := NewDispatcher(store, pub, 0, 0, nil, nil)

	sent, err := d.Drain(context.Background())
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if len(store.sent) != 1 || store.sent[0] != 1 {
		t.Fatalf("only the acked row may be marked sent, got %v", store.sent)
	}
}

func TestDrainDoesNotCountUnmarkedRows(t *testing.T) {
	store := &memOutbox{pending: pendingRecords(2), markErr: errors.New("db gone")}
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, 0, 0, nil, nil)

	sent, err := d.Drain(context.Background())
	if err == nil {
		t.Fatalf("expected mark error")
	}
	if sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
}

func TestDrainPropagatesFetchError(t *testing.T) {
	store := &memOutbox{fetchErr: errors.New("query failed")}
	d := NewDispatcher(store, &recordingPublisher{}, 0, 0, nil, nil)

	if _, err := d.Drain(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}
}

func TestDrainRespectsBatchSize(t *testing.T) {
	store := &memOutbox{pending: pendingRecords(5)}
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, 0, 2, nil, nil)

	sent, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
}

func TestNewDispatcherDefaults(t *testing.T) {
	d := NewDispatcher(&memOutbox{}, &recordingPublisher{}, 0, 0, nil, nil)
	if d.interval != 500*time.Millisecond {
		t.Fatalf("interval = %v, want 500ms", d.interval)
	}
	if d.batchSize != 100 {
		t.Fatalf("batchSize = %d, want 100", d.batchSize)
	}
	if d.log == nil {
		t.Fatalf("log must default to a nop logger")
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	store := &memOutbox{pending: pendingRecords(1)}
	d := NewDispatcher(store, &recordingPublisher{}, time.Millisecond, 0, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}
