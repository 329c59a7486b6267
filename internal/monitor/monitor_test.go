package monitor

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"baton/internal/saga"
)

type stubReadStore struct {
	lastFilter Filter
	instances  []saga.Instance

	counts []StateCount

	completed int64
	failed    int64
	lastType  saga.Type
	lastFrom  time.Time
	lastTo    time.Time
}

func (s *stubReadStore) List(ctx context.Context, f Filter) ([]saga.Instance, error) {
	s.lastFilter = f
	return s.instances, nil
}

func (s *stubReadStore) CountByState(ctx context.Context, sagaType saga.Type) ([]StateCount, error) {
	s.lastType = sagaType
	return s.counts, nil
}

func (s *stubReadStore) TerminalCounts(ctx context.Context, sagaType saga.Type, from, to time.Time) (int64, int64, error) {
	s.lastType = sagaType
	s.lastFrom = from
	s.lastTo = to
	return s.completed, s.failed, nil
}

func TestListClampsLimit(t *testing.T) {
	store := &stubReadStore{}
	svc := NewService(store)

	if _, err := svc.List(context.Background(), Filter{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if store.lastFilter.Limit != 100 {
		t.Fatalf("default limit = %d, want 100", store.lastFilter.Limit)
	}

	if _, err := svc.List(context.Background(), Filter{Limit: 9000}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if store.lastFilter.Limit != 100 {
		t.Fatalf("oversized limit = %d, want clamped to 100", store.lastFilter.Limit)
	}

	if _, err := svc.List(context.Background(), Filter{Limit: 25}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if store.lastFilter.Limit != 25 {
		t.Fatalf("explicit limit = %d, want 25", store.lastFilter.Limit)
	}
}

func TestSuccessRate(t *testing.T) {
	store := &stubReadStore{completed: 3, failed: 1}
	svc := NewService(store)

	stats, err := svc.SuccessRate(context.Background(), saga.TypeCheckout, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("success rate: %v", err)
	}
	if stats.SuccessRate != 0.75 {
		t.Fatalf("rate = %v, want 0.75", stats.SuccessRate)
	}
	if stats.Completed != 3 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSuccessRateEmptyWindow(t *testing.T) {
	svc := NewService(&stubReadStore{})

	stats, err := svc.SuccessRate(context.Background(), saga.TypeCheckout, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("success rate: %v", err)
	}
	if stats.SuccessRate != 0 {
		t.Fatalf("rate with no terminals = %v, want 0", stats.SuccessRate)
	}
}

func TestHandlerListsSagas(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &stubReadStore{instances: []saga.Instance{{
		SagaType:      saga.TypeCheckout,
		CorrelationID: "corr-1",
		CurrentState:  saga.StateCompleted,
		Version:       4,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}}
	h := Handler(NewService(store))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sagas?type=checkout&state=completed&limit=10", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}

	var out []InstanceJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].CorrelationID != "corr-1" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if store.lastFilter.SagaType != saga.TypeCheckout || store.lastFilter.State != saga.StateCompleted || store.lastFilter.Limit != 10 {
		t.Fatalf("filter not applied: %+v", store.lastFilter)
	}
}

func TestHandlerRejectsBadWindow(t *testing.T) {
	h := Handler(NewService(&stubReadStore{}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sagas?from=yesterday", nil))
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sagas/stats?to=not-a-time", nil))
	if rec.Code != 400 {
		t.Fatalf("stats status = %d, want 400", rec.Code)
	}
}

func TestHandlerCounts(t *testing.T) {
	store := &stubReadStore{counts: []StateCount{
		{State: saga.StateAwaitingInventory, Count: 2},
		{State: saga.StateCompleted, Count: 7},
	}}
	h := Handler(NewService(store))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sagas/counts?type=cancellation", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.lastType != saga.TypeCancellation {
		t.Fatalf("type = %q, want cancellation", store.lastType)
	}

	var out []StateCount
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[1].Count != 7 {
		t.Fatalf("unexpected counts: %v", out)
	}
}

func TestHandlerStatsWindowDefaults(t *testing.T) {
	store := &stubReadStore{completed: 1}
	h := Handler(NewService(store))

	before := time.Now().UTC()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sagas/stats?type=return", nil))
	after := time.Now().UTC()

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.lastTo.Before(before) || store.lastTo.After(after) {
		t.Fatalf("default to = %v, want roughly now", store.lastTo)
	}
	if want := store.lastTo.Add(-24 * time.Hour); !store.lastFrom.Equal(want) {
		t.Fatalf("default from = %v, want %v", store.lastFrom, want)
	}
}

func TestHandlerStatsExplicitWindow(t *testing.T) {
	store := &stubReadStore{}
	h := Handler(NewService(store))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sagas/stats?from=2025-06-01T00:00:00Z&to=2025-06-02T00:00:00Z", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.lastFrom != time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("from = %v", store.lastFrom)
	}
	if store.lastTo != time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("to = %v", store.lastTo)
	}
}
