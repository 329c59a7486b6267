package monitor

import (
	"context"
	"time"

	"baton/internal/saga"
)

// Filter narrows a saga listing. Zero fields are not applied.
type Filter struct {
	SagaType      saga.Type
	State         saga.State
	CorrelationID string
	OrderID       string
	From          time.Time
	To            time.Time
	Limit         int
}

// StateCount is one (state, count) aggregation row.
type StateCount struct {
	State saga.State `json:"state"`
	Count int64      `json:"count"`
}

// Stats summarizes terminal outcomes for one saga type over a window.
type Stats struct {
	SagaType    saga.Type `json:"saga_type"`
	Completed   int64     `json:"completed"`
	Failed      int64     `json:"failed"`
	SuccessRate float64   `json:"success_rate"`
}

// ReadStore is the read-only query surface over persisted saga state.
// Implementations must not mutate anything and must be safe for unlimited
// concurrent readers.
type ReadStore interface {
	List(ctx context.Context, f Filter) ([]saga.Instance, error)
	CountByState(ctx context.Context, sagaType saga.Type) ([]StateCount, error)
	TerminalCounts(ctx context.Context, sagaType saga.Type, from, to time.Time) (completed, failed int64, err error)
}

// Service answers operational queries about saga instances.
type Service struct {
	store ReadStore
}

// NewService constructs a monitoring service.
func NewService(store ReadStore) *Service {
	return &Service{store: store}
}

// List returns instances matching the filter, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]saga.Instance, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.store.List(ctx, f)
}

// CountByState aggregates live and terminal instances per state.
func (s *Service) CountByState(ctx context.Context, sagaType saga.Type) ([]StateCount, error) {
	return s.store.CountByState(ctx, sagaType)
}

// SuccessRate computes completed/(completed+failed) for the window. A window
// with no terminal instances reports a rate of 0.
func (s *Service) SuccessRate(ctx context.Context, sagaType saga.Type, from, to time.Time) (Stats, error) {
	completed, failed, err := s.store.TerminalCounts(ctx, sagaType, from, to)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{SagaType: sagaType, Completed: completed, Failed: failed}
	if total := completed + failed; total > 0 {
		stats.SuccessRate = float64(completed) / float64(total)
	}
	return stats, nil
}
