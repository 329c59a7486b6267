package sagadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"baton/internal/contracts"
	"baton/internal/monitor"
	"baton/internal/saga"
)

// List returns instances matching the filter, newest first.
func (s *Store) List(ctx context.Context, f monitor.Filter) ([]saga.Instance, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.SagaType != "" {
		add("saga_type = $%d", string(f.SagaType))
	}
	if f.State != "" {
		add("current_state = $%d", string(f.State))
	}
	if f.CorrelationID != "" {
		add("correlation_id = $%d", f.CorrelationID)
	}
	if f.OrderID != "" {
		add("context->>'order_id' = $%d", f.OrderID)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}

	query := `
		SELECT saga_type, correlation_id, current_state, context, milestones,
			failure_reason, failed_step, version, created_at, updated_at
		FROM saga_instances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []saga.Instance
	for rows.Next() {
		var (
			inst           saga.Instance
			sagaType       string
			state          string
			contextJSON    []byte
			milestonesJSON []byte
			failureReason  sql.NullString
			failedStep     sql.NullString
		)
		if err := rows.Scan(&sagaType, &inst.CorrelationID, &state, &contextJSON, &milestonesJSON,
			&failureReason, &failedStep, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, err
		}
		inst.SagaType = saga.Type(sagaType)
		inst.CurrentState = saga.State(state)
		if err := json.Unmarshal(contextJSON, &inst.Context); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(milestonesJSON, &inst.Timestamps); err != nil {
			return nil, err
		}
		inst.FailureReason = failureReason.String
		inst.FailedStep = failedStep.String
		out = append(out, inst)
	}
	return out, rows.Err()
}

// CountByState aggregates instance counts per state for one saga type.
func (s *Store) CountByState(ctx context.Context, sagaType saga.Type) ([]monitor.StateCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT current_state, COUNT(*)
		FROM saga_instances
		WHERE saga_type = $1
		GROUP BY current_state
		ORDER BY current_state`,
		string(sagaType),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []monitor.StateCount
	for rows.Next() {
		var (
			state string
			count int64
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		out = append(out, monitor.StateCount{State: saga.State(state), Count: count})
	}
	return out, rows.Err()
}

// TerminalCounts counts completed and failed instances created in the window.
func (s *Store) TerminalCounts(ctx context.Context, sagaType saga.Type, from, to time.Time) (int64, int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE current_state = 'completed'),
			COUNT(*) FILTER (WHERE current_state = 'failed')
		FROM saga_instances
		WHERE saga_type = $1 AND created_at >= $2 AND created_at <= $3`,
		string(sagaType), from, to,
	)
	var completed, failed int64
	if err := row.Scan(&completed, &failed); err != nil {
		return 0, 0, err
	}
	return completed, failed, nil
}

// Record appends a dead letter for an event no transition accounts for.
func (s *Store) Record(ctx context.Context, sagaType saga.Type, state saga.State, env contracts.Envelope, reason string) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saga_dead_letters (saga_type, state, event_id, event_type, correlation_id, payload, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(sagaType), string(state), env.EventID, env.Type, env.CorrelationID, payload, reason,
	)
	return err
}
