package sagadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"baton/internal/contracts"
	"baton/internal/saga"
	"baton/internal/transport"
)

// Store persists saga instances, their outbox rows, and dead letters in
// Postgres.
type Store struct {
	db *sql.DB
}

// NewStore constructs a Store backed by Postgres.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewStoreWithSchema initializes the schema then returns the store.
func NewStoreWithSchema(ctx context.Context, db *sql.DB) (*Store, error) {
	store := NewStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the saga tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS saga_instances (
			saga_type TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			current_state TEXT NOT NULL,
			context JSONB NOT NULL DEFAULT '{}',
			milestones JSONB NOT NULL DEFAULT '{}',
			failure_reason TEXT,
			failed_step TEXT,
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (saga_type, correlation_id)
		)`,
		`CREATE TABLE IF NOT EXISTS saga_outbox (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT UNIQUE NOT NULL,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			sent_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS saga_dead_letters (
			id BIGSERIAL PRIMARY KEY,
			saga_type TEXT NOT NULL,
			state TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load fetches one instance by (sagaType, correlationId).
func (s *Store) Load(ctx context.Context, sagaType saga.Type, correlationID string) (*saga.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT current_state, context, milestones, failure_reason, failed_step, version, created_at, updated_at
		FROM saga_instances
		WHERE saga_type = $1 AND correlation_id = $2`,
		string(sagaType), correlationID,
	)

	inst := saga.Instance{
		SagaType:      sagaType,
		CorrelationID: correlationID,
	}
	var (
		state          string
		contextJSON    []byte
		milestonesJSON []byte
		failureReason  sql.NullString
		failedStep     sql.NullString
	)
	err := row.Scan(&state, &contextJSON, &milestonesJSON, &failureReason, &failedStep, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	inst.CurrentState = saga.State(state)
	if err := json.Unmarshal(contextJSON, &inst.Context); err != nil {
		return nil, fmt.Errorf("decode saga context: %w", err)
	}
	if err := json.Unmarshal(milestonesJSON, &inst.Timestamps); err != nil {
		return nil, fmt.Errorf("decode saga milestones: %w", err)
	}
	inst.FailureReason = failureReason.String
	inst.FailedStep = failedStep.String
	return &inst, nil
}

// Save writes the instance and its outbox envelopes in one transaction. The
// expected prior version is inst.Version-1; a mismatch returns
// saga.ErrVersionConflict so the engine redoes the whole cycle.
func (s *Store) Save(ctx context.Context, inst *saga.Instance, outbox []contracts.Envelope) error {
	contextJSON, err := json.Marshal(inst.Context)
	if err != nil {
		return fmt.Errorf("encode saga context: %w", err)
	}
	milestones := inst.Timestamps
	if milestones == nil {
		milestones = map[string]time.Time{}
	}
	milestonesJSON, err := json.Marshal(milestones)
	if err != nil {
		return fmt.Errorf("encode saga milestones: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if inst.Version == 1 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO saga_instances (saga_type, correlation_id, current_state, context, milestones, failure_reason, failed_step, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)
			ON CONFLICT (saga_type, correlation_id) DO NOTHING`,
			string(inst.SagaType), inst.CorrelationID, string(inst.CurrentState),
			contextJSON, milestonesJSON, inst.FailureReason, inst.FailedStep,
			inst.Version, inst.CreatedAt, inst.UpdatedAt,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return saga.ErrVersionConflict
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE saga_instances
			SET current_state = $3, context = $4, milestones = $5,
				failure_reason = NULLIF($6, ''), failed_step = NULLIF($7, ''),
				version = $8, updated_at = $9
			WHERE saga_type = $1 AND correlation_id = $2 AND version = $10`,
			string(inst.SagaType), inst.CorrelationID, string(inst.CurrentState),
			contextJSON, milestonesJSON, inst.FailureReason, inst.FailedStep,
			inst.Version, inst.UpdatedAt, inst.Version-1,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return saga.ErrVersionConflict
		}
	}

	for _, env := range outbox {
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode outbox envelope: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO saga_outbox (event_id, topic, key, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (event_id) DO NOTHING`,
			env.EventID, transport.TopicFor(env.Type), env.CorrelationID, payload,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
