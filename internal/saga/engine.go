package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"baton/internal/contracts"

	"go.uber.org/zap"
)

// Store persists saga instances. Save must write the instance and its outbox
// envelopes in one transaction, and must return ErrVersionConflict when the
// expected version no longer matches the stored row.
type Store interface {
	Load(ctx context.Context, sagaType Type, correlationID string) (*Instance, error)
	Save(ctx context.Context, inst *Instance, outbox []contracts.Envelope) error
}

// DeadLetter receives events no transition table accounts for.
type DeadLetter interface {
	Record(ctx context.Context, sagaType Type, state State, env contracts.Envelope, reason string) error
}

// Notifier observes committed state changes (dashboards, live feeds).
type Notifier interface {
	StateChanged(inst Instance)
}

// Engine applies transport events to saga instances through per-type
// transition tables. One Apply call is one read-apply-write cycle; losing an
// optimistic-concurrency race redoes the whole cycle, not just the write.
type Engine struct {
	machines map[Type]*Machine
	store    Store
	dead     DeadLetter
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time

	// saveRetries bounds redo cycles after version conflicts.
	saveRetries int
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithDeadLetter routes unexpected events to the given sink.
func WithDeadLetter(d DeadLetter) EngineOption {
	return func(e *Engine) { e.dead = d }
}

// WithNotifier publishes committed state changes.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine constructs an engine over the given store with the standard three
// machines registered.
func NewEngine(store Store, log *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		machines:    make(map[Type]*Machine),
		store:       store,
		log:         log,
		now:         time.Now,
		saveRetries: 3,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	for _, m := range []*Machine{NewCheckoutMachine(), NewCancellationMachine(), NewReturnRefundMachine()} {
		e.machines[m.SagaType] = m
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register replaces or adds a machine. Intended for tests with reduced tables.
func (e *Engine) Register(m *Machine) {
	e.machines[m.SagaType] = m
}

// Apply runs one event through the saga's transition table and persists the
// outcome. It returns the committed instance and the envelopes handed to the
// outbox. Duplicate events return the stored instance untouched with no
// emitted envelopes.
func (e *Engine) Apply(ctx context.Context, sagaType Type, env contracts.Envelope) (Instance, []contracts.Envelope, error) {
	machine, ok := e.machines[sagaType]
	if !ok {
		return Instance{}, nil, fmt.Errorf("%w: %s", ErrUnknownSaga, sagaType)
	}
	if env.CorrelationID == "" {
		return Instance{}, nil, errors.New("event has no correlation id")
	}

	var lastErr error
	for attempt := 0; attempt < e.saveRetries; attempt++ {
		inst, committed, emitted, err := e.applyOnce(ctx, machine, env)
		if err == nil {
			if committed && e.notifier != nil {
				e.notifier.StateChanged(inst)
			}
			return inst, emitted, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Instance{}, nil, err
		}
		lastErr = err
		e.log.Warn("saga version conflict, redoing cycle",
			zap.String("saga_type", string(sagaType)),
			zap.String("correlation_id", env.CorrelationID),
			zap.Int("attempt", attempt+1))
	}

	// Exhausted optimistic-concurrency retries: saga-fatal.
	e.markFatal(ctx, sagaType, env, "persistence", "optimistic concurrency retries exhausted")
	return Instance{}, nil, lastErr
}

func (e *Engine) applyOnce(ctx context.Context, machine *Machine, env contracts.Envelope) (Instance, bool, []contracts.Envelope, error) {
	now := e.now().UTC()

	inst, err := e.store.Load(ctx, machine.SagaType, env.CorrelationID)
	switch {
	case errors.Is(err, ErrNotFound):
		if !machine.IsStart(env.Type) {
			e.deadLetter(ctx, machine.SagaType, "", env, "event for unknown saga instance")
			return Instance{}, false, nil, nil
		}
		inst = &Instance{
			SagaType:      machine.SagaType,
			CorrelationID: env.CorrelationID,
			CurrentState:  machine.Initial,
			CreatedAt:     now,
		}
	case err != nil:
		return Instance{}, false, nil, err
	default:
		// A second start for an existing correlation id never creates a
		// duplicate instance.
		if machine.IsStart(env.Type) {
			e.log.Debug("ignoring replayed start event",
				zap.String("saga_type", string(machine.SagaType)),
				zap.String("correlation_id", env.CorrelationID),
				zap.String("event_type", env.Type))
			return *inst, false, nil, nil
		}
	}

	tr, disposition := machine.Resolve(inst.CurrentState, env.Type)
	switch disposition {
	case DispositionDuplicate:
		e.log.Debug("ignoring replayed event",
			zap.String("saga_type", string(machine.SagaType)),
			zap.String("correlation_id", env.CorrelationID),
			zap.String("event_type", env.Type),
			zap.String("state", string(inst.CurrentState)))
		return *inst, false, nil, nil
	case DispositionUnexpected:
		e.deadLetter(ctx, machine.SagaType, inst.CurrentState, env, "no transition from current state")
		return *inst, false, nil, nil
	}

	next := inst.clone()
	commands, err := tr.Effect(next, env, now)
	if err != nil {
		return Instance{}, false, nil, fmt.Errorf("apply %s to %s/%s: %w", env.Type, machine.SagaType, env.CorrelationID, err)
	}
	next.CurrentState = tr.Next
	next.Version++
	next.UpdatedAt = now

	emitted := make([]contracts.Envelope, 0, len(commands))
	for _, cmd := range commands {
		out, err := contracts.NewEnvelope(cmd.Type, next.CorrelationID, cmd.Payload)
		if err != nil {
			return Instance{}, false, nil, fmt.Errorf("encode command %s: %w", cmd.Type, err)
		}
		emitted = append(emitted, out)
	}

	if err := e.store.Save(ctx, next, emitted); err != nil {
		return Instance{}, false, nil, err
	}

	e.log.Info("saga transition",
		zap.String("saga_type", string(machine.SagaType)),
		zap.String("correlation_id", next.CorrelationID),
		zap.String("event_type", env.Type),
		zap.String("from", string(inst.CurrentState)),
		zap.String("to", string(next.CurrentState)),
		zap.Int("commands", len(emitted)))
	return *next, true, emitted, nil
}

func (e *Engine) deadLetter(ctx context.Context, sagaType Type, state State, env contracts.Envelope, reason string) {
	e.log.Warn("dead-lettering event",
		zap.String("saga_type", string(sagaType)),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("event_type", env.Type),
		zap.String("state", string(state)),
		zap.String("reason", reason))
	if e.dead == nil {
		return
	}
	if err := e.dead.Record(ctx, sagaType, state, env, reason); err != nil {
		e.log.Error("dead letter store failed", zap.Error(err))
	}
}

// markFatal is a best-effort attempt to park the instance in Failed after the
// engine gave up on it. A further conflict here only gets logged.
func (e *Engine) markFatal(ctx context.Context, sagaType Type, env contracts.Envelope, step, reason string) {
	inst, err := e.store.Load(ctx, sagaType, env.CorrelationID)
	if err != nil {
		e.log.Error("load for fatal mark failed", zap.Error(err))
		return
	}
	if inst.Terminal() {
		return
	}
	next := inst.clone()
	next.CurrentState = StateFailed
	next.fail(step, reason)
	next.MarkMilestone("failed", e.now().UTC())
	next.Version++
	next.UpdatedAt = e.now().UTC()
	if err := e.store.Save(ctx, next, nil); err != nil {
		e.log.Error("fatal mark failed",
			zap.String("saga_type", string(sagaType)),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err))
		return
	}
	if e.notifier != nil {
		e.notifier.StateChanged(*next)
	}
}

func (i *Instance) clone() *Instance {
	out := *i
	if i.Timestamps != nil {
		out.Timestamps = make(map[string]time.Time, len(i.Timestamps))
		for k, v := range i.Timestamps {
			out.Timestamps[k] = v
		}
	}
	out.Context.Lines = append([]contracts.OrderLine(nil), i.Context.Lines...)
	out.Context.Notes = append([]string(nil), i.Context.Notes...)
	return &out
}
