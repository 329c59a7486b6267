package saga

import (
	"time"

	"baton/internal/contracts"
)

// Effect applies a transition's business mutation to the instance and returns
// the commands to emit. Effects never touch CurrentState; the engine moves the
// instance to the transition's Next state after the effect succeeds.
type Effect func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error)

type transitionKey struct {
	State     State
	EventType string
}

// Transition is one row of a machine's transition table.
type Transition struct {
	Next   State
	Effect Effect
}

// Disposition classifies how an incoming event relates to the current state.
type Disposition int

const (
	// DispositionApply means the transition table has a row for (state, event).
	DispositionApply Disposition = iota
	// DispositionDuplicate means the event was already applied in an earlier
	// state; re-applying would be a replay, so it is ignored.
	DispositionDuplicate
	// DispositionUnexpected means no state of this machine handles the event
	// from here; it goes to the dead-letter path.
	DispositionUnexpected
)

// Machine is the explicit transition table for one saga type.
type Machine struct {
	SagaType    Type
	Initial     State
	starts      map[string]struct{}
	transitions map[transitionKey]Transition
	rank        map[State]int
}

// NewMachine constructs an empty machine whose start events create instances
// in the initial state. Order of states fixes the replay-detection ranking.
func NewMachine(sagaType Type, order []State, startEvents ...string) *Machine {
	m := &Machine{
		SagaType:    sagaType,
		Initial:     order[0],
		starts:      make(map[string]struct{}, len(startEvents)),
		transitions: make(map[transitionKey]Transition),
		rank:        make(map[State]int, len(order)+2),
	}
	for i, s := range order {
		m.rank[s] = i
	}
	m.rank[StateCompleted] = len(order)
	m.rank[StateFailed] = len(order)
	for _, ev := range startEvents {
		m.starts[ev] = struct{}{}
	}
	return m
}

// Handle registers a transition row.
func (m *Machine) Handle(from State, eventType string, next State, effect Effect) *Machine {
	m.transitions[transitionKey{State: from, EventType: eventType}] = Transition{Next: next, Effect: effect}
	return m
}

// IsStart reports whether the event type may create a new instance.
func (m *Machine) IsStart(eventType string) bool {
	_, ok := m.starts[eventType]
	return ok
}

// Resolve finds the transition for (state, eventType) and classifies the event
// when no row exists: a replay of an earlier step is a duplicate, anything
// else is unexpected.
func (m *Machine) Resolve(state State, eventType string) (Transition, Disposition) {
	if tr, ok := m.transitions[transitionKey{State: state, EventType: eventType}]; ok {
		return tr, DispositionApply
	}
	if m.IsStart(eventType) {
		return Transition{}, DispositionDuplicate
	}
	for key := range m.transitions {
		if key.EventType != eventType {
			continue
		}
		if m.rank[key.State] < m.rank[state] {
			return Transition{}, DispositionDuplicate
		}
	}
	return Transition{}, DispositionUnexpected
}
