package saga

import (
	"errors"
	"time"

	"baton/internal/contracts"
)

// Type identifies a saga definition.
type Type string

const (
	TypeCheckout     Type = "checkout"
	TypeCancellation Type = "cancellation"
	TypeReturnRefund Type = "return_refund"
)

// State is one node in a saga's state machine.
type State string

const (
	StateInitial              State = "initial"
	StateAwaitingInventory    State = "awaiting_inventory"
	StateAwaitingPayment      State = "awaiting_payment"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateRequested            State = "requested"
	StateStockReleased        State = "stock_released"
	StateRefundInitiated      State = "refund_initiated"
	StateValidated            State = "validated"
	StateRestocked            State = "restocked"
	StateRefundProcessed      State = "refund_processed"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
)

// Context carries the saga-specific business fields. Only engine-driven
// transitions mutate it.
type Context struct {
	OrderID       string                `json:"order_id,omitempty"`
	OrderNumber   string                `json:"order_number,omitempty"`
	CustomerID    string                `json:"customer_id,omitempty"`
	CustomerEmail string                `json:"customer_email,omitempty"`
	TotalAmount   float64               `json:"total_amount,omitempty"`
	CurrencyCode  string                `json:"currency_code,omitempty"`
	ItemCount     int                   `json:"item_count,omitempty"`
	CartID        string                `json:"cart_id,omitempty"`
	Lines         []contracts.OrderLine `json:"lines,omitempty"`
	ReservationID string                `json:"reservation_id,omitempty"`
	PaymentID     string                `json:"payment_id,omitempty"`
	TransactionID string                `json:"transaction_id,omitempty"`
	PaymentMethod string                `json:"payment_method,omitempty"`
	RefundID      string                `json:"refund_id,omitempty"`
	ReturnID      string                `json:"return_id,omitempty"`
	ReasonCode    string                `json:"reason_code,omitempty"`
	Notes         []string              `json:"notes,omitempty"`
}

// Instance is one persisted saga, keyed by (SagaType, CorrelationID).
type Instance struct {
	SagaType      Type
	CorrelationID string
	CurrentState  State
	Context       Context
	Timestamps    map[string]time.Time
	FailureReason string
	FailedStep    string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether the instance reached a terminal state.
func (i *Instance) Terminal() bool {
	return i.CurrentState == StateCompleted || i.CurrentState == StateFailed
}

// MarkMilestone records the timestamp for a milestone once; replays keep the
// first value.
func (i *Instance) MarkMilestone(name string, at time.Time) {
	if i.Timestamps == nil {
		i.Timestamps = make(map[string]time.Time)
	}
	if _, ok := i.Timestamps[name]; !ok {
		i.Timestamps[name] = at
	}
}

func (i *Instance) fail(step, reason string) {
	i.FailedStep = step
	i.FailureReason = reason
}

// Command is an outbound message a transition wants sent. The engine wraps it
// in an envelope and hands it to the outbox together with the state update.
type Command struct {
	Type    string
	Payload any
}

var (
	// ErrNotFound signals no instance exists for the correlation id.
	ErrNotFound = errors.New("saga instance not found")
	// ErrVersionConflict signals a concurrent writer committed first.
	ErrVersionConflict = errors.New("saga version conflict")
	// ErrUnknownSaga signals an event for a saga type with no registered machine.
	ErrUnknownSaga = errors.New("unknown saga type")
)
