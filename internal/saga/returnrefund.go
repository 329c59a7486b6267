package saga

import (
	"time"

	"baton/internal/contracts"
)

// NewReturnRefundMachine builds the return/refund transition table.
//
//	requested -> validated -> restocked -> refund_processed -> completed
//
// A validation failure short-circuits straight to Failed: nothing was
// restocked or refunded, so there is nothing to compensate.
func NewReturnRefundMachine() *Machine {
	m := NewMachine(
		TypeReturnRefund,
		[]State{StateRequested, StateValidated, StateRestocked, StateRefundProcessed},
		contracts.TypeReturnRequested,
	)

	m.Handle(StateRequested, contracts.TypeReturnRequested, StateRequested,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.ReturnRequested
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.Context.OrderID = ev.OrderID
			inst.Context.CustomerID = ev.CustomerID
			inst.Context.PaymentID = ev.PaymentID
			inst.Context.TotalAmount = ev.Amount
			inst.Context.CurrencyCode = ev.CurrencyCode
			inst.Context.ReasonCode = ev.ReasonCode
			inst.Context.Lines = ev.Lines
			inst.MarkMilestone("started", now)
			return []Command{{
				Type: contracts.TypeValidateReturnRequest,
				Payload: contracts.ValidateReturnRequest{
					CorrelationID: inst.CorrelationID,
					OrderID:       ev.OrderID,
					ReasonCode:    ev.ReasonCode,
					Lines:         ev.Lines,
				},
			}}, nil
		})

	m.Handle(StateRequested, contracts.TypeReturnRequestValidated, StateValidated,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.ReturnRequestValidated
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.Context.ReturnID = ev.ReturnID
			inst.MarkMilestone("validated", now)
			return []Command{{
				Type: contracts.TypeRestockReturnedItems,
				Payload: contracts.RestockReturnedItems{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.Context.OrderID,
					ReturnID:      ev.ReturnID,
					Lines:         inst.Context.Lines,
				},
			}}, nil
		})

	m.Handle(StateRequested, contracts.TypeReturnValidationFailed, StateFailed,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.ReturnValidationFailed
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.fail("validation", ev.Reason)
			inst.MarkMilestone("failed", now)
			return nil, nil
		})

	m.Handle(StateValidated, contracts.TypeReturnedItemsRestocked, StateRestocked,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			inst.MarkMilestone("restocked", now)
			return []Command{{
				Type: contracts.TypeProcessReturnRefund,
				Payload: contracts.ProcessReturnRefund{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.Context.OrderID,
					PaymentID:     inst.Context.PaymentID,
					Amount:        inst.Context.TotalAmount,
					CurrencyCode:  inst.Context.CurrencyCode,
				},
			}}, nil
		})

	m.Handle(StateValidated, contracts.TypeRestockFailed, StateFailed,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.RestockFailed
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.fail("restock", ev.Reason)
			inst.MarkMilestone("failed", now)
			return nil, nil
		})

	m.Handle(StateRestocked, contracts.TypeReturnRefundProcessed, StateRefundProcessed,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.ReturnRefundProcessed
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.Context.RefundID = ev.RefundID
			inst.MarkMilestone("refund_processed", now)
			return []Command{{
				Type: contracts.TypeFinalizeReturn,
				Payload: contracts.FinalizeReturn{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.Context.OrderID,
					ReturnID:      inst.Context.ReturnID,
				},
			}}, nil
		})

	m.Handle(StateRestocked, contracts.TypeReturnRefundFailed, StateFailed,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.ReturnRefundFailed
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.fail("refund", ev.Reason)
			inst.MarkMilestone("failed", now)
			return nil, nil
		})

	m.Handle(StateRefundProcessed, contracts.TypeReturnFinalized, StateCompleted,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			inst.MarkMilestone("completed", now)
			return nil, nil
		})

	return m
}
