package saga

import (
	"time"

	"baton/internal/contracts"
)

// NewCancellationMachine builds the cancellation transition table.
//
//	requested -> stock_released -> refund_initiated -> completed
//
// Inventory release is non-critical: its failure is recorded but does not
// block progression. A refund is issued only when the order had a payment;
// otherwise finalization is requested straight from stock_released.
func NewCancellationMachine() *Machine {
	m := NewMachine(
		TypeCancellation,
		[]State{StateRequested, StateStockReleased, StateRefundInitiated},
		contracts.TypeCancellationRequested,
	)

	m.Handle(StateRequested, contracts.TypeCancellationRequested, StateRequested,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.CancellationRequested
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.Context.OrderID = ev.OrderID
			inst.Context.CustomerID = ev.CustomerID
			inst.Context.ReservationID = ev.ReservationID
			inst.Context.PaymentID = ev.PaymentID
			inst.Context.TotalAmount = ev.Amount
			inst.Context.CurrencyCode = ev.CurrencyCode
			inst.Context.ReasonCode = ev.Reason
			inst.MarkMilestone("started", now)
			return []Command{{
				Type: contracts.TypeReleaseInventoryForCancellation,
				Payload: contracts.ReleaseInventoryForCancellation{
					CorrelationID: inst.CorrelationID,
					OrderID:       ev.OrderID,
					ReservationID: ev.ReservationID,
				},
			}}, nil
		})

	m.Handle(StateRequested, contracts.TypeInventoryReleasedForCancellation, StateStockReleased,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			inst.MarkMilestone("stock_released", now)
			return cancellationAfterRelease(inst), nil
		})

	m.Handle(StateRequested, contracts.TypeInventoryReleaseFailedForCancellation, StateStockReleased,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.InventoryReleaseFailedForCancellation
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.Context.Notes = append(inst.Context.Notes, "inventory release failed: "+ev.Reason)
			inst.MarkMilestone("stock_released", now)
			return cancellationAfterRelease(inst), nil
		})

	m.Handle(StateStockReleased, contracts.TypeRefundProcessedForCancellation, StateRefundInitiated,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.RefundProcessedForCancellation
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.Context.RefundID = ev.RefundID
			inst.MarkMilestone("refund_processed", now)
			return []Command{{
				Type: contracts.TypeFinalizeOrderCancellation,
				Payload: contracts.FinalizeOrderCancellation{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.Context.OrderID,
					Refunded:      true,
				},
			}}, nil
		})

	m.Handle(StateStockReleased, contracts.TypeRefundFailedForCancellation, StateFailed,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.RefundFailedForCancellation
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.fail("refund", ev.Reason)
			inst.MarkMilestone("failed", now)
			return nil, nil
		})

	finalize := func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
		inst.MarkMilestone("completed", now)
		return nil, nil
	}
	// The no-payment path skips refund_initiated entirely.
	m.Handle(StateStockReleased, contracts.TypeOrderCancellationFinalized, StateCompleted, finalize)
	m.Handle(StateRefundInitiated, contracts.TypeOrderCancellationFinalized, StateCompleted, finalize)

	return m
}

func cancellationAfterRelease(inst *Instance) []Command {
	if inst.Context.PaymentID != "" {
		return []Command{{
			Type: contracts.TypeProcessRefundForCancellation,
			Payload: contracts.ProcessRefundForCancellation{
				CorrelationID: inst.CorrelationID,
				OrderID:       inst.Context.OrderID,
				PaymentID:     inst.Context.PaymentID,
				Amount:        inst.Context.TotalAmount,
				CurrencyCode:  inst.Context.CurrencyCode,
			},
		}}
	}
	return []Command{{
		Type: contracts.TypeFinalizeOrderCancellation,
		Payload: contracts.FinalizeOrderCancellation{
			CorrelationID: inst.CorrelationID,
			OrderID:       inst.Context.OrderID,
			Refunded:      false,
		},
	}}
}
