package saga

import (
	"time"

	"baton/internal/contracts"
)

// NewCheckoutMachine builds the checkout transition table.
//
//	initial -> awaiting_inventory -> awaiting_payment -> awaiting_confirmation -> completed
//
// Failed is reachable from every non-terminal state. Compensation: payment
// failure releases the reservation; confirmation failure releases the
// reservation and refunds the captured payment.
func NewCheckoutMachine() *Machine {
	m := NewMachine(
		TypeCheckout,
		[]State{StateInitial, StateAwaitingInventory, StateAwaitingPayment, StateAwaitingConfirmation},
		contracts.TypeCheckoutStarted,
	)

	m.Handle(StateInitial, contracts.TypeCheckoutStarted, StateAwaitingInventory,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.CheckoutStarted
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.Context.OrderID = ev.OrderID
			inst.Context.OrderNumber = ev.OrderNumber
			inst.Context.CustomerID = ev.CustomerID
			inst.Context.CustomerEmail = ev.CustomerEmail
			inst.Context.TotalAmount = ev.TotalAmount
			inst.Context.CurrencyCode = ev.CurrencyCode
			inst.Context.ItemCount = ev.ItemCount
			inst.Context.CartID = ev.CartID
			inst.Context.Lines = ev.Lines
			inst.MarkMilestone("started", now)
			return []Command{{
				Type: contracts.TypeReserveInventoryForCheckout,
				Payload: contracts.ReserveInventoryForCheckout{
					CorrelationID: inst.CorrelationID,
					OrderID:       ev.OrderID,
					OrderNumber:   ev.OrderNumber,
					CustomerID:    ev.CustomerID,
					CartID:        ev.CartID,
					Lines:         ev.Lines,
				},
			}}, nil
		})

	m.Handle(StateAwaitingInventory, contracts.TypeInventoryReservedForCheckout, StateAwaitingPayment,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.InventoryReservedForCheckout
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.Context.ReservationID = ev.ReservationID
			inst.MarkMilestone("inventory_reserved", now)
			return []Command{{
				Type: contracts.TypeAuthorizePaymentForCheckout,
				Payload: contracts.AuthorizePaymentForCheckout{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.Context.OrderID,
					Amount:        inst.Context.TotalAmount,
					CurrencyCode:  inst.Context.CurrencyCode,
					PaymentMethod: inst.Context.PaymentMethod,
				},
			}}, nil
		})

	m.Handle(StateAwaitingInventory, contracts.TypeInventoryReservationFailedForCheckout, StateFailed,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.InventoryReservationFailedForCheckout
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.fail("inventory", ev.Reason)
			inst.MarkMilestone("failed", now)
			return nil, nil
		})

	m.Handle(StateAwaitingPayment, contracts.TypePaymentAuthorizedForCheckout, StateAwaitingConfirmation,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.PaymentAuthorizedForCheckout
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.Context.PaymentID = ev.PaymentID
			inst.Context.TransactionID = ev.TransactionID
			inst.MarkMilestone("payment_authorized", now)
			return []Command{{
				Type: contracts.TypeConfirmOrderForCheckout,
				Payload: contracts.ConfirmOrderForCheckout{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.Context.OrderID,
					PaymentID:     ev.PaymentID,
					TransactionID: ev.TransactionID,
				},
			}}, nil
		})

	m.Handle(StateAwaitingPayment, contracts.TypePaymentFailedForCheckout, StateFailed,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.PaymentFailedForCheckout
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.fail("payment", ev.Reason)
			inst.MarkMilestone("failed", now)
			return []Command{{
				Type: contracts.TypeReleaseInventoryForCheckout,
				Payload: contracts.ReleaseInventoryForCheckout{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.Context.OrderID,
					ReservationID: inst.Context.ReservationID,
					Reason:        "payment failed",
				},
			}}, nil
		})

	m.Handle(StateAwaitingConfirmation, contracts.TypeOrderConfirmedForCheckout, StateCompleted,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.OrderConfirmedForCheckout
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.MarkMilestone("confirmed", now)
			inst.MarkMilestone("completed", now)
			if inst.Context.CartID == "" {
				return nil, nil
			}
			return []Command{{
				Type: contracts.TypeDeactivateCartForCheckout,
				Payload: contracts.DeactivateCartForCheckout{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.Context.OrderID,
					CartID:        inst.Context.CartID,
				},
			}}, nil
		})

	// The deactivation ack arrives after the saga completed. It is a routine
	// delivery, not an anomaly, so it gets a row instead of the dead-letter
	// path.
	m.Handle(StateCompleted, contracts.TypeCartDeactivatedForCheckout, StateCompleted,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			inst.MarkMilestone("cart_deactivated", now)
			return nil, nil
		})

	m.Handle(StateAwaitingConfirmation, contracts.TypeOrderConfirmationFailedForCheckout, StateFailed,
		func(inst *Instance, env contracts.Envelope, now time.Time) ([]Command, error) {
			var ev contracts.OrderConfirmationFailedForCheckout
			if err := env.Decode(&ev); err != nil {
				return nil, err
			}
			inst.fail("confirmation", ev.Reason)
			inst.MarkMilestone("failed", now)
			cmds := []Command{{
				Type: contracts.TypeReleaseInventoryForCheckout,
				Payload: contracts.ReleaseInventoryForCheckout{
					CorrelationID: inst.CorrelationID,
					OrderID:       inst.Context.OrderID,
					ReservationID: inst.Context.ReservationID,
					Reason:        "order confirmation failed",
				},
			}}
			if inst.Context.PaymentID != "" {
				cmds = append(cmds, Command{
					Type: contracts.TypeRefundPaymentForCheckout,
					Payload: contracts.RefundPaymentForCheckout{
						CorrelationID: inst.CorrelationID,
						OrderID:       inst.Context.OrderID,
						PaymentID:     inst.Context.PaymentID,
						Amount:        inst.Context.TotalAmount,
						Reason:        "order confirmation failed",
					},
				})
			}
			return cmds, nil
		})

	return m
}
