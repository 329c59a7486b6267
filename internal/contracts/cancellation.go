package contracts

import "time"

const (
	TypeCancellationRequested                 = "cancellation.requested"
	TypeReleaseInventoryForCancellation       = "cancellation.release_inventory"
	TypeInventoryReleasedForCancellation      = "cancellation.inventory_released"
	TypeInventoryReleaseFailedForCancellation = "cancellation.inventory_release_failed"
	TypeProcessRefundForCancellation          = "cancellation.process_refund"
	TypeRefundProcessedForCancellation        = "cancellation.refund_processed"
	TypeRefundFailedForCancellation           = "cancellation.refund_failed"
	TypeFinalizeOrderCancellation             = "cancellation.finalize"
	TypeOrderCancellationFinalized            = "cancellation.finalized"
)

// CancellationRequested begins a cancellation saga.
type CancellationRequested struct {
	CorrelationID string    `json:"correlation_id"`
	OrderID       string    `json:"order_id"`
	CustomerID    string    `json:"customer_id"`
	ReservationID string    `json:"reservation_id,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	Amount        float64   `json:"amount"`
	CurrencyCode  string    `json:"currency_code"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type ReleaseInventoryForCancellation struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
}

type InventoryReleasedForCancellation struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
}

// InventoryReleaseFailedForCancellation is non-critical; the saga still progresses.
type InventoryReleaseFailedForCancellation struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
}

type ProcessRefundForCancellation struct {
	CorrelationID string  `json:"correlation_id"`
	OrderID       string  `json:"order_id"`
	PaymentID     string  `json:"payment_id"`
	Amount        float64 `json:"amount"`
	CurrencyCode  string  `json:"currency_code"`
}

type RefundProcessedForCancellation struct {
	CorrelationID string    `json:"correlation_id"`
	OrderID       string    `json:"order_id"`
	RefundID      string    `json:"refund_id"`
	RefundedAt    time.Time `json:"refunded_at"`
}

type RefundFailedForCancellation struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
}

type FinalizeOrderCancellation struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Refunded      bool   `json:"refunded"`
}

type OrderCancellationFinalized struct {
	CorrelationID string    `json:"correlation_id"`
	OrderID       string    `json:"order_id"`
	FinalizedAt   time.Time `json:"finalized_at"`
}
