package contracts

import "time"

const (
	TypeReturnRequested        = "return.requested"
	TypeValidateReturnRequest  = "return.validate"
	TypeReturnRequestValidated = "return.validated"
	TypeReturnValidationFailed = "return.validation_failed"
	TypeRestockReturnedItems   = "return.restock"
	TypeReturnedItemsRestocked = "return.restocked"
	TypeRestockFailed          = "return.restock_failed"
	TypeProcessReturnRefund    = "return.process_refund"
	TypeReturnRefundProcessed  = "return.refund_processed"
	TypeReturnRefundFailed     = "return.refund_failed"
	TypeFinalizeReturn         = "return.finalize"
	TypeReturnFinalized        = "return.finalized"
)

// ReturnRequested begins a return/refund saga.
type ReturnRequested struct {
	CorrelationID string      `json:"correlation_id"`
	OrderID       string      `json:"order_id"`
	CustomerID    string      `json:"customer_id"`
	PaymentID     string      `json:"payment_id"`
	Amount        float64     `json:"amount"`
	CurrencyCode  string      `json:"currency_code"`
	ReasonCode    string      `json:"reason_code"`
	Lines         []OrderLine `json:"lines"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

type ValidateReturnRequest struct {
	CorrelationID string      `json:"correlation_id"`
	OrderID       string      `json:"order_id"`
	ReasonCode    string      `json:"reason_code"`
	Lines         []OrderLine `json:"lines"`
}

type ReturnRequestValidated struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	ReturnID      string `json:"return_id"`
}

type ReturnValidationFailed struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
}

type RestockReturnedItems struct {
	CorrelationID string      `json:"correlation_id"`
	OrderID       string      `json:"order_id"`
	ReturnID      string      `json:"return_id"`
	Lines         []OrderLine `json:"lines"`
}

type ReturnedItemsRestocked struct {
	CorrelationID  string `json:"correlation_id"`
	OrderID        string `json:"order_id"`
	TotalRestocked int    `json:"total_restocked"`
}

type RestockFailed struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
}

type ProcessReturnRefund struct {
	CorrelationID string  `json:"correlation_id"`
	OrderID       string  `json:"order_id"`
	PaymentID     string  `json:"payment_id"`
	Amount        float64 `json:"amount"`
	CurrencyCode  string  `json:"currency_code"`
}

type ReturnRefundProcessed struct {
	CorrelationID string    `json:"correlation_id"`
	OrderID       string    `json:"order_id"`
	RefundID      string    `json:"refund_id"`
	RefundedAt    time.Time `json:"refunded_at"`
}

type ReturnRefundFailed struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
}

type FinalizeReturn struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	ReturnID      string `json:"return_id"`
}

type ReturnFinalized struct {
	CorrelationID string    `json:"correlation_id"`
	OrderID       string    `json:"order_id"`
	FinalizedAt   time.Time `json:"finalized_at"`
}
