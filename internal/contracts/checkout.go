package contracts

import "time"

// Event type tags carried in the envelope for checkout messages.
const (
	TypeCheckoutStarted                       = "checkout.started"
	TypeReserveInventoryForCheckout           = "checkout.reserve_inventory"
	TypeInventoryReservedForCheckout          = "checkout.inventory_reserved"
	TypeInventoryReservationFailedForCheckout = "checkout.inventory_reservation_failed"
	TypeAuthorizePaymentForCheckout           = "checkout.authorize_payment"
	TypePaymentAuthorizedForCheckout          = "checkout.payment_authorized"
	TypePaymentFailedForCheckout              = "checkout.payment_failed"
	TypeConfirmOrderForCheckout               = "checkout.confirm_order"
	TypeOrderConfirmedForCheckout             = "checkout.order_confirmed"
	TypeOrderConfirmationFailedForCheckout    = "checkout.order_confirmation_failed"
	TypeDeactivateCartForCheckout             = "checkout.deactivate_cart"
	TypeCartDeactivatedForCheckout            = "checkout.cart_deactivated"
	TypeReleaseInventoryForCheckout           = "checkout.release_inventory"
	TypeRefundPaymentForCheckout              = "checkout.refund_payment"
)

// OrderLine is one line item carried through the checkout messages.
type OrderLine struct {
	ProductID string  `json:"product_id"`
	Sku       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// CheckoutStarted begins a checkout saga.
type CheckoutStarted struct {
	CorrelationID string      `json:"correlation_id"`
	OrderID       string      `json:"order_id"`
	OrderNumber   string      `json:"order_number"`
	CustomerID    string      `json:"customer_id"`
	CustomerEmail string      `json:"customer_email"`
	TotalAmount   float64     `json:"total_amount"`
	CurrencyCode  string      `json:"currency_code"`
	ItemCount     int         `json:"item_count"`
	CartID        string      `json:"cart_id,omitempty"`
	Lines         []OrderLine `json:"lines"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// ReserveInventoryForCheckout asks the inventory service to hold stock.
type ReserveInventoryForCheckout struct {
	CorrelationID string      `json:"correlation_id"`
	OrderID       string      `json:"order_id"`
	OrderNumber   string      `json:"order_number"`
	CustomerID    string      `json:"customer_id"`
	CartID        string      `json:"cart_id,omitempty"`
	Lines         []OrderLine `json:"lines"`
}

type InventoryReservedForCheckout struct {
	CorrelationID         string    `json:"correlation_id"`
	OrderID               string    `json:"order_id"`
	ReservationID         string    `json:"reservation_id"`
	TotalQuantityReserved int       `json:"total_quantity_reserved"`
	ExpiresAt             time.Time `json:"expires_at"`
}

type InventoryReservationFailedForCheckout struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
}

// AuthorizePaymentForCheckout asks the payment service to authorize funds.
type AuthorizePaymentForCheckout struct {
	CorrelationID string  `json:"correlation_id"`
	OrderID       string  `json:"order_id"`
	Amount        float64 `json:"amount"`
	CurrencyCode  string  `json:"currency_code"`
	PaymentMethod string  `json:"payment_method"`
}

type PaymentAuthorizedForCheckout struct {
	CorrelationID string  `json:"correlation_id"`
	OrderID       string  `json:"order_id"`
	PaymentID     string  `json:"payment_id"`
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
}

type PaymentFailedForCheckout struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
	ErrorCode     string `json:"error_code,omitempty"`
}

// ConfirmOrderForCheckout asks the order service to finalize the order.
type ConfirmOrderForCheckout struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
}

type OrderConfirmedForCheckout struct {
	CorrelationID string    `json:"correlation_id"`
	OrderID       string    `json:"order_id"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

type OrderConfirmationFailedForCheckout struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
}

// DeactivateCartForCheckout is best-effort cart cleanup; it never fails the saga.
type DeactivateCartForCheckout struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	CartID        string `json:"cart_id"`
}

type CartDeactivatedForCheckout struct {
	CorrelationID string    `json:"correlation_id"`
	CartID        string    `json:"cart_id"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

// ReleaseInventoryForCheckout undoes a prior reservation.
type ReleaseInventoryForCheckout struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason"`
}

// RefundPaymentForCheckout undoes a captured payment after confirmation failure.
type RefundPaymentForCheckout struct {
	CorrelationID string  `json:"correlation_id"`
	OrderID       string  `json:"order_id"`
	PaymentID     string  `json:"payment_id"`
	Amount        float64 `json:"amount"`
	Reason        string  `json:"reason"`
}
