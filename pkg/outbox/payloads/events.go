package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderGroupCreatedEvent is emitted after a checkout commits.
type OrderGroupCreatedEvent struct {
	OrderGroupID uuid.UUID   `json:"orderGroupId"`
	OrderIDs     []uuid.UUID `json:"orderIds"`
}

// OrderCancelledEvent triggers the restock compensation for one order.
type OrderCancelledEvent struct {
	OrderID      uuid.UUID `json:"orderId"`
	OrderGroupID uuid.UUID `json:"orderGroupId"`
	ShopID       uuid.UUID `json:"shopId"`
	CancelledAt  time.Time `json:"cancelledAt"`
}

// OrderCompletedEvent records a finished order for downstream consumers.
type OrderCompletedEvent struct {
	OrderID      uuid.UUID `json:"orderId"`
	OrderGroupID uuid.UUID `json:"orderGroupId"`
	ShopID       uuid.UUID `json:"shopId"`
	CompletedAt  time.Time `json:"completedAt"`
}

// OrderGroupCancelledEvent records a whole-group cancellation.
type OrderGroupCancelledEvent struct {
	OrderGroupID    uuid.UUID `json:"orderGroupId"`
	RefundRequested bool      `json:"refundRequested"`
	CancelledAt     time.Time `json:"cancelledAt"`
}

// PaymentVerifyRequestedEvent asks the worker to reconcile a payment
// reference against the gateway.
type PaymentVerifyRequestedEvent struct {
	Reference string `json:"reference"`
}

// PaymentVerifiedEvent records a successful reconciliation.
type PaymentVerifiedEvent struct {
	Reference    string    `json:"reference"`
	OrderGroupID uuid.UUID `json:"orderGroupId"`
	PaidAt       time.Time `json:"paidAt"`
}
