package enums

// OutboxEventType enumerates domain events written to the outbox table.
type OutboxEventType string

const (
	EventOrderGroupCreated    OutboxEventType = "order.group.created"
	EventOrderGroupCancelled  OutboxEventType = "order.group.cancelled"
	EventOrderCancelled       OutboxEventType = "order.cancelled"
	EventOrderCompleted       OutboxEventType = "order.completed"
	EventPaymentVerifyRequest OutboxEventType = "payment.verify.requested"
	EventPaymentVerified      OutboxEventType = "payment.verified"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrderGroup OutboxAggregateType = "order_group"
	AggregateOrder      OutboxAggregateType = "order"
	AggregatePayment    OutboxAggregateType = "payment"
)

// String implements fmt.Stringer.
func (o OutboxEventType) String() string {
	return string(o)
}

// String implements fmt.Stringer.
func (o OutboxAggregateType) String() string {
	return string(o)
}
