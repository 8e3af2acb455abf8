package enums

// OutboxEventType enumerates the domain events the platform emits.
type OutboxEventType string

const (
	EventOrderCreated   OutboxEventType = "order.created"
	EventOrderPaid      OutboxEventType = "order.paid"
	EventOrderCanceled  OutboxEventType = "order.canceled"
	EventOrderExpired   OutboxEventType = "order.expired"
	EventItemPickedUp   OutboxEventType = "order_item.picked_up"
	EventItemDispatched OutboxEventType = "order_item.dispatched"
	EventItemDelivered  OutboxEventType = "order_item.delivered"
	EventEscrowReleased OutboxEventType = "escrow.released"
	EventEscrowRefunded OutboxEventType = "escrow.refunded"
	EventEscrowCanceled OutboxEventType = "escrow.canceled"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateOrderItem    OutboxAggregateType = "order_item"
	AggregateEscrowRecord OutboxAggregateType = "escrow_record"
)
