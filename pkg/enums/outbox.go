package enums

// OutboxEventType identifies domain events queued through the outbox.
type OutboxEventType string

const (
	EventOrderPlaced        OutboxEventType = "order.placed"
	EventOrderStatusChanged OutboxEventType = "order.status_changed"
)

// OutboxAggregateType identifies the aggregate an outbox event refers to.
type OutboxAggregateType string

const (
	AggregateCartOrder OutboxAggregateType = "cart_order"
)
