package enums

// OutboxAggregateType names the record an outbox event describes.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
)

// OutboxEventType identifies an order lifecycle event.
type OutboxEventType string

const (
	EventOrderCommitted OutboxEventType = "order_committed"
	EventOrderPaid      OutboxEventType = "order_paid"
	EventOrderCancelled OutboxEventType = "order_cancelled"
)

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventOrderCommitted, EventOrderPaid, EventOrderCancelled:
		return true
	}
	return false
}
